package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chat-relay/internal/kv"
	"github.com/capitalize-ai/chat-relay/internal/llm"
	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/persistence"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

type fakeCompleter struct {
	mu      sync.Mutex
	calls   [][]model.Message
	reply   func(history []model.Message) (string, error)
	started chan []model.Message
}

func (f *fakeCompleter) Name() string { return "fake" }

func (f *fakeCompleter) Complete(_ context.Context, history []model.Message) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, history)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- history
	}
	return f.reply(history)
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func replyWith(text string) func([]model.Message) (string, error) {
	return func([]model.Message) (string, error) { return text, nil }
}

func failWith(err error) func([]model.Message) (string, error) {
	return func([]model.Message) (string, error) { return "", err }
}

type flakyStore struct {
	*kv.Memory
	getErr error
	putErr error
}

func (s *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.Memory.Get(ctx, key)
}

func (s *flakyStore) Put(ctx context.Context, key string, value []byte) error {
	if s.putErr != nil {
		return s.putErr
	}
	return s.Memory.Put(ctx, key, value)
}

func testOptions() []Option {
	var seq atomic.Int64
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var tick atomic.Int64
	return []Option{
		WithIDGenerator(func() string { return fmt.Sprintf("id-%d", seq.Add(1)) }),
		WithClock(func() time.Time { return base.Add(time.Duration(tick.Add(1)) * time.Millisecond) }),
	}
}

func newService(t *testing.T, c llm.Completer, slots kv.Store) *ConversationService {
	t.Helper()
	s := NewConversationService(c, persistence.NewAdapter(slots), logger.NewNop(), testOptions()...)
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(s.Close)
	return s
}

func persisted(t *testing.T, slots kv.Store) []model.Conversation {
	t.Helper()
	convs, err := persistence.NewAdapter(slots).Load(context.Background())
	require.NoError(t, err)
	return convs
}

func titles(st model.State) []string {
	out := make([]string, len(st.Conversations))
	for i, c := range st.Conversations {
		out[i] = c.Title
	}
	return out
}

func nextEvent(t *testing.T, ch <-chan model.Event, typ model.EventType) model.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			require.True(t, ok, "event channel closed")
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", typ)
		}
	}
}

func TestOpen_EmptyStorageCreatesConversation(t *testing.T) {
	slots := kv.NewMemory()
	s := newService(t, &fakeCompleter{reply: replyWith("hi")}, slots)

	st := s.Snapshot()
	require.Len(t, st.Conversations, 1)
	assert.Equal(t, "New conversation 1", st.Conversations[0].Title)
	assert.Equal(t, st.Conversations[0].ID, st.CurrentID)
	assert.Empty(t, st.Conversations[0].Messages)
	assert.False(t, st.Loading)

	require.Len(t, persisted(t, slots), 1)
}

func TestOpen_RestoresAndSelectsFirst(t *testing.T) {
	slots := kv.NewMemory()
	first := newService(t, &fakeCompleter{reply: replyWith("hi")}, slots)
	first.StartNewConversation(context.Background())
	first.StartNewConversation(context.Background())
	want := first.Snapshot()

	second := newService(t, &fakeCompleter{reply: replyWith("hi")}, slots)
	got := second.Snapshot()

	assert.Equal(t, titles(want), titles(got))
	assert.Equal(t, got.Conversations[0].ID, got.CurrentID)
}

func TestOpen_CorruptSnapshotStartsFresh(t *testing.T) {
	slots := kv.NewMemory()
	require.NoError(t, slots.Put(context.Background(), persistence.DefaultKey, []byte("{not json")))

	s := newService(t, &fakeCompleter{reply: replyWith("hi")}, slots)

	st := s.Snapshot()
	require.Len(t, st.Conversations, 1)
	assert.Equal(t, "New conversation 1", st.Conversations[0].Title)
}

func TestOpen_DropsStalePlaceholder(t *testing.T) {
	ctx := context.Background()
	slots := kv.NewMemory()
	at := time.Date(2024, 4, 30, 9, 0, 0, 0, time.UTC)
	require.NoError(t, persistence.NewAdapter(slots).Save(ctx, []model.Conversation{{
		ID:    "saved-conv",
		Title: "hello",
		Messages: []model.Message{
			{ID: "saved-user", Role: model.RoleUser, Content: "hello", Timestamp: at},
			{ID: "saved-pending", Role: model.RoleAssistant, Content: "", Timestamp: at},
		},
		CreatedAt: at,
		UpdatedAt: at,
	}}))

	fc := &fakeCompleter{reply: replyWith("ok")}
	s := newService(t, fc, slots)

	cur, ok := s.Current()
	require.True(t, ok)
	require.Len(t, cur.Messages, 1)
	assert.Equal(t, "saved-user", cur.Messages[0].ID)
	require.Len(t, persisted(t, slots)[0].Messages, 1)

	_, err := s.SendMessage(ctx, "again", nil)
	require.NoError(t, err)

	require.Len(t, fc.calls, 1)
	for _, m := range fc.calls[0] {
		assert.False(t, m.IsPending())
	}
	cur, _ = s.Current()
	require.Len(t, cur.Messages, 3)
	assert.Equal(t, "again", cur.Messages[1].Content)
	assert.Equal(t, "ok", cur.Messages[2].Content)
}

func TestOpen_ReadFailure(t *testing.T) {
	slots := &flakyStore{Memory: kv.NewMemory(), getErr: errors.New("disk gone")}
	s := NewConversationService(&fakeCompleter{reply: replyWith("hi")}, persistence.NewAdapter(slots), logger.NewNop())

	err := s.Open(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
}

func TestStartNewConversation(t *testing.T) {
	s := newService(t, &fakeCompleter{reply: replyWith("hi")}, kv.NewMemory())

	conv := s.StartNewConversation(context.Background())

	st := s.Snapshot()
	assert.Equal(t, []string{"New conversation 2", "New conversation 1"}, titles(st))
	assert.Equal(t, conv.ID, st.CurrentID)
	assert.Equal(t, conv.CreatedAt, conv.UpdatedAt)
}

func TestSelectConversation(t *testing.T) {
	ctx := context.Background()
	s := newService(t, &fakeCompleter{reply: replyWith("hi")}, kv.NewMemory())
	older := s.Snapshot().CurrentID
	newer := s.StartNewConversation(ctx)

	require.NoError(t, s.SelectConversation(ctx, older))
	assert.Equal(t, older, s.Snapshot().CurrentID)

	err := s.SelectConversation(ctx, "missing")
	assert.ErrorIs(t, err, ErrConversationNotFound)
	assert.Equal(t, older, s.Snapshot().CurrentID)

	require.NoError(t, s.SelectConversation(ctx, newer.ID))
	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, newer.ID, cur.ID)
}

func TestDeleteConversation(t *testing.T) {
	ctx := context.Background()

	t.Run("selected falls back to first remaining", func(t *testing.T) {
		s := newService(t, &fakeCompleter{reply: replyWith("hi")}, kv.NewMemory())
		b := s.Snapshot().CurrentID
		a := s.StartNewConversation(ctx).ID

		s.DeleteConversation(ctx, a)

		st := s.Snapshot()
		require.Len(t, st.Conversations, 1)
		assert.Equal(t, b, st.CurrentID)
	})

	t.Run("unselected keeps selection", func(t *testing.T) {
		s := newService(t, &fakeCompleter{reply: replyWith("hi")}, kv.NewMemory())
		b := s.Snapshot().CurrentID
		a := s.StartNewConversation(ctx).ID

		s.DeleteConversation(ctx, b)

		st := s.Snapshot()
		require.Len(t, st.Conversations, 1)
		assert.Equal(t, a, st.CurrentID)
	})

	t.Run("last conversation is replaced", func(t *testing.T) {
		slots := kv.NewMemory()
		s := newService(t, &fakeCompleter{reply: replyWith("hi")}, slots)
		only := s.Snapshot().CurrentID

		s.DeleteConversation(ctx, only)

		st := s.Snapshot()
		require.Len(t, st.Conversations, 1)
		assert.NotEqual(t, only, st.CurrentID)
		assert.Equal(t, "New conversation 1", st.Conversations[0].Title)
		require.Len(t, persisted(t, slots), 1)
	})

	t.Run("unknown id is ignored", func(t *testing.T) {
		s := newService(t, &fakeCompleter{reply: replyWith("hi")}, kv.NewMemory())
		before := s.Snapshot()

		s.DeleteConversation(ctx, "missing")

		assert.Equal(t, before, s.Snapshot())
	})
}

func TestRenameConversation(t *testing.T) {
	ctx := context.Background()
	slots := kv.NewMemory()
	s := newService(t, &fakeCompleter{reply: replyWith("hi")}, slots)
	id := s.Snapshot().CurrentID

	conv, err := s.RenameConversation(ctx, id, "  Trip planning ")
	require.NoError(t, err)
	assert.Equal(t, "Trip planning", conv.Title)
	assert.True(t, conv.UpdatedAt.After(conv.CreatedAt))
	assert.Equal(t, "Trip planning", persisted(t, slots)[0].Title)

	_, err = s.RenameConversation(ctx, id, "   ")
	assert.ErrorIs(t, err, ErrEmptyTitle)

	_, err = s.RenameConversation(ctx, "missing", "x")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	s := newService(t, &fakeCompleter{reply: replyWith("hi")}, kv.NewMemory())
	ch, cancel := s.Subscribe(4)

	s.StartNewConversation(context.Background())
	ev := nextEvent(t, ch, model.EventTypeState)
	require.NotNil(t, ev.State)
	assert.Len(t, ev.State.Conversations, 2)

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestClose_ClosesSubscribers(t *testing.T) {
	s := NewConversationService(&fakeCompleter{reply: replyWith("hi")}, persistence.NewAdapter(kv.NewMemory()), logger.NewNop())
	require.NoError(t, s.Open(context.Background()))
	ch, _ := s.Subscribe(1)

	s.Close()

	_, ok := <-ch
	assert.False(t, ok)

	late, _ := s.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok)
}

func TestPersistenceFailureIsNotSurfaced(t *testing.T) {
	slots := &flakyStore{Memory: kv.NewMemory()}
	s := newService(t, &fakeCompleter{reply: replyWith("hi")}, slots)
	slots.putErr = errors.New("read-only")

	conv := s.StartNewConversation(context.Background())

	assert.Equal(t, conv.ID, s.Snapshot().CurrentID)
	assert.Len(t, s.Snapshot().Conversations, 2)
}

func TestSelectionStaysValidAcrossStartAndDelete(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 20; run++ {
		s := newService(t, &fakeCompleter{reply: replyWith("hi")}, kv.NewMemory())

		for step := 0; step < 50; step++ {
			st := s.Snapshot()
			switch op := rng.Intn(4); {
			case op == 0:
				s.StartNewConversation(ctx)
			case op == 1:
				s.DeleteConversation(ctx, st.CurrentID)
			case op == 2:
				victim := st.Conversations[rng.Intn(len(st.Conversations))]
				s.DeleteConversation(ctx, victim.ID)
			default:
				pick := st.Conversations[rng.Intn(len(st.Conversations))]
				require.NoError(t, s.SelectConversation(ctx, pick.ID))
			}

			st = s.Snapshot()
			require.NotEmpty(t, st.Conversations, "run %d step %d", run, step)
			_, ok := st.Current()
			require.True(t, ok, "run %d step %d: current %q not in collection", run, step, st.CurrentID)
		}
	}
}
