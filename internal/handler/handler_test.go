package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chat-relay/internal/credential"
	"github.com/capitalize-ai/chat-relay/internal/kv"
	"github.com/capitalize-ai/chat-relay/internal/llm"
	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/persistence"
	"github.com/capitalize-ai/chat-relay/internal/service"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

type stubCompleter struct {
	reply   string
	err     error
	started chan struct{}
	release chan struct{}
}

func (s *stubCompleter) Name() string { return "stub" }

func (s *stubCompleter) Complete(ctx context.Context, _ []model.Message) (string, error) {
	if s.started != nil {
		close(s.started)
	}
	if s.release != nil {
		<-s.release
	}
	return s.reply, s.err
}

type fixture struct {
	router http.Handler
	svc    *service.ConversationService
	creds  *credential.Store
}

func newFixture(t *testing.T, c llm.Completer, checks ...Check) *fixture {
	t.Helper()
	slots := kv.NewMemory()
	svc := service.NewConversationService(c, persistence.NewAdapter(slots), logger.NewNop())
	require.NoError(t, svc.Open(context.Background()))
	t.Cleanup(svc.Close)

	creds := credential.NewStore(slots)
	return &fixture{
		router: NewRouter(RouterConfig{
			Service:           svc,
			Credentials:       creds,
			Logger:            logger.NewNop(),
			Checks:            checks,
			AllowedOrigins:    []string{"*"},
			RateLimitRequests: 1000,
			RateLimitWindow:   time.Minute,
			Heartbeat:         50 * time.Millisecond,
		}),
		svc:   svc,
		creds: creds,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) setKey(t *testing.T) {
	t.Helper()
	require.NoError(t, f.creds.Set(context.Background(), "sk-test"))
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t, &stubCompleter{reply: "ok"})

	rec := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestReady(t *testing.T) {
	healthy := Check{Name: "storage", Probe: func(context.Context) error { return nil }}
	f := newFixture(t, &stubCompleter{reply: "ok"}, healthy)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/ready", "").Code)

	broken := Check{Name: "nats", Probe: func(context.Context) error { return errors.New("disconnected") }}
	f = newFixture(t, &stubCompleter{reply: "ok"}, healthy, broken)
	rec := f.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "nats: disconnected")
}

func TestState(t *testing.T) {
	f := newFixture(t, &stubCompleter{reply: "ok"})

	rec := f.do(t, http.MethodGet, "/api/v1/state", "")
	require.Equal(t, http.StatusOK, rec.Code)

	st := decode[model.State](t, rec)
	require.Len(t, st.Conversations, 1)
	assert.Equal(t, "New conversation 1", st.Conversations[0].Title)
	assert.Equal(t, st.Conversations[0].ID, st.CurrentID)
}

func TestConversationLifecycle(t *testing.T) {
	f := newFixture(t, &stubCompleter{reply: "ok"})
	first := f.svc.Snapshot().CurrentID

	rec := f.do(t, http.MethodPost, "/api/v1/conversations", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[model.Conversation](t, rec)
	assert.Equal(t, "New conversation 2", created.Title)

	rec = f.do(t, http.MethodGet, "/api/v1/conversations/"+created.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/conversations/missing", "").Code)

	rec = f.do(t, http.MethodPost, "/api/v1/conversations/"+first+"/select", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first, decode[model.State](t, rec).CurrentID)

	rec = f.do(t, http.MethodPost, "/api/v1/conversations/missing/select", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, first, f.svc.Snapshot().CurrentID)

	rec = f.do(t, http.MethodPut, "/api/v1/conversations/"+first, `{"title":"Groceries"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Groceries", decode[model.Conversation](t, rec).Title)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/api/v1/conversations/"+first, `{"title":" "}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/api/v1/conversations/"+first, `{`).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPut, "/api/v1/conversations/missing", `{"title":"x"}`).Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/conversations/"+first, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	st := f.svc.Snapshot()
	require.Len(t, st.Conversations, 1)
	assert.Equal(t, created.ID, st.CurrentID)
}

func TestCredential(t *testing.T) {
	f := newFixture(t, &stubCompleter{reply: "ok"})

	assert.False(t, decode[CredentialStatus](t, f.do(t, http.MethodGet, "/api/v1/credential", "")).Configured)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPut, "/api/v1/credential", `{"api_key":"sk-abc"}`).Code)
	rec := f.do(t, http.MethodGet, "/api/v1/credential", "")
	assert.True(t, decode[CredentialStatus](t, rec).Configured)
	assert.NotContains(t, rec.Body.String(), "sk-abc")

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/api/v1/credential", `{"api_key":"  "}`).Code)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/v1/credential", "").Code)
	assert.False(t, decode[CredentialStatus](t, f.do(t, http.MethodGet, "/api/v1/credential", "")).Configured)
}

func TestSendMessage(t *testing.T) {
	t.Run("missing credential", func(t *testing.T) {
		f := newFixture(t, &stubCompleter{reply: "ok"})
		before := f.svc.Snapshot()

		rec := f.do(t, http.MethodPost, "/api/v1/messages", `{"content":"Hi"}`)

		assert.Equal(t, http.StatusPreconditionRequired, rec.Code)
		assert.Equal(t, model.ErrorEvent{Code: "precondition_required", Message: "missing credential"},
			decode[model.ErrorEvent](t, rec))
		assert.Equal(t, before, f.svc.Snapshot())
	})

	t.Run("success", func(t *testing.T) {
		f := newFixture(t, &stubCompleter{reply: "Hello!"})
		f.setKey(t)

		rec := f.do(t, http.MethodPost, "/api/v1/messages", `{"content":"Hi"}`)

		require.Equal(t, http.StatusOK, rec.Code)
		res := decode[service.SendResult](t, rec)
		require.NotNil(t, res.Reply)
		assert.Equal(t, "Hello!", res.Reply.Content)
		assert.Equal(t, "Hi", res.UserMessage.Content)

		cur, _ := f.svc.Current()
		assert.Equal(t, "Hi", cur.Title)
		assert.Len(t, cur.Messages, 2)
	})

	t.Run("empty input", func(t *testing.T) {
		f := newFixture(t, &stubCompleter{reply: "ok"})
		f.setKey(t)

		rec := f.do(t, http.MethodPost, "/api/v1/messages", `{"content":"   "}`)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		cur, _ := f.svc.Current()
		assert.Empty(t, cur.Messages)
	})

	t.Run("invalid attachment", func(t *testing.T) {
		f := newFixture(t, &stubCompleter{reply: "ok"})
		f.setKey(t)

		rec := f.do(t, http.MethodPost, "/api/v1/messages", `{"content":"look","attachments":["data:image/bmp;base64,AAAA"]}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("provider failure", func(t *testing.T) {
		perr := &llm.ProviderError{Provider: "stub", StatusCode: 429, Message: "Rate limit reached"}
		f := newFixture(t, &stubCompleter{err: perr})
		f.setKey(t)

		rec := f.do(t, http.MethodPost, "/api/v1/messages", `{"content":"Hi"}`)

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		body := decode[model.ErrorEvent](t, rec)
		assert.Equal(t, "bad_gateway", body.Code)
		assert.Contains(t, body.Message, "Rate limit reached")
		cur, _ := f.svc.Current()
		require.Len(t, cur.Messages, 1)
		assert.Equal(t, model.RoleUser, cur.Messages[0].Role)
	})

	t.Run("rejected while loading", func(t *testing.T) {
		stub := &stubCompleter{reply: "ok", started: make(chan struct{}), release: make(chan struct{})}
		f := newFixture(t, stub)
		f.setKey(t)

		done := make(chan int, 1)
		go func() {
			done <- f.do(t, http.MethodPost, "/api/v1/messages", `{"content":"first"}`).Code
		}()
		<-stub.started

		rec := f.do(t, http.MethodPost, "/api/v1/messages", `{"content":"second"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)

		close(stub.release)
		assert.Equal(t, http.StatusOK, <-done)
	})
}

func TestEvents(t *testing.T) {
	f := newFixture(t, &stubCompleter{reply: "ok"})
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	waitFor := func(prefix string) string {
		t.Helper()
		timeout := time.After(2 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				require.True(t, ok, "stream closed")
				if strings.HasPrefix(line, prefix) {
					return line
				}
			case <-timeout:
				t.Fatalf("no line with prefix %q", prefix)
			}
		}
	}

	assert.Equal(t, "event: state", waitFor("event: state"))
	assert.Contains(t, waitFor("data: "), "New conversation 1")

	f.svc.StartNewConversation(context.Background())
	waitFor("event: state")
	assert.Contains(t, waitFor("data: "), "New conversation 2")

	waitFor("event: heartbeat")
}
