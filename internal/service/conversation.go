// Package service owns the conversation collection: lifecycle, selection
// and the optimistic send-message protocol.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-relay/internal/llm"
	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/persistence"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
	"github.com/capitalize-ai/chat-relay/pkg/metrics"
)

var (
	// ErrConversationNotFound is returned when an id names no conversation.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrEmptyTitle is returned when renaming to a blank title.
	ErrEmptyTitle = errors.New("title must not be empty")
)

const saveTimeout = 5 * time.Second

// Persister mirrors the collection to durable storage.
type Persister interface {
	Load(ctx context.Context) ([]model.Conversation, error)
	Save(ctx context.Context, convs []model.Conversation) error
}

// Option configures a ConversationService.
type Option func(*ConversationService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *ConversationService) { s.now = now }
}

// WithIDGenerator overrides id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *ConversationService) { s.newID = newID }
}

// ConversationService is the single writer of the conversation collection.
type ConversationService struct {
	completer llm.Completer
	persister Persister
	logger    *logger.Logger
	now       func() time.Time
	newID     func() string
	hub       *hub

	mu            sync.Mutex
	conversations []model.Conversation // newest first
	currentID     string
	loading       bool
}

// NewConversationService creates a new conversation service. Call Open
// before use.
func NewConversationService(completer llm.Completer, persister Persister, log *logger.Logger, opts ...Option) *ConversationService {
	s := &ConversationService{
		completer: completer,
		persister: persister,
		logger:    log.Named("conversations"),
		now:       time.Now,
		newID:     func() string { return uuid.Must(uuid.NewV7()).String() },
		hub:       newHub(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open loads the persisted collection. A missing or corrupt snapshot
// starts a fresh collection with one empty conversation. Placeholders
// persisted mid-send are discarded.
func (s *ConversationService) Open(ctx context.Context) error {
	convs, err := s.persister.Load(ctx)
	if errors.Is(err, persistence.ErrCorruptSnapshot) {
		s.logger.Warn("discarding unreadable conversation snapshot", zap.Error(err))
		convs, err = nil, nil
	}
	if err != nil {
		return fmt.Errorf("failed to load conversations: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for i := range convs {
		dropped += dropPending(&convs[i])
	}
	if dropped > 0 {
		s.logger.Warn("dropped replies left pending by a previous run", zap.Int("count", dropped))
	}

	s.conversations = convs
	if len(s.conversations) == 0 {
		s.newConversationLocked()
	} else {
		s.currentID = s.conversations[0].ID
	}

	s.logger.Info("conversations loaded",
		zap.Int("count", len(s.conversations)),
		zap.String("current_id", s.currentID),
	)
	s.publishLocked(ctx, true)
	return nil
}

// dropPending removes assistant placeholders whose send can no longer
// resolve and returns how many were removed.
func dropPending(c *model.Conversation) int {
	kept := c.Messages[:0]
	for _, m := range c.Messages {
		if !m.IsPending() {
			kept = append(kept, m)
		}
	}
	n := len(c.Messages) - len(kept)
	c.Messages = kept
	return n
}

// StartNewConversation creates an empty conversation at the front of the
// collection and selects it.
func (s *ConversationService) StartNewConversation(ctx context.Context) model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.newConversationLocked()
	s.publishLocked(ctx, true)
	return conv.Clone()
}

// SelectConversation makes id the current conversation. Unknown ids leave
// the selection unchanged and return ErrConversationNotFound.
func (s *ConversationService) SelectConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(id) < 0 {
		return ErrConversationNotFound
	}
	if s.currentID == id {
		return nil
	}
	s.currentID = id
	s.publishLocked(ctx, false)
	return nil
}

// DeleteConversation removes id. When it was selected, selection falls
// back to the first remaining conversation, or to a new empty one.
// Unknown ids are ignored.
func (s *ConversationService) DeleteConversation(ctx context.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return
	}
	s.conversations = append(s.conversations[:idx], s.conversations[idx+1:]...)

	if s.currentID == id {
		if len(s.conversations) > 0 {
			s.currentID = s.conversations[0].ID
		} else {
			s.newConversationLocked()
		}
	}

	s.logger.Info("conversation deleted", zap.String("conversation_id", id))
	s.publishLocked(ctx, true)
}

// RenameConversation sets an explicit title.
func (s *ConversationService) RenameConversation(ctx context.Context, id, title string) (model.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return model.Conversation{}, ErrEmptyTitle
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return model.Conversation{}, ErrConversationNotFound
	}
	conv := &s.conversations[idx]
	conv.Title = title
	conv.UpdatedAt = s.now()

	s.publishLocked(ctx, true)
	return conv.Clone(), nil
}

// Snapshot returns a deep copy of the current state.
func (s *ConversationService) Snapshot() model.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Current returns a copy of the selected conversation.
func (s *ConversationService) Current() (model.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(s.currentID)
	if idx < 0 {
		return model.Conversation{}, false
	}
	return s.conversations[idx].Clone(), true
}

// Get returns a copy of the conversation with id.
func (s *ConversationService) Get(id string) (model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return model.Conversation{}, ErrConversationNotFound
	}
	return s.conversations[idx].Clone(), nil
}

// Loading reports whether a send is awaiting its reply.
func (s *ConversationService) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Subscribe registers for store events. The returned function
// unsubscribes and closes the channel. Events are dropped for subscribers
// whose buffer is full.
func (s *ConversationService) Subscribe(buffer int) (<-chan model.Event, func()) {
	return s.hub.subscribe(buffer)
}

// Close closes all subscriber channels.
func (s *ConversationService) Close() {
	s.hub.close()
}

func (s *ConversationService) newConversationLocked() model.Conversation {
	now := s.now()
	conv := model.Conversation{
		ID:        s.newID(),
		Title:     model.DefaultTitle(len(s.conversations) + 1),
		Messages:  []model.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations = append([]model.Conversation{conv}, s.conversations...)
	s.currentID = conv.ID

	metrics.ConversationsTotal.Inc()
	s.logger.Info("conversation created", zap.String("conversation_id", conv.ID))
	return conv
}

func (s *ConversationService) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *ConversationService) snapshotLocked() model.State {
	convs := make([]model.Conversation, len(s.conversations))
	for i, c := range s.conversations {
		convs[i] = c.Clone()
	}
	return model.State{
		Conversations: convs,
		CurrentID:     s.currentID,
		Loading:       s.loading,
	}
}

// publishLocked broadcasts the current state and, when persist is set,
// writes the collection to storage. Holding the lock keeps snapshots in
// mutation order. Storage failures are logged, never returned.
func (s *ConversationService) publishLocked(ctx context.Context, persist bool) {
	state := s.snapshotLocked()

	if persist {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
		err := s.persister.Save(saveCtx, state.Conversations)
		cancel()
		metrics.RecordPersistenceWrite(err == nil)
		if err != nil {
			s.logger.Error("failed to persist conversations", zap.Error(err))
		}
	}

	s.hub.broadcast(model.Event{
		ID:        s.newID(),
		Type:      model.EventTypeState,
		State:     &state,
		CreatedAt: s.now(),
	})
}

func (s *ConversationService) notifyLocked(n model.Notification) {
	s.hub.broadcast(model.Event{
		ID:           s.newID(),
		Type:         model.EventTypeNotification,
		Notification: &n,
		CreatedAt:    s.now(),
	})
}
