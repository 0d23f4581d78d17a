// Package persistence mirrors the conversation collection into a durable
// key-value slot as JSON.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/capitalize-ai/chat-relay/internal/kv"
	"github.com/capitalize-ai/chat-relay/internal/model"
)

// DefaultKey is the slot holding the serialized conversation collection.
const DefaultKey = "chatConversations"

// TimeLayout is the ISO-8601 form timestamps are written in.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// ErrCorruptSnapshot is returned by Load when the slot holds data that
// cannot be decoded.
var ErrCorruptSnapshot = errors.New("persisted conversations are corrupt")

type storedMessage struct {
	ID          string   `json:"id"`
	Role        string   `json:"role"`
	Content     string   `json:"content"`
	Timestamp   string   `json:"timestamp"`
	Attachments []string `json:"attachments,omitempty"`
}

type storedConversation struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Messages  []storedMessage `json:"messages"`
	CreatedAt string          `json:"createdAt"`
	UpdatedAt string          `json:"updatedAt"`
}

// Adapter loads and saves full snapshots of the collection.
type Adapter struct {
	slots kv.Store
	key   string
}

// NewAdapter creates an adapter over slots using DefaultKey.
func NewAdapter(slots kv.Store) *Adapter {
	return &Adapter{slots: slots, key: DefaultKey}
}

// Load returns the persisted collection. A missing slot yields (nil, nil).
func (a *Adapter) Load(ctx context.Context) ([]model.Conversation, error) {
	data, err := a.slots.Get(ctx, a.key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read conversations: %w", err)
	}
	return Decode(data)
}

// Save overwrites the slot with convs.
func (a *Adapter) Save(ctx context.Context, convs []model.Conversation) error {
	data, err := Encode(convs)
	if err != nil {
		return err
	}
	if err := a.slots.Put(ctx, a.key, data); err != nil {
		return fmt.Errorf("failed to write conversations: %w", err)
	}
	return nil
}

// Encode serializes convs to the slot format.
func Encode(convs []model.Conversation) ([]byte, error) {
	out := make([]storedConversation, len(convs))
	for i, c := range convs {
		msgs := make([]storedMessage, len(c.Messages))
		for j, m := range c.Messages {
			msgs[j] = storedMessage{
				ID:          m.ID,
				Role:        string(m.Role),
				Content:     m.Content,
				Timestamp:   formatTime(m.Timestamp),
				Attachments: m.Attachments,
			}
		}
		out[i] = storedConversation{
			ID:        c.ID,
			Title:     c.Title,
			Messages:  msgs,
			CreatedAt: formatTime(c.CreatedAt),
			UpdatedAt: formatTime(c.UpdatedAt),
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal conversations: %w", err)
	}
	return data, nil
}

// Decode parses the slot format, rebuilding timestamps from their string
// form.
func Decode(data []byte) ([]model.Conversation, error) {
	var stored []storedConversation
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	convs := make([]model.Conversation, len(stored))
	for i, sc := range stored {
		createdAt, err := parseTime(sc.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: conversation %s createdAt: %v", ErrCorruptSnapshot, sc.ID, err)
		}
		updatedAt, err := parseTime(sc.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: conversation %s updatedAt: %v", ErrCorruptSnapshot, sc.ID, err)
		}

		msgs := make([]model.Message, len(sc.Messages))
		for j, sm := range sc.Messages {
			ts, err := parseTime(sm.Timestamp)
			if err != nil {
				return nil, fmt.Errorf("%w: message %s timestamp: %v", ErrCorruptSnapshot, sm.ID, err)
			}
			role := model.Role(sm.Role)
			if !role.Valid() {
				return nil, fmt.Errorf("%w: message %s has unknown role %q", ErrCorruptSnapshot, sm.ID, sm.Role)
			}
			var attachments []string
			if len(sm.Attachments) > 0 {
				attachments = sm.Attachments
			}
			msgs[j] = model.Message{
				ID:          sm.ID,
				Role:        role,
				Content:     sm.Content,
				Timestamp:   ts,
				Attachments: attachments,
			}
		}

		convs[i] = model.Conversation{
			ID:        sc.ID,
			Title:     sc.Title,
			Messages:  msgs,
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		}
	}

	return convs, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
