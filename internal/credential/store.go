// Package credential stores the completion provider API key.
package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/capitalize-ai/chat-relay/internal/kv"
)

// DefaultKey is the slot holding the provider API key.
const DefaultKey = "openai_api_key"

// ErrEmptyCredential is returned when setting a blank key.
var ErrEmptyCredential = errors.New("credential must not be empty")

// Provider supplies the current credential. An empty string means none is
// configured.
type Provider interface {
	Get(ctx context.Context) (string, error)
}

// Store keeps one opaque API key in a durable slot.
type Store struct {
	slots kv.Store
	key   string
}

// NewStore creates a credential store over slots using DefaultKey.
func NewStore(slots kv.Store) *Store {
	return &Store{slots: slots, key: DefaultKey}
}

// Get returns the stored key, or "" when none is set.
func (s *Store) Get(ctx context.Context) (string, error) {
	v, err := s.slots.Get(ctx, s.key)
	if errors.Is(err, kv.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read credential: %w", err)
	}
	return string(v), nil
}

// Set stores key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmptyCredential
	}
	if err := s.slots.Put(ctx, s.key, []byte(key)); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

// Clear removes the stored key.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.slots.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	return nil
}

// Configured reports whether a non-empty key is stored.
func (s *Store) Configured(ctx context.Context) (bool, error) {
	v, err := s.Get(ctx)
	return v != "", err
}

// Seed stores key only when no credential is configured yet. A blank key
// is ignored.
func (s *Store) Seed(ctx context.Context, key string) (bool, error) {
	if strings.TrimSpace(key) == "" {
		return false, nil
	}
	ok, err := s.Configured(ctx)
	if err != nil || ok {
		return false, err
	}
	return true, s.Set(ctx, key)
}

// Static is a fixed Provider, mainly for tests.
type Static string

// Get implements Provider.
func (s Static) Get(context.Context) (string, error) {
	return string(s), nil
}
