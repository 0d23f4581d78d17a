package nats

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/chat-relay/internal/kv"
)

// DefaultBucket is the KeyValue bucket holding the chat slots.
const DefaultBucket = "CHAT_SLOTS"

// KVStore is a kv.Store backed by a JetStream KeyValue bucket.
type KVStore struct {
	client *Client
	bucket jetstream.KeyValue
}

// NewKVStore opens the bucket, creating it on first use.
func NewKVStore(ctx context.Context, client *Client, bucket string) (*KVStore, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	js := client.JetStream()

	b, err := js.KeyValue(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		b, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      bucket,
			Description: "Conversation collection and provider credential",
			History:     1,
			Storage:     jetstream.FileStorage,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open key-value bucket %q: %w", bucket, err)
	}

	return &KVStore{client: client, bucket: b}, nil
}

// Get implements kv.Store.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.bucket.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return entry.Value(), nil
}

// Put implements kv.Store.
func (s *KVStore) Put(ctx context.Context, key string, value []byte) error {
	if _, err := s.bucket.Put(ctx, key, value); err != nil {
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}
	return nil
}

// Delete implements kv.Store.
func (s *KVStore) Delete(ctx context.Context, key string) error {
	err := s.bucket.Delete(ctx, key)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return nil
}

// Ping reports whether the connection is up.
func (s *KVStore) Ping(ctx context.Context) error {
	if !s.client.IsConnected() {
		return errors.New("NATS not connected")
	}
	_, err := s.bucket.Status(ctx)
	return err
}

// Close is a no-op; the owning Client closes the connection.
func (s *KVStore) Close() error { return nil }
