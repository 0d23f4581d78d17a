package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chat-relay/internal/kv"
)

func TestStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "data", "chat.db"))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get(ctx, "chatConversations")
	assert.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, s.Put(ctx, "chatConversations", []byte(`[]`)))
	require.NoError(t, s.Put(ctx, "chatConversations", []byte(`[{"id":"a"}]`)))

	got, err := s.Get(ctx, "chatConversations")
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"a"}]`, string(got))

	require.NoError(t, s.Delete(ctx, "chatConversations"))
	_, err = s.Get(ctx, "chatConversations")
	assert.ErrorIs(t, err, kv.ErrNotFound)

	assert.NoError(t, s.Ping(ctx))
}

func TestStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chat.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "openai_api_key", []byte("sk-test")))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, "openai_api_key")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", string(got))
}

var _ kv.Store = (*Store)(nil)
