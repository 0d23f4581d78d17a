package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, StorageSQLite, cfg.StorageBackend)
	assert.Equal(t, "openai", cfg.CompletionProvider)
	assert.Zero(t, cfg.CompletionTimeout)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, 60, cfg.RateLimitRequests)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	assert.False(t, cfg.NeedsNATS())
	require.NoError(t, cfg.Validate())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORAGE_BACKEND", "NATS")
	t.Setenv("COMPLETION_PROVIDER", "anthropic")
	t.Setenv("COMPLETION_TIMEOUT", "45s")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("ANTHROPIC_BASE_URL", "http://proxy")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, ,http://b.test")
	t.Setenv("RATE_LIMIT_REQUESTS", "not-a-number")
	t.Setenv("NATS_EVENTS_ENABLED", "true")

	cfg := Load()

	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, StorageNATS, cfg.StorageBackend)
	assert.Equal(t, 45*time.Second, cfg.CompletionTimeout)
	assert.Equal(t, "sk-ant", cfg.SeedAPIKey())
	assert.Equal(t, "http://proxy", cfg.CompletionBaseURL())
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, 60, cfg.RateLimitRequests)
	assert.True(t, cfg.NeedsNATS())
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cfg := Load()
	cfg.StorageBackend = "redis"
	assert.ErrorContains(t, cfg.Validate(), "storage backend")

	cfg = Load()
	cfg.CompletionProvider = "mistral"
	assert.ErrorContains(t, cfg.Validate(), "completion provider")

	cfg = Load()
	cfg.RateLimitRequests = 0
	assert.Error(t, cfg.Validate())
}
