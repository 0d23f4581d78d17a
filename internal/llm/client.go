// Package llm converts conversation history into completion provider
// requests and returns the assistant reply.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/capitalize-ai/chat-relay/internal/credential"
	"github.com/capitalize-ai/chat-relay/internal/model"
)

// Request constants. They are fixed for the relay and not user-tunable.
const (
	OpenAIModel    = "gpt-4o"
	AnthropicModel = "claude-3-5-sonnet-20241022"
	Temperature    = 0.7
	MaxTokens      = 2000
)

// Completer is the interface for completion providers.
type Completer interface {
	// Complete sends the message history and returns the trimmed reply text.
	Complete(ctx context.Context, messages []model.Message) (string, error)

	// Name returns the provider name.
	Name() string
}

// Provider is the type of completion provider.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// Options tune the transport of a provider client.
type Options struct {
	// BaseURL overrides the provider endpoint. Empty uses the SDK default.
	BaseURL string
	// Timeout bounds each call. Zero leaves the platform default.
	Timeout time.Duration
	// HTTPClient overrides the HTTP client.
	HTTPClient *http.Client
}

// NewCompleter creates a completer for provider.
func NewCompleter(provider Provider, creds credential.Provider, opts Options) (Completer, error) {
	switch provider {
	case ProviderOpenAI, "":
		return NewOpenAIClient(creds, opts), nil
	case ProviderAnthropic:
		return NewAnthropicClient(creds, opts), nil
	default:
		return nil, fmt.Errorf("unknown completion provider %q", provider)
	}
}

// apiKey fetches the credential, failing fast when none is configured.
func apiKey(ctx context.Context, creds credential.Provider) (string, error) {
	if creds == nil {
		return "", ErrMissingCredential
	}
	key, err := creds.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read credential: %w", err)
	}
	if key == "" {
		return "", ErrMissingCredential
	}
	return key, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
