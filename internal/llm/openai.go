package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/capitalize-ai/chat-relay/internal/credential"
	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/pkg/metrics"
	"github.com/capitalize-ai/chat-relay/pkg/tracing"
)

// OpenAIClient is the OpenAI chat-completion client.
type OpenAIClient struct {
	creds credential.Provider
	opts  Options
}

// NewOpenAIClient creates a new OpenAI client. The API key is read from
// creds on every call.
func NewOpenAIClient(creds credential.Provider, opts Options) *OpenAIClient {
	return &OpenAIClient{creds: creds, opts: opts}
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return string(ProviderOpenAI)
}

// Complete sends a chat-completion request.
func (c *OpenAIClient) Complete(ctx context.Context, messages []model.Message) (string, error) {
	key, err := apiKey(ctx, c.creds)
	if err != nil {
		metrics.RecordCompletionFailure(c.Name(), Kind(err))
		return "", err
	}

	ctx, span := tracing.Tracer("chat-relay/llm").Start(ctx, "llm.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", c.Name()),
		attribute.String("llm.model", OpenAIModel),
		attribute.Int("llm.messages", len(messages)),
	)

	ctx, cancel := withTimeout(ctx, c.opts.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client(key).CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       OpenAIModel,
		Messages:    toOpenAIMessages(messages),
		MaxTokens:   MaxTokens,
		Temperature: Temperature,
	})
	if err != nil {
		perr := openAIError(err)
		span.RecordError(perr)
		span.SetStatus(codes.Error, perr.Message)
		metrics.RecordCompletion(c.Name(), "error", time.Since(start).Seconds(), 0, 0)
		metrics.RecordCompletionFailure(c.Name(), Kind(perr))
		return "", perr
	}

	metrics.RecordCompletion(c.Name(), "success", time.Since(start).Seconds(),
		resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 {
		perr := &ProviderError{Provider: c.Name(), Message: "response contained no choices"}
		metrics.RecordCompletionFailure(c.Name(), Kind(perr))
		return "", perr
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *OpenAIClient) client(key string) *openai.Client {
	config := openai.DefaultConfig(key)
	if c.opts.BaseURL != "" {
		config.BaseURL = c.opts.BaseURL
	}
	if c.opts.HTTPClient != nil {
		config.HTTPClient = c.opts.HTTPClient
	}
	return openai.NewClientWithConfig(config)
}

// toOpenAIMessages resolves each message's content variant into the
// OpenAI wire shape.
func toOpenAIMessages(messages []model.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		out[i] = openai.ChatCompletionMessage{Role: string(msg.Role)}

		content := model.ContentOf(msg)
		switch content.Kind {
		case model.ContentTextWithAttachments:
			parts := make([]openai.ChatMessagePart, 0, len(content.Attachments)+1)
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: content.Text,
			})
			for _, ref := range content.Attachments {
				parts = append(parts, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: ref},
				})
			}
			out[i].MultiContent = parts
		default:
			out[i].Content = content.Text
		}
	}
	return out
}

func openAIError(err error) *ProviderError {
	perr := &ProviderError{
		Provider: string(ProviderOpenAI),
		Message:  GenericProviderMessage,
		Err:      err,
	}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		perr.StatusCode = apiErr.HTTPStatusCode
		if apiErr.Message != "" {
			perr.Message = apiErr.Message
		}
	case errors.As(err, &reqErr):
		perr.StatusCode = reqErr.HTTPStatusCode
	}

	return perr
}
