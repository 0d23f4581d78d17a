package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tidwall/gjson"

	"github.com/capitalize-ai/chat-relay/internal/credential"
	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/pkg/metrics"
)

// AnthropicClient is the Anthropic messages client.
type AnthropicClient struct {
	creds credential.Provider
	opts  Options
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(creds credential.Provider, opts Options) *AnthropicClient {
	return &AnthropicClient{creds: creds, opts: opts}
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string {
	return string(ProviderAnthropic)
}

// Complete sends a messages request.
func (c *AnthropicClient) Complete(ctx context.Context, messages []model.Message) (string, error) {
	key, err := apiKey(ctx, c.creds)
	if err != nil {
		metrics.RecordCompletionFailure(c.Name(), Kind(err))
		return "", err
	}

	params, err := toAnthropicMessages(messages)
	if err != nil {
		metrics.RecordCompletionFailure(c.Name(), Kind(err))
		return "", err
	}

	ctx, cancel := withTimeout(ctx, c.opts.Timeout)
	defer cancel()

	reqOpts := []option.RequestOption{option.WithAPIKey(key)}
	if c.opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(c.opts.BaseURL))
	}
	if c.opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(c.opts.HTTPClient))
	}
	client := anthropic.NewClient(reqOpts...)

	start := time.Now()
	resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.F(AnthropicModel),
		MaxTokens:   anthropic.F(int64(MaxTokens)),
		Temperature: anthropic.F(Temperature),
		Messages:    anthropic.F(params),
	})
	if err != nil {
		perr := anthropicError(err)
		metrics.RecordCompletion(c.Name(), "error", time.Since(start).Seconds(), 0, 0)
		metrics.RecordCompletionFailure(c.Name(), Kind(perr))
		return "", perr
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			content += block.Text
		}
	}

	metrics.RecordCompletion(c.Name(), "success", time.Since(start).Seconds(),
		int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens))

	return strings.TrimSpace(content), nil
}

// anthropicError maps an SDK error, using the provider's own
// error.message when the response body carries one.
func anthropicError(err error) *ProviderError {
	perr := &ProviderError{
		Provider: string(ProviderAnthropic),
		Message:  GenericProviderMessage,
		Err:      err,
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		perr.StatusCode = apiErr.StatusCode
		if msg := gjson.Get(apiErr.JSON.RawJSON(), "error.message").String(); msg != "" {
			perr.Message = msg
		}
	}
	return perr
}

// toAnthropicMessages converts history into Anthropic message params.
// System turns are not part of the messages list on this API and are
// skipped, as are turns with no text or images. Only inline (data URI)
// images can be attached.
func toAnthropicMessages(messages []model.Message) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			continue
		}

		content := model.ContentOf(msg)
		var blocks []anthropic.ContentBlockParamUnion
		if strings.TrimSpace(content.Text) != "" {
			blocks = append(blocks, anthropic.TextBlockParam{
				Type: anthropic.F(anthropic.TextBlockParamTypeText),
				Text: anthropic.F(content.Text),
			})
		}
		for _, ref := range content.Attachments {
			mediaType, data, ok := splitDataURI(ref)
			if !ok {
				return nil, &ProviderError{
					Provider: string(ProviderAnthropic),
					Message:  fmt.Sprintf("only inline images are supported, got %q", truncateRef(ref)),
				}
			}
			blocks = append(blocks, anthropic.NewImageBlockBase64(mediaType, data))
		}

		// The API rejects empty turns.
		if len(blocks) == 0 {
			continue
		}
		out = append(out, anthropic.MessageParam{
			Role:    anthropic.F(anthropic.MessageParamRole(msg.Role)),
			Content: anthropic.F(blocks),
		})
	}
	return out, nil
}

// splitDataURI splits "data:<mediatype>;base64,<data>".
func splitDataURI(ref string) (mediaType, data string, ok bool) {
	rest, found := strings.CutPrefix(ref, "data:")
	if !found {
		return "", "", false
	}
	header, data, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mediaType, found = strings.CutSuffix(header, ";base64")
	if !found || mediaType == "" {
		return "", "", false
	}
	return mediaType, data, true
}

func truncateRef(ref string) string {
	if len(ref) > 40 {
		return ref[:40] + "..."
	}
	return ref
}
