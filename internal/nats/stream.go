package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

const (
	// StreamName is the name of the chat events stream.
	StreamName = "CHAT_EVENTS"

	// SubjectPrefix is the prefix for all chat event subjects.
	SubjectPrefix = "chat"
)

// EventSubject returns the subject for an event type.
func EventSubject(eventType model.EventType) string {
	return fmt.Sprintf("%s.events.%s", SubjectPrefix, eventType)
}

// EventRelay mirrors conversation store events onto a JetStream stream.
type EventRelay struct {
	client *Client
	logger *logger.Logger
}

// NewEventRelay creates a new relay.
func NewEventRelay(client *Client, log *logger.Logger) *EventRelay {
	return &EventRelay{client: client, logger: log}
}

// EnsureStream ensures the events stream exists.
func (r *EventRelay) EnsureStream(ctx context.Context) error {
	js := r.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.events.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Description: "Conversation state snapshots and notifications",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// PublishEvent publishes one event and returns its stream sequence.
func (r *EventRelay) PublishEvent(ctx context.Context, event model.Event) (uint64, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := r.client.JetStream().Publish(ctx, EventSubject(event.Type), data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}

	return ack.Sequence, nil
}

// Run publishes events until the channel closes or ctx is done.
func (r *EventRelay) Run(ctx context.Context, events <-chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if _, err := r.PublishEvent(ctx, ev); err != nil {
				r.logger.Warn("failed to relay event",
					zap.String("event_type", string(ev.Type)),
					zap.Error(err),
				)
			}
		}
	}
}
