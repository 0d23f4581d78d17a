package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-relay/internal/llm"
	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/pkg/metrics"
)

// ErrEmptyReply is returned when the provider answers with blank text.
var ErrEmptyReply = errors.New("completion provider returned an empty reply")

const (
	sendFailedMessage   = "Could not send the message. Try again."
	deletedReplyMessage = "The reply was discarded because its conversation was deleted."
)

// SendResult describes a resolved send.
type SendResult struct {
	ConversationID string         `json:"conversation_id"`
	UserMessage    model.Message  `json:"user_message"`
	Reply          *model.Message `json:"reply,omitempty"`
}

// SendMessage appends a user message and a pending assistant placeholder
// to the current conversation, publishes that state, then asks the
// completer for a reply. On success the placeholder is filled in; on
// failure it is removed, the user message stays, a notification event is
// published and the error is returned.
//
// Blank content without attachments, or no current conversation, is a
// no-op returning (nil, nil).
func (s *ConversationService) SendMessage(ctx context.Context, content string, attachments []string) (*SendResult, error) {
	req := model.SendMessageRequest{Content: content, Attachments: attachments}
	if req.IsEmpty() {
		return nil, nil
	}

	s.mu.Lock()
	idx := s.indexLocked(s.currentID)
	if idx < 0 {
		s.mu.Unlock()
		return nil, nil
	}
	conv := &s.conversations[idx]
	convID := conv.ID

	now := s.now()
	userMsg := model.Message{
		ID:        s.newID(),
		Role:      model.RoleUser,
		Content:   content,
		Timestamp: now,
	}
	if len(attachments) > 0 {
		userMsg.Attachments = append([]string(nil), attachments...)
	}
	placeholder := model.Message{
		ID:        s.newID(),
		Role:      model.RoleAssistant,
		Timestamp: now,
	}

	conv.Messages = append(conv.Messages, userMsg, placeholder)
	conv.UpdatedAt = now
	if conv.UserMessageCount() == 1 && strings.TrimSpace(content) != "" {
		conv.Title = model.DeriveTitle(content)
	}

	history := make([]model.Message, 0, len(conv.Messages)-1)
	for _, m := range conv.Messages {
		if m.ID != placeholder.ID {
			history = append(history, m.Clone())
		}
	}

	s.loading = true
	s.publishLocked(ctx, true)
	s.mu.Unlock()

	metrics.MessagesTotal.WithLabelValues(string(model.RoleUser)).Inc()
	metrics.SendsInFlight.Inc()
	log := s.logger.WithConversation(convID)
	log.Debug("awaiting completion", zap.Int("history", len(history)))

	reply, err := s.completer.Complete(ctx, history)
	metrics.SendsInFlight.Dec()
	if err == nil && strings.TrimSpace(reply) == "" {
		err = &llm.ProviderError{Provider: s.completer.Name(), Message: llm.GenericProviderMessage, Err: ErrEmptyReply}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false

	idx = s.indexLocked(convID)
	if idx < 0 {
		log.Warn("conversation deleted before reply arrived", zap.Error(err))
		s.publishLocked(ctx, false)
		if err != nil {
			s.notifyLocked(model.Notification{
				Level:          model.NotificationError,
				Message:        FailureMessage(err),
				ConversationID: convID,
			})
			return nil, fmt.Errorf("completion failed: %w", err)
		}
		s.notifyLocked(model.Notification{
			Level:          model.NotificationInfo,
			Message:        deletedReplyMessage,
			ConversationID: convID,
		})
		return &SendResult{ConversationID: convID, UserMessage: userMsg}, nil
	}

	conv = &s.conversations[idx]
	pi := conv.MessageIndex(placeholder.ID)
	resolvedAt := s.now()
	conv.UpdatedAt = resolvedAt

	if err != nil {
		if pi >= 0 {
			conv.Messages = append(conv.Messages[:pi], conv.Messages[pi+1:]...)
		}
		log.Warn("completion failed",
			zap.String("provider", s.completer.Name()),
			zap.String("kind", llm.Kind(err)),
			zap.Error(err),
		)
		s.publishLocked(ctx, true)
		s.notifyLocked(model.Notification{
			Level:          model.NotificationError,
			Message:        FailureMessage(err),
			ConversationID: convID,
		})
		return nil, fmt.Errorf("completion failed: %w", err)
	}

	result := &SendResult{ConversationID: convID, UserMessage: userMsg}
	if pi >= 0 {
		conv.Messages[pi].Content = reply
		conv.Messages[pi].Timestamp = resolvedAt
		resolved := conv.Messages[pi].Clone()
		result.Reply = &resolved
	}
	metrics.MessagesTotal.WithLabelValues(string(model.RoleAssistant)).Inc()
	s.publishLocked(ctx, true)
	return result, nil
}

// FailureMessage is the user-facing text for a failed send.
func FailureMessage(err error) string {
	var pe *llm.ProviderError
	switch {
	case errors.Is(err, llm.ErrMissingCredential):
		return llm.ErrMissingCredential.Error()
	case errors.As(err, &pe) && pe.Message != "":
		return sendFailedMessage + " " + pe.Message
	default:
		return sendFailedMessage
	}
}
