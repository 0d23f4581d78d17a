package handler

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-relay/internal/credential"
	"github.com/capitalize-ai/chat-relay/internal/llm"
	"github.com/capitalize-ai/chat-relay/internal/middleware"
	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/service"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	service *service.ConversationService
	creds   credential.Provider
	logger  *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(svc *service.ConversationService, creds credential.Provider, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		service: svc,
		creds:   creds,
		logger:  log,
	}
}

// Send handles POST /api/v1/messages
//
// The message goes to the currently selected conversation. The reply is
// returned in the response and also published on the event stream.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req model.SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateAttachments(req.Attachments); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key, err := h.creds.Get(r.Context())
	if err != nil {
		requestLogger(h.logger, r).Error("failed to read credential", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read credential")
		return
	}
	if key == "" {
		writeError(w, http.StatusPreconditionRequired, "missing credential")
		return
	}

	if h.service.Loading() {
		writeError(w, http.StatusConflict, "a reply is already pending")
		return
	}

	if req.IsEmpty() {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// The send outlives a disconnecting client; the result still reaches
	// the event stream.
	res, err := h.service.SendMessage(context.WithoutCancel(r.Context()), req.Content, req.Attachments)
	switch {
	case errors.Is(err, llm.ErrMissingCredential):
		writeError(w, http.StatusPreconditionRequired, "missing credential")
		return
	case err != nil:
		requestLogger(h.logger, r).Warn("send failed",
			zap.String("kind", llm.Kind(err)),
			zap.Error(err),
		)
		writeError(w, http.StatusBadGateway, service.FailureMessage(err))
		return
	case res == nil:
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, res)
}
