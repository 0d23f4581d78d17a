package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-relay/internal/credential"
	"github.com/capitalize-ai/chat-relay/internal/middleware"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

// CredentialRequest sets the provider API key.
type CredentialRequest struct {
	APIKey string `json:"api_key"`
}

// CredentialStatus reports whether a key is stored. The key itself is
// never returned.
type CredentialStatus struct {
	Configured bool `json:"configured"`
}

// CredentialHandler handles the API key slot.
type CredentialHandler struct {
	store  *credential.Store
	logger *logger.Logger
}

// NewCredentialHandler creates a new credential handler.
func NewCredentialHandler(store *credential.Store, log *logger.Logger) *CredentialHandler {
	return &CredentialHandler{
		store:  store,
		logger: log,
	}
}

// Get handles GET /api/v1/credential
func (h *CredentialHandler) Get(w http.ResponseWriter, r *http.Request) {
	ok, err := h.store.Configured(r.Context())
	if err != nil {
		requestLogger(h.logger, r).Error("failed to read credential", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read credential")
		return
	}

	writeJSON(w, http.StatusOK, CredentialStatus{Configured: ok})
}

// Put handles PUT /api/v1/credential
func (h *CredentialHandler) Put(w http.ResponseWriter, r *http.Request) {
	var req CredentialRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateCredential(req.APIKey); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.Set(r.Context(), req.APIKey); err != nil {
		requestLogger(h.logger, r).Error("failed to store credential", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store credential")
		return
	}

	h.logger.Info("credential updated")
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /api/v1/credential
func (h *CredentialHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Clear(r.Context()); err != nil {
		requestLogger(h.logger, r).Error("failed to clear credential", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to clear credential")
		return
	}

	h.logger.Info("credential cleared")
	w.WriteHeader(http.StatusNoContent)
}
