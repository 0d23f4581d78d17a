package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/chat-relay/internal/credential"
	"github.com/capitalize-ai/chat-relay/internal/middleware"
	"github.com/capitalize-ai/chat-relay/internal/service"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

// RouterConfig holds the dependencies of the HTTP surface.
type RouterConfig struct {
	Service     *service.ConversationService
	Credentials *credential.Store
	Logger      *logger.Logger
	Checks      []Check

	AllowedOrigins    []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	Heartbeat         time.Duration
}

// NewRouter wires handlers and middleware.
func NewRouter(cfg RouterConfig) http.Handler {
	healthHandler := NewHealthHandler(cfg.Checks...)
	conversationHandler := NewConversationHandler(cfg.Service, cfg.Logger)
	credentialHandler := NewCredentialHandler(cfg.Credentials, cfg.Logger)
	messageHandler := NewMessageHandler(cfg.Service, cfg.Credentials, cfg.Logger)
	streamHandler := NewStreamHandler(cfg.Service, cfg.Logger, cfg.Heartbeat)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Health endpoints
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Get("/state", conversationHandler.State)
		r.Get("/events", streamHandler.Events)

		r.Route("/credential", func(r chi.Router) {
			r.Get("/", credentialHandler.Get)
			r.Put("/", credentialHandler.Put)
			r.Delete("/", credentialHandler.Delete)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Put("/", conversationHandler.Rename)
				r.Delete("/", conversationHandler.Delete)
				r.Post("/select", conversationHandler.Select)
			})
		})

		r.Post("/messages", messageHandler.Send)
	})

	return r
}
