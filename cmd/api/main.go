// Package main is the entry point for the chat relay server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-relay/internal/config"
	"github.com/capitalize-ai/chat-relay/internal/credential"
	"github.com/capitalize-ai/chat-relay/internal/handler"
	"github.com/capitalize-ai/chat-relay/internal/kv"
	"github.com/capitalize-ai/chat-relay/internal/kv/sqlite"
	"github.com/capitalize-ai/chat-relay/internal/llm"
	natsclient "github.com/capitalize-ai/chat-relay/internal/nats"
	"github.com/capitalize-ai/chat-relay/internal/persistence"
	"github.com/capitalize-ai/chat-relay/internal/service"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
	"github.com/capitalize-ai/chat-relay/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	log.Info("starting chat relay",
		zap.String("storage", cfg.StorageBackend),
		zap.String("provider", cfg.CompletionProvider),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chat-relay", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	// Connect to NATS when storage or event relay needs it
	var natsClient *natsclient.Client
	if cfg.NeedsNATS() {
		c, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer c.Close()
		natsClient = c
	}

	slots, err := openSlots(ctx, cfg, natsClient)
	if err != nil {
		return err
	}
	defer slots.Close()

	// Credentials
	creds := credential.NewStore(slots)
	if seeded, err := creds.Seed(ctx, cfg.SeedAPIKey()); err != nil {
		log.Warn("failed to seed credential", zap.Error(err))
	} else if seeded {
		log.Info("credential seeded from environment")
	}

	completer, err := llm.NewCompleter(llm.Provider(cfg.CompletionProvider), creds, llm.Options{
		BaseURL: cfg.CompletionBaseURL(),
		Timeout: cfg.CompletionTimeout,
	})
	if err != nil {
		return err
	}

	// Conversation store
	svc := service.NewConversationService(completer, persistence.NewAdapter(slots), log)
	if err := svc.Open(ctx); err != nil {
		return err
	}
	defer svc.Close()

	checks := []handler.Check{}
	if p, ok := slots.(kv.Pinger); ok {
		checks = append(checks, handler.Check{Name: "storage", Probe: p.Ping})
	}

	if cfg.NATSEventsEnabled {
		relay := natsclient.NewEventRelay(natsClient, log)
		if err := relay.EnsureStream(ctx); err != nil {
			return fmt.Errorf("failed to ensure event stream: %w", err)
		}
		events, unsubscribe := svc.Subscribe(256)
		defer unsubscribe()
		go relay.Run(ctx, events)
	}
	if natsClient != nil {
		checks = append(checks, handler.Check{Name: "nats", Probe: func(context.Context) error {
			if !natsClient.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		}})
	}

	router := handler.NewRouter(handler.RouterConfig{
		Service:           svc,
		Credentials:       creds,
		Logger:            log,
		Checks:            checks,
		AllowedOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		Heartbeat:         handler.DefaultHeartbeat,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Event streams never finish on their own.
	svc.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

func openSlots(ctx context.Context, cfg *config.Config, natsClient *natsclient.Client) (kv.Store, error) {
	switch cfg.StorageBackend {
	case config.StorageMemory:
		return kv.NewMemory(), nil
	case config.StorageNATS:
		store, err := natsclient.NewKVStore(ctx, natsClient, cfg.NATSKVBucket)
		if err != nil {
			return nil, fmt.Errorf("failed to open NATS key-value bucket: %w", err)
		}
		return store, nil
	default:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return store, nil
	}
}
