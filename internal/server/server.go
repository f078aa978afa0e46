// Package server is the HTTP and WebSocket surface of predictionhub.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/predictionhub/internal/domain"
	"github.com/alanyoungcy/predictionhub/internal/server/handler"
	"github.com/alanyoungcy/predictionhub/internal/server/middleware"
	"github.com/alanyoungcy/predictionhub/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	CronSecret  string
	SyncTimeout time.Duration

	// RateLimit is requests per RateLimitWindow per client IP. Zero, or a
	// nil limiter, disables limiting.
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates the route handlers.
type Handlers struct {
	Health *handler.HealthHandler
	Sync   *handler.SyncHandler
}

// Server wraps the configured *http.Server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers routes and builds the middleware chain. hub and
// limiter are optional.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           routes(cfg, handlers, hub, limiter, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// A sync request holds the connection for the whole run.
		WriteTimeout: max(cfg.SyncTimeout, handler.DefaultSyncTimeout) + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

func routes(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	protected := middleware.Bearer(cfg.CronSecret)

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.Handle("GET /api/sync/events", protected(http.HandlerFunc(handlers.Sync.RunSync)))
	mux.Handle("GET /api/sync/status", protected(http.HandlerFunc(handlers.Sync.GetStatus)))
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
