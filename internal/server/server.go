// Package server exposes wallet snapshot chains and change events over a
// read-mostly JSON HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polysnap/internal/domain"
	"github.com/alanyoungcy/polysnap/internal/metrics"
	"github.com/alanyoungcy/polysnap/internal/server/handler"
	"github.com/alanyoungcy/polysnap/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey enables authentication when non-empty.
	APIKey string
	// RateLimitPerMinute enables per-IP limiting when a limiter is set.
	RateLimitPerMinute int
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health  *handler.HealthHandler
	Wallets *handler.WalletHandler
}

// Options are the optional cross-cutting collaborators.
type Options struct {
	Metrics *metrics.Metrics
	Limiter domain.RateLimiter
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and builds the middleware chain.
func NewServer(cfg Config, handlers Handlers, opts Options, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, handlers, opts, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler returns the routed handler wrapped in middleware.
func NewHandler(cfg Config, handlers Handlers, opts Options, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics.Handler())
	}

	wallets := handlers.Wallets
	mux.HandleFunc("POST /api/wallets/{wallet}/snapshot", wallets.TakeSnapshot)
	mux.HandleFunc("GET /api/wallets/{wallet}/latest", wallets.Latest)
	mux.HandleFunc("GET /api/wallets/{wallet}/history", wallets.History)
	mux.HandleFunc("GET /api/wallets/{wallet}/events", wallets.Events)
	mux.HandleFunc("GET /api/wallets/{wallet}/verify", wallets.Verify)
	mux.HandleFunc("GET /api/wallets/{wallet}/stream", wallets.Stream)
	mux.HandleFunc("GET /api/snapshots/{id}/events", wallets.SnapshotEvents)
	mux.HandleFunc("GET /api/markets/{market}/events", wallets.MarketEvents)

	var h http.Handler = mux
	if opts.Limiter != nil && cfg.RateLimitPerMinute > 0 {
		h = middleware.RateLimit(opts.Limiter, cfg.RateLimitPerMinute, time.Minute)(h)
	}
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	if opts.Metrics != nil {
		h = opts.Metrics.Middleware(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
