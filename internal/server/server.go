// Package server exposes the engine's operational HTTP API next to the
// Prometheus metrics endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/breakoutbot/internal/server/handler"
	"github.com/alanyoungcy/breakoutbot/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Addr        string
	MetricsPath string // default "/metrics"
	APIKey      string // empty disables authentication on /api routes
}

// Handlers aggregates the HTTP handlers the server registers. Nil handlers
// are skipped.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Trades    *handler.TradeHandler
	Audit     *handler.AuditHandler
	Positions *handler.PositionHandler
}

// Server is the operational HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered.
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	metricsPath := cfg.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	api := http.NewServeMux()
	if handlers.Status != nil {
		api.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	}
	if handlers.Trades != nil {
		api.HandleFunc("GET /api/trades", handlers.Trades.ListTrades)
	}
	if handlers.Audit != nil {
		api.HandleFunc("GET /api/audit", handlers.Audit.ListAudit)
	}
	if handlers.Positions != nil {
		api.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
		api.HandleFunc("POST /api/positions/{id}/exit", handlers.Positions.ExitPosition)
	}

	mux := http.NewServeMux()
	// Health and metrics stay unauthenticated for probes and scrapers.
	if handlers.Health != nil {
		mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	}
	mux.Handle("GET "+metricsPath, promhttp.Handler())
	mux.Handle("/api/", middleware.Auth(cfg.APIKey)(api))

	h := middleware.Logging(logger, metricsPath, "/api/health")(mux)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
