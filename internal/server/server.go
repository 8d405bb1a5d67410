// Package server exposes the engine over HTTP: a JSON API for the dashboard,
// a WebSocket stream of live events, and Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/hostpulse/hostpulse/internal/config"
	"github.com/hostpulse/hostpulse/internal/db"
	"github.com/hostpulse/hostpulse/internal/engine"
	"github.com/hostpulse/hostpulse/internal/middleware"
)

// Version is reported by /health. Overridable at build time with
// -ldflags "-X .../internal/server.Version=...".
var Version = "0.1.0"

// API rate limit, per client IP. The WebSocket and Prometheus endpoints sit
// outside it.
const apiRequestsPerMinute = 300

// Server serves the REST API, the WebSocket stream, and /metrics.
type Server struct {
	cfg      *config.Config
	engine   *engine.Engine
	analyses db.Store // nil when no history database is configured
	logger   *zap.Logger

	limiter    *middleware.RateLimiter
	httpServer *http.Server
}

// New assembles a server around a running engine. The analyses store may be
// nil; the analysis endpoints then answer 404.
func New(cfg *config.Config, eng *engine.Engine, analyses db.Store, logger *zap.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		engine:   eng,
		analyses: analyses,
		logger:   logger,
		limiter:  middleware.NewRateLimiter(apiRequestsPerMinute),
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.limiter.Middleware)
	api.HandleFunc("/metrics", s.handleLatestMetrics).Methods(http.MethodGet)
	api.HandleFunc("/samples", s.handleSamples).Methods(http.MethodGet)
	api.HandleFunc("/anomalies", s.handleAnomalies).Methods(http.MethodGet)
	api.HandleFunc("/chart-data", s.handleChartData).Methods(http.MethodGet)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/analyses", s.handleAnalysesList).Methods(http.MethodGet)
	api.HandleFunc("/analyses/{id:[0-9]+}", s.handleAnalysisGet).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(r)
}

// Start begins listening. It blocks until the listener fails or Shutdown is
// called; a clean shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until the context expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Stop()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}
