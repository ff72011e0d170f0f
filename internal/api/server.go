package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coastwatch/breakwater/internal/dispatch"
	"github.com/coastwatch/breakwater/internal/domain"
	"github.com/coastwatch/breakwater/internal/lifecycle"
	"github.com/coastwatch/breakwater/internal/pipeline"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, pl *pipeline.Pipeline, lm *lifecycle.Manager, engine *dispatch.PolicyEngine, version string) *Server {
	handler := NewHandler(repo, cache, bus, pl, lm, engine, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health and observability endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", promhttp.Handler())

	// Signal ingestion
	router.Post("/signals", handler.SubmitSignal)

	// Alert retrieval and operator actions
	router.Get("/alerts", handler.ListAlerts)
	router.Get("/alerts/{id}", handler.GetAlert)
	router.Get("/alerts/{id}/signals", handler.GetAlertSignals)
	router.Post("/alerts/{id}/transition", handler.Transition)

	// Live event stream
	router.Get("/events", handler.Events)

	// Dashboard aggregates
	router.Get("/stats", handler.Stats)

	// Dispatch policy management
	router.Get("/policies", handler.ListPolicies)
	router.Post("/policies", handler.CreatePolicy)
	router.Post("/policies/reload", handler.ReloadPolicies)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
