// Package api provides the REST and WebSocket surface of the server.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/perch-obs/perch/internal/ingest"
	"github.com/perch-obs/perch/internal/retention"
	"github.com/perch-obs/perch/internal/storage"
)

// Options configures the API server.
type Options struct {
	Addr string
	// IngestRPS / IngestBurst bound the per-client ingest rate. RPS <= 0
	// disables limiting.
	IngestRPS   float64
	IngestBurst int
}

// Server is the HTTP server. It owns the live-stream hub; the ingest
// service broadcasts through it.
type Server struct {
	store     storage.Store
	ingest    *ingest.Service
	scheduler *retention.Scheduler
	hub       *Hub
	limiter   *ipRateLimiter
	logger    *slog.Logger
	router    *chi.Mux
	server    *http.Server
}

// NewServer wires the routes. scheduler may be nil when background cleanup
// is disabled; settings updates then skip the restart nudge.
func NewServer(opts Options, store storage.Store, ingestSvc *ingest.Service, scheduler *retention.Scheduler, hub *Hub, logger *slog.Logger) *Server {
	s := &Server{
		store:     store,
		ingest:    ingestSvc,
		scheduler: scheduler,
		hub:       hub,
		logger:    logger,
		router:    chi.NewRouter(),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/ws/live", s.handleWS)

	s.router.Route("/api/v1", func(r chi.Router) {
		ingestRoute := r.With()
		if opts.IngestRPS > 0 {
			s.limiter = newIPRateLimiter(opts.IngestRPS, opts.IngestBurst)
			ingestRoute = r.With(s.limiter.middleware)
		}
		ingestRoute.Post("/ingest", s.handleIngest)

		r.Get("/logs", s.listLogs)
		r.Get("/logs/{id}", s.getLog)

		r.Get("/error-groups", s.listErrorGroups)
		r.Get("/error-groups/stats", s.errorGroupStats)
		r.Get("/error-groups/{id}", s.getErrorGroup)
		r.Get("/error-groups/{id}/occurrences", s.listOccurrences)
		r.Patch("/error-groups/{id}/status", s.updateErrorGroupStatus)

		r.Post("/traces", s.createTrace)
		r.Get("/traces", s.listTraces)
		r.Get("/traces/{id}", s.getTrace)
		r.Patch("/traces/{id}", s.endTrace)

		r.Post("/spans", s.createSpan)
		r.Patch("/spans/{id}", s.endSpan)

		r.Get("/settings", s.getSettings)
		r.Patch("/settings", s.updateSettings)
		r.Get("/settings/stats", s.storageStats)
		r.Post("/settings/cleanup", s.runCleanup)
		r.Post("/settings/purge", s.purge)
	})

	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.stop()
	}
	return s.server.Shutdown(ctx)
}
