// Package server exposes the note store and search engine over HTTP. All
// note writes flow through here, which is what keeps the indexes in sync:
// every committed write is reported to the engine before the response goes
// out.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/davidzhangbj/smart-notes/internal/search"
	"github.com/davidzhangbj/smart-notes/internal/store"
	"github.com/davidzhangbj/smart-notes/internal/telemetry"
)

// Config holds the HTTP server settings.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
}

// Server wires the store and the search engine into an HTTP API.
type Server struct {
	config   Config
	store    store.NoteStore
	engine   *search.Engine
	metrics  *telemetry.QueryMetrics
	registry *prometheus.Registry
	logger   *slog.Logger
	started  time.Time
}

// New creates a server. The Prometheus registry may be nil; /metrics then
// serves an empty registry.
func New(
	cfg Config,
	st store.NoteStore,
	engine *search.Engine,
	metrics *telemetry.QueryMetrics,
	registry *prometheus.Registry,
	logger *slog.Logger,
) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:   cfg,
		store:    st,
		engine:   engine,
		metrics:  metrics,
		registry: registry,
		logger:   logger,
		started:  time.Now(),
	}
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Route("/notes", func(r chi.Router) {
			r.Post("/", s.handleCreateNote)
			r.Get("/", s.handleListNotes)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetNote)
				r.Put("/", s.handleUpdateNote)
				r.Delete("/", s.handleDeleteNote)
			})
		})
		r.Get("/search", s.handleSearch)
		r.Get("/tags", s.handleTags)
		r.Get("/export", s.handleExport)
		r.Get("/health", s.handleHealth)
		r.Post("/rebuild", s.handleRebuild)
	})

	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	return r
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

// logRequests logs one line per request with status and duration.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	})
}
