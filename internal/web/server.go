// Package web serves the HTTP API: generate requests, run lookups, health
// and Prometheus metrics.
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lucasnoah/postfactory/internal/db"
	"github.com/lucasnoah/postfactory/internal/pipeline"
)

// DefaultMaxInFlight bounds concurrent generate requests. Each request owns
// one worker end to end.
const DefaultMaxInFlight = 4

// Generator runs one pipeline. *orchestrator.Orchestrator satisfies it.
type Generator interface {
	Run(ctx context.Context, name string, pc *pipeline.Context) (*pipeline.Outcome, error)
}

// RunLog reads the event log. *db.DB satisfies it.
type RunLog interface {
	RecentRuns(limit int) ([]db.Run, error)
	GetRun(id string) (*db.Run, error)
	StageRuns(runID string) ([]db.StageRun, error)
	GateRuns(runID string) ([]db.GateRun, error)
}

// RunReader reads stored run artifacts. *pipeline.Store satisfies it.
type RunReader interface {
	Get(runID string) (*pipeline.RunRecord, error)
}

// Server is the HTTP API.
type Server struct {
	gen      Generator
	runs     RunLog
	store    RunReader
	gatherer prometheus.Gatherer
	logger   *zap.Logger

	maxInFlight int
	router      chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithRunLog enables the /v1/runs endpoints.
func WithRunLog(l RunLog) Option {
	return func(s *Server) { s.runs = l }
}

// WithRunStore lets run lookups include the stored outcome.
func WithRunStore(r RunReader) Option {
	return func(s *Server) { s.store = r }
}

// WithGatherer serves /metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMaxInFlight overrides DefaultMaxInFlight.
func WithMaxInFlight(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxInFlight = n
		}
	}
}

// NewServer builds the router.
func NewServer(gen Generator, opts ...Option) *Server {
	s := &Server{
		gen:         gen,
		gatherer:    prometheus.DefaultGatherer,
		logger:      zap.NewNop(),
		maxInFlight: DefaultMaxInFlight,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.With(middleware.Throttle(s.maxInFlight)).Post("/generate", s.handleGenerate)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
	})
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down,
// giving in-flight requests up to shutdownGrace to finish.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownGrace time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http api listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	s.logger.Info("http api shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// requestLogger logs one line per request with the chi request id.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.Info("request completed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)))
	})
}
