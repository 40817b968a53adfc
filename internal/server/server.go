// Package server exposes the ingestion and query API over HTTP.
//
// The server binds to loopback by default and performs no authentication:
// it trusts its host. Anything that widens the listen address must put an
// authenticating proxy in front.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/roach88/runlog/internal/config"
	"github.com/roach88/runlog/internal/engine"
	"github.com/roach88/runlog/internal/metrics"
	"github.com/roach88/runlog/internal/query"
	"github.com/roach88/runlog/internal/store"
)

// Server wires the write engine and query engine to HTTP.
type Server struct {
	cfg     config.Config
	log     zerolog.Logger
	engine  *engine.Engine
	queries *query.Engine
	store   *store.Store

	httpSrv *http.Server

	fatalOnce sync.Once
	fatalCh   chan error
}

// New builds a Server. The caller owns the store and the writer guard.
func New(cfg config.Config, log zerolog.Logger, eng *engine.Engine, q *query.Engine, st *store.Store) *Server {
	s := &Server{
		cfg:     cfg,
		log:     log,
		engine:  eng,
		queries: q,
		store:   st,
		fatalCh: make(chan error, 1),
	}
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler; tests mount it on httptest.Server.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// routes assembles the chi router.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.log))

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetricsJSON)
	r.Handle("/metrics/prometheus", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/runs", s.handleInsertRun)
		r.Post("/runs/batch", s.handleBatch)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/aggregate", s.handleAggregate)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Patch("/runs/{id}", s.handlePatchRun)
		r.Get("/runs/{id}/events", s.handleListEvents)
		r.Post("/runs/{id}/events", s.handleAppendEvent)
		r.Get("/metadata", s.handleMetadata)
	})
	return r
}

// Run serves until ctx is cancelled or a fatal storage error occurs, then
// drains in-flight requests within the configured timeout. The returned
// error is non-nil for fatal storage failures so the process can exit with
// a distinct code.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var fatal error
	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case err := <-s.fatalCh:
		fatal = err
		s.log.Error().Err(err).Msg("fatal storage error, shutting down")
	case <-ctx.Done():
		s.log.Info().Msg("shutdown requested, draining")
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), s.cfg.DrainTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(drainCtx); err != nil {
		s.log.Warn().Err(err).Msg("drain incomplete, closing")
		s.httpSrv.Close()
	}
	return fatal
}

// fail records the first fatal storage error and triggers shutdown. Called
// from handlers when the store reports corruption: continuing to accept
// writes against a corrupt file only deepens the damage.
func (s *Server) fail(err error) {
	s.fatalOnce.Do(func() {
		s.fatalCh <- err
	})
}

// checkFatal routes corruption to fail and reports whether err was fatal.
func (s *Server) checkFatal(err error) bool {
	if store.IsCorrupt(err) {
		s.fail(err)
		return true
	}
	return false
}
