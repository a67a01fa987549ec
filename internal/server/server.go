// Package server exposes the analyzer over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/abhisek/misconcept/internal/analyzer"
	"github.com/abhisek/misconcept/internal/config"
)

// Server serves the analyzer API.
type Server struct {
	svc     *analyzer.Service
	cfg     config.ServerConfig
	log     zerolog.Logger
	started time.Time
}

// New creates a server for svc.
func New(svc *analyzer.Service, cfg config.ServerConfig, log zerolog.Logger) *Server {
	return &Server{
		svc:     svc,
		cfg:     cfg,
		log:     log.With().Str("component", "server").Logger(),
		started: time.Now(),
	}
}

// Handler returns the router with all routes and middleware installed.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(chimiddleware.Recoverer)
	if s.cfg.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(s.cfg.RequestTimeout))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusNotFound, "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusMethodNotAllowed, fmt.Sprintf("%s not allowed", r.Method))
	})

	r.Get("/health", s.health)

	r.Route("/api", func(r chi.Router) {
		r.Use(maxBody(s.cfg.MaxBodyBytes))

		r.Post("/analyze", s.analyze)
		r.Post("/analyze/freeform", s.analyze)
		r.Post("/predict_misconception", s.predictMisconception)
		r.Post("/estimate_difficulty", s.estimateDifficulty)
		r.Post("/cluster", s.cluster)
		r.Post("/cluster_unsupervised", s.cluster)
	})

	return r
}

// Run listens on the configured address until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")
		serverErrors <- srv.Serve(ln)
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
		s.log.Info().Msg("shutdown requested")
	}

	grace := s.cfg.GracefulShutdown
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Error().Err(err).Msg("graceful shutdown failed")
		if cerr := srv.Close(); cerr != nil {
			return fmt.Errorf("forced shutdown: %w", cerr)
		}
		return err
	}
	s.log.Info().Msg("server stopped")
	return nil
}
