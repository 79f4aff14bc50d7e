// Package server exposes persona management and document reviews over HTTP
// and websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"docreview/internal/logging"
	"docreview/internal/persona"
	"docreview/internal/workflow"
)

// Options wires a Server to its collaborators.
type Options struct {
	Store          persona.Store
	Current        *workflow.Current
	Executor       *workflow.Executor
	Timeout        time.Duration // per review; zero means none
	AllowedOrigins []string
}

// Server serves the review API.
type Server struct {
	store          persona.Store
	current        *workflow.Current
	executor       *workflow.Executor
	timeout        time.Duration
	allowedOrigins []string
	mux            *http.ServeMux
	log            *logging.Logger
}

// New registers every route on a fresh mux.
func New(opts Options) *Server {
	s := &Server{
		store:          opts.Store,
		current:        opts.Current,
		executor:       opts.Executor,
		timeout:        opts.Timeout,
		allowedOrigins: opts.AllowedOrigins,
		mux:            http.NewServeMux(),
		log:            logging.Get(logging.CategoryServer),
	}

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /api/graph", jsonErrorMiddleware(s.handleGraph))
	s.mux.HandleFunc("GET /api/personas", jsonErrorMiddleware(s.handleListPersonas))
	s.mux.HandleFunc("PUT /api/personas/{id}", jsonErrorMiddleware(s.handlePutPersona))
	s.mux.HandleFunc("DELETE /api/personas/{id}", jsonErrorMiddleware(s.handleDeletePersona))
	s.mux.HandleFunc("POST /api/review", jsonErrorMiddleware(s.handleReview))
	s.mux.HandleFunc("GET /api/review/ws", s.handleReviewWS)
	return s
}

// Handler returns the root handler with request logging applied.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		w.Header().Set("X-Content-Type-Options", "nosniff")
		s.mux.ServeHTTP(w, r)
		s.log.Debug("%s %s (%v)", r.Method, r.URL.Path, time.Since(start))
	})
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info("listening on %s", addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("listen on %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok"}
	if g := s.current.Load(); g != nil {
		status["graph_version"] = g.Version()
		status["reviewers"] = len(g.Reviewers())
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) *apiError {
	g := s.current.Load()
	if g == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "no compiled graph"}
	}
	writeJSON(w, http.StatusOK, g.Describe())
	return nil
}
