// Package server builds the small per-stage HTTP servers (Market-Feed,
// Config-Service, Stats-Service) that sit on top of each stage's own
// *http.ServeMux: same middleware chain, same Config shape, same
// Start/Shutdown lifecycle, grounded on the teacher's internal/server/server.go.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fundarb/fundarb/internal/server/middleware"
)

// Config holds the HTTP server configuration for one stage.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Server is a generic HTTP server wrapping a stage-provided ServeMux with
// the shared auth/logging/CORS middleware chain.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New wraps mux with the middleware chain (auth, logging, CORS) and builds
// the underlying http.Server.
func New(cfg Config, mux *http.ServeMux, logger *slog.Logger) *Server {
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, logger: logger}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
