// Package server constructs, starts and gracefully stops the room relay
// HTTP service.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Server is the HTTP surface of the relay: WebSocket and SSE adapters plus
// health and room listings.
type Server struct {
	cfg      *Config
	hub      *Hub
	origins  *originPolicy
	upgrader websocket.Upgrader
	logger   *slog.Logger
	http     *http.Server
}

// New builds a Server from cfg. Passing a nil cfg uses the defaults.
func New(cfg *Config, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = NewConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		hub:     NewHub(cfg.Relay, logger),
		origins: newOriginPolicy(cfg.AllowedOrigins, logger),
		logger:  logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	s.http = CreateServer(cfg.Port, s.SetupRoutes())
	return s
}

// Hub returns the hub owning the relay.
func (s *Server) Hub() *Hub {
	return s.hub
}

// CreateServer creates and configures an HTTP server with the specified port and handler.
// It sets reasonable timeout values for production use.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Start runs the hub and then serves HTTP until Shutdown is called. It
// returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.hub.Start()

	s.logger.Info("server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

// Shutdown closes every relay connection first, so long-lived event streams
// end, and then drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.cfg.ShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	hubErr := s.hub.Shutdown(timeout)
	if hubErr != nil {
		s.logger.Warn("hub shutdown", "error", hubErr)
	}

	s.logger.Info("shutting down HTTP server")
	if err := s.http.Shutdown(ctx); err != nil {
		return errors.Join(hubErr, fmt.Errorf("http shutdown: %w", err))
	}
	s.logger.Info("HTTP server shutdown completed")
	return hubErr
}
