// Package server constructs and starts the SafeChat HTTP service with helpers
// that apply sensible production defaults.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/safechat/internal/auth"
	"github.com/Tyrowin/safechat/internal/membership"
	"github.com/Tyrowin/safechat/internal/protocol"
)

// Server owns the membership registry, the protocol handler and the hub that
// fans events out to connections, and serves them over HTTP.
type Server struct {
	cfg      *Config
	log      *slog.Logger
	auth     *auth.Service
	registry *membership.Registry
	handler  *protocol.Handler
	hub      *Hub
	origins  *originPolicy
	upgrader websocket.Upgrader
	http     *http.Server
}

// New wires a Server from cfg. The hub is not running until Start.
func New(cfg *Config, authService *auth.Service, log *slog.Logger) (*Server, error) {
	policy, err := cfg.Policy()
	if err != nil {
		return nil, fmt.Errorf("capacity policy: %w", err)
	}

	registry := membership.NewRegistry(policy)
	hub := NewHub(log)
	s := &Server{
		cfg:      cfg,
		log:      log,
		auth:     authService,
		registry: registry,
		handler:  protocol.NewHandler(registry, hub, log, cfg.HandlerOptions()),
		hub:      hub,
		origins:  newOriginPolicy(cfg.AllowedOrigins, log),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	s.http = CreateServer(cfg.Port, s.Routes())
	return s, nil
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

// Start launches the hub event loop. It must be called before serving.
func (s *Server) Start() {
	go s.hub.Run()
	s.log.Info("Hub started and ready to manage WebSocket connections")
}

// ListenAndServe serves until Shutdown. It never returns http.ErrServerClosed.
func (s *Server) ListenAndServe() error {
	s.log.Info("Server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then closes every WebSocket connection.
// Each stage is bounded by the configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server...")

	httpCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.http.Shutdown(httpCtx); err != nil {
		s.log.Error("HTTP server shutdown error", "error", err)
		errs = append(errs, err)
	}
	if err := s.hub.Shutdown(s.cfg.ShutdownTimeout); err != nil {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}
	if len(errs) == 0 {
		s.log.Info("Server shutdown completed")
	}
	return errors.Join(errs...)
}

// Hub returns the connection hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Registry returns the membership registry.
func (s *Server) Registry() *membership.Registry {
	return s.registry
}
