package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"lobmirror/internal/config"
)

// Server runs the downstream publishing HTTP/websocket API: a snapshot
// REST endpoint, a websocket broadcast stream, and a health check. The
// Prometheus /metrics endpoint, if enabled, runs on its own listener (see
// engine.newMetricsServer) rather than here, since it must stay reachable
// independent of whether the dashboard itself is enabled.
type Server struct {
	cfg      config.DashboardConfig
	provider SnapshotProvider
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg config.DashboardConfig, provider SnapshotProvider, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(provider, cfg, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handlers.HandleHealth)
	mux.HandleFunc("/api/v1/snapshot", handlers.HandleSnapshot)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		provider: provider,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api_server"),
	}
}

// Hub exposes the websocket broadcast hub so the engine can push
// book_update events as the feed applies mutations.
func (s *Server) Hub() *Hub { return s.hub }

// Start runs the hub and the HTTP server. Blocks until Stop is called.
func (s *Server) Start() error {
	go s.hub.Run()

	s.logger.Info("publishing api starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.logger.Info("stopping publishing api")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
