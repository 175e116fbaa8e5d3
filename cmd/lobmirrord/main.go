// lobmirrord is a passive, read-mostly Level-3 order book mirror for a
// crypto exchange feed.
//
// Architecture:
//
//	main.go                  — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	internal/engine          — orchestrator: wires feed session → registry → publishers → api
//	internal/feed/session.go — WebSocket feed with auto-reconnect and exponential backoff
//	internal/feed/normalizer.go — dispatches wire frames to the right book by symbol
//	internal/book             — the order book mirror itself: orders, price levels, registry
//	internal/metrics          — derived book metrics (imbalance, VWAP, depth, impact)
//	internal/snapshot         — combines a book with its metrics into one consistent view
//	internal/api              — downstream REST/websocket publishing of snapshots
//	internal/obs               — Prometheus instrumentation
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"lobmirror/internal/config"
	"lobmirror/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("LOB_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	logger.Info("order book mirror started",
		"symbols", len(cfg.Symbols),
		"ws_url", cfg.Feed.WSURL,
		"dashboard", cfg.Dashboard.Enabled,
	)
	if cfg.Dashboard.Enabled {
		logger.Info("publishing api listening", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}
	if cfg.Metrics.Enabled {
		logger.Info("metrics listening", "url", fmt.Sprintf("http://localhost:%d/metrics", cfg.Metrics.Port))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
