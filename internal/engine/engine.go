// Package engine is the central orchestrator of the order book mirror.
//
// It wires together all subsystems:
//
//  1. A book.Registry holds one OrderBook per subscribed symbol.
//  2. A feed.Session dials the upstream exchange feed, reconnecting with
//     backoff, and hands every frame to a feed.Normalizer.
//  3. The Normalizer applies frames to the registry's books and keeps
//     parse/drop counters and per-symbol ticker snapshots.
//  4. Each symbol gets a snapshot.Publisher combining its book with the
//     metrics calculator into a single consistent view.
//  5. An optional api.Server republishes those views over REST/websocket,
//     and an optional Prometheus registration exposes feed/book health.
//
// Lifecycle: New() -> Start() -> [runs until ctx canceled] -> Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lobmirror/internal/api"
	"lobmirror/internal/book"
	"lobmirror/internal/config"
	"lobmirror/internal/feed"
	"lobmirror/internal/obs"
	"lobmirror/internal/snapshot"
)

const (
	gaugeRefreshInterval = 2 * time.Second
	defaultSnapshotDepth = 25
)

// Engine orchestrates all components of the book mirror. It owns the
// lifecycle of all goroutines.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	registry      *book.Registry
	normalizer    *feed.Normalizer
	session       *feed.Session
	metrics       *obs.Metrics
	apiServer     *api.Server
	metricsServer *http.Server

	// publishers maps symbol -> its snapshot publisher. Built once at
	// startup from cfg.Symbols; read-only thereafter, so no lock needed.
	publishers map[string]*snapshot.Publisher

	// symbolDepth maps symbol -> the book depth configured for it
	// (symbols.depth in config.yaml), used whenever a caller asks for the
	// default view rather than naming an explicit depth.
	symbolDepth map[string]int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires all engine components from cfg.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	ctx, cancel := context.WithCancel(context.Background())

	registry := book.NewRegistry()
	normalizer := feed.New(registry, logger)
	session := feed.NewSession(cfg.Feed.WSURL, registry, normalizer, logger)
	session.SetIdleTimeout(cfg.Feed.IdleTimeout)

	publishers := make(map[string]*snapshot.Publisher, len(cfg.Symbols))
	books := make(map[string]*book.OrderBook, len(cfg.Symbols))
	symbolDepth := make(map[string]int, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		b := registry.GetOrCreate(sym.Symbol)
		books[sym.Symbol] = b
		publishers[sym.Symbol] = snapshot.New(sym.Symbol, b)
		depth := sym.Depth
		if depth <= 0 {
			depth = defaultSnapshotDepth
		}
		symbolDepth[sym.Symbol] = depth
	}

	e := &Engine{
		cfg:         cfg,
		logger:      logger.With("component", "engine"),
		registry:    registry,
		normalizer:  normalizer,
		session:     session,
		publishers:  publishers,
		symbolDepth: symbolDepth,
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.Metrics.Enabled {
		e.metrics = obs.New(prometheus.DefaultRegisterer)

		normalizer.SetParseErrorCallback(func(stage string) {
			e.metrics.ParseErrors.WithLabelValues(stage).Inc()
		})
		normalizer.SetDroppedCallback(func(reason string) {
			e.metrics.DroppedFrames.WithLabelValues(reason).Inc()
		})
		normalizer.SetMessageCallback(func(symbol, msgType string) {
			e.metrics.MessagesTotal.WithLabelValues(symbol, msgType).Inc()
		})
		// An upstream `error` frame is itself a dropped update: the feed
		// is telling us about something it couldn't deliver.
		normalizer.SetErrorCallback(func(symbol, message string) {
			e.metrics.DroppedFrames.WithLabelValues("upstream_error").Inc()
		})
		session.SetReconnectCallback(func() {
			e.metrics.Reconnects.Inc()
		})
		for _, b := range books {
			b.SetResyncCallback(func(symbol string, reason error) {
				e.metrics.Resyncs.WithLabelValues(symbol).Inc()
			})
		}

		e.metricsServer = newMetricsServer(cfg.Metrics.Port)
	}

	if cfg.Dashboard.Enabled {
		e.apiServer = api.NewServer(cfg.Dashboard, e, logger)
		for symbol, b := range books {
			sym := symbol
			pub := publishers[sym]
			hub := e.apiServer.Hub()
			b.SetUpdateCallback(func(symbol string) {
				// The callback runs with the book's lock held, so the view
				// is read on another goroutine rather than re-entering it.
				go func() {
					v := pub.View(0)
					if !v.Metrics.Available {
						return
					}
					bestBid := v.Metrics.BestBid.Float64()
					bestAsk := v.Metrics.BestAsk.Float64()
					hub.BroadcastBookUpdate(symbol, api.BookUpdateEvent{
						BestBid:   bestBid,
						BestAsk:   bestAsk,
						Midpoint:  (bestBid + bestAsk) / 2,
						SpreadBps: v.Metrics.SpreadBps,
						Sequence:  v.Seq,
					})
				}()
			})
		}
	}

	return e, nil
}

// Start subscribes every configured symbol and launches all background
// goroutines: the feed session loop, gauge refresh, and (if enabled) the
// publishing API.
func (e *Engine) Start() error {
	for _, sym := range e.cfg.Symbols {
		if err := e.session.Subscribe(sym.Symbol, sym.Channels); err != nil {
			e.logger.Error("initial subscribe failed", "symbol", sym.Symbol, "error", err)
		}
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.session.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("feed session error", "error", err)
		}
	}()

	if e.metrics != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.refreshGauges()
		}()
	}

	if e.apiServer != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.apiServer.Start(); err != nil {
				e.logger.Error("api server error", "error", err)
			}
		}()
	}

	if e.metricsServer != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.logger.Info("metrics listening", "addr", e.metricsServer.Addr)
			if err := e.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				e.logger.Error("metrics server error", "error", err)
			}
		}()
	}

	e.logger.Info("engine started", "symbols", len(e.cfg.Symbols))
	return nil
}

// newMetricsServer builds a standalone HTTP server exposing /metrics on its
// own listener, independent of the dashboard's port and independent of
// whether the dashboard is enabled at all.
func newMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// refreshGauges periodically syncs book_order_count and book_level_count
// against the live books; these are cheap snapshots, not worth taking on
// every mutation the way the update callback does for top-of-book.
func (e *Engine) refreshGauges() {
	ticker := time.NewTicker(gaugeRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			for _, sym := range e.registry.Symbols() {
				b, ok := e.registry.Peek(sym)
				if !ok {
					continue
				}
				e.metrics.BookOrderCount.WithLabelValues(sym).Set(float64(b.OrderCount()))
				e.metrics.BookLevelCount.WithLabelValues(sym, "bid").Set(float64(b.BidLevelCount()))
				e.metrics.BookLevelCount.WithLabelValues(sym, "ask").Set(float64(b.AskLevelCount()))
			}
		}
	}
}

// Stop gracefully shuts down: cancels the feed session, stops the API
// server, and waits for all goroutines to exit.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	e.cancel()
	_ = e.session.Close()

	if e.apiServer != nil {
		if err := e.apiServer.Stop(); err != nil {
			e.logger.Error("api server stop error", "error", err)
		}
	}

	if e.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.metricsServer.Shutdown(ctx); err != nil {
			e.logger.Error("metrics server stop error", "error", err)
		}
	}

	e.wg.Wait()
	e.logger.Info("shutdown complete")
}

// View implements api.SnapshotProvider, translating a publisher view into
// its wire DTO. A depth of 0 or less uses the symbol's configured depth
// (symbols.depth in config.yaml, defaulting to defaultSnapshotDepth) rather
// than an arbitrary hardcoded value.
func (e *Engine) View(symbol string, depth int) (api.BookSnapshotDTO, bool) {
	pub, ok := e.publishers[symbol]
	if !ok {
		return api.BookSnapshotDTO{}, false
	}
	if depth <= 0 {
		depth = e.symbolDepth[symbol]
	}
	return api.BuildSnapshotDTO(symbol, pub.View(depth)), true
}

// Symbols implements api.SnapshotProvider.
func (e *Engine) Symbols() []string {
	out := make([]string, 0, len(e.publishers))
	for sym := range e.publishers {
		out = append(out, sym)
	}
	return out
}

// FeedStatus implements api.SnapshotProvider, summarizing the upstream
// feed session for the health endpoint.
func (e *Engine) FeedStatus() api.FeedStatusDTO {
	return api.FeedStatusDTO{
		State:         e.session.State().String(),
		ParseErrors:   e.normalizer.ParseErrors(),
		DroppedFrames: e.normalizer.DroppedFrames(),
	}
}
