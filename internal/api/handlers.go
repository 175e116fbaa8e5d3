package api

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"lobmirror/internal/config"
)

// Handlers holds all HTTP handler dependencies.
type Handlers struct {
	provider SnapshotProvider
	cfg      config.DashboardConfig
	hub      *Hub
	logger   *slog.Logger
}

// NewHandlers creates a new handlers instance.
func NewHandlers(provider SnapshotProvider, cfg config.DashboardConfig, hub *Hub, logger *slog.Logger) *Handlers {
	return &Handlers{
		provider: provider,
		cfg:      cfg,
		hub:      hub,
		logger:   logger.With("component", "api_handlers"),
	}
}

// HandleHealth reports process health plus a summary of the upstream feed
// session, so an operator can tell "process up" apart from "feed live".
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Status  string        `json:"status"`
		Symbols []string      `json:"symbols"`
		Feed    FeedStatusDTO `json:"feed"`
	}{
		Status:  "ok",
		Symbols: h.provider.Symbols(),
		Feed:    h.provider.FeedStatus(),
	})
}

// HandleSnapshot returns the current book snapshot for the symbol named
// by the request's `symbol` query parameter. An optional `depth` query
// parameter overrides the symbol's configured default depth.
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		http.Error(w, "missing symbol query parameter", http.StatusBadRequest)
		return
	}

	depth := parseDepthParam(r.URL.Query().Get("depth"))

	snap, ok := h.provider.View(symbol, depth)
	if !ok {
		http.Error(w, "unknown symbol", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		h.logger.Error("failed to encode snapshot", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// parseDepthParam parses an optional `depth` query value, returning 0 (the
// provider's "use the configured default" sentinel) for anything absent
// or malformed rather than rejecting the request outright.
func parseDepthParam(raw string) int {
	if raw == "" {
		return 0
	}
	d, err := strconv.Atoi(raw)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// HandleWebSocket upgrades the connection and creates a new websocket
// client, sending it an initial full snapshot for every symbol it
// subscribed to. A client narrows its subscription with a comma-separated
// `symbols` query parameter (e.g. `/ws?symbols=BTC-USD,ETH-USD`); omitting
// it subscribes to every tracked symbol, matching prior behavior.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *http.Request) bool {
			return isOriginAllowed(req.Header.Get("Origin"), h.cfg, req.Host)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	wanted := parseSymbolsParam(r.URL.Query().Get("symbols"))
	client := NewClient(h.hub, conn, wanted)

	symbols := wanted
	if len(symbols) == 0 {
		symbols = h.provider.Symbols()
	}
	for _, symbol := range symbols {
		snap, ok := h.provider.View(symbol, 0)
		if !ok {
			continue
		}
		data, err := json.Marshal(NewSnapshotEvent(snap))
		if err != nil {
			h.logger.Error("failed to marshal initial snapshot", "error", err, "symbol", symbol)
			continue
		}
		select {
		case client.send <- data:
		default:
			h.logger.Warn("failed to send initial snapshot to client", "symbol", symbol)
		}
	}
}

// parseSymbolsParam splits a comma-separated symbols query value into a
// trimmed, non-empty slice. An empty result means "no filter requested".
func parseSymbolsParam(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isOriginAllowed(origin string, cfg config.DashboardConfig, reqHost string) bool {
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	normalized := normalizeOrigin(originURL.Scheme, originURL.Host)
	if normalized == "" {
		return false
	}

	if len(cfg.AllowedOrigins) > 0 {
		for _, allowed := range cfg.AllowedOrigins {
			if originMatchesPattern(originURL, allowed) {
				return true
			}
		}
		return false
	}

	host := strings.ToLower(originURL.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}

	reqHostname := normalizeHost(reqHost)
	return reqHostname != "" && host == reqHostname
}

// originMatchesPattern checks origin against one configured allowlist
// entry. A host of the form "*.example.com" matches any subdomain of
// example.com over the same scheme — this mirror's websocket feed is
// consumed by several independently-deployed dashboards under one
// operator's domain, unlike a single fixed dashboard origin.
func originMatchesPattern(origin *url.URL, pattern string) bool {
	u, err := url.Parse(pattern)
	if err != nil {
		return false
	}
	if !strings.HasPrefix(u.Host, "*.") {
		return normalizeOrigin(origin.Scheme, origin.Host) == normalizeOrigin(u.Scheme, u.Host)
	}
	if !strings.EqualFold(origin.Scheme, u.Scheme) {
		return false
	}
	suffix := strings.ToLower(u.Host[1:]) // ".example.com"
	host := strings.ToLower(origin.Host)
	return strings.HasSuffix(host, suffix) && len(host) > len(suffix)
}

func normalizeOrigin(scheme, host string) string {
	if scheme == "" || host == "" {
		return ""
	}
	return strings.ToLower(scheme) + "://" + strings.ToLower(host)
}

func normalizeHost(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(hostport)
}
