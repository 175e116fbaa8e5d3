// Package obs wires the daemon's Prometheus instrumentation: the ambient
// observability surface that sits alongside the book, feed, and metrics
// packages rather than inside any of them.
package obs

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the set of counters/gauges exported at /metrics. It is safe
// for concurrent use — every prometheus.Collector already is.
type Metrics struct {
	ParseErrors    *prometheus.CounterVec
	DroppedFrames  *prometheus.CounterVec
	Reconnects     prometheus.Counter
	Resyncs        *prometheus.CounterVec
	MessagesTotal  *prometheus.CounterVec
	BookOrderCount *prometheus.GaugeVec
	BookLevelCount *prometheus.GaugeVec
}

// New creates and registers the daemon's metrics on registry.
func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		ParseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lobmirror",
			Name:      "parse_errors_total",
			Help:      "Frames dropped for failing to parse, by stage.",
		}, []string{"stage"}),
		DroppedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lobmirror",
			Name:      "dropped_frames_total",
			Help:      "Frames dropped for a reason other than a parse failure.",
		}, []string{"reason"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lobmirror",
			Name:      "feed_reconnects_total",
			Help:      "Feed session reconnect attempts. One session multiplexes every subscribed symbol, so this has no per-symbol dimension.",
		}),
		Resyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lobmirror",
			Name:      "book_resyncs_total",
			Help:      "Soft resyncs triggered by a detected invariant violation.",
		}, []string{"symbol"}),
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lobmirror",
			Name:      "messages_processed_total",
			Help:      "Wire messages successfully applied to a book, by symbol and wire type.",
		}, []string{"symbol", "type"}),
		BookOrderCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lobmirror",
			Name:      "book_order_count",
			Help:      "Current resting order count per symbol.",
		}, []string{"symbol"}),
		BookLevelCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lobmirror",
			Name:      "book_level_count",
			Help:      "Current distinct price level count per symbol and side.",
		}, []string{"symbol", "side"}),
	}

	registry.MustRegister(
		m.ParseErrors,
		m.DroppedFrames,
		m.Reconnects,
		m.Resyncs,
		m.MessagesTotal,
		m.BookOrderCount,
		m.BookLevelCount,
	)
	return m
}
