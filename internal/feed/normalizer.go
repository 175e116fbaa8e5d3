// Package feed parses exchange wire frames into the normalized update
// vocabulary and applies them to the correct per-symbol book, and owns the
// websocket session lifecycle (connect, subscribe, reconnect, heartbeat).
package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"lobmirror/internal/book"
	"lobmirror/pkg/types"
)

var errMissingProductID = errors.New("frame missing product_id")

// TickerSnapshot is the cached best-bid/ask summary from the optional
// ticker channel. It never drives the book by itself.
type TickerSnapshot struct {
	BestBid     types.Price
	BestBidSize types.Size
	BestAsk     types.Price
	BestAskSize types.Size
	Sequence    int64
}

// Normalizer parses decoded text frames and routes them to the book each
// frame's product_id already owns. It never creates or retires a book —
// that lifecycle belongs to whatever manages subscriptions.
type Normalizer struct {
	registry *book.Registry
	logger   *slog.Logger

	mu         sync.Mutex
	tickers    map[string]TickerSnapshot
	readyCh    chan struct{}
	readyArmed bool

	parseErrors  atomic.Int64
	droppedCount atomic.Int64

	onError      func(symbol, message string)
	onParseError func(stage string)
	onDropped    func(reason string)
	onMessage    func(symbol, msgType string)
}

// New creates a Normalizer routing into registry.
func New(registry *book.Registry, logger *slog.Logger) *Normalizer {
	return &Normalizer{
		registry: registry,
		logger:   logger.With("component", "normalizer"),
		tickers:  make(map[string]TickerSnapshot),
		readyCh:  make(chan struct{}),
	}
}

// SetErrorCallback installs the function invoked when an `error` frame
// arrives from the feed.
func (n *Normalizer) SetErrorCallback(cb func(symbol, message string)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onError = cb
}

// SetParseErrorCallback installs the function invoked every time a frame is
// dropped for failing to parse, receiving the stage it failed at (e.g.
// "snapshot", "l3.open").
func (n *Normalizer) SetParseErrorCallback(cb func(stage string)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onParseError = cb
}

// SetDroppedCallback installs the function invoked every time a frame is
// dropped for a reason other than a parse failure (e.g. an unrouteable
// product_id), receiving the stage it was dropped at (e.g. "dispatch",
// "snapshot", "l3"). The detailed reason is only logged.
func (n *Normalizer) SetDroppedCallback(cb func(reason string)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onDropped = cb
}

// SetMessageCallback installs the function invoked every time a frame is
// successfully applied to a book, receiving the symbol and the wire
// message type that produced the mutation.
func (n *Normalizer) SetMessageCallback(cb func(symbol, msgType string)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onMessage = cb
}

// Ready is closed the first time a `subscriptions` acknowledgment arrives
// since the last Reset.
func (n *Normalizer) Ready() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.readyCh
}

// Reset re-arms the ready signal. Callers invoke this before resubscribing
// after a reconnect, so Ready reflects the new subscription cycle rather
// than a stale one.
func (n *Normalizer) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.readyCh = make(chan struct{})
	n.readyArmed = false
}

func (n *Normalizer) armReady() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.readyArmed {
		return
	}
	n.readyArmed = true
	close(n.readyCh)
}

// ParseErrors returns the count of frames dropped for failing to parse.
func (n *Normalizer) ParseErrors() int64 { return n.parseErrors.Load() }

// DroppedFrames returns the count of frames dropped for any other reason
// (unrouteable product_id, unrecognized type).
func (n *Normalizer) DroppedFrames() int64 { return n.droppedCount.Load() }

// Ticker returns the last cached ticker summary for symbol, if any.
func (n *Normalizer) Ticker(symbol string) (TickerSnapshot, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.tickers[symbol]
	return t, ok
}

func (n *Normalizer) recordParseError(context string, err error) {
	n.parseErrors.Add(1)
	n.logger.Debug("dropping frame: parse error", "context", context, "error", err)
	n.mu.Lock()
	cb := n.onParseError
	n.mu.Unlock()
	if cb != nil {
		cb(context)
	}
}

func (n *Normalizer) recordDropped(context string, reason string) {
	n.droppedCount.Add(1)
	n.logger.Debug("dropping frame", "context", context, "reason", reason)
	n.mu.Lock()
	cb := n.onDropped
	n.mu.Unlock()
	if cb != nil {
		cb(context)
	}
}

// recordMessage reports a successfully-applied wire message for the
// per-book counters exposed on /metrics.
func (n *Normalizer) recordMessage(symbol, msgType string) {
	n.mu.Lock()
	cb := n.onMessage
	n.mu.Unlock()
	if cb != nil {
		cb(symbol, msgType)
	}
}

// HandleFrame parses one decoded text frame and applies it. It never
// returns an error to the caller — every failure mode here is a dropped
// message plus a counter increment, per the error-handling policy: a
// feed's transport layer should never see a book-level parse failure as
// fatal.
func (n *Normalizer) HandleFrame(data []byte) {
	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		n.recordParseError("envelope", err)
		return
	}

	switch env.Type {
	case "subscriptions":
		n.armReady()
	case "heartbeat":
		// Liveness only; the session's idle watchdog advances on every
		// successfully read frame, not specifically on this type.
	case "snapshot":
		n.handleSnapshot(data)
	case "l2update":
		n.handleL2Update(data)
	case "open", "received", "done", "match", "change", "l3update":
		n.handleL3(data)
	case "ticker":
		n.handleTicker(data)
	case "error":
		n.handleError(data)
	default:
		n.recordDropped("dispatch", fmt.Sprintf("unrecognized type %q", env.Type))
	}
}

func (n *Normalizer) handleSnapshot(data []byte) {
	var msg types.SnapshotMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		n.recordParseError("snapshot", err)
		return
	}
	if msg.ProductID == "" {
		n.recordParseError("snapshot", errMissingProductID)
		return
	}
	bids, err := levelEntriesToQty(msg.Bids)
	if err != nil {
		n.recordParseError("snapshot.bids", err)
		return
	}
	asks, err := levelEntriesToQty(msg.Asks)
	if err != nil {
		n.recordParseError("snapshot.asks", err)
		return
	}

	b, ok := n.registry.Peek(msg.ProductID)
	if !ok {
		n.recordDropped("snapshot", "unsubscribed product_id "+msg.ProductID)
		return
	}
	b.ApplySnapshot(bids, asks)
	n.recordMessage(msg.ProductID, "snapshot")
}

func levelEntriesToQty(entries []types.LevelEntry) ([]types.LevelQty, error) {
	out := make([]types.LevelQty, len(entries))
	for i, e := range entries {
		p, err := e.Price.Price()
		if err != nil {
			return nil, fmt.Errorf("level %d price: %w", i, err)
		}
		s, err := e.Size.Size()
		if err != nil {
			return nil, fmt.Errorf("level %d size: %w", i, err)
		}
		out[i] = types.LevelQty{Price: p, Size: s}
	}
	return out, nil
}

func (n *Normalizer) handleL2Update(data []byte) {
	var msg types.L2UpdateMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		n.recordParseError("l2update", err)
		return
	}
	if msg.ProductID == "" {
		n.recordParseError("l2update", errMissingProductID)
		return
	}
	b, ok := n.registry.Peek(msg.ProductID)
	if !ok {
		n.recordDropped("l2update", "unsubscribed product_id "+msg.ProductID)
		return
	}

	events := make([]types.L2Event, 0, len(msg.Changes))
	for i, c := range msg.Changes {
		side := types.Side(c.Side)
		if !side.Valid() {
			n.recordParseError("l2update.change", fmt.Errorf("change %d: invalid side %q", i, c.Side))
			return
		}
		price, err := c.Price.Price()
		if err != nil {
			n.recordParseError("l2update.change", fmt.Errorf("change %d price: %w", i, err))
			return
		}
		size, err := c.Size.Size()
		if err != nil {
			n.recordParseError("l2update.change", fmt.Errorf("change %d size: %w", i, err))
			return
		}
		events = append(events, types.L2Event{Symbol: msg.ProductID, Side: side, Price: price, Size: size})
	}
	for _, ev := range events {
		if b.ApplyL2(ev) {
			n.recordMessage(msg.ProductID, "l2update")
		}
	}
}

func (n *Normalizer) handleL3(data []byte) {
	var msg types.L3Message
	if err := json.Unmarshal(data, &msg); err != nil {
		n.recordParseError("l3", err)
		return
	}
	if msg.ProductID == "" {
		n.recordParseError("l3", errMissingProductID)
		return
	}
	evType, ok := mapWireEventType(msg.Type)
	if !ok {
		n.recordDropped("l3", "unrecognized l3 type "+msg.Type)
		return
	}

	ev := types.L3Event{Type: evType, Symbol: msg.ProductID}

	switch evType {
	case types.EventOpen:
		if msg.OrderID == "" {
			n.recordParseError("l3.open", errors.New("missing order_id"))
			return
		}
		side := types.Side(msg.Side)
		if !side.Valid() {
			n.recordParseError("l3.open", fmt.Errorf("invalid side %q", msg.Side))
			return
		}
		price, err := msg.Price.Price()
		if err != nil {
			n.recordParseError("l3.open", err)
			return
		}
		sz, err := msg.Size.Size()
		if err != nil {
			n.recordParseError("l3.open", err)
			return
		}
		ev.OrderID, ev.Side, ev.Price, ev.Size = msg.OrderID, side, price, sz

	case types.EventDone:
		if msg.OrderID == "" {
			n.recordParseError("l3.done", errors.New("missing order_id"))
			return
		}
		ev.OrderID = msg.OrderID
		if msg.Side != "" {
			ev.Side = types.Side(msg.Side) // advisory only
		}
		if msg.Price != "" {
			if p, err := msg.Price.Price(); err == nil {
				ev.Price = p // advisory only
			}
		}

	case types.EventChange:
		if msg.OrderID == "" {
			n.recordParseError("l3.change", errors.New("missing order_id"))
			return
		}
		sz, err := msg.NewSize.Size()
		if err != nil {
			n.recordParseError("l3.change", err)
			return
		}
		ev.OrderID, ev.Size = msg.OrderID, sz

	case types.EventMatch:
		if msg.MakerOrderID == "" {
			n.recordParseError("l3.match", errors.New("missing maker_order_id"))
			return
		}
		sz, err := msg.Size.Size()
		if err != nil {
			n.recordParseError("l3.match", err)
			return
		}
		ev.OrderID, ev.Size = msg.MakerOrderID, sz
	}

	b, ok := n.registry.Peek(msg.ProductID)
	if !ok {
		n.recordDropped("l3", "unsubscribed product_id "+msg.ProductID)
		return
	}
	if b.ApplyL3(ev) {
		n.recordMessage(msg.ProductID, msg.Type)
	}
}

// mapWireEventType maps the wire protocol's `type` discriminator to the
// normalized vocabulary. "received" is an alias for "open": both add a
// resting order.
func mapWireEventType(wireType string) (types.EventType, bool) {
	switch wireType {
	case "open", "received":
		return types.EventOpen, true
	case "done":
		return types.EventDone, true
	case "change":
		return types.EventChange, true
	case "match":
		return types.EventMatch, true
	default:
		return 0, false
	}
}

func (n *Normalizer) handleTicker(data []byte) {
	var msg types.TickerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		n.recordParseError("ticker", err)
		return
	}
	if msg.ProductID == "" {
		n.recordParseError("ticker", errMissingProductID)
		return
	}

	snap := TickerSnapshot{Sequence: msg.Sequence}
	if p, err := msg.BestBid.Price(); err == nil {
		snap.BestBid = p
	}
	if s, err := msg.BestBidSize.Size(); err == nil {
		snap.BestBidSize = s
	}
	if p, err := msg.BestAsk.Price(); err == nil {
		snap.BestAsk = p
	}
	if s, err := msg.BestAskSize.Size(); err == nil {
		snap.BestAskSize = s
	}

	n.mu.Lock()
	n.tickers[msg.ProductID] = snap
	n.mu.Unlock()
	n.recordMessage(msg.ProductID, "ticker")
}

func (n *Normalizer) handleError(data []byte) {
	var msg types.ErrorMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		n.recordParseError("error", err)
		return
	}
	n.logger.Warn("feed reported error", "message", msg.Message)

	n.mu.Lock()
	cb := n.onError
	n.mu.Unlock()
	if cb != nil {
		cb("", msg.Message)
	}
}
