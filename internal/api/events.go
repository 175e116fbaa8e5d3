package api

import "time"

// Event is the wrapper for everything broadcast to websocket subscribers.
type Event struct {
	Type      string      `json:"type"` // "snapshot" or "book_update"
	Timestamp time.Time   `json:"timestamp"`
	Symbol    string      `json:"symbol,omitempty"`
	Data      interface{} `json:"data"`
}

// NewSnapshotEvent wraps a full BookSnapshotDTO, sent to a client on
// connect and by Hub.BroadcastSnapshot. A book's soft resync does not by
// itself broadcast one.
func NewSnapshotEvent(snap BookSnapshotDTO) Event {
	return Event{Type: "snapshot", Timestamp: time.Now(), Symbol: snap.Symbol, Data: snap}
}

// BookUpdateEvent is the lightweight top-of-book delta broadcast after
// every book mutation that leaves both sides non-empty — cheaper than a
// full snapshot for consumers that only render the touch line. A mutation
// that leaves either side empty broadcasts nothing.
type BookUpdateEvent struct {
	BestBid   float64 `json:"best_bid"`
	BestAsk   float64 `json:"best_ask"`
	Midpoint  float64 `json:"midpoint"`
	SpreadBps float64 `json:"spread_bps"`
	Sequence  uint64  `json:"sequence"`
}

// NewBookUpdateEvent wraps a BookUpdateEvent for broadcast.
func NewBookUpdateEvent(symbol string, upd BookUpdateEvent) Event {
	return Event{Type: "book_update", Timestamp: time.Now(), Symbol: symbol, Data: upd}
}
