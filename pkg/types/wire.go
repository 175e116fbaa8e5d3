package types

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// FlexNumber decodes a JSON field that may arrive as either a quoted decimal
// string or a bare JSON number — both are legal per the wire protocol for
// every price/size field. Parsing happens once here, at the message
// boundary; everything downstream works with Price/Size.
type FlexNumber string

// UnmarshalJSON accepts both `"0.55"` and `0.55`.
func (f *FlexNumber) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("flex number: %w", err)
		}
		*f = FlexNumber(s)
		return nil
	}
	*f = FlexNumber(data)
	return nil
}

// Decimal parses the underlying text into a decimal.Decimal.
func (f FlexNumber) Decimal() (decimal.Decimal, error) {
	if f == "" {
		return decimal.Decimal{}, fmt.Errorf("empty numeric field")
	}
	return decimal.NewFromString(string(f))
}

// Price parses the underlying text as a Price.
func (f FlexNumber) Price() (Price, error) {
	return ParsePrice(string(f))
}

// Size parses the underlying text as a Size.
func (f FlexNumber) Size() (Size, error) {
	return ParseSize(string(f))
}

// LevelEntry is one bid/ask tuple in a snapshot message: [price, size] or
// [price, size, order_id] when the venue's full (L3) channel supplies a
// resting order id alongside the aggregate.
type LevelEntry struct {
	Price   FlexNumber
	Size    FlexNumber
	OrderID string
}

// UnmarshalJSON decodes a level entry from its wire array form.
func (l *LevelEntry) UnmarshalJSON(data []byte) error {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("level entry: %w", err)
	}
	if len(arr) < 2 {
		return fmt.Errorf("level entry: need at least 2 fields, got %d", len(arr))
	}
	if err := json.Unmarshal(arr[0], &l.Price); err != nil {
		return fmt.Errorf("level entry price: %w", err)
	}
	if err := json.Unmarshal(arr[1], &l.Size); err != nil {
		return fmt.Errorf("level entry size: %w", err)
	}
	if len(arr) >= 3 {
		_ = json.Unmarshal(arr[2], &l.OrderID) // best-effort; absent on most venues
	}
	return nil
}

// L2Change is one [side, price, size] tuple in an l2update message's
// `changes` array.
type L2Change struct {
	Side  string
	Price FlexNumber
	Size  FlexNumber
}

// UnmarshalJSON decodes an l2update change from its wire array form.
func (c *L2Change) UnmarshalJSON(data []byte) error {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("l2 change: %w", err)
	}
	if len(arr) != 3 {
		return fmt.Errorf("l2 change: need exactly 3 fields, got %d", len(arr))
	}
	if err := json.Unmarshal(arr[0], &c.Side); err != nil {
		return fmt.Errorf("l2 change side: %w", err)
	}
	if err := json.Unmarshal(arr[1], &c.Price); err != nil {
		return fmt.Errorf("l2 change price: %w", err)
	}
	if err := json.Unmarshal(arr[2], &c.Size); err != nil {
		return fmt.Errorf("l2 change size: %w", err)
	}
	return nil
}

// Envelope is decoded first, from every inbound frame, purely to read the
// `type` discriminator and route to the right concrete message.
type Envelope struct {
	Type string `json:"type"`
}

// SubscriptionsMessage acknowledges a subscribe/unsubscribe request.
type SubscriptionsMessage struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

// HeartbeatMessage carries no book mutation; it only proves the connection
// is alive.
type HeartbeatMessage struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Sequence  int64  `json:"sequence"`
}

// SnapshotMessage is a full, aggregated statement of one symbol's book.
type SnapshotMessage struct {
	Type      string       `json:"type"`
	ProductID string       `json:"product_id"`
	Bids      []LevelEntry `json:"bids"`
	Asks      []LevelEntry `json:"asks"`
}

// L2UpdateMessage carries one or more aggregated price-level changes. The
// normalizer drops the whole message if any change fails to parse; the
// changes are then applied one at a time, each under its own book lock, so
// a reader can observe the book between two changes of one message.
type L2UpdateMessage struct {
	Type      string     `json:"type"`
	ProductID string     `json:"product_id"`
	Changes   []L2Change `json:"changes"`
}

// TickerMessage is an informational best-bid/ask summary. Per the design
// notes, it must never by itself clear or replace book state.
type TickerMessage struct {
	Type        string     `json:"type"`
	ProductID   string     `json:"product_id"`
	BestBid     FlexNumber `json:"best_bid"`
	BestBidSize FlexNumber `json:"best_bid_size"`
	BestAsk     FlexNumber `json:"best_ask"`
	BestAskSize FlexNumber `json:"best_ask_size"`
	Sequence    int64      `json:"sequence"`
}

// L3Message covers open/received/done/change/match — the individual-order
// granularity events. Not every field is populated for every Type; see the
// external interface table for which fields are required per type.
type L3Message struct {
	Type         string     `json:"type"`
	ProductID    string     `json:"product_id"`
	OrderID      string     `json:"order_id,omitempty"`
	MakerOrderID string     `json:"maker_order_id,omitempty"`
	Side         string     `json:"side,omitempty"`
	Price        FlexNumber `json:"price,omitempty"`
	Size         FlexNumber `json:"size,omitempty"`
	NewSize      FlexNumber `json:"new_size,omitempty"`
}

// ErrorMessage is surfaced to the session; it never mutates a book.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// SubscribeRequest is the outbound message that adds channels for a set of
// symbols.
type SubscribeRequest struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

// UnsubscribeRequest is the outbound message that removes channels for a
// set of symbols.
type UnsubscribeRequest struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}
