// Package types defines the shared vocabulary used across the book mirror:
// the Side enum, the fixed-precision Price/Size representation, and the
// normalized L3 event vocabulary the feed normalizer maps exchange frames
// into. It has no dependencies on internal packages, so it can be imported
// by any layer.
package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side is the direction of a resting order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Valid reports whether s is a recognized side.
func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// priceScale and sizeScale fix the number of implied decimal places carried
// by Price and Size. Both are represented as scaled int64s rather than
// binary floats so that two parses of the same decimal string always
// produce the same map key — float64 map keys can't make that guarantee
// (see the design note on price representation).
const (
	priceScale = 100_000_000 // 1e8, finer than any tick size seen on major venues
	sizeScale  = 100_000_000 // 1e8
)

// Price is a fixed-precision price, scaled by priceScale. It is comparable
// and safe to use as a map key.
type Price int64

// Size is a fixed-precision quantity, scaled by sizeScale. Zero means "no
// resting quantity" per the Order/PriceLevel invariants.
type Size int64

// ParsePrice converts a decimal string (as received over the wire) into a
// Price. It is the sole place string -> fixed-point conversion happens for
// prices, so every level lookup downstream keys on an identical
// representation for a given decimal value.
func ParsePrice(s string) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", s, err)
	}
	return Price(d.Shift(8).Round(0).IntPart()), nil
}

// ParseSize converts a decimal string into a Size the same way ParsePrice
// does for prices.
func ParseSize(s string) (Size, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", s, err)
	}
	return Size(d.Shift(8).Round(0).IntPart()), nil
}

// Float64 returns the floating-point value of a Price, for use in derived
// computations (metrics, logging) where exact map-key equality no longer
// matters.
func (p Price) Float64() float64 {
	return float64(p) / priceScale
}

// Float64 returns the floating-point value of a Size.
func (s Size) Float64() float64 {
	return float64(s) / sizeScale
}

// String renders a Price with its full fixed-point precision.
func (p Price) String() string {
	return decimal.New(int64(p), -8).String()
}

// String renders a Size with its full fixed-point precision.
func (s Size) String() string {
	return decimal.New(int64(s), -8).String()
}

// Positive reports whether the size represents a live resting quantity.
func (s Size) Positive() bool {
	return s > 0
}

// EventType is the normalized vocabulary FeedNormalizer maps exchange
// frames into before they reach the book. It deliberately has far fewer
// members than the wire protocol's `type` field: ticker/heartbeat/error/
// subscriptions never reach this vocabulary because they never mutate a
// book.
type EventType int

const (
	// EventOpen adds a new resting order (wire types "open" and "received").
	EventOpen EventType = iota
	// EventDone removes a resting order entirely.
	EventDone
	// EventChange resizes a resting order to an explicit new size.
	EventChange
	// EventMatch reduces a resting (maker) order by a fill amount.
	EventMatch
)

// String implements fmt.Stringer for log output.
func (e EventType) String() string {
	switch e {
	case EventOpen:
		return "open"
	case EventDone:
		return "done"
	case EventChange:
		return "change"
	case EventMatch:
		return "match"
	default:
		return "unknown"
	}
}

// L3Event is the normalized representation of a single order-level book
// mutation, after FeedNormalizer has parsed and validated a wire frame.
type L3Event struct {
	Type    EventType
	Symbol  string
	OrderID string // maker order id for EventMatch
	Side    Side   // advisory for EventDone; authoritative otherwise
	Price   Price  // advisory for EventDone/EventMatch; authoritative for EventOpen
	Size    Size   // new resting size for EventOpen/EventChange; fill amount for EventMatch
}

// L2Event is the normalized representation of a single aggregated
// price-level mutation.
type L2Event struct {
	Symbol string
	Side   Side
	Price  Price
	Size   Size // 0 means "delete this level"
}

// LevelQty is a single (price, aggregated size) pair, the shape both the
// snapshot-apply operation and every level-query operation traffic in.
type LevelQty struct {
	Price Price
	Size  Size
}
