// Package book implements the price-sorted, per-symbol limit order book:
// the Order/PriceLevel/OrderBook triad plus the symbol Registry, with O(1)
// order lookup by id and O(log L) price-level lookup by price.
package book

import (
	"errors"
	"fmt"

	"lobmirror/pkg/types"
)

// ErrInvalidSize is returned when a size reduction would be a no-op or
// would underflow a resting order's quantity.
var ErrInvalidSize = errors.New("invalid size")

// Order is a single resting order. Its id and price are immutable after
// construction; only Size changes over the order's life, via ReduceSize or
// SetSize. A price change from the feed is always modeled as cancel+insert,
// never as a mutation of an existing Order's Price.
type Order struct {
	id        string
	side      types.Side
	price     types.Price
	size      types.Size
	timestamp int64 // monotonic nanoseconds at ingestion
}

// NewOrder constructs a resting order.
func NewOrder(id string, side types.Side, price types.Price, size types.Size, timestamp int64) *Order {
	return &Order{
		id:        id,
		side:      side,
		price:     price,
		size:      size,
		timestamp: timestamp,
	}
}

// ID returns the order's immutable identifier.
func (o *Order) ID() string { return o.id }

// Side returns the order's immutable side.
func (o *Order) Side() types.Side { return o.side }

// Price returns the order's immutable price.
func (o *Order) Price() types.Price { return o.price }

// Size returns the order's current resting size.
func (o *Order) Size() types.Size { return o.size }

// Timestamp returns the ingestion time, in monotonic nanoseconds.
func (o *Order) Timestamp() int64 { return o.timestamp }

// SetSize overwrites the resting size directly; used by `change` events
// which carry an explicit new size rather than a delta.
func (o *Order) SetSize(newSize types.Size) {
	o.size = newSize
}

// ReduceSize subtracts amount from the resting size, as a `match` fill
// does to a maker order. It fails if amount is non-positive or larger than
// the order's current size.
func (o *Order) ReduceSize(amount types.Size) error {
	if amount <= 0 {
		return fmt.Errorf("%w: reduce amount %v must be positive", ErrInvalidSize, amount)
	}
	if amount > o.size {
		return fmt.Errorf("%w: reduce amount %v exceeds resting size %v", ErrInvalidSize, amount, o.size)
	}
	o.size -= amount
	return nil
}
