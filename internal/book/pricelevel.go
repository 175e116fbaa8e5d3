package book

import (
	"container/list"
	"errors"
	"fmt"

	"lobmirror/pkg/types"
)

// ErrOrderExists is returned by Add when an id is already present at this
// level.
var ErrOrderExists = errors.New("order already exists at this level")

// ErrPriceMismatch is returned by Add when the order's price doesn't match
// the level's price.
var ErrPriceMismatch = errors.New("order price does not match level price")

// ErrOrderNotFound is returned by Remove/UpdateSize/Find for an unknown id.
var ErrOrderNotFound = errors.New("order not found at this level")

// PriceLevel holds every resting order at one price, in FIFO arrival order,
// with an incrementally maintained total size. It knows nothing about its
// neighboring levels or which side of the book it belongs to — that's the
// OrderBook's job.
type PriceLevel struct {
	price     types.Price
	orders    *list.List               // of *Order, front = oldest (FIFO priority)
	index     map[string]*list.Element // order id -> position in orders
	totalSize types.Size
}

// NewPriceLevel creates an empty level at the given price.
func NewPriceLevel(price types.Price) *PriceLevel {
	return &PriceLevel{
		price:  price,
		orders: list.New(),
		index:  make(map[string]*list.Element),
	}
}

// Price returns the level's price.
func (l *PriceLevel) Price() types.Price { return l.price }

// TotalSize returns the aggregated resting size across every order at this
// level.
func (l *PriceLevel) TotalSize() types.Size { return l.totalSize }

// OrderCount returns the number of resting orders at this level.
func (l *PriceLevel) OrderCount() int { return l.orders.Len() }

// IsEmpty reports whether the level has no resting orders. An OrderBook
// must evict a level the instant IsEmpty becomes true; an empty level is
// never an observable state.
func (l *PriceLevel) IsEmpty() bool { return l.orders.Len() == 0 }

// Find returns the order with the given id, if resting at this level.
func (l *PriceLevel) Find(id string) (*Order, bool) {
	el, ok := l.index[id]
	if !ok {
		return nil, false
	}
	return el.Value.(*Order), true
}

// Add appends a new order to the back of the FIFO queue and increments the
// level's total size. It fails if the order's price doesn't match this
// level's price, or if its id is already resting here.
func (l *PriceLevel) Add(o *Order) error {
	if o.Price() != l.price {
		return fmt.Errorf("%w: order price %v, level price %v", ErrPriceMismatch, o.Price(), l.price)
	}
	if _, exists := l.index[o.ID()]; exists {
		return fmt.Errorf("%w: id %s", ErrOrderExists, o.ID())
	}
	el := l.orders.PushBack(o)
	l.index[o.ID()] = el
	l.totalSize += o.Size()
	return nil
}

// Remove takes the order with the given id off the FIFO queue and returns
// it, decrementing total size. Callers are responsible for evicting the
// level once IsEmpty reports true.
func (l *PriceLevel) Remove(id string) (*Order, error) {
	el, ok := l.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %s", ErrOrderNotFound, id)
	}
	o := el.Value.(*Order)
	l.orders.Remove(el)
	delete(l.index, id)
	l.totalSize -= o.Size()
	return o, nil
}

// UpdateSize resizes the order in place, maintaining total size
// incrementally. If newSize is non-positive, this delegates to Remove and
// reports removed=true.
func (l *PriceLevel) UpdateSize(id string, newSize types.Size) (removed bool, err error) {
	if newSize <= 0 {
		if _, err := l.Remove(id); err != nil {
			return false, err
		}
		return true, nil
	}
	el, ok := l.index[id]
	if !ok {
		return false, fmt.Errorf("%w: id %s", ErrOrderNotFound, id)
	}
	o := el.Value.(*Order)
	l.totalSize += newSize - o.Size()
	o.SetSize(newSize)
	return false, nil
}

// Orders returns the resting orders at this level in FIFO priority order.
// Used for level introspection and tests; not on the book's hot path.
func (l *PriceLevel) Orders() []*Order {
	out := make([]*Order, 0, l.orders.Len())
	for el := l.orders.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*Order))
	}
	return out
}
