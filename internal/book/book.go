package book

import (
	"sort"
	"sync"
	"sync/atomic"

	"lobmirror/pkg/types"
)

// UpdateCallback is invoked exactly once after any mutating operation that
// changed observable book state. It runs synchronously on the applying
// goroutine — implementations must not re-enter the book.
type UpdateCallback func(symbol string)

// ResyncCallback is invoked when the book detects an invariant violation
// (a crossed book) and soft-resets itself, per the error-handling design:
// treat it as a resync trigger and rely on the next snapshot to
// re-establish ground truth.
type ResyncCallback func(symbol string, reason error)

type indexEntry struct {
	side  types.Side
	price types.Price
}

// OrderBook is the price-sorted, per-symbol limit order book. A single
// RWMutex protects bids, asks, and the id index; every public method is
// safe for concurrent use by one writer and many readers. Readers that
// need more than one related value for a single rendered frame must use
// Snapshot, which takes the lock once, rather than composing the
// individual getters (which would risk a torn read).
type OrderBook struct {
	mu sync.RWMutex

	symbol string

	bidPrices []types.Price // descending
	askPrices []types.Price // ascending
	bids      map[types.Price]*PriceLevel
	asks      map[types.Price]*PriceLevel

	index map[string]indexEntry

	orderCount int

	seq uint64 // bumped on every observable mutation

	unknownMakerCount int64 // match events referencing an id we don't have
	resyncCount        int64

	callback UpdateCallback
	resync   ResyncCallback
}

// New creates an empty book for one symbol.
func New(symbol string) *OrderBook {
	return &OrderBook{
		symbol: symbol,
		bids:   make(map[types.Price]*PriceLevel),
		asks:   make(map[types.Price]*PriceLevel),
		index:  make(map[string]indexEntry),
	}
}

// Symbol returns the book's symbol tag.
func (b *OrderBook) Symbol() string { return b.symbol }

// SetUpdateCallback installs the callback invoked after mutations. It
// takes the book's lock, like every mutating operation.
func (b *OrderBook) SetUpdateCallback(cb UpdateCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callback = cb
}

// SetResyncCallback installs the callback invoked when a soft resync
// (crossed-book clear) fires.
func (b *OrderBook) SetResyncCallback(cb ResyncCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resync = cb
}

// Sequence returns the book's monotonic mutation counter. Consumers use it
// to detect whether a recomputed metric is stale relative to a snapshot
// they already have.
func (b *OrderBook) Sequence() uint64 {
	return atomic.LoadUint64(&b.seq)
}

func (b *OrderBook) sideLevels(side types.Side) (map[types.Price]*PriceLevel, *[]types.Price) {
	if side == types.Buy {
		return b.bids, &b.bidPrices
	}
	return b.asks, &b.askPrices
}

// insertPrice inserts p into a sorted-by-priority price slice, if absent.
// Bids sort descending (best bid first); asks sort ascending (best ask
// first). Lookup is O(log L) via sort.Search; insertion is O(L) for the
// slice shift, a deliberate trade given the corpus carries no ordered-map
// structure to reach for instead (see DESIGN.md).
func insertPrice(prices []types.Price, p types.Price, desc bool) []types.Price {
	less := func(i int) bool {
		if desc {
			return prices[i] < p
		}
		return prices[i] > p
	}
	idx := sort.Search(len(prices), less)
	prices = append(prices, 0)
	copy(prices[idx+1:], prices[idx:])
	prices[idx] = p
	return prices
}

func removePrice(prices []types.Price, p types.Price, desc bool) []types.Price {
	less := func(i int) bool {
		if desc {
			return prices[i] <= p
		}
		return prices[i] >= p
	}
	idx := sort.Search(len(prices), less)
	if idx >= len(prices) || prices[idx] != p {
		return prices
	}
	return append(prices[:idx], prices[idx+1:]...)
}

// getOrCreateLevel returns the level at price on the given side, creating
// it (and inserting it into the sorted price slice) if absent.
func (b *OrderBook) getOrCreateLevel(side types.Side, price types.Price) *PriceLevel {
	levels, prices := b.sideLevels(side)
	if lvl, ok := levels[price]; ok {
		return lvl
	}
	lvl := NewPriceLevel(price)
	levels[price] = lvl
	*prices = insertPrice(*prices, price, side == types.Buy)
	return lvl
}

// evictIfEmpty removes a level from both the map and the sorted price
// slice the instant it has no resting orders.
func (b *OrderBook) evictIfEmpty(side types.Side, lvl *PriceLevel) {
	if !lvl.IsEmpty() {
		return
	}
	levels, prices := b.sideLevels(side)
	delete(levels, lvl.Price())
	*prices = removePrice(*prices, lvl.Price(), side == types.Buy)
}

func (b *OrderBook) notify() {
	atomic.AddUint64(&b.seq, 1)
	if b.callback != nil {
		b.callback(b.symbol)
	}
}

// checkCrossedLocked soft-resyncs the book if the top of book is crossed
// (best bid >= best ask), a condition the feed should never produce but
// which the error-handling design treats as an invariant violation: clear
// the book and rely on the next snapshot. Must be called with mu held.
func (b *OrderBook) checkCrossedLocked() {
	if len(b.bidPrices) == 0 || len(b.askPrices) == 0 {
		return
	}
	if b.bidPrices[0] < b.askPrices[0] {
		return
	}
	b.resyncLocked(ErrCrossedBook)
}

// ErrCrossedBook is the reason reported to the resync callback when the
// book is cleared because the upstream feed produced best_bid >= best_ask.
var ErrCrossedBook = crossedBookError{}

type crossedBookError struct{}

func (crossedBookError) Error() string { return "crossed book: best bid >= best ask" }

func (b *OrderBook) resyncLocked(reason error) {
	b.clearLocked()
	b.resyncCount++
	if b.resync != nil {
		b.resync(b.symbol, reason)
	}
}

// AddOrder inserts a new resting order. It reports false without mutating
// state if the id is already present anywhere in the book.
func (b *OrderBook) AddOrder(o *Order) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addOrderLocked(o)
}

func (b *OrderBook) addOrderLocked(o *Order) bool {
	if _, exists := b.index[o.ID()]; exists {
		return false
	}
	lvl := b.getOrCreateLevel(o.Side(), o.Price())
	if err := lvl.Add(o); err != nil {
		// Should be unreachable given the index check above, but don't
		// leave an orphaned empty level behind if it somehow happens.
		b.evictIfEmpty(o.Side(), lvl)
		return false
	}
	b.index[o.ID()] = indexEntry{side: o.Side(), price: o.Price()}
	b.orderCount++
	b.checkCrossedLocked()
	b.notify()
	return true
}

// RemoveOrder deletes a resting order by id, wherever it lives. The index
// is the sole source of truth for locating it; levels are never searched.
func (b *OrderBook) RemoveOrder(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeOrderLocked(id)
}

func (b *OrderBook) removeOrderLocked(id string) bool {
	entry, ok := b.index[id]
	if !ok {
		return false
	}
	levels, _ := b.sideLevels(entry.side)
	lvl, ok := levels[entry.price]
	if !ok {
		delete(b.index, id) // shouldn't happen; keep index consistent regardless
		return false
	}
	if _, err := lvl.Remove(id); err != nil {
		return false
	}
	delete(b.index, id)
	b.orderCount--
	b.evictIfEmpty(entry.side, lvl)
	b.notify()
	return true
}

// ModifyOrder resizes a resting order to newSize. A non-positive newSize
// is equivalent to RemoveOrder.
func (b *OrderBook) ModifyOrder(id string, newSize types.Size) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.modifyOrderLocked(id, newSize)
}

func (b *OrderBook) modifyOrderLocked(id string, newSize types.Size) bool {
	entry, ok := b.index[id]
	if !ok {
		return false
	}
	levels, _ := b.sideLevels(entry.side)
	lvl, ok := levels[entry.price]
	if !ok {
		return false
	}
	removed, err := lvl.UpdateSize(id, newSize)
	if err != nil {
		return false
	}
	if removed {
		delete(b.index, id)
		b.orderCount--
		b.evictIfEmpty(entry.side, lvl)
	}
	b.notify()
	return true
}

// ApplyL3 applies one normalized L3 event to the book. Unknown event types
// are ignored (report false); see the normalized vocabulary's definition
// in pkg/types for the exhaustive set.
func (b *OrderBook) ApplyL3(ev types.L3Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch ev.Type {
	case types.EventOpen:
		return b.addOrderLocked(NewOrder(ev.OrderID, ev.Side, ev.Price, ev.Size, 0))
	case types.EventDone:
		return b.removeOrderLocked(ev.OrderID)
	case types.EventChange:
		return b.modifyOrderLocked(ev.OrderID, ev.Size)
	case types.EventMatch:
		return b.applyMatchLocked(ev.OrderID, ev.Size)
	default:
		return false
	}
}

// applyMatchLocked reduces the maker order's resting size by the fill
// amount. An unknown maker id is silently ignored per policy, but counted
// as a candidate resync signal — repeated unknown-maker matches usually
// mean the book has drifted from the exchange's view.
func (b *OrderBook) applyMatchLocked(makerID string, filled types.Size) bool {
	entry, ok := b.index[makerID]
	if !ok {
		b.unknownMakerCount++
		return false
	}
	levels, _ := b.sideLevels(entry.side)
	lvl, ok := levels[entry.price]
	if !ok {
		return false
	}
	o, ok := lvl.Find(makerID)
	if !ok {
		return false
	}
	newSize := o.Size() - filled
	removed, err := lvl.UpdateSize(makerID, newSize)
	if err != nil {
		return false
	}
	if removed {
		delete(b.index, makerID)
		b.orderCount--
		b.evictIfEmpty(entry.side, lvl)
	}
	b.notify()
	return true
}

// ApplyL2 applies one aggregated price-level update. A zero size deletes
// the level; otherwise the level is represented internally by a single
// synthetic order, keeping the internal representation uniform across L2
// and L3 feeds. The synthetic id is deterministic in (side, price) so a
// later update to the same level replaces the same synthetic order rather
// than stacking duplicates.
func (b *OrderBook) ApplyL2(ev types.L2Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.applyL2Locked(ev)
}

func (b *OrderBook) applyL2Locked(ev types.L2Event) bool {
	id := SyntheticOrderID(ev.Side, ev.Price)
	levels, _ := b.sideLevels(ev.Side)
	lvl, exists := levels[ev.Price]

	if ev.Size <= 0 {
		if !exists {
			return true // deleting an already-absent level is a no-op success
		}
		for _, o := range lvl.Orders() {
			if _, err := lvl.Remove(o.ID()); err == nil {
				delete(b.index, o.ID())
				b.orderCount--
			}
		}
		b.evictIfEmpty(ev.Side, lvl)
		b.notify()
		return true
	}

	if !exists {
		lvl = b.getOrCreateLevel(ev.Side, ev.Price)
	}
	if _, ok := lvl.Find(id); ok {
		if _, err := lvl.UpdateSize(id, ev.Size); err != nil {
			return false
		}
	} else {
		if err := lvl.Add(NewOrder(id, ev.Side, ev.Price, ev.Size, 0)); err != nil {
			return false
		}
		b.index[id] = indexEntry{side: ev.Side, price: ev.Price}
		b.orderCount++
	}
	b.checkCrossedLocked()
	b.notify()
	return true
}

// SyntheticOrderID derives the deterministic id used for the single
// synthetic order standing in for an L2 price level.
func SyntheticOrderID(side types.Side, price types.Price) string {
	return "l2:" + string(side) + ":" + price.String()
}

// ApplySnapshot replaces all book state atomically with a full aggregated
// statement of both sides. The lock is held for the entire replacement so
// no interleaved update can be observed against a partially-reset book.
func (b *OrderBook) ApplySnapshot(bids, asks []types.LevelQty) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.clearLocked()
	// Levels are loaded with the update callback detached, so the whole
	// replacement reports as a single mutation.
	cb := b.callback
	b.callback = nil
	for _, lv := range bids {
		if lv.Size <= 0 {
			continue
		}
		b.applyL2Locked(types.L2Event{Side: types.Buy, Price: lv.Price, Size: lv.Size})
	}
	for _, lv := range asks {
		if lv.Size <= 0 {
			continue
		}
		b.applyL2Locked(types.L2Event{Side: types.Sell, Price: lv.Price, Size: lv.Size})
	}
	b.callback = cb
	b.checkCrossedLocked()
	b.notify()
	return true
}

// Clear removes all state: every level, every order, the entire index.
func (b *OrderBook) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clearLocked()
	b.notify()
}

func (b *OrderBook) clearLocked() {
	b.bids = make(map[types.Price]*PriceLevel)
	b.asks = make(map[types.Price]*PriceLevel)
	b.bidPrices = nil
	b.askPrices = nil
	b.index = make(map[string]indexEntry)
	b.orderCount = 0
}

// BestBid returns the highest resting bid price, and false if the bid side
// is empty.
func (b *OrderBook) BestBid() (types.Price, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bidPrices) == 0 {
		return 0, false
	}
	return b.bidPrices[0], true
}

// BestAsk returns the lowest resting ask price, and false if the ask side
// is empty.
func (b *OrderBook) BestAsk() (types.Price, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.askPrices) == 0 {
		return 0, false
	}
	return b.askPrices[0], true
}

// Spread returns best_ask - best_bid, or 0 if either side is empty.
func (b *OrderBook) Spread() types.Price {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bidPrices) == 0 || len(b.askPrices) == 0 {
		return 0
	}
	return b.askPrices[0] - b.bidPrices[0]
}

// Midpoint returns (best_bid + best_ask) / 2, or 0 if either side is
// empty.
func (b *OrderBook) Midpoint() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bidPrices) == 0 || len(b.askPrices) == 0 {
		return 0
	}
	return (b.bidPrices[0].Float64() + b.askPrices[0].Float64()) / 2
}

// BidLevels returns up to n bid levels in priority order (best bid first).
func (b *OrderBook) BidLevels(n int) []types.LevelQty {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.levelsLocked(b.bids, b.bidPrices, n)
}

// AskLevels returns up to n ask levels in priority order (best ask first).
func (b *OrderBook) AskLevels(n int) []types.LevelQty {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.levelsLocked(b.asks, b.askPrices, n)
}

func (b *OrderBook) levelsLocked(levels map[types.Price]*PriceLevel, prices []types.Price, n int) []types.LevelQty {
	if n <= 0 || n > len(prices) {
		n = len(prices)
	}
	out := make([]types.LevelQty, n)
	for i := 0; i < n; i++ {
		lvl := levels[prices[i]]
		out[i] = types.LevelQty{Price: lvl.Price(), Size: lvl.TotalSize()}
	}
	return out
}

// GetOrder returns the order resting under id, if any.
func (b *OrderBook) GetOrder(id string) (*Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entry, ok := b.index[id]
	if !ok {
		return nil, false
	}
	levels, _ := b.sideLevels(entry.side)
	lvl, ok := levels[entry.price]
	if !ok {
		return nil, false
	}
	return lvl.Find(id)
}

// OrderCount returns the total number of resting orders across both sides.
func (b *OrderBook) OrderCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.orderCount
}

// BidLevelCount returns the number of distinct bid price levels.
func (b *OrderBook) BidLevelCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.bidPrices)
}

// AskLevelCount returns the number of distinct ask price levels.
func (b *OrderBook) AskLevelCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.askPrices)
}

// UnknownMakerCount returns how many `match` events referenced a maker id
// the book had no record of. A persistently nonzero rate is a signal the
// book has drifted and warrants a resync.
func (b *OrderBook) UnknownMakerCount() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.unknownMakerCount
}

// ResyncCount returns how many times this book has soft-reset itself due
// to a detected invariant violation.
func (b *OrderBook) ResyncCount() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.resyncCount
}

// Snapshot returns a consistent view of both sides' top-n levels plus the
// current sequence number, all under a single lock acquisition. Consumers
// needing more than one related value for a single rendered frame must use
// this instead of composing BidLevels/AskLevels/BestBid individually, which
// would risk a torn read against a concurrent writer.
func (b *OrderBook) Snapshot(n int) (bids, asks []types.LevelQty, seq uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.levelsLocked(b.bids, b.bidPrices, n), b.levelsLocked(b.asks, b.askPrices, n), b.seq
}
