package book

import "sync"

// handle is the reference-counted entry backing one symbol's book. A
// reader that has already obtained a *OrderBook from the Registry keeps a
// valid pointer even if a concurrent Release drops the refcount to zero
// and the registry forgets the symbol — the map entry disappears, but the
// book the reader is holding does not, since Go's GC retains it for as
// long as anything references it. What the refcount actually buys is
// well-defined teardown timing: Release only evicts a symbol whose last
// handle has been released.
type handle struct {
	book *OrderBook
	refs int
}

// Registry maps symbols to their OrderBook, reference-counting lookups so
// that an Release racing with a concurrent GetOrCreate never evicts a book
// out from under an active caller.
type Registry struct {
	mu      sync.Mutex
	symbols map[string]*handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{symbols: make(map[string]*handle)}
}

// GetOrCreate returns the book for symbol, creating it if this is the
// first caller to ask for it, and increments its reference count. Callers
// must call Release exactly once when finished with the returned book.
func (r *Registry) GetOrCreate(symbol string) *OrderBook {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.symbols[symbol]
	if !ok {
		h = &handle{book: New(symbol)}
		r.symbols[symbol] = h
	}
	h.refs++
	return h.book
}

// Lookup returns the existing book for symbol without creating one, and
// increments its reference count if found. Callers that get ok == true
// must call Release exactly once.
func (r *Registry) Lookup(symbol string) (b *OrderBook, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, found := r.symbols[symbol]
	if !found {
		return nil, false
	}
	h.refs++
	return h.book, true
}

// Peek returns the existing book for symbol without affecting its
// reference count. Used by frame routing, which needs to find the book a
// subscribed symbol already owns but neither creates nor retires it.
func (r *Registry) Peek(symbol string) (*OrderBook, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.symbols[symbol]
	if !ok {
		return nil, false
	}
	return h.book, true
}

// Release drops one reference to symbol's book. Once the count reaches
// zero the symbol is forgotten by the registry; a subsequent GetOrCreate
// for the same symbol starts a fresh, empty book.
func (r *Registry) Release(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.symbols[symbol]
	if !ok {
		return
	}
	h.refs--
	if h.refs <= 0 {
		delete(r.symbols, symbol)
	}
}

// Symbols returns the set of symbols currently tracked (refcount > 0).
func (r *Registry) Symbols() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.symbols))
	for s := range r.symbols {
		out = append(out, s)
	}
	return out
}

// Count returns the number of symbols currently tracked.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.symbols)
}
