// Package snapshot exposes a thread-safe, read-mostly view over a book
// plus its derived metrics, for downstream consumers (renderers, the
// publishing API) that should never block the feed's writer thread for
// longer than a single lock acquisition.
package snapshot

import (
	"lobmirror/internal/book"
	"lobmirror/internal/metrics"
	"lobmirror/pkg/types"
)

// View is a single consistent rendering of one symbol's book: its top-n
// levels on both sides, the sequence number they were read at, and the
// derived microstructure metrics for that same instant.
type View struct {
	Symbol  string
	Bids    []types.LevelQty
	Asks    []types.LevelQty
	Seq     uint64
	Metrics metrics.Snapshot
}

// Publisher wraps an OrderBook, producing consistent Views. It holds no
// state of its own beyond the book reference — all synchronization is the
// book's single RWMutex, acquired once per View.
type Publisher struct {
	symbol string
	book   *book.OrderBook
}

// New creates a Publisher over b, tagged with symbol for the views it
// produces.
func New(symbol string, b *book.OrderBook) *Publisher {
	return &Publisher{symbol: symbol, book: b}
}

// View returns a consistent snapshot of the top depth levels on each side
// plus derived metrics, all read under the book's lock exactly once.
func (p *Publisher) View(depth int) View {
	bids, asks, seq := p.book.Snapshot(depth)
	return View{
		Symbol:  p.symbol,
		Bids:    bids,
		Asks:    asks,
		Seq:     seq,
		Metrics: metrics.Compute(bids, asks),
	}
}

// Sequence returns the book's current mutation counter without copying
// any level data — useful for consumers deciding whether to re-render.
func (p *Publisher) Sequence() uint64 {
	return p.book.Sequence()
}
