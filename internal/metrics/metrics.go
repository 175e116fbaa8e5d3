// Package metrics computes microstructure signals directly from a book's
// level snapshot. The calculator is a pure function: given the same
// inputs it always returns the same outputs, and it never touches a book.
package metrics

import "lobmirror/pkg/types"

// Snapshot is the full set of microstructure metrics computed from one
// pair of (bids, asks) level snapshots.
type Snapshot struct {
	BestBid   types.Price
	BestAsk   types.Price
	Available bool // false when either side is empty; every other field is then zero

	Spread      float64
	SpreadBps   float64
	Imbalance   float64
	Pressure    float64
	VWAPBid     float64
	VWAPAsk     float64
	DepthHalfPctBid float64
	DepthHalfPctAsk float64
	Impact1Pct  float64 // unavailable (0) if the ask side never reaches 1% of total depth
}

// Compute derives Snapshot from priority-ordered bid and ask levels (best
// price first in each), the shape OrderBook.Snapshot returns.
func Compute(bids, asks []types.LevelQty) Snapshot {
	if len(bids) == 0 || len(asks) == 0 {
		return Snapshot{}
	}

	bestBid := bids[0].Price
	bestAsk := asks[0].Price
	midpoint := (bestBid.Float64() + bestAsk.Float64()) / 2
	spread := bestAsk.Float64() - bestBid.Float64()

	var spreadBps float64
	if midpoint != 0 {
		spreadBps = (spread / midpoint) * 10000
	}

	bidTotal := sumSize(bids)
	askTotal := sumSize(asks)

	imbalance := 1.0
	if askTotal != 0 {
		imbalance = bidTotal / askTotal
	}
	pressure := (imbalance - 1) / (imbalance + 1)

	vwapBid := vwap(bids)
	vwapAsk := vwap(asks)

	depthBid := depthWithinPct(bids, bestBid.Float64(), -0.005)
	depthAsk := depthWithinPct(asks, bestAsk.Float64(), 0.005)

	impact := impact1Pct(asks, bestAsk.Float64(), bidTotal+askTotal)

	return Snapshot{
		BestBid:         bestBid,
		BestAsk:         bestAsk,
		Available:       true,
		Spread:          spread,
		SpreadBps:       spreadBps,
		Imbalance:       imbalance,
		Pressure:        pressure,
		VWAPBid:         vwapBid,
		VWAPAsk:         vwapAsk,
		DepthHalfPctBid: depthBid,
		DepthHalfPctAsk: depthAsk,
		Impact1Pct:      impact,
	}
}

func sumSize(levels []types.LevelQty) float64 {
	var total float64
	for _, l := range levels {
		total += l.Size.Float64()
	}
	return total
}

// vwap is size-weighted average price across every supplied level.
func vwap(levels []types.LevelQty) float64 {
	var notional, size float64
	for _, l := range levels {
		s := l.Size.Float64()
		notional += l.Price.Float64() * s
		size += s
	}
	if size == 0 {
		return 0
	}
	return notional / size
}

// depthWithinPct sums size over levels within pct of ref (pct negative for
// the bid side, where the band extends downward from the best bid).
func depthWithinPct(levels []types.LevelQty, ref float64, pct float64) float64 {
	bound := ref * (1 + pct)
	var total float64
	for _, l := range levels {
		p := l.Price.Float64()
		if pct < 0 {
			if p < bound {
				break // bids are priority-ordered descending; once below bound, so is the rest
			}
		} else {
			if p > bound {
				break // asks are priority-ordered ascending
			}
		}
		total += l.Size.Float64()
	}
	return total
}

// impact1Pct walks the ask side accumulating size until it reaches 1% of
// total two-sided depth, and reports the relative price move to get
// there. Returns 0 if the ask side is exhausted before reaching it.
func impact1Pct(asks []types.LevelQty, bestAsk float64, totalDepth float64) float64 {
	if totalDepth == 0 || bestAsk == 0 {
		return 0
	}
	threshold := 0.01 * totalDepth
	var accum float64
	for _, l := range asks {
		accum += l.Size.Float64()
		if accum >= threshold {
			return (l.Price.Float64() - bestAsk) / bestAsk
		}
	}
	return 0
}
