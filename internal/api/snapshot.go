package api

import (
	"time"

	"lobmirror/internal/metrics"
	snap "lobmirror/internal/snapshot"
	"lobmirror/pkg/types"
)

// SnapshotProvider is whatever can produce a consistent book view for a
// symbol — the engine's set of snapshot.Publisher instances, indexed by
// symbol.
type SnapshotProvider interface {
	View(symbol string, depth int) (BookSnapshotDTO, bool)
	Symbols() []string
	FeedStatus() FeedStatusDTO
}

// BuildSnapshotDTO converts an internal snapshot view into its wire
// representation.
func BuildSnapshotDTO(symbol string, v snap.View) BookSnapshotDTO {
	return BookSnapshotDTO{
		Symbol:    symbol,
		Timestamp: nowFunc(),
		Sequence:  v.Seq,
		Bids:      levelsToDTO(v.Bids),
		Asks:      levelsToDTO(v.Asks),
		Metrics:   MetricsToDTO(v.Metrics),
	}
}

func levelsToDTO(levels []types.LevelQty) []LevelDTO {
	out := make([]LevelDTO, len(levels))
	for i, l := range levels {
		out[i] = LevelDTO{Price: l.Price.Float64(), Size: l.Size.Float64()}
	}
	return out
}

// MetricsToDTO converts a metrics.Snapshot into its wire representation.
func MetricsToDTO(m metrics.Snapshot) MetricsDTO {
	return MetricsDTO{
		Available:       m.Available,
		BestBid:         m.BestBid.Float64(),
		BestAsk:         m.BestAsk.Float64(),
		Spread:          m.Spread,
		SpreadBps:       m.SpreadBps,
		Imbalance:       m.Imbalance,
		MarketPressure:  m.Pressure,
		VWAPBid:         m.VWAPBid,
		VWAPAsk:         m.VWAPAsk,
		DepthHalfPctBid: m.DepthHalfPctBid,
		DepthHalfPctAsk: m.DepthHalfPctAsk,
		Impact1Pct:      m.Impact1Pct,
	}
}

// nowFunc exists so tests can pin the snapshot timestamp. Production code
// never overrides it.
var nowFunc = time.Now
