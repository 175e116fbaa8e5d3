package metrics

import (
	"math"
	"testing"

	"lobmirror/pkg/types"
)

func lvl(t *testing.T, p, s string) types.LevelQty {
	t.Helper()
	price, err := types.ParsePrice(p)
	if err != nil {
		t.Fatal(err)
	}
	size, err := types.ParseSize(s)
	if err != nil {
		t.Fatal(err)
	}
	return types.LevelQty{Price: price, Size: size}
}

func approxEqual(t *testing.T, got, want, tolerance float64) {
	t.Helper()
	if math.Abs(got-want) > tolerance {
		t.Errorf("got %v, want %v (tolerance %v)", got, want, tolerance)
	}
}

func TestScenarioFMetrics(t *testing.T) {
	t.Parallel()

	bids := []types.LevelQty{lvl(t, "100", "10"), lvl(t, "99", "20")}
	asks := []types.LevelQty{lvl(t, "101", "10"), lvl(t, "102", "20")}

	snap := Compute(bids, asks)

	if !snap.Available {
		t.Fatal("metrics should be available when both sides are non-empty")
	}
	approxEqual(t, snap.Imbalance, 1.0, 1e-9)
	approxEqual(t, snap.Pressure, 0.0, 1e-9)
	approxEqual(t, snap.SpreadBps, 99.5, 0.01)
	approxEqual(t, snap.VWAPBid, (100.0*10+99.0*20)/30.0, 1e-9)
	approxEqual(t, snap.VWAPAsk, (101.0*10+102.0*20)/30.0, 1e-9)
}

func TestComputeEmptySideUnavailable(t *testing.T) {
	t.Parallel()

	snap := Compute(nil, []types.LevelQty{lvl(t, "101", "1")})
	if snap.Available {
		t.Error("metrics should be unavailable when one side is empty")
	}
	if snap != (Snapshot{}) {
		t.Errorf("unavailable snapshot should be the zero value, got %+v", snap)
	}
}

func TestImbalanceSkewed(t *testing.T) {
	t.Parallel()

	bids := []types.LevelQty{lvl(t, "100", "30")}
	asks := []types.LevelQty{lvl(t, "101", "10")}

	snap := Compute(bids, asks)
	approxEqual(t, snap.Imbalance, 3.0, 1e-9)
	approxEqual(t, snap.Pressure, (3.0-1)/(3.0+1), 1e-9)
}

func TestDepthHalfPctExcludesFartherLevels(t *testing.T) {
	t.Parallel()

	bids := []types.LevelQty{lvl(t, "100", "10"), lvl(t, "50", "999")}
	asks := []types.LevelQty{lvl(t, "101", "10"), lvl(t, "200", "999")}

	snap := Compute(bids, asks)
	approxEqual(t, snap.DepthHalfPctBid, 10.0, 1e-9)
	approxEqual(t, snap.DepthHalfPctAsk, 10.0, 1e-9)
}

func TestImpact1PctWalksAskSide(t *testing.T) {
	t.Parallel()

	// total depth 100, 1% threshold = 1.0; first ask level alone (0.5) is
	// short, so impact should reach into the second level.
	bids := []types.LevelQty{lvl(t, "100", "50")}
	asks := []types.LevelQty{lvl(t, "101", "0.5"), lvl(t, "103", "49.5")}

	snap := Compute(bids, asks)
	approxEqual(t, snap.Impact1Pct, (103.0-101.0)/101.0, 1e-9)
}
