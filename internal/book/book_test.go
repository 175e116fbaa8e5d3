package book

import (
	"testing"

	"lobmirror/pkg/types"
)

func price(s string) types.Price {
	p, err := types.ParsePrice(s)
	if err != nil {
		panic(err)
	}
	return p
}

func size(s string) types.Size {
	sz, err := types.ParseSize(s)
	if err != nil {
		panic(err)
	}
	return sz
}

func newScenarioABook(t *testing.T) *OrderBook {
	t.Helper()
	b := New("BTC-USD")
	if !b.AddOrder(NewOrder("b1", types.Buy, price("100.0"), size("1.5"), 0)) {
		t.Fatal("add b1 failed")
	}
	if !b.AddOrder(NewOrder("b2", types.Buy, price("99.0"), size("2.5"), 0)) {
		t.Fatal("add b2 failed")
	}
	if !b.AddOrder(NewOrder("a1", types.Sell, price("101.0"), size("1.0"), 0)) {
		t.Fatal("add a1 failed")
	}
	if !b.AddOrder(NewOrder("a2", types.Sell, price("102.0"), size("2.0"), 0)) {
		t.Fatal("add a2 failed")
	}
	return b
}

func TestScenarioABasicAddBest(t *testing.T) {
	t.Parallel()
	b := newScenarioABook(t)

	bb, ok := b.BestBid()
	if !ok || bb != price("100.0") {
		t.Errorf("BestBid() = %v, %v; want 100.0, true", bb, ok)
	}
	ba, ok := b.BestAsk()
	if !ok || ba != price("101.0") {
		t.Errorf("BestAsk() = %v, %v; want 101.0, true", ba, ok)
	}
	if got := b.Spread(); got != price("1.0") {
		t.Errorf("Spread() = %v, want 1.0", got)
	}
	if got := b.Midpoint(); got != 100.5 {
		t.Errorf("Midpoint() = %v, want 100.5", got)
	}

	bids := b.BidLevels(10)
	wantBids := []types.LevelQty{{Price: price("100.0"), Size: size("1.5")}, {Price: price("99.0"), Size: size("2.5")}}
	if len(bids) != len(wantBids) {
		t.Fatalf("BidLevels(10) = %+v, want %+v", bids, wantBids)
	}
	for i := range wantBids {
		if bids[i] != wantBids[i] {
			t.Errorf("BidLevels(10)[%d] = %+v, want %+v", i, bids[i], wantBids[i])
		}
	}

	asks := b.AskLevels(10)
	wantAsks := []types.LevelQty{{Price: price("101.0"), Size: size("1.0")}, {Price: price("102.0"), Size: size("2.0")}}
	for i := range wantAsks {
		if asks[i] != wantAsks[i] {
			t.Errorf("AskLevels(10)[%d] = %+v, want %+v", i, asks[i], wantAsks[i])
		}
	}
}

func TestScenarioBMatchPartialFill(t *testing.T) {
	t.Parallel()
	b := newScenarioABook(t)

	if !b.ApplyL3(types.L3Event{Type: types.EventMatch, OrderID: "b1", Size: size("0.5")}) {
		t.Fatal("match b1 0.5 failed")
	}
	o, ok := b.GetOrder("b1")
	if !ok {
		t.Fatal("b1 should still be resting")
	}
	if o.Size() != size("1.0") {
		t.Errorf("b1.Size() = %v, want 1.0", o.Size())
	}
	bids := b.BidLevels(1)
	if len(bids) != 1 || bids[0] != (types.LevelQty{Price: price("100.0"), Size: size("1.0")}) {
		t.Errorf("BidLevels(1) = %+v", bids)
	}
}

func TestScenarioCMatchFullFill(t *testing.T) {
	t.Parallel()
	b := newScenarioABook(t)

	if !b.ApplyL3(types.L3Event{Type: types.EventMatch, OrderID: "a1", Size: size("1.0")}) {
		t.Fatal("match a1 1.0 failed")
	}
	if _, ok := b.GetOrder("a1"); ok {
		t.Error("a1 should be removed after full fill")
	}
	ba, ok := b.BestAsk()
	if !ok || ba != price("102.0") {
		t.Errorf("BestAsk() = %v, %v; want 102.0, true", ba, ok)
	}
	if got := b.AskLevelCount(); got != 1 {
		t.Errorf("AskLevelCount() = %d, want 1", got)
	}
}

func TestScenarioDL2Delete(t *testing.T) {
	t.Parallel()
	b := newScenarioABook(t)

	if !b.ApplyL2(types.L2Event{Side: types.Buy, Price: price("100.0"), Size: 0}) {
		t.Fatal("l2 delete failed")
	}
	bb, ok := b.BestBid()
	if !ok || bb != price("99.0") {
		t.Errorf("BestBid() = %v, %v; want 99.0, true", bb, ok)
	}
}

func TestScenarioESnapshotResync(t *testing.T) {
	t.Parallel()
	b := newScenarioABook(t)

	b.Clear()
	b.ApplySnapshot(
		[]types.LevelQty{{Price: price("50"), Size: size("1")}},
		[]types.LevelQty{{Price: price("60"), Size: size("1")}},
	)

	if got := b.OrderCount(); got != 2 {
		t.Errorf("OrderCount() = %d, want 2", got)
	}
	bb, ok := b.BestBid()
	if !ok || bb != price("50") {
		t.Errorf("BestBid() = %v, %v; want 50, true", bb, ok)
	}
	ba, ok := b.BestAsk()
	if !ok || ba != price("60") {
		t.Errorf("BestAsk() = %v, %v; want 60, true", ba, ok)
	}
	if _, ok := b.GetOrder("b1"); ok {
		t.Error("b1 from before the resync should not be observable")
	}
}

func TestAddOrderDuplicateID(t *testing.T) {
	t.Parallel()
	b := New("BTC-USD")
	if !b.AddOrder(NewOrder("x", types.Buy, price("1"), size("1"), 0)) {
		t.Fatal("first add should succeed")
	}
	if b.AddOrder(NewOrder("x", types.Buy, price("1"), size("1"), 0)) {
		t.Error("duplicate id should fail")
	}
}

func TestRemoveUnknownID(t *testing.T) {
	t.Parallel()
	b := New("BTC-USD")
	if b.RemoveOrder("nope") {
		t.Error("removing an unknown id should report false")
	}
}

func TestModifyToZeroRemoves(t *testing.T) {
	t.Parallel()
	b := New("BTC-USD")
	b.AddOrder(NewOrder("x", types.Buy, price("1"), size("5"), 0))
	if !b.ModifyOrder("x", 0) {
		t.Fatal("modify to zero should succeed")
	}
	if _, ok := b.GetOrder("x"); ok {
		t.Error("order should be gone after modify to zero")
	}
	if b.BidLevelCount() != 0 {
		t.Error("level should be evicted once its only order is gone")
	}
}

func TestApplyL3UnknownMakerOnMatch(t *testing.T) {
	t.Parallel()
	b := New("BTC-USD")
	if b.ApplyL3(types.L3Event{Type: types.EventMatch, OrderID: "ghost", Size: size("1")}) {
		t.Error("match against an unknown maker should report false")
	}
	if b.UnknownMakerCount() != 1 {
		t.Errorf("UnknownMakerCount() = %d, want 1", b.UnknownMakerCount())
	}
}

func TestApplyL3DoneUnknownID(t *testing.T) {
	t.Parallel()
	b := New("BTC-USD")
	if b.ApplyL3(types.L3Event{Type: types.EventDone, OrderID: "ghost"}) {
		t.Error("done on an unknown id should report false")
	}
}

func TestCrossedBookTriggersResync(t *testing.T) {
	t.Parallel()
	b := New("BTC-USD")
	var reason error
	b.SetResyncCallback(func(symbol string, r error) { reason = r })

	b.AddOrder(NewOrder("bid", types.Buy, price("100"), size("1"), 0))
	b.AddOrder(NewOrder("ask", types.Sell, price("90"), size("1"), 0)) // crosses: bid 100 >= ask 90

	if b.OrderCount() != 0 {
		t.Errorf("OrderCount() = %d, want 0 after soft resync", b.OrderCount())
	}
	if b.ResyncCount() != 1 {
		t.Errorf("ResyncCount() = %d, want 1", b.ResyncCount())
	}
	if reason == nil {
		t.Error("resync callback should have been invoked with a reason")
	}
}

func TestInvariantOrderCountMatchesLevels(t *testing.T) {
	t.Parallel()
	b := newScenarioABook(t)

	sum := 0
	for _, lvl := range b.bids {
		sum += lvl.OrderCount()
	}
	for _, lvl := range b.asks {
		sum += lvl.OrderCount()
	}
	if sum != b.OrderCount() {
		t.Errorf("sum of level order counts = %d, OrderCount() = %d", sum, b.OrderCount())
	}
}

func TestInvariantEmptyLevelsNeverObservable(t *testing.T) {
	t.Parallel()
	b := New("BTC-USD")
	b.AddOrder(NewOrder("a", types.Buy, price("1"), size("1"), 0))
	b.RemoveOrder("a")

	if b.BidLevelCount() != 0 {
		t.Errorf("BidLevelCount() = %d, want 0", b.BidLevelCount())
	}
	if _, ok := b.bids[price("1")]; ok {
		t.Error("empty level should have been evicted from the map")
	}
}

func TestRoundTripOpenThenDoneIsIdempotent(t *testing.T) {
	t.Parallel()
	b := New("BTC-USD")
	before := b.OrderCount()

	b.ApplyL3(types.L3Event{Type: types.EventOpen, OrderID: "x", Side: types.Buy, Price: price("1"), Size: size("1")})
	b.ApplyL3(types.L3Event{Type: types.EventDone, OrderID: "x"})

	if after := b.OrderCount(); after != before {
		t.Errorf("OrderCount() after open+done = %d, want %d", after, before)
	}
	if b.BidLevelCount() != 0 {
		t.Error("level should not survive an open+done round trip")
	}
}

func TestSnapshotReapplyIsNoop(t *testing.T) {
	t.Parallel()
	b := New("BTC-USD")
	bids := []types.LevelQty{{Price: price("100"), Size: size("1")}}
	asks := []types.LevelQty{{Price: price("101"), Size: size("1")}}

	b.ApplySnapshot(bids, asks)
	firstBids, firstAsks, _ := b.Snapshot(10)

	b.ApplySnapshot(bids, asks)
	secondBids, secondAsks, _ := b.Snapshot(10)

	if len(firstBids) != len(secondBids) || firstBids[0] != secondBids[0] {
		t.Errorf("bids differ across idempotent re-snapshot: %+v vs %+v", firstBids, secondBids)
	}
	if len(firstAsks) != len(secondAsks) || firstAsks[0] != secondAsks[0] {
		t.Errorf("asks differ across idempotent re-snapshot: %+v vs %+v", firstAsks, secondAsks)
	}
}

func TestApplyL2ReplacesLevelSize(t *testing.T) {
	t.Parallel()
	b := New("BTC-USD")
	b.ApplyL2(types.L2Event{Side: types.Sell, Price: price("100"), Size: size("5")})
	b.ApplyL2(types.L2Event{Side: types.Sell, Price: price("100"), Size: size("8")})

	asks := b.AskLevels(1)
	if len(asks) != 1 || asks[0].Size != size("8") {
		t.Errorf("AskLevels(1) = %+v, want size 8", asks)
	}
}

func TestSequenceBumpsOnMutation(t *testing.T) {
	t.Parallel()
	b := New("BTC-USD")
	s0 := b.Sequence()
	b.AddOrder(NewOrder("a", types.Buy, price("1"), size("1"), 0))
	if b.Sequence() == s0 {
		t.Error("Sequence() should advance after a mutation")
	}
}

func TestUpdateCallbackInvokedOnce(t *testing.T) {
	t.Parallel()
	b := New("BTC-USD")
	calls := 0
	b.SetUpdateCallback(func(symbol string) { calls++ })

	b.AddOrder(NewOrder("a", types.Buy, price("1"), size("1"), 0))
	if calls != 1 {
		t.Errorf("callback invoked %d times, want 1", calls)
	}
}
