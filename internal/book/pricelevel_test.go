package book

import (
	"errors"
	"testing"

	"lobmirror/pkg/types"
)

func TestPriceLevelAddAndTotalSize(t *testing.T) {
	t.Parallel()

	lvl := NewPriceLevel(100)
	if err := lvl.Add(NewOrder("a", types.Buy, 100, 5, 0)); err != nil {
		t.Fatal(err)
	}
	if err := lvl.Add(NewOrder("b", types.Buy, 100, 3, 0)); err != nil {
		t.Fatal(err)
	}
	if lvl.TotalSize() != 8 {
		t.Errorf("TotalSize() = %v, want 8", lvl.TotalSize())
	}
	if lvl.OrderCount() != 2 {
		t.Errorf("OrderCount() = %v, want 2", lvl.OrderCount())
	}
}

func TestPriceLevelAddPriceMismatch(t *testing.T) {
	t.Parallel()

	lvl := NewPriceLevel(100)
	err := lvl.Add(NewOrder("a", types.Buy, 101, 5, 0))
	if !errors.Is(err, ErrPriceMismatch) {
		t.Fatalf("err = %v, want ErrPriceMismatch", err)
	}
}

func TestPriceLevelAddDuplicate(t *testing.T) {
	t.Parallel()

	lvl := NewPriceLevel(100)
	if err := lvl.Add(NewOrder("a", types.Buy, 100, 5, 0)); err != nil {
		t.Fatal(err)
	}
	err := lvl.Add(NewOrder("a", types.Buy, 100, 1, 0))
	if !errors.Is(err, ErrOrderExists) {
		t.Fatalf("err = %v, want ErrOrderExists", err)
	}
}

func TestPriceLevelRemove(t *testing.T) {
	t.Parallel()

	lvl := NewPriceLevel(100)
	_ = lvl.Add(NewOrder("a", types.Buy, 100, 5, 0))
	_ = lvl.Add(NewOrder("b", types.Buy, 100, 3, 0))

	o, err := lvl.Remove("a")
	if err != nil {
		t.Fatal(err)
	}
	if o.ID() != "a" {
		t.Errorf("Remove returned order %q, want a", o.ID())
	}
	if lvl.TotalSize() != 3 {
		t.Errorf("TotalSize() = %v, want 3", lvl.TotalSize())
	}
	if lvl.IsEmpty() {
		t.Error("level should not be empty, order b remains")
	}
}

func TestPriceLevelRemoveNotFound(t *testing.T) {
	t.Parallel()

	lvl := NewPriceLevel(100)
	if _, err := lvl.Remove("nope"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("err = %v, want ErrOrderNotFound", err)
	}
}

func TestPriceLevelUpdateSizeShrink(t *testing.T) {
	t.Parallel()

	lvl := NewPriceLevel(100)
	_ = lvl.Add(NewOrder("a", types.Buy, 100, 10, 0))

	removed, err := lvl.UpdateSize("a", 4)
	if err != nil {
		t.Fatal(err)
	}
	if removed {
		t.Error("UpdateSize should not report removed for a positive size")
	}
	if lvl.TotalSize() != 4 {
		t.Errorf("TotalSize() = %v, want 4", lvl.TotalSize())
	}
}

func TestPriceLevelUpdateSizeToZeroRemoves(t *testing.T) {
	t.Parallel()

	lvl := NewPriceLevel(100)
	_ = lvl.Add(NewOrder("a", types.Buy, 100, 10, 0))

	removed, err := lvl.UpdateSize("a", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !removed {
		t.Error("UpdateSize(id, 0) should report removed")
	}
	if !lvl.IsEmpty() {
		t.Error("level should be empty after zeroing its only order")
	}
}

func TestPriceLevelOrdersFIFO(t *testing.T) {
	t.Parallel()

	lvl := NewPriceLevel(100)
	_ = lvl.Add(NewOrder("first", types.Buy, 100, 1, 0))
	_ = lvl.Add(NewOrder("second", types.Buy, 100, 1, 0))
	_ = lvl.Add(NewOrder("third", types.Buy, 100, 1, 0))

	orders := lvl.Orders()
	if len(orders) != 3 {
		t.Fatalf("len(Orders()) = %d, want 3", len(orders))
	}
	want := []string{"first", "second", "third"}
	for i, o := range orders {
		if o.ID() != want[i] {
			t.Errorf("Orders()[%d].ID() = %q, want %q", i, o.ID(), want[i])
		}
	}
}
