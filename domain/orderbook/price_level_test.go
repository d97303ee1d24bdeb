package orderbook

import "testing"

func newRestingOrder(id uint64, qty int64) *Order {
	return &Order{ID: id, Side: Buy, Type: Limit, Price: 100, Qty: qty, Status: New}
}

func TestPriceLevelFIFO(t *testing.T) {
	lvl := &PriceLevel{Price: 100}
	a := newRestingOrder(1, 5)
	b := newRestingOrder(2, 3)
	c := newRestingOrder(3, 7)
	lvl.Enqueue(a)
	lvl.Enqueue(b)
	lvl.Enqueue(c)

	if lvl.TotalQty != 15 || lvl.OrderCount != 3 {
		t.Fatalf("aggregate mismatch: qty=%d count=%d", lvl.TotalQty, lvl.OrderCount)
	}
	if lvl.Front() != a {
		t.Error("front should be the oldest order")
	}
}

func TestPriceLevelMiddleRemoval(t *testing.T) {
	lvl := &PriceLevel{Price: 100}
	a := newRestingOrder(1, 5)
	b := newRestingOrder(2, 3)
	c := newRestingOrder(3, 7)
	lvl.Enqueue(a)
	lvl.Enqueue(b)
	lvl.Enqueue(c)

	lvl.Unlink(b)
	if lvl.TotalQty != 12 || lvl.OrderCount != 2 {
		t.Fatalf("aggregate after removal: qty=%d count=%d", lvl.TotalQty, lvl.OrderCount)
	}
	if lvl.Front() != a || lvl.Front().next != c {
		t.Error("links broken after middle removal")
	}
}

func TestPriceLevelFillAccounting(t *testing.T) {
	lvl := &PriceLevel{Price: 100}
	a := newRestingOrder(1, 10)
	lvl.Enqueue(a)

	lvl.Fill(a, 4)
	if a.Filled != 4 || lvl.TotalQty != 6 {
		t.Fatalf("fill accounting: filled=%d total=%d", a.Filled, lvl.TotalQty)
	}
	if lvl.TotalQty != a.Remaining() {
		t.Error("cached total must equal sum of remaining quantities")
	}

	// unlink after partial fill removes only the remainder
	lvl.Unlink(a)
	if lvl.TotalQty != 0 || !lvl.Empty() {
		t.Errorf("level not empty after unlink: qty=%d", lvl.TotalQty)
	}
}

func TestPriceLevelPartialRemainderEnqueue(t *testing.T) {
	lvl := &PriceLevel{Price: 100}
	o := newRestingOrder(1, 10)
	o.Filled = 6
	lvl.Enqueue(o)
	if lvl.TotalQty != 4 {
		t.Errorf("enqueue must add remaining, not original qty: got %d", lvl.TotalQty)
	}
}

func TestPriceLevelReduceKeepsPosition(t *testing.T) {
	lvl := &PriceLevel{Price: 100}
	a := newRestingOrder(1, 5)
	b := newRestingOrder(2, 5)
	lvl.Enqueue(a)
	lvl.Enqueue(b)

	lvl.Reduce(a, 3)
	if a.Qty != 3 || lvl.TotalQty != 8 {
		t.Fatalf("reduce accounting: qty=%d total=%d", a.Qty, lvl.TotalQty)
	}
	if lvl.Front() != a {
		t.Error("in-place reduce must keep FIFO position")
	}
}
