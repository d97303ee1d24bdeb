package snapshot

import (
	"testing"
	"time"

	"fenrir/domain/engine"
	"fenrir/domain/orderbook"
)

func addLimit(e *engine.MatchingEngine, id uint64, symbol string, side orderbook.Side, price, qty int64) {
	e.AddOrder(&orderbook.Order{
		ID: id, Symbol: symbol, Side: side, Type: orderbook.Limit,
		Price: price, Qty: qty, UserID: "u", Status: orderbook.New,
		Timestamp: time.Now(),
	})
}

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()

	src := engine.New()
	addLimit(src, 1, "BTC-USD", orderbook.Buy, 100, 5)
	addLimit(src, 2, "BTC-USD", orderbook.Sell, 105, 3)
	addLimit(src, 3, "ETH-USD", orderbook.Buy, 50, 2)

	w := &Writer{Dir: dir}
	if err := w.Write(3, src); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	s, ok, err := Load(dir)
	if err != nil || !ok {
		t.Fatalf("load snapshot: ok=%v err=%v", ok, err)
	}
	if s.Seq != 3 || len(s.Orders) != 3 {
		t.Fatalf("snapshot content: seq=%d orders=%d", s.Seq, len(s.Orders))
	}

	dst := engine.New()
	Restore(s, func(o *orderbook.Order) { dst.AddOrder(o) })

	if dst.BestBid("BTC-USD") != 100 || dst.BestAsk("BTC-USD") != 105 {
		t.Errorf("BTC book not restored: bid=%d ask=%d", dst.BestBid("BTC-USD"), dst.BestAsk("BTC-USD"))
	}
	if dst.BestBid("ETH-USD") != 50 {
		t.Errorf("ETH book not restored")
	}
	if dst.OrderCount() != 3 {
		t.Errorf("restored %d orders, want 3", dst.OrderCount())
	}
}

func TestSnapshotRestorePartialFill(t *testing.T) {
	dir := t.TempDir()

	src := engine.New()
	addLimit(src, 1, "BTC-USD", orderbook.Sell, 100, 5)
	addLimit(src, 2, "BTC-USD", orderbook.Buy, 100, 2) // fills 2 of order 1

	w := &Writer{Dir: dir}
	if err := w.Write(2, src); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, ok, err := Load(dir)
	if err != nil || !ok {
		t.Fatalf("load: %v", err)
	}

	dst := engine.New()
	Restore(s, func(o *orderbook.Order) { dst.AddOrder(o) })

	o, found := dst.GetOrder(1)
	if !found {
		t.Fatal("partially filled order must be restored")
	}
	if o.Filled != 2 || o.Remaining() != 3 || o.Status != orderbook.Partial {
		t.Fatalf("fill state not preserved: %+v", o)
	}
	if dst.AskDepth("BTC-USD", 100) != 3 {
		t.Errorf("restored depth must be the remainder, got %d", dst.AskDepth("BTC-USD", 100))
	}
}

func TestSnapshotMissingFile(t *testing.T) {
	_, ok, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("missing snapshot is not an error: %v", err)
	}
	if ok {
		t.Fatal("empty dir must report no snapshot")
	}
}
