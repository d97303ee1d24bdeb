package snapshot

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"sort"

	"fenrir/domain/orderbook"
)

// Load reads the snapshot if one exists. The boolean reports whether
// a snapshot was found; a missing file is not an error.
func Load(dir string) (Snapshot, bool, error) {
	f, err := os.Open(filepath.Join(dir, fileName))
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, err
	}
	defer f.Close()

	var s Snapshot
	if err := gob.NewDecoder(f).Decode(&s); err != nil {
		return Snapshot{}, false, err
	}
	return s, true, nil
}

// Restore reinstates snapshot orders through restore, oldest first.
// A snapshot never contains a crossed book, so reinstating in
// submission order reproduces the resting state without producing
// trades.
func Restore(s Snapshot, restore func(*orderbook.Order)) {
	entries := append([]OrderEntry(nil), s.Orders...)
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	for _, e := range entries {
		o := &orderbook.Order{
			ID:        e.ID,
			Symbol:    e.Symbol,
			Side:      orderbook.Side(e.Side),
			Type:      orderbook.OrderType(e.Type),
			Price:     e.Price,
			StopPrice: e.StopPrice,
			Qty:       e.Qty,
			Filled:    e.Filled,
			Status:    orderbook.New,
			UserID:    e.UserID,
			TIF:       orderbook.TimeInForce(e.TIF),
			Expiry:    e.Expiry,
			Timestamp: e.Timestamp,
		}
		if e.Filled > 0 {
			o.Status = orderbook.Partial
		}
		restore(o)
	}
}
