// Package snapshot persists the resting orders of every book so a
// restart can skip replaying the whole WAL. The snapshot stores only
// open and partially filled orders; trade history is not part of it.
// After a restore, only the trades that WAL-tail orders produce again
// on replay reappear.
package snapshot

import "time"

type Snapshot struct {
	Seq     uint64 // last order id issued when the snapshot was cut
	Created time.Time
	Orders  []OrderEntry
}

type OrderEntry struct {
	ID        uint64
	Symbol    string
	Side      int
	Type      int
	Price     int64
	StopPrice int64
	Qty       int64
	Filled    int64
	UserID    string
	TIF       int
	Expiry    int64
	Timestamp time.Time
}
