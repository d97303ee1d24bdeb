package snapshot

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"time"

	"fenrir/domain/engine"
)

const fileName = "snapshot.bin"

type Writer struct {
	Dir string
}

// Write cuts a snapshot of every resting order. seq is the sequencer
// position; replay resumes from it when the snapshot is newer than
// the WAL tail. The file is written to a temp name and renamed so a
// crash mid-write leaves the previous snapshot intact.
func (w *Writer) Write(seq uint64, eng *engine.MatchingEngine) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return err
	}

	s := Snapshot{
		Seq:     seq,
		Created: time.Now(),
		Orders:  make([]OrderEntry, 0, 1024),
	}
	for _, o := range eng.AllOrders() {
		s.Orders = append(s.Orders, OrderEntry{
			ID:        o.ID,
			Symbol:    o.Symbol,
			Side:      int(o.Side),
			Type:      int(o.Type),
			Price:     o.Price,
			StopPrice: o.StopPrice,
			Qty:       o.Qty,
			Filled:    o.Filled,
			UserID:    o.UserID,
			TIF:       int(o.TIF),
			Expiry:    o.Expiry,
			Timestamp: o.Timestamp,
		})
	}

	tmp := filepath.Join(w.Dir, fileName+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(&s); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(w.Dir, fileName))
}
