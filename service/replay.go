package service

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"fenrir/domain/engine"
	"fenrir/domain/orderbook"
	"fenrir/infra/sequence"
	"fenrir/infra/wal"
	"fenrir/snapshot"
)

// Replay rebuilds engine state on boot: restore the latest snapshot
// if one exists, then apply the WAL tail. Place records at or below
// the snapshot seq are already reflected in it and are skipped;
// cancels and modifies replay idempotently. Must run before listeners
// are attached and before traffic is accepted.
func Replay(
	walDir string,
	snapDir string,
	eng *engine.MatchingEngine,
	seqGen *sequence.Sequencer,
	log *slog.Logger,
) error {
	var snapSeq uint64
	if snapDir != "" {
		s, ok, err := snapshot.Load(snapDir)
		if err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
		if ok {
			snapshot.Restore(s, func(o *orderbook.Order) { eng.AddOrder(o) })
			snapSeq = s.Seq
			log.Info("snapshot restored", "orders", len(s.Orders), "seq", s.Seq)
		}
	}

	lastSeq, err := wal.Replay(walDir, func(rec *wal.Record) error {
		switch rec.Type {
		case wal.RecordPlace:
			if rec.Seq <= snapSeq {
				return nil
			}
			var p placePayload
			if err := json.Unmarshal(rec.Data, &p); err != nil {
				return fmt.Errorf("decode place %d: %w", rec.Seq, err)
			}
			eng.AddOrder(orderFromPlace(p))
		case wal.RecordCancel:
			var p cancelPayload
			if err := json.Unmarshal(rec.Data, &p); err != nil {
				return fmt.Errorf("decode cancel %d: %w", rec.Seq, err)
			}
			eng.CancelOrder(p.ID)
		case wal.RecordModify:
			var p modifyPayload
			if err := json.Unmarshal(rec.Data, &p); err != nil {
				return fmt.Errorf("decode modify %d: %w", rec.Seq, err)
			}
			eng.ModifyOrder(p.ID, p.Price, p.Qty)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if lastSeq < snapSeq {
		lastSeq = snapSeq
	}
	seqGen.Reset(lastSeq)
	log.Info("wal replay complete", "last_seq", lastSeq)
	return nil
}
