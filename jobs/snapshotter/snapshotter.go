// Package snapshotter cuts periodic snapshots of resting orders and
// truncates WAL segments the snapshot has made redundant.
package snapshotter

import (
	"context"
	"log/slog"
	"time"

	"fenrir/domain/engine"
	"fenrir/infra/sequence"
	"fenrir/infra/wal"
	"fenrir/snapshot"
)

type Snapshotter struct {
	eng      *engine.MatchingEngine
	seq      *sequence.Sequencer
	wal      *wal.WAL
	writer   *snapshot.Writer
	interval time.Duration
	log      *slog.Logger
}

func New(
	eng *engine.MatchingEngine,
	seq *sequence.Sequencer,
	w *wal.WAL,
	dir string,
	interval time.Duration,
	log *slog.Logger,
) *Snapshotter {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Snapshotter{
		eng:      eng,
		seq:      seq,
		wal:      w,
		writer:   &snapshot.Writer{Dir: dir},
		interval: interval,
		log:      log,
	}
}

// Run snapshots until ctx is cancelled.
func (s *Snapshotter) Run(ctx context.Context) {
	s.log.Info("snapshotter started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.snapshotOnce()
		}
	}
}

func (s *Snapshotter) snapshotOnce() {
	seq := s.seq.Current()
	if err := s.writer.Write(seq, s.eng); err != nil {
		s.log.Error("snapshot write", "err", err)
		return
	}
	if err := s.wal.TruncateBefore(seq); err != nil {
		s.log.Warn("wal truncate", "err", err)
	}
	s.log.Info("snapshot written", "seq", seq)
}
