// Package expiry runs the periodic expiry sweep. The sweep is
// cooperative with normal order flow: it goes through the engine's
// public cancel path and takes no locks of its own.
package expiry

import (
	"context"
	"log/slog"
	"time"
)

// Canceller is the slice of the order service the sweeper needs.
type Canceller interface {
	CancelExpired() int
}

type Sweeper struct {
	svc      Canceller
	interval time.Duration
	log      *slog.Logger
}

// New creates a sweeper. A zero interval defaults to 5 seconds.
func New(svc Canceller, interval time.Duration, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Sweeper{svc: svc, interval: interval, log: log}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info("expiry sweeper started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.svc.CancelExpired()
		}
	}
}
