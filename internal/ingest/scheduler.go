package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Scheduler drives the ingestor on a fixed cadence. Cycles never overlap:
// the next cycle is scheduled only after the previous pass returns, so a
// single instance processes one cycle at a time.
type Scheduler struct {
	ing      *Ingestor
	interval time.Duration
	log      *slog.Logger
}

// NewScheduler creates a scheduler with the given poll interval.
func NewScheduler(ing *Ingestor, interval time.Duration) *Scheduler {
	return &Scheduler{
		ing:      ing,
		interval: interval,
		log:      slog.With("component", "scheduler"),
	}
}

// Run loops forever: cycle, sleep, repeat. A stop request takes effect
// between cycles; the in-flight file of the final cycle still reaches a
// terminal state before Run returns. Aborted cycles are logged and
// retried on the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("starting poll loop", "interval", s.interval.String())

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		stats, err := s.ing.RunCycle(ctx)
		switch {
		case errors.Is(err, ErrCycleAborted):
			s.log.Warn("cycle aborted, retrying next interval", "error", err)
		case err != nil:
			return err
		default:
			if stats.Claimed > 0 || stats.Failed > 0 {
				s.log.Info("cycle processed files",
					"claimed", stats.Claimed,
					"completed", stats.Completed,
					"failed", stats.Failed,
				)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.interval):
		}
	}
}
