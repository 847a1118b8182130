package reindex

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler re-runs a reindex on a fixed interval until its context ends.
type Scheduler struct {
	reindexer *Reindexer
	interval  time.Duration
	logger    *slog.Logger
}

// NewScheduler creates a Scheduler. If interval is <= 0, it defaults to 24h.
func NewScheduler(r *Reindexer, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Scheduler{reindexer: r, interval: interval, logger: slog.Default()}
}

// Run waits one interval, reindexes, and repeats until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.interval):
		}

		if ctx.Err() != nil {
			return
		}
		out := s.RunOnce(ctx)
		if out.Status == StatusError {
			s.logger.Error("scheduled reindex failed", "message", out.Message)
		}
	}
}

// RunOnce performs a single scheduled reindex.
func (s *Scheduler) RunOnce(ctx context.Context) Outcome {
	return s.reindexer.Run(ctx)
}
