// Package schedule triggers pipeline runs on a fixed interval.
package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/kalambet/feedsync/internal/pipeline"
)

// DefaultInterval matches the supplier's daily feed.
const DefaultInterval = 24 * time.Hour

// Runner performs one synchronization.
type Runner interface {
	Run(ctx context.Context, opts pipeline.Options) (*pipeline.Result, error)
}

// Scheduler calls Runner from a single goroutine, so at most one run is in
// flight at any time.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	logger   *slog.Logger
	after    func(time.Duration) <-chan time.Time
}

// New creates a Scheduler. If interval is <= 0, it defaults to 24h.
func New(runner Runner, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   slog.Default(),
		after:    time.After,
	}
}

// Interval returns the delay between the end of one run and the start of the
// next.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// Run triggers a run immediately, then once per interval until ctx is
// cancelled. Run failures are logged and do not stop the loop.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		s.RunOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-s.after(s.interval):
		}
	}
}

// RunOnce performs a single scheduled run and reports its outcome.
func (s *Scheduler) RunOnce(ctx context.Context) (pipeline.Outcome, error) {
	start := time.Now()
	res, err := s.runner.Run(ctx, pipeline.Options{})
	var outcome pipeline.Outcome
	if res != nil {
		outcome = res.Outcome
	}
	if err != nil {
		if ctx.Err() != nil {
			s.logger.Info("scheduled run interrupted", "error", err)
			return outcome, err
		}
		s.logger.Error("scheduled run failed", "outcome", outcome, "error", err)
		return outcome, err
	}
	s.logger.Info("scheduled run finished",
		"outcome", outcome,
		"duration", time.Since(start).Round(time.Millisecond),
		"next_in", s.interval,
	)
	return outcome, nil
}
