package matching

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Scheduler defaults.
const (
	DefaultInterval    = 30 * time.Second
	DefaultSettle      = time.Second
	DefaultMaxFailures = 5
)

// Scheduler runs passes on a fixed cadence and shortly after the queue
// reports new members. Bursts of enqueues collapse into one pass.
type Scheduler struct {
	engine      *Engine
	interval    time.Duration
	settle      time.Duration
	maxFailures int
	onPass      func(PassResult)

	failures int
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithInterval sets the periodic pass cadence.
func WithInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSettle sets how long to wait after a change signal before passing,
// so users enqueued together are matched together.
func WithSettle(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d >= 0 {
			s.settle = d
		}
	}
}

// WithMaxFailures sets how many consecutive failed passes stop Run.
func WithMaxFailures(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxFailures = n
		}
	}
}

// WithPassHook is called after every pass that drained at least one user.
func WithPassHook(fn func(PassResult)) SchedulerOption {
	return func(s *Scheduler) { s.onPass = fn }
}

// NewScheduler creates a scheduler for engine.
func NewScheduler(engine *Engine, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		engine:      engine,
		interval:    DefaultInterval,
		settle:      DefaultSettle,
		maxFailures: DefaultMaxFailures,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run triggers passes until ctx is cancelled. A failed pass is logged and
// retried on the next trigger; after the configured number of consecutive
// failures Run returns the last error so the process stops.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	changed := s.engine.Queue().Changed()
	slog.Info("matching scheduler started", "interval", s.interval.String(), "settle", s.settle.String())

	for {
		select {
		case <-ctx.Done():
			slog.Info("matching scheduler stopped")
			return nil
		case <-ticker.C:
		case <-changed:
			if s.settle > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(s.settle):
				}
			}
		}
		if err := s.pass(ctx); err != nil {
			return err
		}
	}
}

func (s *Scheduler) pass(ctx context.Context) error {
	res, err := s.engine.Pass(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		s.failures++
		slog.Error("matching pass failed", "consecutive_failures", s.failures, "error", err)
		if s.failures >= s.maxFailures {
			return fmt.Errorf("matching scheduler: %d consecutive failed passes: %w", s.failures, err)
		}
		return nil
	}
	s.failures = 0
	if res.Drained > 0 && s.onPass != nil {
		s.onPass(res)
	}
	return nil
}
