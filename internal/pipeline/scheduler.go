package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/venturescope/scraperd/internal/clock/system"
)

// runAller is the slice of Runner the scheduler drives.
type runAller interface {
	RunAll(ctx context.Context) Report
}

// Scheduler runs the pipeline on a fixed interval. A run with stage
// errors schedules the next attempt sooner.
type Scheduler struct {
	runner        runAller
	interval      time.Duration
	retryInterval time.Duration
	log           *zap.Logger
	clock         Clock
	sleep         func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	last    *Report
	nextRun time.Time
}

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerClock overrides the wall clock.
func WithSchedulerClock(c Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = c }
}

// WithSchedulerLogger sets the scheduler's logger.
func WithSchedulerLogger(log *zap.Logger) SchedulerOption {
	return func(s *Scheduler) { s.log = log }
}

// withSleeper substitutes the blocking wait in tests.
func withSleeper(sleep func(ctx context.Context, d time.Duration) error) SchedulerOption {
	return func(s *Scheduler) { s.sleep = sleep }
}

// NewScheduler builds a scheduler around the runner. Non-positive
// intervals fall back to 6h between runs and 1h after a failed run.
func NewScheduler(runner runAller, interval, retryInterval time.Duration, opts ...SchedulerOption) *Scheduler {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if retryInterval <= 0 {
		retryInterval = time.Hour
	}
	s := &Scheduler{
		runner:        runner,
		interval:      interval,
		retryInterval: retryInterval,
		log:           zap.NewNop(),
		clock:         system.New(),
		sleep:         sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes immediately, then keeps running on the configured
// interval until the context is canceled. The returned error is
// always the context's.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		report := s.runner.RunAll(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}

		wait := s.interval
		if report.Errs() > 0 {
			wait = s.retryInterval
			s.log.Warn("run had errors, rescheduling sooner",
				zap.Int("errors", report.Errs()),
				zap.Duration("retry_in", wait))
		}

		s.mu.Lock()
		s.last = &report
		s.nextRun = s.clock.Now().Add(wait)
		s.mu.Unlock()

		if err := s.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Status reports the last run and when the next one is due. The
// report is nil until the first run completes.
func (s *Scheduler) Status() (*Report, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.nextRun
}

// sleepContext waits for d or the context, whichever ends first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
