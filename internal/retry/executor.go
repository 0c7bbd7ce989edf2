package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/venturescope/scraperd/internal/metrics"
)

// ExhaustedError reports that every attempt failed. It wraps the last
// attempt's error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// delayer is implemented by errors carrying a server-mandated wait,
// such as an HTTP 429 with a Retry-After header. The wait is honored
// in addition to the policy backoff and does not change attempt
// accounting.
type delayer interface {
	RetryAfter() time.Duration
}

func mandatedWait(err error) time.Duration {
	var d delayer
	if errors.As(err, &d) {
		return d.RetryAfter()
	}
	return 0
}

// Executor runs operations under a Policy. It is safe for concurrent
// use.
type Executor struct {
	policy   Policy
	classify Classifier
	name     string
	log      *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	mult     func() float64
}

// Option customizes an Executor.
type Option func(*Executor)

// WithClassifier overrides the default error classification.
func WithClassifier(c Classifier) Option {
	return func(e *Executor) { e.classify = c }
}

// WithLogger attaches a logger for per-retry warnings.
func WithLogger(log *zap.Logger) Option {
	return func(e *Executor) { e.log = log }
}

// WithName labels the executor in logs and metrics.
func WithName(name string) Option {
	return func(e *Executor) { e.name = name }
}

// WithSleeper replaces the delay function. Tests use it to observe
// sleeps instead of taking them.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = sleep }
}

// New constructs an Executor for the given policy.
func New(policy Policy, opts ...Option) *Executor {
	e := &Executor{
		policy:   policy.normalized(),
		classify: DefaultClassifier,
		name:     "operation",
		log:      zap.NewNop(),
		sleep:    sleepContext,
	}
	e.mult = e.jitterMult
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// jitterMult draws a multiplier uniform in [0.5, 1.5), or 1 when
// jitter is disabled.
func (e *Executor) jitterMult() float64 {
	if !e.policy.Jitter {
		return 1
	}
	return 0.5 + rand.Float64()
}

// Execute invokes op until it succeeds, a fatal error occurs, the
// context ends, or the attempt budget runs out. Exhaustion returns an
// ExhaustedError wrapping the final attempt's error.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) error {
	var last error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = op(ctx)
		if last == nil {
			return nil
		}
		if ctx.Err() != nil {
			return last
		}
		if e.classify(last) == Fatal {
			return last
		}
		if attempt == e.policy.MaxAttempts {
			break
		}
		if wait := mandatedWait(last); wait > 0 {
			e.log.Warn("honoring server retry-after",
				zap.String("op", e.name),
				zap.Duration("wait", wait))
			if err := e.sleep(ctx, wait); err != nil {
				return err
			}
		}
		delay := e.policy.backoff(attempt, e.mult())
		e.log.Warn("retrying after failure",
			zap.String("op", e.name),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(last))
		metrics.ObserveRetry(e.name)
		if err := e.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return &ExhaustedError{Attempts: e.policy.MaxAttempts, Err: last}
}

// Do runs op under ex and returns its value with Execute's semantics.
func Do[T any](ctx context.Context, ex *Executor, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := ex.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// sleepContext waits for d or until ctx ends, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
