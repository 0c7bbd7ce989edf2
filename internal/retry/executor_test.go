package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingSleeper captures requested delays instead of sleeping.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	s.delays = append(s.delays, d)
	return nil
}

func (s *recordingSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}

type throttledErr struct{ wait time.Duration }

func (e *throttledErr) Error() string             { return "throttled" }
func (e *throttledErr) RetryAfter() time.Duration { return e.wait }

func newTestExecutor(p Policy, sleeper *recordingSleeper, opts ...Option) *Executor {
	opts = append(opts, WithLogger(zap.NewNop()))
	ex := New(p, opts...)
	ex.sleep = sleeper.sleep
	ex.mult = func() float64 { return 1 }
	return ex
}

func TestExecuteSucceedsFirstTry(t *testing.T) {
	t.Parallel()

	sleeper := &recordingSleeper{}
	ex := newTestExecutor(Policy{MaxAttempts: 3, InitialDelay: time.Second}, sleeper)

	calls := 0
	err := ex.Execute(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Empty(t, sleeper.recorded())
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	sleeper := &recordingSleeper{}
	ex := newTestExecutor(Policy{
		MaxAttempts:   5,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2,
	}, sleeper)

	calls := 0
	err := ex.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, sleeper.recorded())
}

func TestExecuteExhaustsAttemptBudget(t *testing.T) {
	t.Parallel()

	sleeper := &recordingSleeper{}
	ex := newTestExecutor(Policy{
		MaxAttempts:   4,
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2,
	}, sleeper)

	calls := 0
	boom := errors.New("still failing")
	err := ex.Execute(context.Background(), func(context.Context) error {
		calls++
		return boom
	})

	require.Equal(t, 4, calls)
	require.Len(t, sleeper.recorded(), 3)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 4, exhausted.Attempts)
	require.ErrorIs(t, err, boom)
}

func TestExecuteFatalStopsImmediately(t *testing.T) {
	t.Parallel()

	sleeper := &recordingSleeper{}
	fatal := errors.New("do not retry")
	ex := newTestExecutor(Policy{MaxAttempts: 5, InitialDelay: time.Millisecond}, sleeper,
		WithClassifier(func(err error) Class {
			if errors.Is(err, fatal) {
				return Fatal
			}
			return Retryable
		}))

	calls := 0
	err := ex.Execute(context.Background(), func(context.Context) error {
		calls++
		return fatal
	})
	require.ErrorIs(t, err, fatal)
	require.Equal(t, 1, calls)
	require.Empty(t, sleeper.recorded())

	var exhausted *ExhaustedError
	require.False(t, errors.As(err, &exhausted))
}

func TestExecuteCapsDelays(t *testing.T) {
	t.Parallel()

	sleeper := &recordingSleeper{}
	ex := newTestExecutor(Policy{
		MaxAttempts:   6,
		InitialDelay:  time.Second,
		MaxDelay:      3 * time.Second,
		BackoffFactor: 4,
	}, sleeper)

	err := ex.Execute(context.Background(), func(context.Context) error {
		return errors.New("transient")
	})
	require.Error(t, err)

	delays := sleeper.recorded()
	require.Len(t, delays, 5)
	for _, d := range delays {
		require.LessOrEqual(t, d, 3*time.Second)
	}
	require.Equal(t, time.Second, delays[0])
	require.Equal(t, 3*time.Second, delays[1])
}

func TestJitterMultBounds(t *testing.T) {
	t.Parallel()

	ex := New(Policy{MaxAttempts: 3, Jitter: true})
	for range 1000 {
		m := ex.jitterMult()
		require.GreaterOrEqual(t, m, 0.5)
		require.Less(t, m, 1.5)
	}
}

func TestExecuteHonorsMandatedWait(t *testing.T) {
	t.Parallel()

	sleeper := &recordingSleeper{}
	ex := newTestExecutor(Policy{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      time.Minute,
		BackoffFactor: 2,
	}, sleeper)

	calls := 0
	err := ex.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return &throttledErr{wait: 5 * time.Second}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)

	// Server wait first, then the policy backoff.
	require.Equal(t, []time.Duration{5 * time.Second, 100 * time.Millisecond}, sleeper.recorded())
}

func TestExecuteStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	sleeper := &recordingSleeper{}
	ex := newTestExecutor(Policy{MaxAttempts: 5, InitialDelay: time.Millisecond}, sleeper)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := ex.Execute(ctx, func(context.Context) error {
		calls++
		return errors.New("never seen")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, calls)
}

func TestExecuteStopsWhenCanceledMidFlight(t *testing.T) {
	t.Parallel()

	sleeper := &recordingSleeper{}
	ex := newTestExecutor(Policy{MaxAttempts: 5, InitialDelay: time.Millisecond}, sleeper)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	failure := errors.New("interrupted")
	err := ex.Execute(ctx, func(context.Context) error {
		calls++
		cancel()
		return failure
	})
	require.ErrorIs(t, err, failure)
	require.Equal(t, 1, calls)
	require.Empty(t, sleeper.recorded())
}

func TestDoReturnsValue(t *testing.T) {
	t.Parallel()

	sleeper := &recordingSleeper{}
	ex := newTestExecutor(Policy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
	}, sleeper)

	calls := 0
	got, err := Do(context.Background(), ex, func(context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("transient")
		}
		return "payload", nil
	})
	require.NoError(t, err)
	require.Equal(t, "payload", got)
	require.Equal(t, 2, calls)
}
