// Package breaker implements a circuit breaker that trips after a run
// of countable failures and refuses calls until a cooldown elapses,
// then admits traffic again through a half-open probe.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/venturescope/scraperd/internal/clock/system"
	"github.com/venturescope/scraperd/internal/metrics"
)

// State is the breaker's position in its lifecycle.
type State int

const (
	// Closed admits all calls.
	Closed State = iota
	// HalfOpen admits calls while the last cooldown's probe settles.
	HalfOpen
	// Open refuses calls until the cooldown elapses.
	Open
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case HalfOpen:
		return "half-open"
	case Open:
		return "open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// OpenError is returned when the breaker refuses a call without
// invoking the operation.
type OpenError struct {
	Name        string
	LastFailure time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit %q open since %s", e.Name, e.LastFailure.UTC().Format(time.RFC3339))
}

// Clock supplies the breaker's notion of now.
type Clock interface {
	Now() time.Time
}

// Status is a point-in-time snapshot of a breaker.
type Status struct {
	Name        string    `json:"name"`
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure,omitzero"`
}

// Breaker guards one failure domain. All state transitions happen
// under a single mutex so concurrent callers cannot lose counts or
// trip the threshold twice.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	countable func(error) bool
	clock     Clock
	log       *zap.Logger

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
}

// Option customizes a Breaker.
type Option func(*Breaker)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(b *Breaker) { b.clock = c }
}

// WithLogger attaches a logger for transition events.
func WithLogger(log *zap.Logger) Option {
	return func(b *Breaker) { b.log = log }
}

// WithCountable restricts which errors count toward the threshold.
// Errors outside the filter propagate without touching breaker state.
func WithCountable(f func(error) bool) Option {
	return func(b *Breaker) { b.countable = f }
}

// New constructs a Breaker that opens after threshold countable
// failures and stays open for cooldown.
func New(name string, threshold int, cooldown time.Duration, opts ...Option) *Breaker {
	b := &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		countable: func(err error) bool { return err != nil },
		clock:     system.New(),
		log:       zap.NewNop(),
	}
	if b.threshold < 1 {
		b.threshold = 1
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Do runs op through the breaker. While open and inside the cooldown
// it returns an OpenError without invoking op. The first call after
// the cooldown flips the breaker half-open and proceeds as a probe;
// its success closes the circuit, further countable failures re-trip
// it.
func (b *Breaker) Do(ctx context.Context, op func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := op(ctx)
	b.record(err)
	return err
}

// admit decides whether a call may proceed.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Open {
		return nil
	}
	if b.clock.Now().Sub(b.lastFailure) < b.cooldown {
		return &OpenError{Name: b.name, LastFailure: b.lastFailure}
	}
	b.transition(HalfOpen)
	b.failures = 0
	return nil
}

// record folds an operation result into breaker state.
func (b *Breaker) record(err error) {
	if err == nil {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.failures = 0
		b.lastFailure = time.Time{}
		if b.state != Closed {
			b.transition(Closed)
		}
		return
	}
	if !b.countable(err) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = b.clock.Now()
	if b.failures >= b.threshold && b.state != Open {
		b.transition(Open)
	}
}

// transition must be called with the mutex held.
func (b *Breaker) transition(next State) {
	b.log.Warn("circuit breaker transition",
		zap.String("name", b.name),
		zap.String("from", b.state.String()),
		zap.String("to", next.String()),
		zap.Int("failures", b.failures))
	b.state = next
	metrics.SetBreakerState(b.name, float64(next))
	metrics.ObserveBreakerTransition(b.name, next.String())
}

// Status reports the current state and failure count.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Name:        b.name,
		State:       b.state.String(),
		Failures:    b.failures,
		LastFailure: b.lastFailure,
	}
}
