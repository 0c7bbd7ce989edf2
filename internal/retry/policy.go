// Package retry provides bounded retries with exponential backoff and
// jitter. An Executor owns a Policy plus an error Classifier and keeps
// no per-call state, so a single instance can guard many goroutines.
package retry

import (
	"context"
	"errors"
	"math"
	"time"
)

// Class buckets an error for retry purposes.
type Class int

const (
	// Retryable errors are worth another attempt after a backoff.
	Retryable Class = iota
	// Fatal errors abort the attempt loop immediately.
	Fatal
)

// Classifier maps an error to its retry class.
type Classifier func(error) Class

// DefaultClassifier retries everything except caller cancellation.
func DefaultClassifier(err error) Class {
	if errors.Is(err, context.Canceled) {
		return Fatal
	}
	return Retryable
}

// Policy describes the attempt budget and the backoff curve.
type Policy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
}

// normalized fills zero values with usable defaults.
func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = 2
	}
	return p
}

// backoff returns the delay after the given 1-based failed attempt,
// scaled by mult. The cap applies after scaling, so the returned delay
// never exceeds MaxDelay.
func (p Policy) backoff(attempt int, mult float64) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(attempt-1)) * mult
	if ceil := float64(p.MaxDelay); d > ceil {
		d = ceil
	}
	return time.Duration(d)
}
