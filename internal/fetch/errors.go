package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/venturescope/scraperd/internal/breaker"
	"github.com/venturescope/scraperd/internal/retry"
)

// TransportError reports a failed transport attempt. A zero StatusCode
// means the request never produced an HTTP response.
type TransportError struct {
	URL        string
	Transport  string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s fetch %s: status %d", e.Transport, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s fetch %s: %v", e.Transport, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could plausibly succeed.
// Network-level failures and server errors qualify; other client
// errors do not.
func (e *TransportError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}

// RateLimitedError reports an HTTP 429. Wait carries the
// server-mandated pause, already defaulted when the Retry-After header
// was absent.
type RateLimitedError struct {
	URL  string
	Wait time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited fetching %s (retry after %s)", e.URL, e.Wait)
}

// RetryAfter exposes the mandated wait to the retry executor.
func (e *RateLimitedError) RetryAfter() time.Duration { return e.Wait }

// FetchFailedError reports that the chosen transport and its fallback
// both failed for a URL.
type FetchFailedError struct {
	URL      string
	Primary  error
	Fallback error
}

func (e *FetchFailedError) Error() string {
	return fmt.Sprintf("all transports failed for %s: primary: %v; fallback: %v",
		e.URL, e.Primary, e.Fallback)
}

func (e *FetchFailedError) Unwrap() []error { return []error{e.Primary, e.Fallback} }

// Classify maps acquisition errors onto retry classes. Breaker
// refusals and permanent client errors are fatal so the fallback
// transport gets its turn immediately.
func Classify(err error) retry.Class {
	var open *breaker.OpenError
	if errors.As(err, &open) {
		return retry.Fatal
	}
	var te *TransportError
	if errors.As(err, &te) && !te.Retryable() {
		return retry.Fatal
	}
	if errors.Is(err, context.Canceled) {
		return retry.Fatal
	}
	return retry.Retryable
}

// Countable reports whether an error should trip a transport's
// breaker. Refusals by the breaker itself and permanent client errors
// say nothing about upstream health, so they do not count.
func Countable(err error) bool {
	if err == nil {
		return false
	}
	var open *breaker.OpenError
	if errors.As(err, &open) {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) && !te.Retryable() {
		return false
	}
	return true
}
