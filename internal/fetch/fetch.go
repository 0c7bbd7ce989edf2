// Package fetch coordinates page acquisition. A Coordinator picks
// between a lightweight HTTP transport and a headless rendering
// transport, runs the chosen one behind its own retry executor and
// circuit breaker, and falls back to the other transport once when the
// first fails. Host-level politeness is applied before every fetch.
package fetch

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// Transport names.
const (
	TransportHTTP     = "http"
	TransportHeadless = "headless"
)

// Request describes one page to acquire.
type Request struct {
	URL string

	// Transport forces a specific transport. Empty lets the
	// coordinator choose.
	Transport string

	// WaitSelector asks the rendering transport to wait for the given
	// selector before snapshotting the DOM. Best effort; ignored by
	// the HTTP transport.
	WaitSelector string

	// Timeout overrides the transport's default per-attempt timeout.
	Timeout time.Duration
}

// Result is a fetched page.
type Result struct {
	URL        string
	HTML       string
	StatusCode int
	Transport  string
	Attempts   int
	Elapsed    time.Duration
	FetchedAt  time.Time
}

// Transport retrieves a single page. Implementations must be safe for
// concurrent use.
type Transport interface {
	Name() string
	Fetch(ctx context.Context, req Request) (*Result, error)
}

// Clock supplies the package's notion of now.
type Clock interface {
	Now() time.Time
}

// hostOf extracts a lowercase hostname for throttling and heuristics.
func hostOf(rawURL string) string {
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return strings.ToLower(rawURL)
	}
	return strings.ToLower(u.Hostname())
}
