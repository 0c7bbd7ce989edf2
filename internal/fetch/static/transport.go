// Package static implements the lightweight HTTP transport using
// gocolly.
package static

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/venturescope/scraperd/internal/fetch"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration

	// RetryAfterDefault substitutes for a missing or unparsable
	// Retry-After header on 429 responses.
	RetryAfterDefault time.Duration
}

// Transport fetches pages over plain HTTP with a pooled Colly
// collector. It is cheap and fast but sees only server-rendered
// markup.
type Transport struct {
	cfg           Config
	log           *zap.Logger
	baseCollector *colly.Collector
}

// New builds a Transport.
func New(cfg Config, log *zap.Logger) *Transport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RetryAfterDefault <= 0 {
		cfg.RetryAfterDefault = 60 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	// Revisits must be allowed: the retry executor fetches the same
	// URL repeatedly and the collector is cloned per fetch.
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	c.WithTransport(newHTTPTransport())

	return &Transport{cfg: cfg, log: log, baseCollector: c}
}

// Name implements fetch.Transport.
func (t *Transport) Name() string { return fetch.TransportHTTP }

// Fetch executes a single HTTP GET.
func (t *Transport) Fetch(ctx context.Context, req fetch.Request) (*fetch.Result, error) {
	collector := t.baseCollector.Clone()
	if t.cfg.UserAgent != "" {
		collector.UserAgent = t.cfg.UserAgent
	}
	timeout := t.cfg.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	collector.SetRequestTimeout(timeout)

	start := time.Now()
	var (
		result   *fetch.Result
		fetchErr error
	)

	collector.OnResponse(func(r *colly.Response) {
		result = &fetch.Result{
			URL:        r.Request.URL.String(),
			HTML:       string(r.Body),
			StatusCode: r.StatusCode,
			Transport:  fetch.TransportHTTP,
			Elapsed:    time.Since(start),
			FetchedAt:  time.Now().UTC(),
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = t.mapError(req.URL, r, err)
	})

	visitErr := t.visit(ctx, collector, req.URL)
	switch {
	case fetchErr != nil:
		return nil, fetchErr
	case visitErr != nil:
		return nil, visitErr
	case result == nil:
		return nil, &fetch.TransportError{
			URL:       req.URL,
			Transport: fetch.TransportHTTP,
			Err:       fmt.Errorf("no response received"),
		}
	}
	return result, nil
}

// mapError turns a Colly failure into a tagged acquisition error.
func (t *Transport) mapError(url string, r *colly.Response, err error) error {
	status := 0
	if r != nil {
		status = r.StatusCode
	}

	if status == http.StatusTooManyRequests {
		wait := t.cfg.RetryAfterDefault
		if r.Headers != nil {
			if v := r.Headers.Get("Retry-After"); v != "" {
				if secs, perr := strconv.Atoi(v); perr == nil && secs >= 0 {
					wait = time.Duration(secs) * time.Second
				}
			}
		}
		t.log.Warn("server rate limited request",
			zap.String("url", url),
			zap.Duration("retry_after", wait))
		return &fetch.RateLimitedError{URL: url, Wait: wait}
	}

	return &fetch.TransportError{
		URL:        url,
		Transport:  fetch.TransportHTTP,
		StatusCode: status,
		Err:        err,
	}
}

// visit runs the collector without outliving the caller's context.
func (t *Transport) visit(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return &fetch.TransportError{
			URL:       url,
			Transport: fetch.TransportHTTP,
			Err:       fmt.Errorf("fetch canceled: %w", ctx.Err()),
		}
	case err := <-done:
		if err != nil {
			// OnError usually saw this first and mapped it; surface
			// the raw error only when it did not.
			return &fetch.TransportError{
				URL:       url,
				Transport: fetch.TransportHTTP,
				Err:       err,
			}
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
	}
}
