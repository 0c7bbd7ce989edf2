// Package headless implements the rendering transport on top of
// chromedp and headless Chrome.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/venturescope/scraperd/internal/fetch"
)

// Config controls the rendering transport.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration

	// WaitSelectorTimeout bounds how long a requested selector may
	// take to appear before the render proceeds without it.
	WaitSelectorTimeout time.Duration

	// SettleDelay is a short pause after document ready so late
	// scripts can finish painting.
	SettleDelay time.Duration

	// RetryAfterDefault substitutes for a missing Retry-After header
	// on 429 responses.
	RetryAfterDefault time.Duration
}

// Transport renders pages in headless Chrome and snapshots the DOM
// after scripts ran. Tabs share one browser process; MaxParallel
// bounds concurrent renders.
type Transport struct {
	cfg         Config
	log         *zap.Logger
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a Transport backed by a shared exec allocator.
func New(cfg Config, log *zap.Logger) (*Transport, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.WaitSelectorTimeout <= 0 {
		cfg.WaitSelectorTimeout = 10 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 500 * time.Millisecond
	}
	if cfg.RetryAfterDefault <= 0 {
		cfg.RetryAfterDefault = 60 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Transport{
		cfg:         cfg,
		log:         log,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close tears down the browser allocator.
func (t *Transport) Close() {
	t.allocCancel()
}

// Name implements fetch.Transport.
func (t *Transport) Name() string { return fetch.TransportHeadless }

// Fetch renders one page and returns the post-script DOM.
func (t *Transport) Fetch(ctx context.Context, req fetch.Request) (*fetch.Result, error) {
	if err := t.acquire(ctx); err != nil {
		return nil, err
	}
	defer t.release()

	taskCtx, taskCancel := chromedp.NewContext(t.allocator)
	defer taskCancel()

	timeout := t.cfg.NavigationTimeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	taskCtx, cancel := context.WithTimeout(taskCtx, timeout)
	defer cancel()

	// The task context descends from the allocator, not the caller, so
	// caller cancellation has to be forwarded by hand.
	stop := forwardCancel(ctx, taskCancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := t.render(taskCtx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("render canceled: %w", ctxErr)
		}
		return nil, &fetch.TransportError{
			URL:       req.URL,
			Transport: fetch.TransportHeadless,
			Err:       err,
		}
	}

	status, headers, responseURL := meta.snapshot(req.URL, finalURL)
	if mapped := t.mapStatus(req.URL, status, headers); mapped != nil {
		return nil, mapped
	}

	return &fetch.Result{
		URL:        responseURL,
		HTML:       html,
		StatusCode: status,
		Transport:  fetch.TransportHeadless,
		Elapsed:    time.Since(start),
		FetchedAt:  time.Now().UTC(),
	}, nil
}

func (t *Transport) render(ctx context.Context, req fetch.Request) (string, string, error) {
	var html, finalURL string
	actions := chromedp.Tasks{
		t.networkSetup(),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if req.WaitSelector != "" {
		actions = append(actions, t.waitSelector(req.URL, req.WaitSelector))
	}
	actions = append(actions,
		chromedp.Sleep(t.cfg.SettleDelay),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	if err := chromedp.Run(ctx, actions); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

// waitSelector waits for the selector under its own budget. A missing
// selector is logged and the render proceeds with whatever rendered.
func (t *Transport) waitSelector(url, selector string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		wctx, cancel := context.WithTimeout(ctx, t.cfg.WaitSelectorTimeout)
		defer cancel()
		if err := chromedp.WaitVisible(selector, chromedp.ByQuery).Do(wctx); err != nil {
			t.log.Warn("wait selector did not settle",
				zap.String("url", url),
				zap.String("selector", selector),
				zap.Error(err))
		}
		return nil
	})
}

func (t *Transport) networkSetup() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if t.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(t.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// mapStatus rejects documents the origin served as errors.
func (t *Transport) mapStatus(url string, status int, headers http.Header) error {
	switch {
	case status == http.StatusTooManyRequests:
		wait := t.cfg.RetryAfterDefault
		if v := headers.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
				wait = time.Duration(secs) * time.Second
			}
		}
		t.log.Warn("server rate limited render",
			zap.String("url", url),
			zap.Duration("retry_after", wait))
		return &fetch.RateLimitedError{URL: url, Wait: wait}
	case status >= http.StatusBadRequest:
		return &fetch.TransportError{
			URL:        url,
			Transport:  fetch.TransportHeadless,
			StatusCode: status,
			Err:        fmt.Errorf("document request failed"),
		}
	}
	return nil
}

func (t *Transport) acquire(ctx context.Context) error {
	if t.limiter == nil {
		return nil
	}
	select {
	case t.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return &fetch.TransportError{
			Transport: fetch.TransportHeadless,
			Err:       fmt.Errorf("render slot wait canceled: %w", ctx.Err()),
		}
	}
}

func (t *Transport) release() {
	if t.limiter == nil {
		return
	}
	select {
	case <-t.limiter:
	default:
	}
}

// forwardCancel propagates caller cancellation into the chromedp task
// context. The returned stop func releases the watcher.
func forwardCancel(ctx context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// responseMeta records the main document response observed on the CDP
// event stream.
type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}

	headers := http.Header{}
	for key, value := range resp.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []interface{}:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}

	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.headers = headers
	m.url = resp.Response.URL
	m.mu.Unlock()
}

// snapshot returns the captured document metadata, falling back to the
// navigation URL and a 200 status when the event stream saw nothing.
func (m *responseMeta) snapshot(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	status, headers, url := m.status, m.headers.Clone(), m.url
	m.mu.RUnlock()

	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, url
}
