package fetch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/venturescope/scraperd/internal/breaker"
	"github.com/venturescope/scraperd/internal/clock/system"
	"github.com/venturescope/scraperd/internal/metrics"
	"github.com/venturescope/scraperd/internal/retry"
)

// Config controls transport selection.
type Config struct {
	// RenderHosts lists host fragments known to need JavaScript
	// execution; matching hosts go straight to the rendering
	// transport.
	RenderHosts []string

	// DetectShell upgrades successful static fetches to the rendering
	// transport when the markup looks like an app shell.
	DetectShell bool
}

// guard pairs a transport with its own retry executor and circuit
// breaker so one transport's trouble never bleeds into the other's
// accounting.
type guard struct {
	transport Transport
	breaker   *breaker.Breaker
	executor  *retry.Executor
}

func (g *guard) fetch(ctx context.Context, req Request) (*Result, error) {
	attempts := 0
	res, err := retry.Do(ctx, g.executor, func(ctx context.Context) (*Result, error) {
		attempts++
		var out *Result
		err := g.breaker.Do(ctx, func(ctx context.Context) error {
			r, ferr := g.transport.Fetch(ctx, req)
			if ferr != nil {
				return ferr
			}
			out = r
			return nil
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	res.Attempts = attempts
	return res, nil
}

// Coordinator routes requests to transports behind their guard chains.
type Coordinator struct {
	cfg      Config
	throttle *Throttle
	log      *zap.Logger
	clock    Clock
	guards   map[string]*guard
}

// NewCoordinator builds a Coordinator with no transports registered.
func NewCoordinator(cfg Config, throttle *Throttle, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		cfg:      cfg,
		throttle: throttle,
		log:      log,
		clock:    system.New(),
		guards:   make(map[string]*guard),
	}
}

// Register attaches a transport and the guard chain protecting it.
// Not safe to call once Fetch traffic has started.
func (c *Coordinator) Register(t Transport, br *breaker.Breaker, ex *retry.Executor) {
	c.guards[t.Name()] = &guard{transport: t, breaker: br, executor: ex}
}

// Breakers reports the status of every registered breaker, ordered by
// transport name.
func (c *Coordinator) Breakers() []breaker.Status {
	names := make([]string, 0, len(c.guards))
	for name := range c.guards {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]breaker.Status, 0, len(names))
	for _, name := range names {
		out = append(out, c.guards[name].breaker.Status())
	}
	return out
}

// Fetch acquires one page. The chosen transport runs behind its guard
// chain; on failure the other transport gets exactly one turn through
// its own guards before the error is declared final.
func (c *Coordinator) Fetch(ctx context.Context, req Request) (*Result, error) {
	start := c.clock.Now()

	if err := c.throttle.Wait(ctx, req.URL); err != nil {
		return nil, err
	}

	primary := c.choose(req)
	g, ok := c.guards[primary]
	if !ok {
		return nil, fmt.Errorf("no %q transport registered", primary)
	}

	res, primaryErr := g.fetch(ctx, req)
	if primaryErr == nil {
		if upgraded := c.maybeRender(ctx, req, primary, res); upgraded != nil {
			res = upgraded
		}
		return c.finish(res, start, "ok"), nil
	}

	fallbackName := other(primary)
	fg, ok := c.guards[fallbackName]
	if !ok {
		metrics.ObserveFetch(primary, "error", c.clock.Now().Sub(start))
		return nil, primaryErr
	}

	c.log.Warn("primary transport failed, trying fallback",
		zap.String("url", req.URL),
		zap.String("primary", primary),
		zap.String("fallback", fallbackName),
		zap.Error(primaryErr))

	res, fallbackErr := fg.fetch(ctx, req)
	if fallbackErr != nil {
		metrics.ObserveFallback(primary, "error")
		metrics.ObserveFetch(fallbackName, "error", c.clock.Now().Sub(start))
		return nil, &FetchFailedError{URL: req.URL, Primary: primaryErr, Fallback: fallbackErr}
	}
	metrics.ObserveFallback(primary, "ok")
	return c.finish(res, start, "fallback"), nil
}

// maybeRender upgrades a static result that looks like an app shell.
// Upgrade failures keep the static result; they are never fatal.
func (c *Coordinator) maybeRender(ctx context.Context, req Request, primary string, res *Result) *Result {
	if !c.cfg.DetectShell || primary != TransportHTTP {
		return nil
	}
	if !LooksRendered(res.HTML) {
		return nil
	}
	g, ok := c.guards[TransportHeadless]
	if !ok {
		return nil
	}

	c.log.Info("static fetch looks client-rendered, upgrading",
		zap.String("url", req.URL))
	rendered, err := g.fetch(ctx, req)
	if err != nil {
		c.log.Warn("render upgrade failed, keeping static result",
			zap.String("url", req.URL),
			zap.Error(err))
		metrics.ObserveFallback(TransportHTTP, "upgrade_failed")
		return nil
	}
	metrics.ObserveFallback(TransportHTTP, "upgraded")
	return rendered
}

func (c *Coordinator) finish(res *Result, start time.Time, outcome string) *Result {
	res.Elapsed = c.clock.Now().Sub(start)
	if res.FetchedAt.IsZero() {
		res.FetchedAt = c.clock.Now()
	}
	metrics.ObserveFetch(res.Transport, outcome, res.Elapsed)
	return res
}

// choose picks the primary transport for a request.
func (c *Coordinator) choose(req Request) string {
	if req.Transport != "" {
		return req.Transport
	}
	host := hostOf(req.URL)
	for _, fragment := range c.cfg.RenderHosts {
		if fragment != "" && strings.Contains(host, strings.ToLower(fragment)) {
			return TransportHeadless
		}
	}
	return TransportHTTP
}

// other returns the opposite transport name.
func other(name string) string {
	if name == TransportHTTP {
		return TransportHeadless
	}
	return TransportHTTP
}
