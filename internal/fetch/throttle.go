package fetch

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/venturescope/scraperd/internal/clock/system"
	"github.com/venturescope/scraperd/internal/metrics"
)

// ThrottleConfig controls request spacing per host.
type ThrottleConfig struct {
	// BaseDelay is slept before every request, jittered by ±50%.
	BaseDelay time.Duration

	// HostRPS and HostBurst feed the per-host token bucket.
	HostRPS   float64
	HostBurst int

	// HotThreshold is the recent request rate (per second) above which
	// the adaptive penalty kicks in; PenaltyDelay is slept repeatedly
	// until the rate falls back under it. Window bounds how far back
	// the recent-rate accounting looks.
	HotThreshold float64
	PenaltyDelay time.Duration
	Window       time.Duration
}

func (c ThrottleConfig) normalized() ThrottleConfig {
	if c.HostRPS <= 0 {
		c.HostRPS = 2
	}
	if c.HostBurst < 1 {
		c.HostBurst = 1
	}
	if c.HotThreshold <= 0 {
		c.HotThreshold = 10
	}
	if c.PenaltyDelay <= 0 {
		c.PenaltyDelay = 500 * time.Millisecond
	}
	if c.Window <= 0 {
		c.Window = time.Second
	}
	return c
}

// Throttle spaces requests per host. It is safe for concurrent use.
type Throttle struct {
	cfg   ThrottleConfig
	log   *zap.Logger
	clock Clock
	sleep func(ctx context.Context, d time.Duration) error
	rng   func() float64

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	recent   map[string][]time.Time
}

// NewThrottle builds a Throttle.
func NewThrottle(cfg ThrottleConfig, log *zap.Logger) *Throttle {
	if log == nil {
		log = zap.NewNop()
	}
	return &Throttle{
		cfg:      cfg.normalized(),
		log:      log,
		clock:    system.New(),
		sleep:    pause,
		rng:      rand.Float64,
		limiters: make(map[string]*rate.Limiter),
		recent:   make(map[string][]time.Time),
	}
}

// Wait blocks until the host may be contacted again.
func (t *Throttle) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	start := t.clock.Now()

	if t.cfg.BaseDelay > 0 {
		jittered := time.Duration(float64(t.cfg.BaseDelay) * (0.5 + t.rng()))
		if err := t.sleep(ctx, jittered); err != nil {
			return err
		}
	}

	for t.recentRate(host) > t.cfg.HotThreshold {
		t.log.Debug("host running hot, applying penalty",
			zap.String("host", host),
			zap.Duration("penalty", t.cfg.PenaltyDelay))
		if err := t.sleep(ctx, t.cfg.PenaltyDelay); err != nil {
			return err
		}
	}

	if err := t.limiter(host).Wait(ctx); err != nil {
		return err
	}

	t.remember(host)
	metrics.ObserveRateLimitDelay(host, t.clock.Now().Sub(start))
	return nil
}

func (t *Throttle) limiter(host string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	lim, ok := t.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(t.cfg.HostRPS), t.cfg.HostBurst)
		t.limiters[host] = lim
	}
	return lim
}

// recentRate returns requests per second over the trailing window,
// pruning entries that aged out.
func (t *Throttle) recentRate(host string) float64 {
	cutoff := t.clock.Now().Add(-t.cfg.Window)

	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.recent[host][:0]
	for _, ts := range t.recent[host] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	t.recent[host] = kept
	return float64(len(kept)) / t.cfg.Window.Seconds()
}

func (t *Throttle) remember(host string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recent[host] = append(t.recent[host], t.clock.Now())
}

// pause waits for d or until ctx ends, whichever comes first.
func pause(ctx context.Context, d time.Duration) error {
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
