package fetch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/venturescope/scraperd/internal/breaker"
	"github.com/venturescope/scraperd/internal/retry"
)

// fakeClock is a hand-settable clock shared by throttle and executor
// sleepers so elapsed time is deterministic.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// clockSleeper records requested delays and advances the fake clock
// instead of sleeping.
type clockSleeper struct {
	clk *fakeClock

	mu    sync.Mutex
	slept []time.Duration
}

func (s *clockSleeper) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.slept = append(s.slept, d)
	s.mu.Unlock()
	s.clk.Advance(d)
	return nil
}

func (s *clockSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.slept))
	copy(out, s.slept)
	return out
}

// scriptedTransport returns canned responses per call.
type scriptedTransport struct {
	name   string
	script func(call int, req Request) (*Result, error)

	mu    sync.Mutex
	calls int
}

func (t *scriptedTransport) Name() string { return t.name }

func (t *scriptedTransport) Fetch(_ context.Context, req Request) (*Result, error) {
	t.mu.Lock()
	t.calls++
	call := t.calls
	t.mu.Unlock()
	return t.script(call, req)
}

func (t *scriptedTransport) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func okResult(name, url string) *Result {
	return &Result{URL: url, HTML: "<html><body>real content</body></html>", StatusCode: 200, Transport: name}
}

type harness struct {
	clk     *fakeClock
	sleeper *clockSleeper
	coord   *Coordinator
}

func newHarness(cfg Config, throttleCfg ThrottleConfig) *harness {
	clk := newFakeClock()
	sleeper := &clockSleeper{clk: clk}

	throttle := NewThrottle(throttleCfg, zap.NewNop())
	throttle.clock = clk
	throttle.sleep = sleeper.sleep
	throttle.rng = func() float64 { return 0.5 } // jitter multiplier pinned to 1.0

	coord := NewCoordinator(cfg, throttle, zap.NewNop())
	coord.clock = clk
	return &harness{clk: clk, sleeper: sleeper, coord: coord}
}

func (h *harness) register(t Transport, threshold int, cooldown time.Duration, policy retry.Policy) *breaker.Breaker {
	br := breaker.New(t.Name(), threshold, cooldown,
		breaker.WithClock(h.clk),
		breaker.WithLogger(zap.NewNop()),
		breaker.WithCountable(Countable))
	ex := retry.New(policy,
		retry.WithName(t.Name()),
		retry.WithClassifier(Classify),
		retry.WithSleeper(h.sleeper.sleep),
		retry.WithLogger(zap.NewNop()))
	h.coord.Register(t, br, ex)
	return br
}

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2}
}

func TestFetchUsesHTTPByDefault(t *testing.T) {
	h := newHarness(Config{}, ThrottleConfig{HostRPS: 1000, HostBurst: 10})

	httpT := &scriptedTransport{name: TransportHTTP, script: func(_ int, req Request) (*Result, error) {
		return okResult(TransportHTTP, req.URL), nil
	}}
	headlessT := &scriptedTransport{name: TransportHeadless, script: func(_ int, req Request) (*Result, error) {
		return okResult(TransportHeadless, req.URL), nil
	}}
	h.register(httpT, 5, time.Minute, fastPolicy(3))
	h.register(headlessT, 3, time.Minute, fastPolicy(2))

	res, err := h.coord.Fetch(context.Background(), Request{URL: "https://fund.example.com/portfolio"})
	require.NoError(t, err)
	require.Equal(t, TransportHTTP, res.Transport)
	require.Equal(t, 1, res.Attempts)
	require.Equal(t, 1, httpT.callCount())
	require.Zero(t, headlessT.callCount())
}

func TestFetchHonorsTransportHint(t *testing.T) {
	h := newHarness(Config{}, ThrottleConfig{HostRPS: 1000, HostBurst: 10})

	httpT := &scriptedTransport{name: TransportHTTP, script: func(_ int, req Request) (*Result, error) {
		return okResult(TransportHTTP, req.URL), nil
	}}
	headlessT := &scriptedTransport{name: TransportHeadless, script: func(_ int, req Request) (*Result, error) {
		return okResult(TransportHeadless, req.URL), nil
	}}
	h.register(httpT, 5, time.Minute, fastPolicy(3))
	h.register(headlessT, 3, time.Minute, fastPolicy(2))

	res, err := h.coord.Fetch(context.Background(), Request{
		URL:       "https://fund.example.com/portfolio",
		Transport: TransportHeadless,
	})
	require.NoError(t, err)
	require.Equal(t, TransportHeadless, res.Transport)
	require.Zero(t, httpT.callCount())
	require.Equal(t, 1, headlessT.callCount())
}

func TestFetchRoutesRenderHostsToHeadless(t *testing.T) {
	h := newHarness(Config{RenderHosts: []string{"linkedin.", "notion."}},
		ThrottleConfig{HostRPS: 1000, HostBurst: 10})

	httpT := &scriptedTransport{name: TransportHTTP, script: func(_ int, req Request) (*Result, error) {
		return okResult(TransportHTTP, req.URL), nil
	}}
	headlessT := &scriptedTransport{name: TransportHeadless, script: func(_ int, req Request) (*Result, error) {
		return okResult(TransportHeadless, req.URL), nil
	}}
	h.register(httpT, 5, time.Minute, fastPolicy(3))
	h.register(headlessT, 3, time.Minute, fastPolicy(2))

	res, err := h.coord.Fetch(context.Background(), Request{URL: "https://www.linkedin.com/company/acme"})
	require.NoError(t, err)
	require.Equal(t, TransportHeadless, res.Transport)
	require.Zero(t, httpT.callCount())
}

func TestFetchFallsBackAfterPrimaryExhausts(t *testing.T) {
	h := newHarness(Config{}, ThrottleConfig{HostRPS: 1000, HostBurst: 10})

	httpT := &scriptedTransport{name: TransportHTTP, script: func(_ int, req Request) (*Result, error) {
		return nil, &TransportError{URL: req.URL, Transport: TransportHTTP, StatusCode: 503}
	}}
	headlessT := &scriptedTransport{name: TransportHeadless, script: func(_ int, req Request) (*Result, error) {
		return okResult(TransportHeadless, req.URL), nil
	}}
	h.register(httpT, 10, time.Minute, fastPolicy(3))
	h.register(headlessT, 3, time.Minute, fastPolicy(2))

	res, err := h.coord.Fetch(context.Background(), Request{URL: "https://fund.example.com/portfolio"})
	require.NoError(t, err)
	require.Equal(t, TransportHeadless, res.Transport)
	require.Equal(t, 1, res.Attempts)
	require.Equal(t, 3, httpT.callCount(), "primary should exhaust its attempt budget")
	require.Equal(t, 1, headlessT.callCount(), "fallback gets exactly one attempt sequence")
}

func TestFetchReportsBothCausesWhenEverythingFails(t *testing.T) {
	h := newHarness(Config{}, ThrottleConfig{HostRPS: 1000, HostBurst: 10})

	httpT := &scriptedTransport{name: TransportHTTP, script: func(_ int, req Request) (*Result, error) {
		return nil, &TransportError{URL: req.URL, Transport: TransportHTTP, StatusCode: 502}
	}}
	headlessT := &scriptedTransport{name: TransportHeadless, script: func(_ int, req Request) (*Result, error) {
		return nil, &TransportError{URL: req.URL, Transport: TransportHeadless, Err: errors.New("browser crashed")}
	}}
	h.register(httpT, 10, time.Minute, fastPolicy(2))
	h.register(headlessT, 10, time.Minute, fastPolicy(2))

	_, err := h.coord.Fetch(context.Background(), Request{URL: "https://fund.example.com/portfolio"})

	var failed *FetchFailedError
	require.ErrorAs(t, err, &failed)
	require.Equal(t, "https://fund.example.com/portfolio", failed.URL)
	require.Error(t, failed.Primary)
	require.Error(t, failed.Fallback)
	require.Equal(t, 2, httpT.callCount())
	require.Equal(t, 2, headlessT.callCount())
}

func TestOpenCircuitShortCircuitsRetriesAndFallsBack(t *testing.T) {
	h := newHarness(Config{}, ThrottleConfig{HostRPS: 1000, HostBurst: 10})

	httpT := &scriptedTransport{name: TransportHTTP, script: func(_ int, req Request) (*Result, error) {
		return nil, &TransportError{URL: req.URL, Transport: TransportHTTP, StatusCode: 500}
	}}
	headlessT := &scriptedTransport{name: TransportHeadless, script: func(_ int, req Request) (*Result, error) {
		return okResult(TransportHeadless, req.URL), nil
	}}
	// Threshold one: the first failure opens the circuit, so retries
	// must stop on the breaker refusal instead of burning attempts.
	h.register(httpT, 1, time.Hour, fastPolicy(5))
	h.register(headlessT, 3, time.Minute, fastPolicy(2))

	res, err := h.coord.Fetch(context.Background(), Request{URL: "https://fund.example.com/portfolio"})
	require.NoError(t, err)
	require.Equal(t, TransportHeadless, res.Transport)
	require.Equal(t, 1, httpT.callCount(), "open circuit must not re-invoke the transport")

	// A second fetch hits the open breaker before the transport.
	res, err = h.coord.Fetch(context.Background(), Request{URL: "https://fund.example.com/team"})
	require.NoError(t, err)
	require.Equal(t, TransportHeadless, res.Transport)
	require.Equal(t, 1, httpT.callCount())
}

func TestRateLimitedFetchHonorsServerWait(t *testing.T) {
	h := newHarness(Config{}, ThrottleConfig{HostRPS: 1000, HostBurst: 10})

	httpT := &scriptedTransport{name: TransportHTTP, script: func(call int, req Request) (*Result, error) {
		if call == 1 {
			return nil, &RateLimitedError{URL: req.URL, Wait: 5 * time.Second}
		}
		return okResult(TransportHTTP, req.URL), nil
	}}
	h.register(httpT, 5, time.Minute, fastPolicy(3))

	res, err := h.coord.Fetch(context.Background(), Request{URL: "https://fund.example.com/portfolio"})
	require.NoError(t, err)
	require.Equal(t, 2, res.Attempts)
	require.GreaterOrEqual(t, res.Elapsed, 5*time.Second)
	require.Contains(t, h.sleeper.recorded(), 5*time.Second)
}

func TestShellResultUpgradesToHeadless(t *testing.T) {
	h := newHarness(Config{DetectShell: true}, ThrottleConfig{HostRPS: 1000, HostBurst: 10})

	shell := `<html><body><div id="root"></div></body></html>`
	httpT := &scriptedTransport{name: TransportHTTP, script: func(_ int, req Request) (*Result, error) {
		return &Result{URL: req.URL, HTML: shell, StatusCode: 200, Transport: TransportHTTP}, nil
	}}
	headlessT := &scriptedTransport{name: TransportHeadless, script: func(_ int, req Request) (*Result, error) {
		return okResult(TransportHeadless, req.URL), nil
	}}
	h.register(httpT, 5, time.Minute, fastPolicy(3))
	h.register(headlessT, 3, time.Minute, fastPolicy(2))

	res, err := h.coord.Fetch(context.Background(), Request{URL: "https://fund.example.com/portfolio"})
	require.NoError(t, err)
	require.Equal(t, TransportHeadless, res.Transport)
	require.Equal(t, 1, headlessT.callCount())
}

func TestShellUpgradeFailureKeepsStaticResult(t *testing.T) {
	h := newHarness(Config{DetectShell: true}, ThrottleConfig{HostRPS: 1000, HostBurst: 10})

	shell := `<html><body><div data-reactroot></div></body></html>`
	httpT := &scriptedTransport{name: TransportHTTP, script: func(_ int, req Request) (*Result, error) {
		return &Result{URL: req.URL, HTML: shell, StatusCode: 200, Transport: TransportHTTP}, nil
	}}
	headlessT := &scriptedTransport{name: TransportHeadless, script: func(_ int, req Request) (*Result, error) {
		return nil, &TransportError{URL: req.URL, Transport: TransportHeadless, Err: errors.New("browser crashed")}
	}}
	h.register(httpT, 5, time.Minute, fastPolicy(3))
	h.register(headlessT, 3, time.Minute, fastPolicy(1))

	res, err := h.coord.Fetch(context.Background(), Request{URL: "https://fund.example.com/portfolio"})
	require.NoError(t, err)
	require.Equal(t, TransportHTTP, res.Transport)
	require.Equal(t, shell, res.HTML)
}

func TestBreakersReportsRegisteredGuards(t *testing.T) {
	h := newHarness(Config{}, ThrottleConfig{HostRPS: 1000, HostBurst: 10})

	httpT := &scriptedTransport{name: TransportHTTP, script: func(_ int, req Request) (*Result, error) {
		return okResult(TransportHTTP, req.URL), nil
	}}
	headlessT := &scriptedTransport{name: TransportHeadless, script: func(_ int, req Request) (*Result, error) {
		return okResult(TransportHeadless, req.URL), nil
	}}
	h.register(httpT, 5, time.Minute, fastPolicy(3))
	h.register(headlessT, 3, time.Minute, fastPolicy(2))

	statuses := h.coord.Breakers()
	require.Len(t, statuses, 2)
	require.Equal(t, TransportHeadless, statuses[0].Name)
	require.Equal(t, TransportHTTP, statuses[1].Name)
}
