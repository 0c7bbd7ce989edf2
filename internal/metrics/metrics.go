// Package metrics exposes Prometheus collectors for the scraper service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors register at package load so the observe helpers below are
// always safe to call.
var (
	fetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_fetches_total",
			Help: "Total page fetches, labeled by transport and outcome.",
		},
		[]string{"transport", "outcome"},
	)

	fetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scraper_fetch_duration_seconds",
			Help:    "Histogram of fetch latencies, labeled by transport.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"transport"},
	)

	fetchFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_fetch_fallbacks_total",
			Help: "Fallback activations, labeled by originating transport and result.",
		},
		[]string{"from", "result"},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_retries_total",
			Help: "Retry attempts, labeled by operation name.",
		},
		[]string{"op"},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scraper_rate_limit_delay_seconds",
			Help:    "Histogram of politeness and rate limit waits.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"host"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scraper_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open).",
		},
		[]string{"name"},
	)

	breakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_breaker_transitions_total",
			Help: "Circuit breaker transitions, labeled by breaker and new state.",
		},
		[]string{"name", "state"},
	)

	upsertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_upserts_total",
			Help: "Record upserts, labeled by record kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	changeRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_change_records_total",
			Help: "Change log entries written, labeled by record kind.",
		},
		[]string{"kind"},
	)

	snapshotsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_snapshots_total",
			Help: "Raw HTML snapshots archived, labeled by backend and status.",
		},
		[]string{"backend", "status"},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_notifications_total",
			Help: "Change notifications published, labeled by status.",
		},
		[]string{"status"},
	)

	stageRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_stage_records_total",
			Help: "Records processed per pipeline stage, labeled by site, stage and status.",
		},
		[]string{"site", "stage", "status"},
	)

	stageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scraper_stage_duration_seconds",
			Help:    "Histogram of pipeline stage durations.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// HostLabel reduces a URL to a lowercase hostname suitable as a label value.
// It returns "unknown" if the URL is invalid.
func HostLabel(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one fetch attempt sequence outcome.
func ObserveFetch(transport, outcome string, duration time.Duration) {
	fetchTotal.WithLabelValues(transport, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(transport).Observe(duration.Seconds())
}

// ObserveFallback records a fallback activation and its result.
func ObserveFallback(from, result string) {
	fetchFallbacksTotal.WithLabelValues(from, result).Inc()
}

// ObserveRetry increments the retry counter for the named operation.
func ObserveRetry(op string) {
	retriesTotal.WithLabelValues(op).Inc()
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// SetBreakerState publishes the current breaker state.
func SetBreakerState(name string, state float64) {
	breakerState.WithLabelValues(name).Set(state)
}

// ObserveBreakerTransition counts a breaker state change.
func ObserveBreakerTransition(name, state string) {
	breakerTransitionsTotal.WithLabelValues(name, state).Inc()
}

// ObserveUpsert counts an upsert outcome for the given record kind.
func ObserveUpsert(kind, outcome string) {
	upsertsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveChangeRecord counts a written change log entry.
func ObserveChangeRecord(kind string) {
	changeRecordsTotal.WithLabelValues(kind).Inc()
}

// ObserveSnapshot counts an archived snapshot attempt.
func ObserveSnapshot(backend, status string) {
	snapshotsTotal.WithLabelValues(backend, status).Inc()
}

// ObserveNotification counts a published change notification attempt.
func ObserveNotification(status string) {
	notificationsTotal.WithLabelValues(status).Inc()
}

// ObserveStageRecords adds processed record counts for a pipeline stage.
func ObserveStageRecords(site, stage, status string, n int) {
	if n > 0 {
		stageRecordsTotal.WithLabelValues(site, stage, status).Add(float64(n))
	}
}

// ObserveStageDuration records how long a pipeline stage ran.
func ObserveStageDuration(stage string, duration time.Duration) {
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
