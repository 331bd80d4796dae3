// Package metrics exposes Prometheus collectors for the sentinel service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	runsTotal                  *prometheus.CounterVec
	stateTransitionsTotal      *prometheus.CounterVec
	sourceItems                *prometheus.GaugeVec
	sourceFailuresTotal        *prometheus.CounterVec
	sourceDurationSeconds      *prometheus.HistogramVec
	feedFetchesTotal           *prometheus.CounterVec
	feedBytesTotal             *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_runs_total",
				Help: "Total number of pipeline runs, labeled by terminal status.",
			},
			[]string{"status"},
		)

		stateTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_pipeline_state_transitions_total",
				Help: "Pipeline state entries, labeled by state.",
			},
			[]string{"state"},
		)

		sourceItems = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sentinel_source_items",
				Help: "Items produced by each source on its most recent run.",
			},
			[]string{"source"},
		)

		sourceFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_source_failures_total",
				Help: "Source failures collapsed to empty results, labeled by source and kind.",
			},
			[]string{"source", "kind"},
		)

		sourceDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sentinel_source_duration_seconds",
				Help:    "Histogram of source fetch durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"source"},
		)

		feedFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_feed_fetches_total",
				Help: "Total number of feed documents fetched, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		feedBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_feed_bytes_total",
				Help: "Total number of feed bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sentinel_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
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

// ObserveFeedFetch records one feed document retrieval.
func ObserveFeedFetch(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	feedFetchesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		feedBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveSource records the outcome of one source invocation.
// An empty failureKind means the source succeeded.
func ObserveSource(source string, items int, failureKind string, duration time.Duration) {
	Init()
	sourceItems.WithLabelValues(source).Set(float64(items))
	sourceDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
	if failureKind != "" {
		sourceFailuresTotal.WithLabelValues(source, failureKind).Inc()
	}
}

// ObserveState counts entry into a pipeline state.
func ObserveState(state string) {
	Init()
	stateTransitionsTotal.WithLabelValues(state).Inc()
}

// ObserveRun increments the run counter for the given status.
func ObserveRun(status string) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
