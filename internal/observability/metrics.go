package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wxplume/srefproxy/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Upstream plume endpoint call rate. Watch for: error vs success ratio.
	UpstreamCallsTotal *prometheus.CounterVec

	// Upstream latency per request. Watch for: values approaching the 15s transport timeout.
	UpstreamDuration *prometheus.HistogramVec

	// Retry attempts against the upstream. Watch for: high retries = unstable upstream.
	UpstreamRetriesTotal prometheus.Counter

	// Plume responses by cache status (hit, miss, incomplete). Hit rate = hit/(hit+miss+incomplete).
	CacheResultsTotal *prometheus.CounterVec

	// Entries removed by the size-bounded eviction sweep.
	CacheEvictionsTotal prometheus.Counter

	// Durable snapshot writes and write failures.
	CacheSnapshotWritesTotal prometheus.Counter
	CacheSnapshotErrorsTotal prometheus.Counter

	// Cache warming runs, failures, and duration.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	// Miss fetches answered by an already in-flight fetch for the same key.
	CoalescedFetchesTotal prometheus.Counter

	// Per-client admission denials (429).
	AdmissionDeniedTotal prometheus.Counter

	// Server-wide rate limit denials (429), distinct from per-client admission.
	RateLimitDeniedTotal prometheus.Counter

	// Circuit breaker transitions and current state (0=closed, 1=open, 2=half-open).
	CircuitBreakerTransitionsTotal *prometheus.CounterVec
	CircuitBreakerState            prometheus.Gauge

	cacheSizeGaugeOnce sync.Once
	windowGaugesOnce   sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamCallsTotal",
			Help: "Total number of upstream plume endpoint calls",
		},
		[]string{"status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamDurationSeconds",
			Help:    "Upstream plume endpoint latency in seconds (per request)",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 15},
		},
		[]string{"status"},
	)
	UpstreamRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "upstreamRetriesTotal",
			Help: "Total number of retry attempts for upstream calls",
		},
	)
	CacheResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheResultsTotal",
			Help: "Plume responses by cache status (hit, miss, incomplete)",
		},
		[]string{"status"},
	)
	CacheEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheEvictionsTotal",
			Help: "Entries removed by the size-bounded eviction sweep",
		},
	)
	CacheSnapshotWritesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheSnapshotWritesTotal",
			Help: "Debounced cache snapshot writes to disk",
		},
	)
	CacheSnapshotErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheSnapshotErrorsTotal",
			Help: "Failed cache snapshot writes",
		},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs that had at least one failed tuple",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warming run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
	CoalescedFetchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coalescedFetchesTotal",
			Help: "Miss fetches answered by an already in-flight fetch for the same key",
		},
	)
	AdmissionDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "admissionDeniedTotal",
			Help: "Cache-miss requests denied by the per-client token bucket (429)",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Requests denied by the server-wide rate limiter (429)",
		},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"from", "to"},
	)
	CircuitBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UpstreamCallsTotal, UpstreamDuration, UpstreamRetriesTotal,
		CacheResultsTotal, CacheEvictionsTotal,
		CacheSnapshotWritesTotal, CacheSnapshotErrorsTotal,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		CoalescedFetchesTotal, AdmissionDeniedTotal, RateLimitDeniedTotal,
		CircuitBreakerTransitionsTotal, CircuitBreakerState,
	)
}

// RegisterCacheSizeGauge exposes the current cache entry count. Call from
// main after the store is constructed.
func RegisterCacheSizeGauge(size func() float64) {
	cacheSizeGaugeOnce.Do(func() {
		registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "cacheEntries",
				Help: "Number of entries currently in the cache store",
			},
			size,
		))
	})
}

// RegisterWindowGauges registers request and denial gauges over the sliding
// traffic window. Call from main after config load.
func RegisterWindowGauges(window time.Duration) {
	windowGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "requestsInWindow",
					Help: "Request outcomes recorded in the sliding window",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "denialsInWindow",
					Help: "429 responses in the sliding window",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
		)
	})
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
