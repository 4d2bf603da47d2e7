package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases, SLO breaches.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Weather lookups by outcome (hit, miss, failed). Hit rate = hit/(hit+miss).
	WeatherRequestsTotal *prometheus.CounterVec

	// Lookups served from the durable store without an external call.
	CacheHitsTotal prometheus.Counter

	// Lookups that went to the external source. Hit rate = hits/(hits+misses).
	CacheMissesTotal prometheus.Counter

	// Age of entries served from cache. Watch for: ages clustering near the TTL
	// (entries barely surviving) or near zero (cache churning).
	CacheAgeSeconds prometheus.Histogram

	// External source call rate. Watch for: error vs success ratio.
	ExternalSourceCallsTotal *prometheus.CounterVec

	// External source latency per call. Watch for: p95 > 2s (upstream degradation), p99 > 5s (timeout risk).
	ExternalSourceCallDuration *prometheus.HistogramVec

	// Calls rejected while the breaker is open. Watch for: sustained nonzero rate = upstream outage.
	CircuitBreakerRejectionsTotal prometheus.Counter

	// Consecutive upstream failures counted by the breaker. Opens at the configured threshold.
	CircuitBreakerFailureCount prometheus.Gauge

	// Audit appends that failed and were swallowed. Watch for: any sustained rate = events being lost.
	AuditAppendFailuresTotal prometheus.Counter

	// Cache entries removed by retention sweeps and manual invalidation.
	StorePurgedEntriesTotal prometheus.Counter

	// Audit rows removed by the retention sweep.
	AuditPurgedEventsTotal prometheus.Counter

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitedTotal prometheus.Counter
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
	WeatherRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherRequestsTotal",
			Help: "Total number of weather lookups by outcome (hit, miss, failed)",
		},
		[]string{"outcome"},
	)
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of lookups served from the durable store",
		},
	)
	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of lookups that required an external source call",
		},
	)
	CacheAgeSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheAgeSeconds",
			Help:    "Age of cached entries at serve time in seconds",
			Buckets: []float64{15, 30, 60, 120, 180, 240, 300, 600},
		},
	)
	ExternalSourceCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "externalSourceCallsTotal",
			Help: "Total number of external weather source calls",
		},
		[]string{"status"},
	)
	ExternalSourceCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "externalSourceCallDurationSeconds",
			Help:    "External weather source latency in seconds (per call)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	CircuitBreakerRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "circuitBreakerRejectionsTotal",
			Help: "Total number of calls rejected while the circuit breaker is open",
		},
	)
	CircuitBreakerFailureCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "circuitBreakerFailureCount",
			Help: "Consecutive external source failures counted by the circuit breaker",
		},
	)
	AuditAppendFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auditAppendFailuresTotal",
			Help: "Total number of audit event appends that failed and were dropped",
		},
	)
	StorePurgedEntriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "storePurgedEntriesTotal",
			Help: "Total number of cache entries removed by purge sweeps",
		},
	)
	AuditPurgedEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auditPurgedEventsTotal",
			Help: "Total number of audit events removed by the retention sweep",
		},
	)
	RateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherRequestsTotal, CacheHitsTotal, CacheMissesTotal, CacheAgeSeconds,
		ExternalSourceCallsTotal, ExternalSourceCallDuration,
		CircuitBreakerRejectionsTotal, CircuitBreakerFailureCount,
		AuditAppendFailuresTotal, StorePurgedEntriesTotal, AuditPurgedEventsTotal,
		RateLimitedTotal,
	)
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
