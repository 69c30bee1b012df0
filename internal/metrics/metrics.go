package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "search",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 20},
	}, []string{"method", "path"})

	PlatformRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "platform_requests_total",
		Help:      "Total live requests to product platforms by platform and result status.",
	}, []string{"platform", "status"})

	PlatformRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "search",
		Name:      "platform_request_duration_seconds",
		Help:      "Product platform request duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
	}, []string{"platform"})

	PlatformAvailable = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "search",
		Name:      "platform_available",
		Help:      "Whether a platform is available (1) or blocked by circuit breaker (0).",
	}, []string{"platform"})

	PlatformLateResultsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "platform_late_results_total",
		Help:      "Platform calls that finished after the aggregate deadline.",
	}, []string{"platform"})

	CacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "cache_hits_total",
		Help:      "Total number of result cache hits by platform.",
	}, []string{"platform"})

	CacheMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "cache_misses_total",
		Help:      "Total number of result cache misses by platform.",
	}, []string{"platform"})

	CacheWriteFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "cache_write_failures_total",
		Help:      "Total number of failed best-effort cache writes.",
	})

	AICallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "ai_calls_total",
		Help:      "Total AI text generation calls by operation and status.",
	}, []string{"operation", "status"})

	MixedProducts = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "search",
		Name:      "mixed_products",
		Help:      "Number of products taken from each mixing pool per search.",
		Buckets:   []float64{0, 1, 5, 10, 20, 50, 100},
	}, []string{"pool"})

	HistoryWriteFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "history_write_failures_total",
		Help:      "Total number of failed search history writes.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		PlatformRequestsTotal,
		PlatformRequestDuration,
		PlatformAvailable,
		PlatformLateResultsTotal,
		CacheHitsTotal,
		CacheMissesTotal,
		CacheWriteFailuresTotal,
		AICallsTotal,
		MixedProducts,
		HistoryWriteFailuresTotal,
	)
}
