// Package monitor exposes Prometheus instrumentation for the recommendation service.
package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blogrec_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blogrec_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blogrec_api_active_requests",
			Help: "Current number of in-flight API requests",
		},
	)

	AuthFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blogrec_auth_failures_total",
			Help: "Requests rejected by the API key gate",
		},
	)

	// Embedding provider
	EmbeddingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blogrec_embedding_duration_seconds",
			Help:    "Embedding provider call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	EmbeddingErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blogrec_embedding_errors_total",
			Help: "Failed embedding provider calls",
		},
		[]string{"provider"},
	)

	EmbeddingCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blogrec_embedding_cache_hits_total",
			Help: "Embedding lookups served from cache",
		},
	)

	EmbeddingCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blogrec_embedding_cache_misses_total",
			Help: "Embedding lookups that reached the provider",
		},
	)

	// Ranking
	RecommendCandidates = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "blogrec_recommend_candidates",
			Help:    "Candidates surviving the viewed-set filter per hybrid request",
			Buckets: []float64{0, 1, 5, 10, 20, 50, 100},
		},
	)

	RecommendUnresolved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blogrec_recommend_unresolved_ids_total",
			Help: "Viewed article ids skipped because no vector was stored",
		},
	)

	RecommendShortfall = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blogrec_recommend_shortfall_total",
			Help: "Hybrid requests that returned fewer than top_k results",
		},
	)
)

// RecordAPIRequest records one completed HTTP request.
func RecordAPIRequest(method, route, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// TrackActiveRequest increments or decrements the in-flight gauge.
func TrackActiveRequest(active bool) {
	if active {
		APIActiveRequests.Inc()
		return
	}
	APIActiveRequests.Dec()
}

// ObserveEmbedding records one provider call.
func ObserveEmbedding(provider string, duration time.Duration, err error) {
	EmbeddingDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if err != nil {
		EmbeddingErrors.WithLabelValues(provider).Inc()
	}
}
