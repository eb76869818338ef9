package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minivault_requests_total",
			Help: "Total number of generation requests processed",
		},
		[]string{"provider", "preset", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "minivault_request_duration_seconds",
			Help:    "Server-side processing duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider", "stream"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minivault_tokens_total",
			Help: "Total number of tokens processed (word-count estimate)",
		},
		[]string{"provider", "type"},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "minivault_rate_limit_hits_total",
			Help: "Total number of requests denied by the rate limiter",
		},
	)

	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minivault_fallbacks_total",
			Help: "Total number of stub fallback substitutions",
		},
		[]string{"reason"},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "minivault_active_streams",
			Help: "Number of active SSE streaming connections",
		},
	)

	LogQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "minivault_log_queue_depth",
			Help: "Number of log records waiting to be flushed",
		},
	)

	LogRecordsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "minivault_log_records_dropped_total",
			Help: "Total number of log records dropped because the queue was full",
		},
	)
)

func RecordRequest(provider, preset, status string, durationSec float64, stream bool) {
	RequestsTotal.WithLabelValues(provider, preset, status).Inc()
	streamLabel := "false"
	if stream {
		streamLabel = "true"
	}
	RequestDuration.WithLabelValues(provider, streamLabel).Observe(durationSec)
}

func RecordTokens(provider string, promptTokens, completionTokens int) {
	TokensTotal.WithLabelValues(provider, "prompt").Add(float64(promptTokens))
	TokensTotal.WithLabelValues(provider, "completion").Add(float64(completionTokens))
}

func RecordRateLimitHit() {
	RateLimitHits.Inc()
}

func RecordFallback(reason string) {
	FallbacksTotal.WithLabelValues(reason).Inc()
}

func IncrementActiveStreams() {
	ActiveStreams.Inc()
}

func DecrementActiveStreams() {
	ActiveStreams.Dec()
}
