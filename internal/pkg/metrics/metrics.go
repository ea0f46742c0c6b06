package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GatewayResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardgate_gateway_results_total",
		Help: "Gateway fetch results by provider and terminal state",
	}, []string{"provider", "state"})

	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cardgate_provider_latency_seconds",
		Help:    "Outbound provider call latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	EstimatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardgate_estimates_total",
		Help: "Price estimates produced, by method and confidence",
	}, []string{"method", "confidence"})

	GuardFlags = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardgate_guard_flags_total",
		Help: "Quality guardrail issues flagged",
	}, []string{"issue"})

	RateLimitWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cardgate_ratelimit_wait_seconds",
		Help:    "Time spent waiting for a rate limiter token",
		Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 300, 1800, 3600},
	})
)
