package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		aiCallsLatencyMs,
		aiCallAttempts,
		aiPromptTokens,
	)
}

var (
	aiCallsLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_calls_latency_ms",
			Help:    "AI call latency distribution in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000, 12000, 20000},
		},
		[]string{"provider", "model", "success"},
	)

	aiCallAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_call_attempts_total",
			Help: "Generation attempts by outcome code (ok or a failure classification).",
		},
		[]string{"provider", "code"},
	)

	aiPromptTokens = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ai_prompt_tokens",
			Help:    "Estimated prompt size in tokens.",
			Buckets: prometheus.ExponentialBuckets(64, 2, 10), // 64 .. 32768
		},
	)
)

func ObserveAICall(provider, model string, latencyMs int, success bool) {
	aiCallsLatencyMs.WithLabelValues(norm(provider), norm(model), strconv.FormatBool(success)).
		Observe(float64(latencyMs))
}

func IncAIAttempt(provider, code string) {
	aiCallAttempts.WithLabelValues(norm(provider), norm(code)).Inc()
}

func ObservePromptTokens(n int) {
	if n <= 0 {
		return
	}
	aiPromptTokens.Observe(float64(n))
}
