package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(chatRequestsTotal, chatRequestDuration) }

var (
	chatRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_requests_total",
			Help: "Public endpoint requests by response status.",
		},
		[]string{"status"},
	)

	chatRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_request_duration_seconds",
			Help:    "End-to-end latency of public endpoint requests.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 45, 90},
		},
	)
)

func ObserveChatRequest(status int, elapsed time.Duration) {
	chatRequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	chatRequestDuration.Observe(elapsed.Seconds())
}
