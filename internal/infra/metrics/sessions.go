package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(sessionRateLimited, sessionStoreOps, sessionRegistryActive)
}

var (
	sessionRateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "session_rate_limited_total",
			Help: "Requests rejected by the per-session sliding window.",
		},
	)

	sessionStoreOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_store_ops_total",
			Help: "Session state store operations.",
		},
		[]string{"driver", "op", "result"}, // e.g., driver="redis", op="get", result="miss"
	)

	sessionRegistryActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "session_registry_active",
			Help: "Session handlers currently resident in memory.",
		},
	)
)

func IncSessionRateLimited() { sessionRateLimited.Inc() }

func IncStoreOp(driver, op, result string) {
	sessionStoreOps.WithLabelValues(norm(driver), norm(op), norm(result)).Inc()
}

func SetRegistryActive(n int) { sessionRegistryActive.Set(float64(n)) }
