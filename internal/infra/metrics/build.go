package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(buildInfo) }

var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "incident_assistant_build_info",
		Help: "A constant metric with labels for version, commit and AI provider.",
	},
	[]string{"version", "commit", "provider"},
)

func SetBuildInfo(version, commit, provider string) {
	buildInfo.WithLabelValues(version, commit, norm(provider)).Set(1)
}
