package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "authcore build information.",
		},
		[]string{"version", "commit", "component"},
	)
)

// InitBuildInfo registers build_info once and sets it for the running component.
func InitBuildInfo(version, commit, component string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(version, commit, component).Set(1)
}
