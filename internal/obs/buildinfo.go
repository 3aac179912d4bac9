package obs

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hivegate_build_info",
			Help: "Always 1; labels carry the gateway version, VCS revision and Go toolchain.",
		},
		[]string{"version", "commit", "go_version"},
	)

	startTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hivegate_start_time_seconds",
		Help: "Unix time the gateway process started.",
	})
)

// InitBuildInfo publishes the build labels and the start time. A "dev" or
// empty commit falls back to the VCS revision stamped by the toolchain.
func InitBuildInfo(version, commit string) {
	buildOnce.Do(func() {
		prometheus.MustRegister(buildInfo, startTime)
		startTime.Set(float64(time.Now().Unix()))
	})
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, revision(commit), runtime.Version()).Set(1)
}

func revision(commit string) string {
	if commit != "" && commit != "dev" {
		return commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return s.Value
			}
		}
	}
	if commit == "" {
		return "unknown"
	}
	return commit
}
