package sandbox

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sandboxCallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chainmapper_sandbox_call_duration_seconds",
			Help:    "Duration of sandboxed handler and processor calls",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), //nolint:mnd
		},
	)

	sandboxErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainmapper_sandbox_errors_total",
			Help: "Total number of failed sandboxed calls by kind",
		},
		[]string{"kind"},
	)

	sandboxModuleLoads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainmapper_sandbox_module_loads_total",
			Help: "Total number of mapping and processor modules compiled",
		},
	)
)

func callDurationLog(d time.Duration) {
	sandboxCallDuration.Observe(d.Seconds())
}

func errorsInc(kind ErrorKind) {
	sandboxErrors.WithLabelValues(string(kind)).Inc()
}

func moduleLoadsInc() {
	sandboxModuleLoads.Inc()
}
