package reorg

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	sourceCommit  = "commit"
	sourceTracked = "tracked"
	sourceTooDeep = "too_deep"
)

var (
	reorgsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainmapper_reorgs_detected_total",
			Help: "Reorgs detected, by where they were noticed",
		},
		[]string{"source"},
	)

	reorgDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chainmapper_reorg_depth_blocks",
			Help:    "Number of tracked blocks replaced by a reorg",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		},
	)

	reorgLastDetected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainmapper_reorg_last_detected_timestamp",
			Help: "Unix time of the last detected reorg",
		},
	)
)

// reorgObserved records a reorg. depth is zero when it is not known.
func reorgObserved(source string, depth uint64) {
	reorgsDetected.WithLabelValues(source).Inc()
	if depth > 0 {
		reorgDepth.Observe(float64(depth))
	}
	reorgLastDetected.SetToCurrentTime()
}
