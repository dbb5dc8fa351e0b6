package poi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	poiAppends = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainmapper_poi_appends_total",
			Help: "Total number of proof-of-index leaves appended",
		},
	)

	poiTruncations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainmapper_poi_truncations_total",
			Help: "Total number of proof-of-index ledger truncations",
		},
	)

	poiLeaves = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainmapper_poi_leaves",
			Help: "Number of leaves in the proof-of-index MMR",
		},
	)
)

func appendsInc() {
	poiAppends.Inc()
}

func truncationsInc() {
	poiTruncations.Inc()
}

func leavesSet(n uint64) {
	poiLeaves.Set(float64(n))
}
