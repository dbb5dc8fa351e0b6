package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storeMutations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainmapper_store_mutations_total",
			Help: "Total number of committed entity mutations",
		},
	)

	storeRewinds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainmapper_store_rewinds_total",
			Help: "Total number of entity store rewinds",
		},
	)
)

func mutationsAdd(n int) {
	storeMutations.Add(float64(n))
}

func rewindsInc() {
	storeRewinds.Inc()
}
