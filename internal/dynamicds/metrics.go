package dynamicds

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var dynamicDatasources = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "chainmapper_dynamic_datasources",
		Help: "Number of registered dynamic datasources",
	},
)

func dynamicSet(n int) {
	dynamicDatasources.Set(float64(n))
}
