package dictionary

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dictionaryRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainmapper_dictionary_requests_total",
			Help: "Total number of dictionary requests by outcome",
		},
		[]string{"status"},
	)

	dictionaryRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainmapper_dictionary_request_duration_seconds",
			Help:    "Duration of dictionary requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)
)

func requestsInc(status string) {
	dictionaryRequests.WithLabelValues(status).Inc()
}

func requestDurationLog(path string, d time.Duration) {
	dictionaryRequestDuration.WithLabelValues(path).Observe(d.Seconds())
}
