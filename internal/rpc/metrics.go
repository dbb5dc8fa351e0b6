package rpc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rpcCalls = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainmapper_rpc_call_duration_seconds",
			Help:    "Duration of node calls including retries, by method and outcome",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "outcome"},
	)

	rpcRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainmapper_rpc_retries_total",
			Help: "Retried node calls by method",
		},
		[]string{"method"},
	)
)

// observeCall records a finished call. The outcome is "ok" or the error class.
func observeCall(method string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = errorType(err)
	}
	rpcCalls.WithLabelValues(method, outcome).Observe(time.Since(start).Seconds())
}

func retryInc(method string) {
	rpcRetries.WithLabelValues(method).Inc()
}
