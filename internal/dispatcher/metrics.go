package dispatcher

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatcherQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainmapper_dispatcher_queue_size",
			Help: "Number of in-flight plus buffered tasks",
		},
	)

	dispatcherRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainmapper_dispatcher_task_retries_total",
			Help: "Total number of retried tasks by stage",
		},
		[]string{"stage"},
	)

	dispatcherStalls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainmapper_dispatcher_stalls_total",
			Help: "Total number of tasks that exhausted their retries",
		},
	)

	dispatcherFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chainmapper_dispatcher_fetch_duration_seconds",
			Help:    "Duration of block fetches",
			Buckets: prometheus.DefBuckets,
		},
	)

	dispatcherExecDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chainmapper_dispatcher_execute_duration_seconds",
			Help:    "Duration of block handler execution",
			Buckets: prometheus.DefBuckets,
		},
	)

	workerLoad = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainmapper_worker_load",
			Help: "Number of tasks assigned to a pool worker",
		},
		[]string{"worker"},
	)
)

func queueSizeSet(n int) {
	dispatcherQueueSize.Set(float64(n))
}

func retriesInc(stage string) {
	dispatcherRetries.WithLabelValues(stage).Inc()
}

func stallsInc() {
	dispatcherStalls.Inc()
}

func fetchDurationLog(d time.Duration) {
	dispatcherFetchDuration.Observe(d.Seconds())
}

func execDurationLog(d time.Duration) {
	dispatcherExecDuration.Observe(d.Seconds())
}

func workerLoadSet(id, load int) {
	workerLoad.WithLabelValues(strconv.Itoa(id)).Set(float64(load))
}
