package fetcher

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	finalizedHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainmapper_finalized_height",
			Help: "The current finalized height reported by the chain data source",
		},
	)

	checkpointHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainmapper_checkpoint_height",
			Help: "The last durably committed height",
		},
	)

	finalizedPollFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainmapper_finalized_poll_failures_total",
			Help: "Total number of failed finalized height polls",
		},
	)

	plannedTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainmapper_planned_tasks_total",
			Help: "Total number of planned tasks by path (dense, sparse, skip)",
		},
		[]string{"path"},
	)

	dictionaryFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainmapper_dictionary_fallbacks_total",
			Help: "Total number of ranges planned densely although a dictionary is configured",
		},
		[]string{"reason"},
	)

	commitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chainmapper_commit_duration_seconds",
			Help:    "Duration of committing one processed result",
			Buckets: prometheus.DefBuckets,
		},
	)

	rewinds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainmapper_rewinds_total",
			Help: "Total number of committed reorg rewinds",
		},
	)
)

func finalizedHeightSet(h uint64) {
	finalizedHeight.Set(float64(h))
}

func checkpointHeightSet(h uint64) {
	checkpointHeight.Set(float64(h))
}

func finalizedPollFailuresInc() {
	finalizedPollFailures.Inc()
}

func plannedTasksAdd(path string, n int) {
	if n > 0 {
		plannedTasks.WithLabelValues(path).Add(float64(n))
	}
}

func dictionaryFallbacksInc(reason string) {
	dictionaryFallbacks.WithLabelValues(reason).Inc()
}

func commitDurationLog(d time.Duration) {
	commitDuration.Observe(d.Seconds())
}

func rewindsInc() {
	rewinds.Inc()
}
