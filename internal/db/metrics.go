package db

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	maintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainmapper_maintenance_runs_total",
			Help: "Maintenance runs by outcome",
		},
		[]string{"status"},
	)

	maintenanceStepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainmapper_maintenance_step_duration_seconds",
			Help:    "Duration of each maintenance step",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	maintenanceLastRun = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainmapper_maintenance_last_run_timestamp",
			Help: "Unix timestamp of the last maintenance run",
		},
	)

	maintenanceSpaceReclaimed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainmapper_maintenance_space_reclaimed_bytes",
			Help: "Bytes reclaimed by the last maintenance run",
		},
	)

	prunedRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainmapper_maintenance_pruned_rows_total",
			Help: "Rows removed by maintenance pruners",
		},
		[]string{"pruner"},
	)

	dbSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainmapper_db_size_bytes",
			Help: "Combined size of the database file, its WAL and shared memory file",
		},
	)
)

func maintenanceRunLog(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	maintenanceRuns.WithLabelValues(status).Inc()
	maintenanceLastRun.Set(float64(time.Now().Unix()))
}

func maintenanceStepLog(step string, d time.Duration) {
	maintenanceStepDuration.WithLabelValues(step).Observe(d.Seconds())
}

func spaceReclaimedLog(before, after int64) {
	if before > after {
		maintenanceSpaceReclaimed.Set(float64(before - after))
	} else {
		maintenanceSpaceReclaimed.Set(0)
	}
	dbSize.Set(float64(after))
}

func prunedRowsAdd(pruner string, n int64) {
	prunedRows.WithLabelValues(pruner).Add(float64(n))
}
