package metrics

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BlocksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainmapper_blocks_processed_total",
			Help: "Committed blocks by kind (executed or skipped)",
		},
		[]string{"kind"},
	)

	HandlerInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainmapper_handler_invocations_total",
			Help: "Mapping handler invocations",
		},
		[]string{"handler"},
	)

	IndexingRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainmapper_indexing_rate_blocks_per_second",
			Help: "Committed blocks per second over the last sampling interval",
		},
	)

	EntityQueries = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainmapper_entity_query_duration_seconds",
			Help:    "Duration of committed entity reads",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainmapper_errors_total",
			Help: "Errors by component and severity",
		},
		[]string{"component", "severity"},
	)

	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainmapper_component_health",
			Help: "Component health (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)

	Uptime = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chainmapper_uptime_seconds",
		Help: "Process uptime in seconds",
	})

	Goroutines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chainmapper_goroutines",
		Help: "Number of live goroutines",
	})

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainmapper_memory_usage_bytes",
			Help: "Go runtime memory statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()

	// committed counts blocks for the indexing rate sampler
	committed atomic.Uint64
)

// BlockCommitted records one committed block.
func BlockCommitted(skipped bool) {
	kind := "executed"
	if skipped {
		kind = "skipped"
	}
	BlocksProcessed.WithLabelValues(kind).Inc()
	committed.Add(1)
}

func HandlerInvocationsInc(handler string) {
	HandlerInvocations.WithLabelValues(handler).Inc()
}

// EntityQueryObserve records an entity read that began at start.
func EntityQueryObserve(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	EntityQueries.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}

func ErrorsInc(component, severity string) {
	Errors.WithLabelValues(component, severity).Inc()
}

func ComponentHealthSet(component string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	ComponentHealth.WithLabelValues(component).Set(v)
}

// rateSampler turns the committed block counter into a per-second rate.
type rateSampler struct {
	last   uint64
	lastAt time.Time
}

func (r *rateSampler) sample(now time.Time) {
	total := committed.Load()
	if !r.lastAt.IsZero() {
		if elapsed := now.Sub(r.lastAt).Seconds(); elapsed > 0 {
			IndexingRate.Set(float64(total-r.last) / elapsed)
		}
	}
	r.last, r.lastAt = total, now
}

// UpdateSystemMetrics refreshes the runtime gauges.
func UpdateSystemMetrics() {
	Uptime.Set(time.Since(startTime).Seconds())
	Goroutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	for kind, v := range map[string]uint64{
		"alloc":       m.Alloc,
		"total_alloc": m.TotalAlloc,
		"sys":         m.Sys,
		"heap_inuse":  m.HeapInuse,
	} {
		MemoryUsage.WithLabelValues(kind).Set(float64(v))
	}
}
