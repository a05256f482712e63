// Package metrics holds the Prometheus instrumentation for the host
// process. The analysis core itself stays clock-free; only the serving
// layer records durations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all RateScan metrics.
type Registry struct {
	RunsTotal    *prometheus.CounterVec
	StepDuration *prometheus.HistogramVec
	StepOutcomes *prometheus.CounterVec
	Warnings     *prometheus.CounterVec
	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
}

// NewRegistry creates the metric set.
func NewRegistry() *Registry {
	return &Registry{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratescan_runs_total",
				Help: "Completed analysis runs by outcome",
			},
			[]string{"outcome"},
		),
		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ratescan_step_duration_seconds",
				Help:    "Wall time of each pipeline step",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"step"},
		),
		StepOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratescan_step_outcomes_total",
				Help: "Pipeline step results by status and reason",
			},
			[]string{"step", "status"},
		),
		Warnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratescan_warnings_total",
				Help: "Engine warnings emitted, by code",
			},
			[]string{"code"},
		),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratescan_snapshot_cache_hits_total",
			Help: "Snapshot cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratescan_snapshot_cache_misses_total",
			Help: "Snapshot cache misses",
		}),
	}
}

// Register attaches all metrics to a Prometheus registerer.
func (r *Registry) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		r.RunsTotal, r.StepDuration, r.StepOutcomes, r.Warnings, r.CacheHits, r.CacheMisses,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
