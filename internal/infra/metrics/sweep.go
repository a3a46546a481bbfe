package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		sweepRunsTotal,
		sweepDurationMs,
		sweepItemErrorsTotal,
	)
}

var (
	sweepRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_runs_total",
			Help: "Due-date sweep runs by outcome (ok/skipped/error).",
		},
		[]string{"outcome"},
	)

	sweepDurationMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sweep_duration_ms",
			Help:    "Duration of a full sweep run in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
	)

	sweepItemErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sweep_item_errors_total",
			Help: "Subscriptions that errored during a sweep without aborting the run.",
		},
	)
)

func IncSweepRun(outcome string) {
	sweepRunsTotal.WithLabelValues(norm(outcome)).Inc()
}

func ObserveSweepDuration(ms int) {
	sweepDurationMs.Observe(float64(ms))
}

func IncSweepItemError() { sweepItemErrorsTotal.Inc() }
