package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/procscript/internal/model"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procscript_runs_total",
			Help: "Total number of finished runs by final status.",
		},
		[]string{"status"},
	)

	activeRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "procscript_active_runs",
			Help: "Number of runs currently executing.",
		},
	)

	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "procscript_run_duration_seconds",
			Help:    "Wall-clock duration of a run from start to final status, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	linesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procscript_lines_total",
			Help: "Total number of output lines captured from child processes.",
		},
		[]string{"stream"},
	)

	stepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procscript_steps_total",
			Help: "Total number of script steps entered, by step type.",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(runsTotal)
	prometheus.MustRegister(activeRuns)
	prometheus.MustRegister(runDuration)
	prometheus.MustRegister(linesTotal)
	prometheus.MustRegister(stepsTotal)

	for _, status := range []string{model.StatusPassed, model.StatusFailed, model.StatusError, model.StatusCancelled} {
		runsTotal.WithLabelValues(status)
	}
	linesTotal.WithLabelValues(model.StreamStdout)
	linesTotal.WithLabelValues(model.StreamStderr)
}
