package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "optimizer_runs_started_total",
			Help: "Total optimization runs moved to running",
		},
	)

	RunsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "optimizer_runs_completed_total",
			Help: "Total optimization runs that produced a feasible plan",
		},
	)

	RunsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optimizer_runs_failed_total",
			Help: "Total failed optimization runs by reason class",
		},
		[]string{"reason"},
	)

	RolloutsEvaluated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "optimizer_rollouts_evaluated_total",
			Help: "Total planner rollouts simulated",
		},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "optimizer_run_duration_seconds",
			Help:    "Wall-clock duration of optimization runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)
)
