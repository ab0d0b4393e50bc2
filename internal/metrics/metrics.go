// Package metrics exposes Prometheus instrumentation for the solver:
// phase durations, solve outcomes, makespans, conflict counts, and
// Phase-2 search iteration counts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PhaseDuration records wall-clock time spent in each solve phase.
	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scheduler_phase_duration_seconds",
		Help:    "Time spent in each solve phase",
		Buckets: prometheus.DefBuckets,
	}, []string{"phase"})

	// SolvesTotal counts completed Solve calls by outcome.
	SolvesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_solves_total",
		Help: "The total number of Solve calls by outcome",
	}, []string{"outcome"}) // feasible, suboptimal_time_limited, validation_rejected

	// MakespanSeconds observes the makespan of every feasible schedule.
	MakespanSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduler_makespan_seconds",
		Help:    "Makespan of accepted schedules",
		Buckets: prometheus.ExponentialBuckets(60, 2, 12),
	})

	// ConflictsTotal counts validation conflicts found by the retimer,
	// by kind.
	ConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_conflicts_total",
		Help: "The total number of replay conflicts detected, by kind",
	}, []string{"kind"})

	// SearchIterations observes the number of local-search iterations
	// Phase-2 took to converge (observed only when it converges).
	SearchIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduler_phase2_iterations",
		Help:    "Number of Phase-2 local search iterations per Solve call",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	})
)
