package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionflow_sessions_created_total",
		Help: "Sessions created, by workflow type.",
	}, []string{"type"})

	stepTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionflow_step_transitions_total",
		Help: "Interpreted step results, by workflow type, step and outcome.",
	}, []string{"type", "step", "status"})

	escalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionflow_step_escalations_total",
		Help: "Steps that exhausted their retry budget and failed the session.",
	}, []string{"type", "step"})

	childrenSpawned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionflow_children_spawned_total",
		Help: "Child sessions created by spawn steps, by child workflow type.",
	}, []string{"type"})

	broadcastFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessionflow_broadcast_failures_total",
		Help: "Session event broadcasts that failed to publish.",
	})
)
