// Package metrics exposes Prometheus instrumentation for the
// orchestrators and tool dispatch, grounded on the teacher's pack
// dependency on github.com/prometheus/client_golang (present in the
// examples' go.sum but never wired into a concrete registry in the
// teacher itself; the shape here follows the standard
// promauto/client_golang idiom used across the retrieval pack's
// service-style repos).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles every metric the orchestrator package family emits.
// One Registry is built at startup and shared by every session.
type Registry struct {
	ActiveSessions   prometheus.Gauge
	StepsExecuted    *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec
	ToolCallErrors   *prometheus.CounterVec
	ReactIterations  prometheus.Histogram
	PlanSteps        prometheus.Histogram
	OrchestratorRuns *prometheus.CounterVec
}

// New registers every metric against reg (pass prometheus.NewRegistry()
// in tests to avoid the global default registry's duplicate-registration
// panics across test runs).
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchestrator",
			Name:      "active_sessions",
			Help:      "Number of sessions with a live Step orchestrator.",
		}),
		StepsExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "steps_executed_total",
			Help:      "Total plan steps executed, labeled by terminal status.",
		}, []string{"status"}),
		ToolCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orchestrator",
			Name:      "tool_call_duration_seconds",
			Help:      "Tool dispatch latency, labeled by tool name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool_name"}),
		ToolCallErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "tool_call_errors_total",
			Help:      "Tool dispatch failures, labeled by tool name.",
		}, []string{"tool_name"}),
		ReactIterations: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "orchestrator",
			Name:      "react_iterations",
			Help:      "Number of think/act/observe/adapt iterations per ReAct run.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		PlanSteps: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "orchestrator",
			Name:      "plan_steps",
			Help:      "Number of steps in a generated plan.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		OrchestratorRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "runs_total",
			Help:      "Completed orchestrator runs, labeled by kind (step, react) and terminal status.",
		}, []string{"kind", "status"}),
	}
}
