package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ActiveSessions.Inc()
	m.StepsExecuted.WithLabelValues("completed").Inc()
	m.ToolCallDuration.WithLabelValues("search").Observe(0.25)
	m.ToolCallErrors.WithLabelValues("search").Inc()
	m.ReactIterations.Observe(3)
	m.PlanSteps.Observe(2)
	m.OrchestratorRuns.WithLabelValues("step", "completed").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"orchestrator_active_sessions",
		"orchestrator_steps_executed_total",
		"orchestrator_tool_call_duration_seconds",
		"orchestrator_tool_call_errors_total",
		"orchestrator_react_iterations",
		"orchestrator_plan_steps",
		"orchestrator_runs_total",
	} {
		require.True(t, names[want], "expected metric %s to be registered", want)
	}
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	require.Panics(t, func() { New(reg) })
}
