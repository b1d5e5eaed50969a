package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEvaluate_Arithmetic(t *testing.T) {
	v, err := evaluate("sqrt(2) * (3 + 4)", nil)
	require.NoError(t, err)
	require.InDelta(t, 9.899494937, v.(float64), 1e-6)
}

func TestEvaluate_DataBinding(t *testing.T) {
	v, err := evaluate(`sum(data["prices"]) * 1.2`, map[string]interface{}{
		"prices": []interface{}{10.0, 20.0, 30.0},
	})
	require.NoError(t, err)
	require.InDelta(t, 72, v.(float64), 1e-9)
}

func TestEvaluate_JSONRoundTrip(t *testing.T) {
	v, err := evaluate(`json_decode(json_encode(data["prices"]))`, map[string]interface{}{
		"prices": []interface{}{1.0, 2.0, 3.0},
	})
	require.NoError(t, err)
	list, ok := v.([]interface{})
	require.True(t, ok)
	require.Len(t, list, 3)
}

func TestEvaluate_DateHelpers(t *testing.T) {
	v, err := evaluate(`date_diff(date_add("2026-01-01", 10), "2026-01-01")`, nil)
	require.NoError(t, err)
	require.Equal(t, 10.0, v)
}

func TestEvaluate_UnknownFunctionRejected(t *testing.T) {
	_, err := evaluate("__import__('os')", nil)
	require.Error(t, err)
}

func TestEvaluate_DivisionByZero(t *testing.T) {
	_, err := evaluate("1 / 0", nil)
	require.Error(t, err)
}

func TestEvaluate_IndexOutOfRange(t *testing.T) {
	_, err := evaluate(`data["items"][5]`, map[string]interface{}{
		"items": []interface{}{1.0, 2.0},
	})
	require.Error(t, err)
}

func TestRunnerTool_Execute(t *testing.T) {
	src := New(time.Second)
	tools, err := src.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)

	result, err := tools[0].Execute(context.Background(), map[string]interface{}{"expression": "1 + 2"})
	require.NoError(t, err)
	require.Equal(t, "3", result.Content)
}

func TestRunnerTool_WallClockLimit(t *testing.T) {
	src := New(time.Nanosecond)
	tools, _ := src.Discover(context.Background())
	result, err := tools[0].Execute(context.Background(), map[string]interface{}{"expression": "1 + 1"})
	_ = result
	if err == nil {
		// Evaluation can outrace the nanosecond timeout on a fast
		// machine; only assert when it actually times out.
		t.Skip("evaluation completed before the wall-clock limit elapsed")
	}
	require.Contains(t, err.Error(), "wall-clock limit")
}

func TestRunnerTool_MissingExpression(t *testing.T) {
	src := New(time.Second)
	tools, _ := src.Discover(context.Background())
	_, err := tools[0].Execute(context.Background(), map[string]interface{}{})
	require.Error(t, err)
}
