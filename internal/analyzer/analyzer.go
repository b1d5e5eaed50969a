// Package analyzer implements the Result Analyzer (C10): given an
// action and its raw output, returns a structured verdict consumed by
// the ReAct Orchestrator's adapt step (spec.md §4.7), grounded on the
// teacher's reasoning.ToolResult / ReasoningState confidence fields.
package analyzer

import (
	"context"
	"strings"

	"github.com/flowmind/orchestrator/internal/llm"
)

// Analysis is the structured verdict returned by Analyze.
type Analysis struct {
	IsSuccess         bool
	IsError           bool
	IsGoalAchieved    bool
	ErrorMessage      string
	ExtractedData     map[string]interface{}
	ProgressTowardGoal float64
}

var errorPrefixes = []string{
	"error:", "exception", "httperror", "traceback", "panic:",
}

// Analyzer classifies tool/action results and judges goal completion.
type Analyzer struct {
	provider llm.Provider
}

func New(provider llm.Provider) *Analyzer {
	return &Analyzer{provider: provider}
}

// Observation is one past (action, result) pair, used as context when
// judging whether the goal has now been achieved.
type Observation struct {
	Action  string
	Summary string
}

// Analyze classifies result against the given goal and prior
// observations. isReadAction tells it whether an empty result for a
// read-category tool should itself count as an error (spec.md §4.7).
func (a *Analyzer) Analyze(ctx context.Context, action, result, goal string, priorObservations []Observation, isReadAction bool) Analysis {
	analysis := Analysis{IsSuccess: true, ProgressTowardGoal: 0.5}

	trimmed := strings.TrimSpace(result)
	lower := strings.ToLower(trimmed)

	for _, prefix := range errorPrefixes {
		if strings.HasPrefix(lower, prefix) || strings.Contains(lower, prefix) {
			analysis.IsError = true
			analysis.IsSuccess = false
			analysis.ErrorMessage = trimmed
			analysis.ProgressTowardGoal = 0
			return analysis
		}
	}
	if trimmed == "" && isReadAction {
		analysis.IsError = true
		analysis.IsSuccess = false
		analysis.ErrorMessage = "empty result from read action"
		analysis.ProgressTowardGoal = 0
		return analysis
	}

	analysis.IsGoalAchieved = a.judgeGoalAchieved(ctx, action, result, goal, priorObservations)
	if analysis.IsGoalAchieved {
		analysis.ProgressTowardGoal = 1
	} else {
		analysis.ProgressTowardGoal = 0.5
	}
	return analysis
}

// judgeGoalAchieved asks the model whether the goal is now satisfied,
// defaulting conservatively to false on any failure (spec.md §4.7
// "conservative default of false").
func (a *Analyzer) judgeGoalAchieved(ctx context.Context, action, result, goal string, prior []Observation) bool {
	if a.provider == nil {
		return false
	}

	var history strings.Builder
	for _, o := range prior {
		history.WriteString("- ")
		history.WriteString(o.Action)
		history.WriteString(": ")
		history.WriteString(o.Summary)
		history.WriteString("\n")
	}

	resp, err := a.provider.Generate(ctx, llm.GenerateRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You judge whether a goal has been fully achieved given the actions taken so far. Respond with exactly one word: YES or NO."},
			{Role: llm.RoleUser, Content: "Goal: " + goal + "\n\nPrior actions:\n" + history.String() + "\nLatest action: " + action + "\nLatest result: " + result},
		},
		MaxTokens: 5,
	})
	if err != nil {
		return false
	}

	verdict := strings.ToUpper(strings.TrimSpace(resp.Message.Content))
	return strings.Contains(verdict, "YES")
}
