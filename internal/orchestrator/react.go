package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/flowmind/orchestrator/internal/analyzer"
	"github.com/flowmind/orchestrator/internal/eventbus"
	"github.com/flowmind/orchestrator/internal/llm"
	"github.com/flowmind/orchestrator/internal/metrics"
	"github.com/flowmind/orchestrator/internal/session"
	"github.com/flowmind/orchestrator/internal/tool"
)

// ReactStatus is the terminal state of a ReAct loop (spec.md §4.2).
type ReactStatus string

const (
	ReactDone   ReactStatus = "done"
	ReactFailed ReactStatus = "failed"
	ReactStopped ReactStatus = "stopped"
)

// ReactResult is returned by Run.
type ReactResult struct {
	Status ReactStatus
	Answer string
	Reason string
	Tried  []string
}

// ReactDeps bundles the ReAct Orchestrator's collaborators.
type ReactDeps struct {
	Bus      eventbus.Publisher
	Provider llm.Provider
	Tools    *tool.Registry
	Analyzer *analyzer.Analyzer
	Metrics  *metrics.Registry

	MaxIterations int
}

// actionRecord is one completed Plan-action/Act/Observe cycle.
type actionRecord struct {
	Action  string
	Success bool
}

type observation struct {
	Action   string
	Preview  string
}

// ReactOrchestrator implements the adaptive think/act/observe/adapt
// loop of spec.md §4.2, grounded on the teacher's reasoning/strategy.go
// ReasoningStrategy.PrepareIteration/ProcessModelResponse pattern, here
// collapsed into a single bounded loop since the spec has no notion of
// a pluggable strategy — only one adaptive loop exists.
type ReactOrchestrator struct {
	deps      ReactDeps
	sessionID string
	cc        *session.ConversationContext

	stopped atomic.Bool
	stopCh  chan struct{}
}

// NewReactOrchestrator builds a ReactOrchestrator for one goal.
func NewReactOrchestrator(sessionID string, cc *session.ConversationContext, deps ReactDeps) *ReactOrchestrator {
	if deps.MaxIterations <= 0 {
		deps.MaxIterations = 10
	}
	return &ReactOrchestrator{
		deps:      deps,
		sessionID: sessionID,
		cc:        cc,
		stopCh:    make(chan struct{}),
	}
}

// Stop cancels any in-flight iteration cooperatively (spec.md §4.2 "Cancellation").
func (r *ReactOrchestrator) Stop() {
	if r.stopped.CompareAndSwap(false, true) {
		close(r.stopCh)
	}
}

func (r *ReactOrchestrator) isStopped() bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return r.stopped.Load()
	}
}

func (r *ReactOrchestrator) publish(t eventbus.EventType, payload map[string]interface{}) {
	r.deps.Bus.Publish(r.sessionID, eventbus.StreamEvent{Type: t, Payload: payload})
}

// plannedAction is the strict JSON shape required of the Plan-one-action step.
type plannedAction struct {
	ToolName    string                 `json:"tool_name"`
	Arguments   map[string]interface{} `json:"arguments"`
	Description string                 `json:"description"`
	Reasoning   string                 `json:"reasoning"`
}

type alternativeAction struct {
	ToolName    string                 `json:"tool_name"`
	Arguments   map[string]interface{} `json:"arguments"`
	Description string                 `json:"description"`
	Reasoning   string                 `json:"reasoning"`
	Alternative bool                   `json:"alternative"`
}

// Run drives goal to completion or exhaustion of the iteration budget.
func (r *ReactOrchestrator) Run(ctx context.Context, goal string) ReactResult {
	var (
		actions      []actionRecord
		observations []observation
		tried        []string
	)

	for iteration := 1; iteration <= r.deps.MaxIterations; iteration++ {
		if r.isStopped() {
			r.recordIterations(iteration)
			r.recordRun(ReactStopped)
			return ReactResult{Status: ReactStopped, Tried: tried}
		}

		thought := r.think(ctx, goal, actions, observations)
		r.publish(eventbus.EventReactThinking, map[string]interface{}{"iteration": iteration, "thought": thought})

		action, err := r.planAction(ctx, thought, goal, actions)
		if err != nil {
			r.recordIterations(iteration)
			r.recordRun(ReactFailed)
			return ReactResult{Status: ReactFailed, Reason: err.Error(), Tried: tried}
		}
		r.publish(eventbus.EventReactAction, map[string]interface{}{
			"iteration": iteration, "tool_name": action.ToolName,
			"arguments": action.Arguments, "description": action.Description,
		})

		if action.ToolName == "FINISH" {
			r.recordIterations(iteration)
			r.recordRun(ReactDone)
			return r.finalizeSuccess(goal, observations, tried)
		}

		if r.isStopped() {
			r.recordIterations(iteration)
			r.recordRun(ReactStopped)
			return ReactResult{Status: ReactStopped, Tried: tried}
		}

		resultText, isReadAction := r.act(ctx, action)
		preview := truncateResult(resultText, 500)
		r.publish(eventbus.EventReactObservation, map[string]interface{}{"iteration": iteration, "preview": preview})
		observations = append(observations, observation{Action: action.Description, Preview: preview})

		priorObs := make([]analyzer.Observation, 0, len(observations))
		for _, o := range observations {
			priorObs = append(priorObs, analyzer.Observation{Action: o.Action, Summary: o.Preview})
		}
		analysis := r.deps.Analyzer.Analyze(ctx, action.Description, resultText, goal, priorObs, isReadAction)
		actions = append(actions, actionRecord{Action: action.Description, Success: analysis.IsSuccess})

		if analysis.IsGoalAchieved {
			r.recordIterations(iteration)
			r.recordRun(ReactDone)
			return r.finalizeSuccess(goal, observations, tried)
		}

		if analysis.IsError {
			alt, hasAlt := r.planAlternative(ctx, action, resultText, goal)
			if hasAlt {
				tried = append(tried, action.Description)
				action = plannedAction{
					ToolName: alt.ToolName, Arguments: alt.Arguments,
					Description: alt.Description, Reasoning: alt.Reasoning,
				}
				continue
			}
			r.recordIterations(iteration)
			r.recordRun(ReactFailed)
			r.publish(eventbus.EventReactFailed, map[string]interface{}{"reason": analysis.ErrorMessage, "tried": tried})
			return ReactResult{Status: ReactFailed, Reason: analysis.ErrorMessage, Tried: tried}
		}
	}

	r.recordIterations(r.deps.MaxIterations)
	r.recordRun(ReactFailed)
	r.publish(eventbus.EventReactFailed, map[string]interface{}{"reason": "iteration budget exhausted", "tried": tried})
	return ReactResult{Status: ReactFailed, Reason: "iteration budget exhausted", Tried: tried}
}

func (r *ReactOrchestrator) recordIterations(n int) {
	if r.deps.Metrics != nil {
		r.deps.Metrics.ReactIterations.Observe(float64(n))
	}
}

func (r *ReactOrchestrator) recordRun(status ReactStatus) {
	if r.deps.Metrics != nil {
		r.deps.Metrics.OrchestratorRuns.WithLabelValues("react", string(status)).Inc()
	}
}

// think summarizes the goal, the last 5 actions and the last 3
// observation previews into a short situational analysis (spec.md §4.2
// step 1).
func (r *ReactOrchestrator) think(ctx context.Context, goal string, actions []actionRecord, observations []observation) string {
	recentActions := actions
	if len(recentActions) > 5 {
		recentActions = recentActions[len(recentActions)-5:]
	}
	recentObs := observations
	if len(recentObs) > 3 {
		recentObs = recentObs[len(recentObs)-3:]
	}

	var b strings.Builder
	b.WriteString("Goal: " + goal + "\n\nRecent actions:\n")
	for _, a := range recentActions {
		mark := "✓"
		if !a.Success {
			mark = "✗"
		}
		fmt.Fprintf(&b, "- %s %s\n", mark, a.Action)
	}
	b.WriteString("\nRecent observations:\n")
	for _, o := range recentObs {
		fmt.Fprintf(&b, "- %s: %s\n", o.Action, o.Preview)
	}

	resp, err := r.deps.Provider.Generate(ctx, llm.GenerateRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "In 2-3 sentences, analyze progress toward the goal and suggest what to do next."},
			{Role: llm.RoleUser, Content: b.String()},
		},
		MaxTokens: 200,
	})
	if err != nil {
		return "unable to analyze progress: " + err.Error()
	}
	return resp.Message.Content
}

// planAction requires the model to emit the strict JSON action shape
// of spec.md §4.2 step 2, tolerant of surrounding prose the same way
// the Planner is.
func (r *ReactOrchestrator) planAction(ctx context.Context, thought, goal string, actions []actionRecord) (plannedAction, error) {
	tools := r.deps.Tools.List()
	var toolDesc strings.Builder
	for _, t := range tools {
		fmt.Fprintf(&toolDesc, "- %s: %s\n", t.Name, t.Description)
	}

	prompt := "Situational analysis: " + thought + "\n\nGoal: " + goal +
		"\n\nAvailable tools:\n" + toolDesc.String() +
		"\n\nRespond with exactly one JSON object: {\"tool_name\": string, \"arguments\": object, \"description\": string, \"reasoning\": string}. " +
		"Use tool_name \"FINISH\" if the goal is already achieved."

	resp, err := r.deps.Provider.Generate(ctx, llm.GenerateRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	})
	if err != nil {
		return plannedAction{}, err
	}

	var action plannedAction
	if err := parseJSONObject(resp.Message.Content, &action); err != nil {
		return plannedAction{}, fmt.Errorf("planAction: could not parse model response: %w", err)
	}
	return action, nil
}

// planAlternative asks for one alternative action after a failed act
// (spec.md §4.2 step 5 "adapt").
func (r *ReactOrchestrator) planAlternative(ctx context.Context, failed plannedAction, resultText, goal string) (alternativeAction, bool) {
	prompt := fmt.Sprintf(
		"The action %q failed with: %s\n\nGoal: %s\n\nPropose one alternative action as JSON "+
			"{\"tool_name\":string,\"arguments\":object,\"description\":string,\"reasoning\":string,\"alternative\":true}, "+
			"or respond {\"alternative\":false} if no alternative exists.",
		failed.Description, truncateResult(resultText, 300), goal,
	)
	resp, err := r.deps.Provider.Generate(ctx, llm.GenerateRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	})
	if err != nil {
		return alternativeAction{}, false
	}

	var alt alternativeAction
	if err := parseJSONObject(resp.Message.Content, &alt); err != nil {
		return alternativeAction{}, false
	}
	if !alt.Alternative || alt.ToolName == "" {
		return alternativeAction{}, false
	}
	return alt, true
}

// act invokes the planned tool, returning raw result text (or the
// error message, per spec.md §4.2 step 3) and whether the tool is
// read-category (used by the analyzer's empty-result rule).
func (r *ReactOrchestrator) act(ctx context.Context, action plannedAction) (string, bool) {
	info, ok := r.deps.Tools.Get(action.ToolName)
	isRead := ok && isReadCategory(info.Name)

	start := time.Now()
	result, err := r.deps.Tools.Execute(ctx, tool.Call{Name: action.ToolName, Arguments: action.Arguments})
	if r.deps.Metrics != nil {
		r.deps.Metrics.ToolCallDuration.WithLabelValues(action.ToolName).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if r.deps.Metrics != nil {
			r.deps.Metrics.ToolCallErrors.WithLabelValues(action.ToolName).Inc()
		}
		return err.Error(), isRead
	}
	return result.Content, isRead
}

var readVerbs = []string{"get", "list", "search", "read", "find", "fetch", "query", "lookup"}

// isReadCategory derives the advisory read/write classification of
// spec.md §3 Tool data model from the tool's name.
func isReadCategory(name string) bool {
	lower := strings.ToLower(name)
	for _, v := range readVerbs {
		if strings.HasPrefix(lower, v) || strings.Contains(lower, "_"+v) {
			return true
		}
	}
	return false
}

func (r *ReactOrchestrator) finalizeSuccess(goal string, observations []observation, tried []string) ReactResult {
	var summary strings.Builder
	summary.WriteString("Goal achieved: " + goal + "\n")
	if len(observations) > 0 {
		summary.WriteString("Final observation: " + observations[len(observations)-1].Preview)
	}
	answer := summary.String()

	r.cc.AppendMessage(session.Message{Role: session.RoleAssistant, Content: answer})
	r.publish(eventbus.EventReactComplete, map[string]interface{}{"answer": answer})
	return ReactResult{Status: ReactDone, Answer: answer, Tried: tried}
}

// parseJSONObject unmarshals v directly, falling back to a
// brace-matched substring extraction (mirrors planner.parsePlan's
// tolerance for prose-wrapped JSON).
func parseJSONObject(raw string, v interface{}) error {
	if err := json.Unmarshal([]byte(raw), v); err == nil {
		return nil
	}
	start := strings.Index(raw, "{")
	if start < 0 {
		return fmt.Errorf("no JSON object found")
	}
	end := lastJSONObjectEnd(raw[start:])
	if end < 0 {
		return fmt.Errorf("unterminated JSON object")
	}
	return json.Unmarshal([]byte(raw[start:start+end]), v)
}
