package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/flowmind/orchestrator/internal/eventbus"
	"github.com/flowmind/orchestrator/internal/llm"
	"github.com/flowmind/orchestrator/internal/metrics"
	"github.com/flowmind/orchestrator/internal/orcherrors"
	"github.com/flowmind/orchestrator/internal/planner"
	"github.com/flowmind/orchestrator/internal/session"
	"github.com/flowmind/orchestrator/internal/tool"
)

// StepDeps bundles every collaborator the Step Orchestrator needs,
// mirroring the teacher's DefaultAgentServices construction.
type StepDeps struct {
	Bus      eventbus.Publisher
	Provider llm.Provider
	Tools    *tool.Registry
	Planner  *planner.Planner
	Metrics  *metrics.Registry

	MaxHistoryMessages  int
	ToolResultTruncate  int
	PlanningThinking    int

	ApprovalTimeout        time.Duration
	ApprovalPollInterval   time.Duration
	AssistanceTimeout      time.Duration
	AssistancePollInterval time.Duration
}

func (d StepDeps) approvalTimeout() time.Duration {
	if d.ApprovalTimeout > 0 {
		return d.ApprovalTimeout
	}
	return approvalTimeout
}

func (d StepDeps) approvalPoll() time.Duration {
	if d.ApprovalPollInterval > 0 {
		return d.ApprovalPollInterval
	}
	return approvalPoll
}

func (d StepDeps) assistanceTimeout() time.Duration {
	if d.AssistanceTimeout > 0 {
		return d.AssistanceTimeout
	}
	return assistanceTimeout
}

func (d StepDeps) assistancePoll() time.Duration {
	if d.AssistancePollInterval > 0 {
		return d.AssistancePollInterval
	}
	return assistancePoll
}

// StepOrchestrator drives one complex turn to completion (spec.md §4.1).
// One instance is created per turn; it is torn down by the Agent
// Wrapper (C9) once it reaches a terminal status.
type StepOrchestrator struct {
	deps      StepDeps
	sessionID string
	cc        *session.ConversationContext

	stopped atomic.Bool
	stopCh  chan struct{}

	mu             sync.Mutex
	confirmationID string
	assistanceID   string
	confirmCh      chan bool
	updatePlanCh   chan *planner.Plan
	assistanceCh   chan string
}

// NewStepOrchestrator builds a StepOrchestrator for one turn.
func NewStepOrchestrator(sessionID string, cc *session.ConversationContext, deps StepDeps) *StepOrchestrator {
	if deps.MaxHistoryMessages <= 0 {
		deps.MaxHistoryMessages = 10
	}
	if deps.ToolResultTruncate <= 0 {
		deps.ToolResultTruncate = 2000
	}
	if deps.PlanningThinking <= 0 {
		deps.PlanningThinking = 3000
	}
	return &StepOrchestrator{
		deps:         deps,
		sessionID:    sessionID,
		cc:           cc,
		stopCh:       make(chan struct{}),
		confirmCh:    make(chan bool, 1),
		updatePlanCh: make(chan *planner.Plan, 1),
		assistanceCh: make(chan string, 1),
	}
}

// Stop cancels any in-flight work cooperatively (spec.md §5).
func (o *StepOrchestrator) Stop() {
	if o.stopped.CompareAndSwap(false, true) {
		close(o.stopCh)
	}
}

func (o *StepOrchestrator) isStopped() bool {
	return o.stopped.Load()
}

// ConfirmPlan resolves a pending approval gate with acceptance.
func (o *StepOrchestrator) ConfirmPlan() {
	select {
	case o.confirmCh <- true:
	default:
	}
}

// RejectPlan resolves a pending approval gate with rejection.
func (o *StepOrchestrator) RejectPlan() {
	select {
	case o.confirmCh <- false:
	default:
	}
}

// UpdatePendingPlan replaces the plan awaiting approval and emits
// plan_updated (spec.md §6 "update_plan").
func (o *StepOrchestrator) UpdatePendingPlan(p *planner.Plan) {
	select {
	case o.updatePlanCh <- p:
	default:
	}
	o.publish(eventbus.EventPlanUpdated, map[string]interface{}{
		"plan": p.Summary, "steps": p.Steps, "confirmation_id": o.GetConfirmationID(),
	})
}

// ResolveUserAssistance answers a pending user-assistance request.
func (o *StepOrchestrator) ResolveUserAssistance(assistanceID, response string) {
	o.mu.Lock()
	match := assistanceID == o.assistanceID
	o.mu.Unlock()
	if !match {
		return
	}
	select {
	case o.assistanceCh <- response:
	default:
	}
}

func (o *StepOrchestrator) GetConfirmationID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.confirmationID
}

func (o *StepOrchestrator) GetUserAssistanceID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.assistanceID
}

func (o *StepOrchestrator) publish(t eventbus.EventType, payload map[string]interface{}) {
	o.deps.Bus.Publish(o.sessionID, eventbus.StreamEvent{Type: t, Payload: payload})
}

// Execute runs the full turn: plan, optionally gate on approval, run
// every step, synthesize the final answer.
func (o *StepOrchestrator) Execute(ctx context.Context, userRequest string, mode Mode, uploaded []planner.UploadedFile) (ExecuteResult, error) {
	plan, err := o.plan(ctx, userRequest, uploaded)
	if err != nil {
		o.publish(eventbus.EventError, map[string]interface{}{"message": err.Error()})
		o.recordRun(StatusCompleted)
		return ExecuteResult{Status: StatusCompleted}, err
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.PlanSteps.Observe(float64(len(plan.Steps)))
	}

	if len(plan.Steps) == 1 {
		result, err := o.executeSingleStepFastPath(ctx, userRequest, plan)
		o.recordRun(result.Status)
		return result, err
	}

	confirmationID := uuid.NewString()
	o.mu.Lock()
	o.confirmationID = confirmationID
	o.mu.Unlock()

	o.publish(eventbus.EventPlanGenerated, map[string]interface{}{
		"plan": plan.Summary, "steps": plan.Steps, "confirmation_id": confirmationID,
	})
	o.cc.AddPendingConfirmation(session.PendingConfirmation{
		ID: confirmationID, Summary: plan.Summary, CreatedAt: time.Now(),
	})

	if mode == ModeApproval {
		result, outcome := o.awaitApproval(ctx, plan, confirmationID)
		if outcome != nil {
			o.recordRun(result.Status)
			return result, nil
		}
		plan = outcome2plan(plan, o.updatePlanCh)
	}

	o.cc.ResolvePendingConfirmation(confirmationID)

	stepResult, status := o.runSteps(ctx, userRequest, plan)
	if status != "" {
		o.recordRun(status)
		return ExecuteResult{Status: status}, nil
	}

	final, err := o.synthesizeFinalAnswer(ctx, userRequest, plan, stepResult)
	if err != nil {
		o.publish(eventbus.EventError, map[string]interface{}{"message": err.Error()})
		o.recordRun(StatusCompleted)
		return ExecuteResult{Status: StatusCompleted, Result: stepResult}, err
	}

	o.publish(eventbus.EventWorkflowComplete, map[string]interface{}{})
	o.recordRun(StatusCompleted)
	return ExecuteResult{Status: StatusCompleted, Plan: plan, ConfirmationID: confirmationID, Result: final}, nil
}

func (o *StepOrchestrator) recordRun(status Status) {
	if o.deps.Metrics != nil {
		o.deps.Metrics.OrchestratorRuns.WithLabelValues("step", string(status)).Inc()
	}
}

// outcome2plan drains a possible pending plan update without blocking.
func outcome2plan(current *planner.Plan, ch chan *planner.Plan) *planner.Plan {
	select {
	case updated := <-ch:
		return updated
	default:
		return current
	}
}

func (o *StepOrchestrator) plan(ctx context.Context, userRequest string, uploaded []planner.UploadedFile) (*planner.Plan, error) {
	enableThinking := !isSimpleGenerative(userRequest)
	req := planner.Request{
		UserRequest:    userRequest,
		RecentHistory:  historyAsMessages(o.cc.History, o.deps.MaxHistoryMessages),
		UploadedFiles:  uploaded,
		AvailableTools: o.deps.Tools.List(),
		EnableThinking: enableThinking,
		ThinkingBudget: o.deps.PlanningThinking,
	}

	plan, err := o.deps.Planner.Plan(ctx, req, func(fragment string) {
		o.publish(eventbus.EventPlanThinkingChunk, map[string]interface{}{"text": fragment})
	})
	o.publish(eventbus.EventPlanThinkingComplete, nil)
	return plan, err
}

func isSimpleGenerative(userRequest string) bool {
	lower := strings.ToLower(userRequest)
	for _, v := range generativeVerbs {
		if strings.Contains(lower, v) {
			return true
		}
	}
	return false
}

// awaitApproval blocks on the approval gate, polling the stop flag at
// ≤500ms granularity with a 300s upper bound (spec.md §4.1).
func (o *StepOrchestrator) awaitApproval(ctx context.Context, plan *planner.Plan, confirmationID string) (ExecuteResult, error) {
	o.publish(eventbus.EventAwaitingConfirmation, map[string]interface{}{
		"plan": plan.Summary, "steps": plan.Steps, "confirmation_id": confirmationID,
	})

	deadline := time.Now().Add(o.deps.approvalTimeout())
	ticker := time.NewTicker(o.deps.approvalPoll())
	defer ticker.Stop()

	for {
		select {
		case approved := <-o.confirmCh:
			if !approved {
				o.cc.ResolvePendingConfirmation(confirmationID)
				return ExecuteResult{Status: StatusRejected}, fmt.Errorf("plan rejected")
			}
			return ExecuteResult{}, nil
		case <-o.stopCh:
			o.cc.ResolvePendingConfirmation(confirmationID)
			o.publish(eventbus.EventWorkflowStopped, map[string]interface{}{"step": 0, "remaining_steps": len(plan.Steps)})
			return ExecuteResult{Status: StatusStopped}, fmt.Errorf("stopped")
		case <-ctx.Done():
			return ExecuteResult{Status: StatusStopped}, ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				o.cc.ResolvePendingConfirmation(confirmationID)
				o.publish(eventbus.EventError, map[string]interface{}{"message": "approval timed out"})
				return ExecuteResult{Status: StatusTimeout}, orcherrors.NewTimeoutError("orchestrator.Step", "awaitApproval", "300s approval window elapsed")
			}
		}
	}
}

// executeSingleStepFastPath skips plan emission/approval entirely
// (spec.md §4.1 "Single-step fast path").
func (o *StepOrchestrator) executeSingleStepFastPath(ctx context.Context, userRequest string, plan *planner.Plan) (ExecuteResult, error) {
	output, status := o.runStep(ctx, userRequest, plan, 1, "")
	if status != "" {
		return ExecuteResult{Status: status}, nil
	}

	o.publish(eventbus.EventFinalResultStart, nil)
	o.publish(eventbus.EventFinalResultChunk, map[string]interface{}{"text": output})
	o.publish(eventbus.EventFinalResultComplete, nil)
	o.cc.AppendMessage(session.Message{Role: session.RoleAssistant, Content: output})
	o.publish(eventbus.EventWorkflowComplete, nil)

	return ExecuteResult{Status: StatusCompleted, Plan: plan, Result: output}, nil
}

// runSteps executes every plan step in order, returning the last step's
// output and, if the turn terminated early, the terminal Status.
func (o *StepOrchestrator) runSteps(ctx context.Context, userRequest string, plan *planner.Plan) (string, Status) {
	var lastOutput string
	priorResults := make([]string, 0, len(plan.Steps))

	for i, title := range plan.Steps {
		if o.isStopped() {
			o.publish(eventbus.EventWorkflowStopped, map[string]interface{}{"step": i + 1, "remaining_steps": len(plan.Steps) - i})
			return lastOutput, StatusStopped
		}

		priorContext := strings.Join(priorResults, "\n---\n")
		output, status := o.runStep(ctx, userRequest, plan, i+1, priorContext)
		if status != "" {
			if o.deps.Metrics != nil {
				o.deps.Metrics.StepsExecuted.WithLabelValues(string(status)).Inc()
			}
			return lastOutput, status
		}
		if o.deps.Metrics != nil {
			o.deps.Metrics.StepsExecuted.WithLabelValues(string(StatusCompleted)).Inc()
		}
		lastOutput = output
		priorResults = append(priorResults, output)

		if containsCriticalFailure(output) {
			o.publish(eventbus.EventWorkflowPaused, map[string]interface{}{"step": i + 1})
			return lastOutput, StatusPaused
		}
	}

	return lastOutput, ""
}

// runStep runs one step of the plan: streams thinking/text, dispatches
// tool calls, extracts entities, and handles any user-assistance
// request embedded in the closing output (spec.md §4.1 "Step
// execution").
func (o *StepOrchestrator) runStep(ctx context.Context, userRequest string, plan *planner.Plan, stepNum int, priorStepResults string) (string, Status) {
	title := plan.Steps[stepNum-1]
	o.publish(eventbus.EventStepStart, map[string]interface{}{"step": stepNum, "title": title})

	if o.isStopped() {
		o.publish(eventbus.EventWorkflowStopped, map[string]interface{}{"step": stepNum, "remaining_steps": len(plan.Steps) - stepNum})
		return "", StatusStopped
	}

	systemPrompt := "You are executing one step of a plan. Use tools when they help. Step title: " + title
	history := historyAsMessages(o.cc.History, o.deps.MaxHistoryMessages)
	userMsg := buildStepUserMessage(userRequest, title, priorStepResults)

	messages := append([]llm.Message{{Role: llm.RoleSystem, Content: systemPrompt}}, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userMsg})

	var textOutput strings.Builder
	stream, err := o.deps.Provider.GenerateStreaming(ctx, llm.GenerateRequest{
		Messages: messages,
		Tools:    tool.Definitions(o.deps.Tools.List()),
	})
	if err != nil {
		o.publish(eventbus.EventError, map[string]interface{}{"message": err.Error()})
		return "", StatusCompleted
	}

streamLoop:
	for chunk := range stream {
		if o.isStopped() {
			o.publish(eventbus.EventWorkflowStopped, map[string]interface{}{"step": stepNum, "remaining_steps": len(plan.Steps) - stepNum})
			return textOutput.String(), StatusStopped
		}
		switch chunk.Type {
		case llm.ChunkThinking:
			o.publish(eventbus.EventThinkingChunk, map[string]interface{}{"text": chunk.Text})
		case llm.ChunkText:
			o.publish(eventbus.EventResponseChunk, map[string]interface{}{"text": chunk.Text})
			textOutput.WriteString(chunk.Text)
		case llm.ChunkError:
			o.publish(eventbus.EventError, map[string]interface{}{"message": chunk.Err.Error()})
			break streamLoop
		}
	}

	// Re-invoke non-streaming to collect materialized tool calls
	// (spec.md §4.1 step 4).
	resp, err := o.deps.Provider.Generate(ctx, llm.GenerateRequest{
		Messages: messages,
		Tools:    tool.Definitions(o.deps.Tools.List()),
	})
	if err != nil {
		o.publish(eventbus.EventError, map[string]interface{}{"message": err.Error()})
		return textOutput.String(), StatusCompleted
	}

	if len(resp.Message.ToolCalls) > 0 {
		messages = append(messages, resp.Message)
		for _, tc := range resp.Message.ToolCalls {
			if o.isStopped() {
				o.publish(eventbus.EventWorkflowStopped, map[string]interface{}{"step": stepNum, "remaining_steps": len(plan.Steps) - stepNum})
				return textOutput.String(), StatusStopped
			}
			result, aborted := o.dispatchTool(ctx, tc)
			if aborted {
				return textOutput.String(), StatusAborted
			}
			messages = append(messages, llm.Message{
				Role: llm.RoleTool, Content: result.Content, ToolCallID: tc.ID, Name: tc.Name,
			})
			entities := extractEntities(tc.Name, result.Metadata)
			for k, v := range entities {
				o.cc.RememberEntity(k, v)
			}
		}

		closing, err := o.deps.Provider.Generate(ctx, llm.GenerateRequest{Messages: messages})
		if err == nil {
			textOutput.WriteString(closing.Message.Content)
		}
	}

	output := textOutput.String()

	if assistanceReq, ok := extractAssistanceRequest(output); ok {
		answered, status := o.awaitUserAssistance(ctx, stepNum, len(plan.Steps)-stepNum, assistanceReq)
		if status != "" {
			return output, status
		}
		output += "\n\n" + answered
	}

	o.publish(eventbus.EventStepComplete, map[string]interface{}{"step": stepNum})
	return output, ""
}

// dispatchTool executes one model-requested tool call. Per spec.md §7,
// a validation error (unknown tool name, arguments that fail schema
// validation) is a distinct failure mode from a tool that ran and
// returned an error: validation errors are surfaced as an error event
// and abort the current turn (aborted=true, no tool_result event, the
// failed call is never fed back to the model), while execution errors
// are folded into an IsError tool.Result and returned to the model like
// any other tool response.
func (o *StepOrchestrator) dispatchTool(ctx context.Context, tc llm.ToolCall) (result tool.Result, aborted bool) {
	o.publish(eventbus.EventToolCall, map[string]interface{}{"tool_name": tc.Name, "arguments": tc.Arguments})

	start := time.Now()
	result, err := o.deps.Tools.Execute(ctx, tool.Call{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
	if o.deps.Metrics != nil {
		o.deps.Metrics.ToolCallDuration.WithLabelValues(tc.Name).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if o.deps.Metrics != nil {
			o.deps.Metrics.ToolCallErrors.WithLabelValues(tc.Name).Inc()
		}
		o.publish(eventbus.EventError, map[string]interface{}{"message": err.Error()})

		var validationErr *orcherrors.ValidationError
		if errors.As(err, &validationErr) {
			return tool.Result{}, true
		}
		result = tool.Result{CallID: tc.ID, Name: tc.Name, Content: err.Error(), IsError: true}
	}

	truncated := truncateResult(result.Content, o.deps.ToolResultTruncate)
	o.publish(eventbus.EventToolResult, map[string]interface{}{"tool_name": tc.Name, "result": truncated})
	return result, false
}

// awaitUserAssistance blocks on the assistance signal, same timeout and
// stop discipline as the approval gate (spec.md §4.1).
func (o *StepOrchestrator) awaitUserAssistance(ctx context.Context, stepNum, remainingSteps int, req *AssistanceRequest) (string, Status) {
	assistanceID := uuid.NewString()
	o.mu.Lock()
	o.assistanceID = assistanceID
	o.mu.Unlock()

	o.publish(eventbus.EventUserAssistanceRequest, map[string]interface{}{
		"assistance_id": assistanceID, "question": req.Question, "options": req.Options,
		"context": map[string]interface{}{"step": stepNum},
	})

	deadline := time.Now().Add(o.deps.assistanceTimeout())
	ticker := time.NewTicker(o.deps.assistancePoll())
	defer ticker.Stop()

	for {
		select {
		case response := <-o.assistanceCh:
			option, matched := matchAssistanceOption(req, response)
			if !matched {
				return response, ""
			}
			return option.Label, ""
		case <-o.stopCh:
			o.publish(eventbus.EventWorkflowStopped, map[string]interface{}{"step": stepNum, "remaining_steps": remainingSteps})
			return "", StatusStopped
		case <-ctx.Done():
			return "", StatusStopped
		case <-ticker.C:
			if time.Now().After(deadline) {
				o.publish(eventbus.EventError, map[string]interface{}{"message": "user assistance timed out"})
				return "", StatusTimeout
			}
		}
	}
}

func (o *StepOrchestrator) synthesizeFinalAnswer(ctx context.Context, userRequest string, plan *planner.Plan, lastStepOutput string) (string, error) {
	if shouldReuseLastStepOutput(userRequest, len(plan.Steps), lastStepOutput) {
		o.publish(eventbus.EventFinalResultStart, nil)
		o.publish(eventbus.EventFinalResultChunk, map[string]interface{}{"text": lastStepOutput})
		o.publish(eventbus.EventFinalResultComplete, nil)
		o.cc.AppendMessage(session.Message{Role: session.RoleAssistant, Content: lastStepOutput})
		return lastStepOutput, nil
	}

	o.publish(eventbus.EventFinalResultStart, nil)
	stream, err := o.deps.Provider.GenerateStreaming(ctx, llm.GenerateRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "Summarize the work performed into a concise final answer for the user."},
			{Role: llm.RoleUser, Content: "Original request: " + userRequest + "\n\nLast step result: " + lastStepOutput},
		},
	})
	if err != nil {
		return "", orcherrors.NewToolError("orchestrator.Step", "synthesizeFinalAnswer", "llm streaming failed", err)
	}

	var final strings.Builder
	for chunk := range stream {
		if chunk.Type == llm.ChunkText {
			o.publish(eventbus.EventFinalResultChunk, map[string]interface{}{"text": chunk.Text})
			final.WriteString(chunk.Text)
		}
	}
	o.publish(eventbus.EventFinalResultComplete, nil)

	answer := final.String()
	o.cc.AppendMessage(session.Message{Role: session.RoleAssistant, Content: answer})
	return answer, nil
}

func historyAsMessages(history []session.Message, max int) []llm.Message {
	start := 0
	if len(history) > max {
		start = len(history) - max
	}
	out := make([]llm.Message, 0, len(history)-start)
	for _, m := range history[start:] {
		out = append(out, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}
	return out
}

func buildStepUserMessage(userRequest, stepTitle, priorResults string) string {
	var b strings.Builder
	if priorResults != "" {
		b.WriteString("=== PRIOR STEP RESULTS ===\n")
		b.WriteString(priorResults)
		b.WriteString("\n\n")
	}
	b.WriteString("=== ORIGINAL REQUEST ===\n")
	b.WriteString(userRequest)
	b.WriteString("\n\n=== CURRENT STEP ===\n")
	b.WriteString(stepTitle)
	return b.String()
}

