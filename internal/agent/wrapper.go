// Package agent implements the Agent Wrapper (C9): the single
// process_message front door that ensures a subscriber is attached,
// classifies the task, routes SIMPLE tasks to a direct-stream path and
// COMPLEX tasks to a fresh Step Orchestrator instance, and owns the
// active-orchestrator map (spec.md §4.3), grounded on the teacher's
// agent/agent.go Execute()/ExecuteStreaming() front door and its
// DefaultAgentServices wiring.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowmind/orchestrator/internal/analyzer"
	"github.com/flowmind/orchestrator/internal/classifier"
	"github.com/flowmind/orchestrator/internal/eventbus"
	"github.com/flowmind/orchestrator/internal/llm"
	"github.com/flowmind/orchestrator/internal/metrics"
	"github.com/flowmind/orchestrator/internal/orchestrator"
	"github.com/flowmind/orchestrator/internal/orcherrors"
	"github.com/flowmind/orchestrator/internal/planner"
	"github.com/flowmind/orchestrator/internal/session"
	"github.com/flowmind/orchestrator/internal/tool"
)

const (
	subscriberWaitTimeout = 5 * time.Second
	subscriberPollInterval = 100 * time.Millisecond
)

// Deps bundles every collaborator the Agent Wrapper drives.
type Deps struct {
	Bus        eventbus.Publisher
	Store      session.Store
	Classifier *classifier.Classifier
	Planner    *planner.Planner
	Analyzer   *analyzer.Analyzer
	Tools      *tool.Registry
	Provider   llm.Provider
	Metrics    *metrics.Registry

	StepOrchestratorDeps orchestrator.StepDeps
	ReactOrchestratorDeps orchestrator.ReactDeps

	SubscriberWaitTimeout  time.Duration
	SubscriberPollInterval time.Duration
}

func (d Deps) subscriberWaitTimeout() time.Duration {
	if d.SubscriberWaitTimeout > 0 {
		return d.SubscriberWaitTimeout
	}
	return subscriberWaitTimeout
}

func (d Deps) subscriberPollInterval() time.Duration {
	if d.SubscriberPollInterval > 0 {
		return d.SubscriberPollInterval
	}
	return subscriberPollInterval
}

// Wrapper is the C9 Agent Wrapper: one instance per process, shared by
// every session (spec.md §9 "process-wide singletons become explicitly
// owned dependencies").
type Wrapper struct {
	deps Deps

	mu     sync.Mutex
	active map[string]*orchestrator.StepOrchestrator
}

// New builds a Wrapper.
func New(deps Deps) *Wrapper {
	return &Wrapper{
		deps:   deps,
		active: make(map[string]*orchestrator.StepOrchestrator),
	}
}

// ProcessMessage is the C9 entry point (spec.md §4.3).
func (w *Wrapper) ProcessMessage(ctx context.Context, sessionID, userMessage string, mode orchestrator.Mode, fileIDs []string) error {
	w.awaitSubscriber(sessionID)

	cc, found, err := w.deps.Store.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("agent.Wrapper: ProcessMessage: loading session: %w", err)
	}
	if !found {
		cc, err = w.deps.Store.Create(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("agent.Wrapper: ProcessMessage: creating session: %w", err)
		}
	}

	w.deps.Bus.Publish(sessionID, eventbus.StreamEvent{
		Type: eventbus.EventMessage, Payload: map[string]interface{}{"role": "user", "content": userMessage},
	})
	cc.AppendMessage(session.Message{Role: session.RoleUser, Content: userMessage})

	classification := w.deps.Classifier.Classify(ctx, userMessage)

	var procErr error
	if classification == classifier.Simple {
		procErr = w.runDirectStream(ctx, sessionID, cc, userMessage)
	} else {
		procErr = w.runComplex(ctx, sessionID, cc, userMessage, mode, fileIDs)
	}

	if saveErr := w.deps.Store.Save(ctx, cc); saveErr != nil && procErr == nil {
		procErr = saveErr
	}
	return procErr
}

// awaitSubscriber waits up to 5s (polling at 100ms) for a subscriber to
// attach before any event is emitted for this turn, proceeding with a
// warning if none attaches (spec.md §4.3 step 1).
func (w *Wrapper) awaitSubscriber(sessionID string) {
	if w.deps.Bus.HasSubscriber(sessionID) {
		return
	}
	deadline := time.Now().Add(w.deps.subscriberWaitTimeout())
	ticker := time.NewTicker(w.deps.subscriberPollInterval())
	defer ticker.Stop()
	for range ticker.C {
		if w.deps.Bus.HasSubscriber(sessionID) {
			return
		}
		if time.Now().After(deadline) {
			return
		}
	}
}

// runDirectStream is the SIMPLE-classification path: stream the model's
// answer directly with no planning, capturing and dispatching any tool
// calls the model requests along the way (spec.md §4.3 step 3 "call C2
// with tools; ... capture tool calls and surface them").
func (w *Wrapper) runDirectStream(ctx context.Context, sessionID string, cc *session.ConversationContext, userMessage string) error {
	w.deps.Bus.Publish(sessionID, eventbus.StreamEvent{Type: eventbus.EventMessageStart, Payload: nil})

	messages := make([]llm.Message, 0, len(cc.History)+1)
	for _, m := range cc.History {
		messages = append(messages, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}

	toolDefs := tool.Definitions(w.deps.Tools.List())
	stream, err := w.deps.Provider.GenerateStreaming(ctx, llm.GenerateRequest{
		Messages: messages,
		Tools:    toolDefs,
	})
	if err != nil {
		w.deps.Bus.Publish(sessionID, eventbus.StreamEvent{Type: eventbus.EventError, Payload: map[string]interface{}{"message": err.Error()}})
		w.deps.Bus.Publish(sessionID, eventbus.StreamEvent{Type: eventbus.EventMessageComplete, Payload: map[string]interface{}{"content": ""}})
		return err
	}

	var answer strings.Builder
	for chunk := range stream {
		switch chunk.Type {
		case llm.ChunkText:
			w.deps.Bus.Publish(sessionID, eventbus.StreamEvent{Type: eventbus.EventMessageChunk, Payload: map[string]interface{}{"text": chunk.Text}})
			answer.WriteString(chunk.Text)
		case llm.ChunkError:
			w.deps.Bus.Publish(sessionID, eventbus.StreamEvent{Type: eventbus.EventError, Payload: map[string]interface{}{"message": chunk.Err.Error()}})
		}
	}

	// Re-invoke non-streaming to materialize any tool calls the model
	// requested, same two-pass pattern as the Step Orchestrator's
	// runStep (step.go).
	resp, err := w.deps.Provider.Generate(ctx, llm.GenerateRequest{Messages: messages, Tools: toolDefs})
	if err == nil && len(resp.Message.ToolCalls) > 0 {
		messages = append(messages, resp.Message)
		aborted := false
		for _, tc := range resp.Message.ToolCalls {
			result, toolAborted := w.dispatchTool(ctx, sessionID, tc)
			if toolAborted {
				aborted = true
				break
			}
			messages = append(messages, llm.Message{
				Role: llm.RoleTool, Content: result.Content, ToolCallID: tc.ID, Name: tc.Name,
			})
		}

		if !aborted {
			closing, closeErr := w.deps.Provider.Generate(ctx, llm.GenerateRequest{Messages: messages})
			if closeErr == nil {
				w.deps.Bus.Publish(sessionID, eventbus.StreamEvent{Type: eventbus.EventMessageChunk, Payload: map[string]interface{}{"text": closing.Message.Content}})
				answer.WriteString(closing.Message.Content)
			}
		}
	}

	final := answer.String()
	w.deps.Bus.Publish(sessionID, eventbus.StreamEvent{Type: eventbus.EventMessageComplete, Payload: map[string]interface{}{"content": final}})

	w.deps.Bus.Publish(sessionID, eventbus.StreamEvent{Type: eventbus.EventFinalResultStart, Payload: nil})
	w.deps.Bus.Publish(sessionID, eventbus.StreamEvent{Type: eventbus.EventFinalResultChunk, Payload: map[string]interface{}{"text": final}})
	w.deps.Bus.Publish(sessionID, eventbus.StreamEvent{Type: eventbus.EventFinalResultComplete, Payload: nil})

	cc.AppendMessage(session.Message{Role: session.RoleAssistant, Content: final})
	return nil
}

// dispatchTool executes one model-requested tool call on the direct-
// stream path, emitting tool_call/tool_result and the same metrics as
// the Step Orchestrator's dispatchTool (step.go). Per spec.md §7, a
// validation error (unknown tool, bad arguments) aborts the turn
// (aborted=true, no tool_result event) instead of being fed back to the
// model as an ordinary execution failure.
func (w *Wrapper) dispatchTool(ctx context.Context, sessionID string, tc llm.ToolCall) (result tool.Result, aborted bool) {
	w.deps.Bus.Publish(sessionID, eventbus.StreamEvent{Type: eventbus.EventToolCall, Payload: map[string]interface{}{"tool_name": tc.Name, "arguments": tc.Arguments}})

	start := time.Now()
	result, err := w.deps.Tools.Execute(ctx, tool.Call{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
	if w.deps.Metrics != nil {
		w.deps.Metrics.ToolCallDuration.WithLabelValues(tc.Name).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if w.deps.Metrics != nil {
			w.deps.Metrics.ToolCallErrors.WithLabelValues(tc.Name).Inc()
		}
		w.deps.Bus.Publish(sessionID, eventbus.StreamEvent{Type: eventbus.EventError, Payload: map[string]interface{}{"message": err.Error()}})

		var validationErr *orcherrors.ValidationError
		if errors.As(err, &validationErr) {
			return tool.Result{}, true
		}
		result = tool.Result{CallID: tc.ID, Name: tc.Name, Content: err.Error(), IsError: true}
	}

	w.deps.Bus.Publish(sessionID, eventbus.StreamEvent{Type: eventbus.EventToolResult, Payload: map[string]interface{}{"tool_name": tc.Name, "result": result.Content}})
	return result, false
}

// runComplex instantiates a fresh Step Orchestrator, tearing down any
// previous one for this session, and drives it to completion (spec.md
// §4.3 step 3-4).
func (w *Wrapper) runComplex(ctx context.Context, sessionID string, cc *session.ConversationContext, userMessage string, mode orchestrator.Mode, fileIDs []string) error {
	w.teardownPrevious(sessionID)

	step := orchestrator.NewStepOrchestrator(sessionID, cc, w.deps.StepOrchestratorDeps)
	w.mu.Lock()
	w.active[sessionID] = step
	w.mu.Unlock()
	if w.deps.Metrics != nil {
		w.deps.Metrics.ActiveSessions.Inc()
	}

	uploaded := w.resolveUploadedFiles(cc, fileIDs)
	result, err := step.Execute(ctx, userMessage, mode, uploaded)

	w.mu.Lock()
	delete(w.active, sessionID)
	w.mu.Unlock()
	if w.deps.Metrics != nil {
		w.deps.Metrics.ActiveSessions.Dec()
	}

	_ = result
	return err
}

func (w *Wrapper) resolveUploadedFiles(cc *session.ConversationContext, fileIDs []string) []planner.UploadedFile {
	if len(fileIDs) == 0 {
		return nil
	}
	wanted := make(map[string]bool, len(fileIDs))
	for _, id := range fileIDs {
		wanted[id] = true
	}
	var out []planner.UploadedFile
	for _, f := range cc.AttachedFiles {
		if wanted[f.Name] {
			out = append(out, planner.UploadedFile{Name: f.Name, Text: f.URI})
		}
	}
	return out
}

// teardownPrevious stops and discards any orchestrator already active
// for sessionID (spec.md §5 "at most one orchestrator is active").
func (w *Wrapper) teardownPrevious(sessionID string) {
	w.mu.Lock()
	prev, ok := w.active[sessionID]
	delete(w.active, sessionID)
	w.mu.Unlock()
	if ok {
		prev.Stop()
	}
}

// ApprovePlan looks up the active orchestrator, verifies the
// confirmation id, and resolves the approval gate (spec.md §4.3
// "Approval routing").
func (w *Wrapper) ApprovePlan(sessionID, confirmationID string) error {
	step, err := w.activeStepOrchestrator(sessionID, confirmationID)
	if err != nil {
		return err
	}
	step.ConfirmPlan()
	return nil
}

// RejectPlan is symmetric to ApprovePlan.
func (w *Wrapper) RejectPlan(sessionID, confirmationID string) error {
	step, err := w.activeStepOrchestrator(sessionID, confirmationID)
	if err != nil {
		return err
	}
	step.RejectPlan()
	return nil
}

// UpdatePlan replaces the pending plan and emits plan_updated.
func (w *Wrapper) UpdatePlan(sessionID, confirmationID string, plan *planner.Plan) error {
	step, err := w.activeStepOrchestrator(sessionID, confirmationID)
	if err != nil {
		return err
	}
	step.UpdatePendingPlan(plan)
	return nil
}

// ResolveAssistance answers a pending user-assistance request.
func (w *Wrapper) ResolveAssistance(sessionID, assistanceID, response string) error {
	w.mu.Lock()
	step, ok := w.active[sessionID]
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("agent.Wrapper: ResolveAssistance: no active orchestrator for session %q", sessionID)
	}
	step.ResolveUserAssistance(assistanceID, response)
	return nil
}

// StopGeneration calls stop() on the active orchestrator and emits
// workflow_stopped (spec.md §4.3 "stop_generation").
func (w *Wrapper) StopGeneration(sessionID string) error {
	w.mu.Lock()
	step, ok := w.active[sessionID]
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("agent.Wrapper: StopGeneration: no active orchestrator for session %q", sessionID)
	}
	step.Stop()
	w.deps.Bus.Publish(sessionID, eventbus.StreamEvent{Type: eventbus.EventWorkflowStopped, Payload: nil})
	return nil
}

func (w *Wrapper) activeStepOrchestrator(sessionID, confirmationID string) (*orchestrator.StepOrchestrator, error) {
	w.mu.Lock()
	step, ok := w.active[sessionID]
	w.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("agent.Wrapper: no active orchestrator for session %q", sessionID)
	}
	if step.GetConfirmationID() != confirmationID {
		return nil, fmt.Errorf("agent.Wrapper: confirmation id %q does not match active plan", confirmationID)
	}
	return step, nil
}

// NewSessionID mints an opaque, URL-safe session identifier (spec.md
// §6 "POST /api/session/create").
func NewSessionID() string {
	return uuid.NewString()
}

