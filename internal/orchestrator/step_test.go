package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/flowmind/orchestrator/internal/eventbus"
	"github.com/flowmind/orchestrator/internal/llm"
	"github.com/flowmind/orchestrator/internal/metrics"
	"github.com/flowmind/orchestrator/internal/planner"
	"github.com/flowmind/orchestrator/internal/session"
	"github.com/flowmind/orchestrator/internal/tool"
)

// scriptedProvider is a canned llm.Provider: each call to Generate pops
// the next response off generateResponses (repeating the last one once
// exhausted); GenerateStreaming pops the next chunk slice the same way.
type scriptedProvider struct {
	mu                sync.Mutex
	generateResponses []*llm.GenerateResponse
	generateCalls     int
	streamResponses   [][]llm.StreamChunk
	streamCalls       int
}

func (p *scriptedProvider) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.generateCalls
	if idx >= len(p.generateResponses) {
		idx = len(p.generateResponses) - 1
	}
	p.generateCalls++
	if idx < 0 {
		return &llm.GenerateResponse{}, nil
	}
	return p.generateResponses[idx], nil
}

func (p *scriptedProvider) GenerateStreaming(ctx context.Context, req llm.GenerateRequest) (<-chan llm.StreamChunk, error) {
	p.mu.Lock()
	idx := p.streamCalls
	if idx >= len(p.streamResponses) {
		idx = len(p.streamResponses) - 1
	}
	p.streamCalls++
	p.mu.Unlock()

	ch := make(chan llm.StreamChunk, 8)
	if idx >= 0 {
		for _, c := range p.streamResponses[idx] {
			ch <- c
		}
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) ModelName() string    { return "scripted" }
func (p *scriptedProvider) MaxTokens() int       { return 4096 }
func (p *scriptedProvider) Temperature() float64 { return 0 }
func (p *scriptedProvider) Close() error         { return nil }

// stepFixtureTool is a minimal tool.Tool used to exercise dispatchTool.
type stepFixtureTool struct {
	info    tool.Info
	err     error
	content string
}

func (t *stepFixtureTool) Info() tool.Info { return t.info }

func (t *stepFixtureTool) Execute(ctx context.Context, args map[string]interface{}) (tool.Result, error) {
	if t.err != nil {
		return tool.Result{}, t.err
	}
	return tool.Result{Content: t.content}, nil
}

type stepFixtureSource struct {
	tools []tool.Tool
}

func (s *stepFixtureSource) Name() string { return "fixture" }
func (s *stepFixtureSource) Discover(context.Context) ([]tool.Tool, error) {
	return s.tools, nil
}

func newTestDeps(t *testing.T, bus eventbus.Publisher, provider llm.Provider, planned *planner.Plan, tools ...tool.Tool) StepDeps {
	t.Helper()
	reg := tool.NewRegistry()
	if len(tools) > 0 {
		require.NoError(t, reg.RegisterSource(context.Background(), &stepFixtureSource{tools: tools}))
	}

	if planned == nil {
		planned = &planner.Plan{Summary: "do it", Steps: []string{"only step"}}
	}
	// Planner.Plan always passes a non-nil thinking callback from step.go,
	// so it always takes the streaming branch, never Generate directly.
	p := planner.New(&scriptedProvider{streamResponses: [][]llm.StreamChunk{
		{{Type: llm.ChunkText, Text: planAsJSON(planned)}},
	}})

	return StepDeps{
		Bus:      bus,
		Provider: provider,
		Tools:    reg,
		Planner:  p,
		Metrics:  metrics.New(prometheus.NewRegistry()),

		ApprovalTimeout:        200 * time.Millisecond,
		ApprovalPollInterval:   10 * time.Millisecond,
		AssistanceTimeout:      200 * time.Millisecond,
		AssistancePollInterval: 10 * time.Millisecond,
	}
}

func planAsJSON(p *planner.Plan) string {
	var b []byte
	b = append(b, '{')
	b = append(b, []byte(`"plan":"`+p.Summary+`","steps":[`)...)
	for i, s := range p.Steps {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, []byte(`"`+s+`"`)...)
	}
	b = append(b, []byte("]}")...)
	return string(b)
}

func newCC(sessionID string) *session.ConversationContext {
	return &session.ConversationContext{SessionID: sessionID, CreatedAt: time.Now(), LastActiveAt: time.Now()}
}

func drainEvents(ch <-chan eventbus.StreamEvent, timeout time.Duration) []eventbus.StreamEvent {
	var out []eventbus.StreamEvent
	deadline := time.After(timeout)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-deadline:
			return out
		}
	}
}

func findEvent(events []eventbus.StreamEvent, t eventbus.EventType) (eventbus.StreamEvent, bool) {
	for _, e := range events {
		if e.Type == t {
			return e, true
		}
	}
	return eventbus.StreamEvent{}, false
}

func TestStepOrchestrator_SingleStepFastPath(t *testing.T) {
	bus := eventbus.New()
	sessionID := "s1"
	ch := bus.Subscribe(sessionID, 64)

	plan := &planner.Plan{Summary: "answer", Steps: []string{"only step"}}
	provider := &scriptedProvider{
		streamResponses: [][]llm.StreamChunk{
			{{Type: llm.ChunkText, Text: "the final answer"}},
		},
		generateResponses: []*llm.GenerateResponse{
			{Message: llm.Message{Role: llm.RoleAssistant, Content: "the final answer"}},
		},
	}
	deps := newTestDeps(t, bus, provider, plan)
	cc := newCC(sessionID)
	orch := NewStepOrchestrator(sessionID, cc, deps)

	result, err := orch.Execute(context.Background(), "do it", ModeInstant, nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Status)
	require.Equal(t, "the final answer", result.Result)

	events := drainEvents(ch, time.Second)
	_, sawComplete := findEvent(events, eventbus.EventWorkflowComplete)
	require.True(t, sawComplete)
	_, sawApproval := findEvent(events, eventbus.EventAwaitingConfirmation)
	require.False(t, sawApproval, "single-step plans must skip the approval gate")
}

func TestStepOrchestrator_MultiStepApprovalApproved(t *testing.T) {
	bus := eventbus.New()
	sessionID := "s2"
	ch := bus.Subscribe(sessionID, 64)

	plan := &planner.Plan{Summary: "two steps", Steps: []string{"step one", "step two"}}
	provider := &scriptedProvider{
		streamResponses: [][]llm.StreamChunk{
			{{Type: llm.ChunkText, Text: "result one"}},
			{{Type: llm.ChunkText, Text: "result two"}},
			{{Type: llm.ChunkText, Text: "final summary"}},
		},
		generateResponses: []*llm.GenerateResponse{
			{Message: llm.Message{Role: llm.RoleAssistant, Content: "result one"}},
			{Message: llm.Message{Role: llm.RoleAssistant, Content: "result two"}},
		},
	}
	deps := newTestDeps(t, bus, provider, plan)
	cc := newCC(sessionID)
	orch := NewStepOrchestrator(sessionID, cc, deps)

	go func() {
		time.Sleep(20 * time.Millisecond)
		orch.ConfirmPlan()
	}()

	result, err := orch.Execute(context.Background(), "do two things", ModeApproval, nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Status)

	events := drainEvents(ch, time.Second)
	_, sawApproval := findEvent(events, eventbus.EventAwaitingConfirmation)
	require.True(t, sawApproval)
	_, sawComplete := findEvent(events, eventbus.EventWorkflowComplete)
	require.True(t, sawComplete)
}

func TestStepOrchestrator_MultiStepApprovalRejected(t *testing.T) {
	bus := eventbus.New()
	sessionID := "s3"
	bus.Subscribe(sessionID, 64)

	plan := &planner.Plan{Summary: "two steps", Steps: []string{"step one", "step two"}}
	provider := &scriptedProvider{}
	deps := newTestDeps(t, bus, provider, plan)
	cc := newCC(sessionID)
	orch := NewStepOrchestrator(sessionID, cc, deps)

	go func() {
		time.Sleep(20 * time.Millisecond)
		orch.RejectPlan()
	}()

	result, err := orch.Execute(context.Background(), "do two things", ModeApproval, nil)
	// Execute folds a rejected/timed-out/stopped approval gate into
	// result.Status and swallows awaitApproval's error (see awaitApproval's
	// call site in Execute), so only the Status is asserted here.
	require.NoError(t, err)
	require.Equal(t, StatusRejected, result.Status)
	require.Empty(t, cc.PendingConfirmations)
}

func TestStepOrchestrator_ApprovalTimeout(t *testing.T) {
	bus := eventbus.New()
	sessionID := "s4"
	bus.Subscribe(sessionID, 64)

	plan := &planner.Plan{Summary: "two steps", Steps: []string{"step one", "step two"}}
	provider := &scriptedProvider{}
	deps := newTestDeps(t, bus, provider, plan)
	cc := newCC(sessionID)
	orch := NewStepOrchestrator(sessionID, cc, deps)

	result, err := orch.Execute(context.Background(), "do two things", ModeApproval, nil)
	require.NoError(t, err)
	require.Equal(t, StatusTimeout, result.Status)
}

func TestStepOrchestrator_StopDuringApprovalReportsRemainingSteps(t *testing.T) {
	bus := eventbus.New()
	sessionID := "s5"
	ch := bus.Subscribe(sessionID, 64)

	plan := &planner.Plan{Summary: "three steps", Steps: []string{"a", "b", "c"}}
	provider := &scriptedProvider{}
	deps := newTestDeps(t, bus, provider, plan)
	cc := newCC(sessionID)
	orch := NewStepOrchestrator(sessionID, cc, deps)

	go func() {
		time.Sleep(20 * time.Millisecond)
		orch.Stop()
	}()

	result, err := orch.Execute(context.Background(), "do three things", ModeApproval, nil)
	require.NoError(t, err)
	require.Equal(t, StatusStopped, result.Status)

	events := drainEvents(ch, time.Second)
	stopped, ok := findEvent(events, eventbus.EventWorkflowStopped)
	require.True(t, ok)
	require.Equal(t, len(plan.Steps), stopped.Payload["remaining_steps"])
}

func TestStepOrchestrator_StopBetweenStepsReportsRemainingSteps(t *testing.T) {
	bus := eventbus.New()
	sessionID := "s6"
	ch := bus.Subscribe(sessionID, 64)

	plan := &planner.Plan{Summary: "three steps", Steps: []string{"a", "b", "c"}}
	provider := &scriptedProvider{}
	deps := newTestDeps(t, bus, provider, plan)
	cc := newCC(sessionID)
	orch := NewStepOrchestrator(sessionID, cc, deps)

	// Stop before Execute so runSteps observes it deterministically on its
	// very first iteration, rather than racing a background goroutine
	// against near-instant scripted-provider calls. Instant mode skips the
	// approval gate, whose select would otherwise choose at random between
	// a queued confirmation and the closed stop channel.
	orch.Stop()

	result, err := orch.Execute(context.Background(), "do three things", ModeInstant, nil)
	require.NoError(t, err)
	require.Equal(t, StatusStopped, result.Status)

	events := drainEvents(ch, time.Second)
	stopped, ok := findEvent(events, eventbus.EventWorkflowStopped)
	require.True(t, ok)
	require.Equal(t, 1, stopped.Payload["step"])
	require.Equal(t, len(plan.Steps), stopped.Payload["remaining_steps"])
}

func TestStepOrchestrator_DispatchToolValidationErrorAborts(t *testing.T) {
	bus := eventbus.New()
	sessionID := "s7"
	ch := bus.Subscribe(sessionID, 64)

	plan := &planner.Plan{Summary: "use a tool", Steps: []string{"only step"}}
	provider := &scriptedProvider{
		streamResponses: [][]llm.StreamChunk{
			{{Type: llm.ChunkText, Text: ""}},
		},
		generateResponses: []*llm.GenerateResponse{
			{Message: llm.Message{
				Role: llm.RoleAssistant,
				ToolCalls: []llm.ToolCall{
					{ID: "call-1", Name: "nonexistent_tool", Arguments: map[string]interface{}{}},
				},
			}},
		},
	}
	deps := newTestDeps(t, bus, provider, plan)
	cc := newCC(sessionID)
	orch := NewStepOrchestrator(sessionID, cc, deps)

	result, err := orch.Execute(context.Background(), "use a tool", ModeInstant, nil)
	require.NoError(t, err)
	require.Equal(t, StatusAborted, result.Status)

	events := drainEvents(ch, time.Second)
	_, sawToolResult := findEvent(events, eventbus.EventToolResult)
	require.False(t, sawToolResult, "a validation-error tool call must never produce a tool_result event")
	_, sawErr := findEvent(events, eventbus.EventError)
	require.True(t, sawErr)
}

func TestStepOrchestrator_DispatchToolExecutionErrorContinues(t *testing.T) {
	bus := eventbus.New()
	sessionID := "s8"
	ch := bus.Subscribe(sessionID, 64)

	plan := &planner.Plan{Summary: "use a tool", Steps: []string{"only step"}}
	failingTool := &stepFixtureTool{info: tool.Info{Name: "flaky"}, err: context.DeadlineExceeded}
	provider := &scriptedProvider{
		streamResponses: [][]llm.StreamChunk{
			{{Type: llm.ChunkText, Text: ""}},
		},
		generateResponses: []*llm.GenerateResponse{
			{Message: llm.Message{
				Role: llm.RoleAssistant,
				ToolCalls: []llm.ToolCall{
					{ID: "call-1", Name: "flaky", Arguments: map[string]interface{}{}},
				},
			}},
			{Message: llm.Message{Role: llm.RoleAssistant, Content: "recovered after tool failure"}},
		},
	}
	deps := newTestDeps(t, bus, provider, plan, failingTool)
	cc := newCC(sessionID)
	orch := NewStepOrchestrator(sessionID, cc, deps)

	result, err := orch.Execute(context.Background(), "use a tool", ModeInstant, nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Status)
	require.Contains(t, result.Result, "recovered after tool failure")

	events := drainEvents(ch, time.Second)
	_, sawToolResult := findEvent(events, eventbus.EventToolResult)
	require.True(t, sawToolResult, "an execution-error tool call is still fed back to the model as a tool_result")
}

func TestStepOrchestrator_UserAssistanceMatchedOption(t *testing.T) {
	bus := eventbus.New()
	sessionID := "s9"
	bus.Subscribe(sessionID, 64)

	question := `🔍 USER ASSISTANCE REQUEST` + "\n" + `{"question":"which one?","options":[{"id":"a","label":"Option A"},{"id":"b","label":"Option B"}]}`
	plan := &planner.Plan{Summary: "ask", Steps: []string{"only step"}}
	provider := &scriptedProvider{
		streamResponses: [][]llm.StreamChunk{
			{{Type: llm.ChunkText, Text: question}},
		},
		generateResponses: []*llm.GenerateResponse{
			{Message: llm.Message{Role: llm.RoleAssistant, Content: question}},
		},
	}
	deps := newTestDeps(t, bus, provider, plan)
	cc := newCC(sessionID)
	orch := NewStepOrchestrator(sessionID, cc, deps)

	go func() {
		for i := 0; i < 50; i++ {
			if orch.GetUserAssistanceID() != "" {
				orch.ResolveUserAssistance(orch.GetUserAssistanceID(), "a")
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	result, err := orch.Execute(context.Background(), "ask the user", ModeInstant, nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Status)
}

func TestStepOrchestrator_UserAssistanceTimeoutReportsStatus(t *testing.T) {
	bus := eventbus.New()
	sessionID := "s10"
	bus.Subscribe(sessionID, 64)

	question := `🔍 USER ASSISTANCE REQUEST` + "\n" + `{"question":"which one?","options":[{"id":"a","label":"Option A"}]}`
	plan := &planner.Plan{Summary: "ask", Steps: []string{"only step"}}
	provider := &scriptedProvider{
		streamResponses: [][]llm.StreamChunk{
			{{Type: llm.ChunkText, Text: question}},
		},
		generateResponses: []*llm.GenerateResponse{
			{Message: llm.Message{Role: llm.RoleAssistant, Content: question}},
		},
	}
	deps := newTestDeps(t, bus, provider, plan)
	cc := newCC(sessionID)
	orch := NewStepOrchestrator(sessionID, cc, deps)

	result, err := orch.Execute(context.Background(), "ask the user", ModeInstant, nil)
	require.NoError(t, err)
	require.Equal(t, StatusTimeout, result.Status)
}
