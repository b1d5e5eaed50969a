package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/flowmind/orchestrator/internal/analyzer"
	"github.com/flowmind/orchestrator/internal/classifier"
	"github.com/flowmind/orchestrator/internal/eventbus"
	"github.com/flowmind/orchestrator/internal/llm"
	"github.com/flowmind/orchestrator/internal/metrics"
	"github.com/flowmind/orchestrator/internal/orchestrator"
	"github.com/flowmind/orchestrator/internal/planner"
	"github.com/flowmind/orchestrator/internal/session"
	"github.com/flowmind/orchestrator/internal/tool"
)

// scriptedProvider is the same canned llm.Provider pattern used by
// internal/orchestrator/step_test.go, re-declared here because agent and
// orchestrator are separate packages.
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

// fixtureTool is a minimal tool.Tool used to exercise dispatchTool.
type fixtureTool struct {
	info    tool.Info
	err     error
	content string
}

func (t *fixtureTool) Info() tool.Info { return t.info }

func (t *fixtureTool) Execute(ctx context.Context, args map[string]interface{}) (tool.Result, error) {
	if t.err != nil {
		return tool.Result{}, t.err
	}
	return tool.Result{Content: t.content}, nil
}

type fixtureSource struct {
	tools []tool.Tool
}

func (s *fixtureSource) Name() string { return "fixture" }
func (s *fixtureSource) Discover(context.Context) ([]tool.Tool, error) {
	return s.tools, nil
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

// newTestWrapper builds a Wrapper whose Provider/Tools are shared between
// the direct-stream path and the Step Orchestrator it hands COMPLEX turns
// to, with short approval/assistance windows so tests don't wait 300s.
func newTestWrapper(bus eventbus.Publisher, provider llm.Provider, plannerPlan *planner.Plan, tools ...tool.Tool) *Wrapper {
	reg := tool.NewRegistry()
	if len(tools) > 0 {
		_ = reg.RegisterSource(context.Background(), &fixtureSource{tools: tools})
	}

	if plannerPlan == nil {
		plannerPlan = &planner.Plan{Summary: "do it", Steps: []string{"only step"}}
	}
	plannerProvider := &scriptedProvider{streamResponses: [][]llm.StreamChunk{
		{{Type: llm.ChunkText, Text: planAsJSON(plannerPlan)}},
	}}

	m := metrics.New(prometheus.NewRegistry())
	stepDeps := orchestrator.StepDeps{
		Bus:      bus,
		Provider: provider,
		Tools:    reg,
		Planner:  planner.New(plannerProvider),
		Metrics:  m,

		ApprovalTimeout:        200 * time.Millisecond,
		ApprovalPollInterval:   10 * time.Millisecond,
		AssistanceTimeout:      200 * time.Millisecond,
		AssistancePollInterval: 10 * time.Millisecond,
	}

	return New(Deps{
		Bus:        bus,
		Store:      session.NewMemoryStore(),
		Classifier: classifier.New(nil),
		Planner:    planner.New(plannerProvider),
		Analyzer:   analyzer.New(nil),
		Tools:      reg,
		Provider:   provider,
		Metrics:    m,

		StepOrchestratorDeps: stepDeps,

		SubscriberWaitTimeout:  10 * time.Millisecond,
		SubscriberPollInterval: 5 * time.Millisecond,
	})
}

func TestProcessMessage_SimpleRoutesToDirectStream(t *testing.T) {
	bus := eventbus.New()
	sessionID := "w1"
	ch := bus.Subscribe(sessionID, 64)

	provider := &scriptedProvider{
		streamResponses: [][]llm.StreamChunk{
			{{Type: llm.ChunkText, Text: "hello yourself"}},
		},
		generateResponses: []*llm.GenerateResponse{
			{Message: llm.Message{Role: llm.RoleAssistant, Content: "hello yourself"}},
		},
	}
	w := newTestWrapper(bus, provider, nil)

	err := w.ProcessMessage(context.Background(), sessionID, "hi", orchestrator.ModeInstant, nil)
	require.NoError(t, err)

	events := drainEvents(ch, 200*time.Millisecond)
	complete, ok := findEvent(events, eventbus.EventMessageComplete)
	require.True(t, ok)
	require.Equal(t, "hello yourself", complete.Payload["content"])

	// ProcessMessage must not have routed through the Step Orchestrator:
	// no active orchestrator is left behind for this session.
	require.Error(t, w.StopGeneration(sessionID))
}

func TestProcessMessage_ComplexRoutesToStepOrchestrator(t *testing.T) {
	bus := eventbus.New()
	sessionID := "w2"
	ch := bus.Subscribe(sessionID, 64)

	plan := &planner.Plan{Summary: "write the report", Steps: []string{"only step"}}
	provider := &scriptedProvider{
		streamResponses: [][]llm.StreamChunk{
			{{Type: llm.ChunkText, Text: "the report is done"}},
		},
		generateResponses: []*llm.GenerateResponse{
			{Message: llm.Message{Role: llm.RoleAssistant, Content: "the report is done"}},
		},
	}
	w := newTestWrapper(bus, provider, plan)

	err := w.ProcessMessage(context.Background(), sessionID, "create a quarterly report", orchestrator.ModeInstant, nil)
	require.NoError(t, err)

	events := drainEvents(ch, 200*time.Millisecond)
	_, sawComplete := findEvent(events, eventbus.EventWorkflowComplete)
	require.True(t, sawComplete)

	// runComplex tears the orchestrator out of the active map once
	// Execute returns, so no gate remains open for this session.
	require.Error(t, w.StopGeneration(sessionID))
}

func TestRunDirectStream_ToolCallDispatchedAndAnswered(t *testing.T) {
	bus := eventbus.New()
	sessionID := "w3"
	ch := bus.Subscribe(sessionID, 64)

	lookupTool := &fixtureTool{info: tool.Info{Name: "lookup_weather"}, content: "72 and sunny"}
	provider := &scriptedProvider{
		streamResponses: [][]llm.StreamChunk{
			{{Type: llm.ChunkText, Text: "let me check"}},
		},
		generateResponses: []*llm.GenerateResponse{
			{Message: llm.Message{
				Role: llm.RoleAssistant,
				ToolCalls: []llm.ToolCall{
					{ID: "call-1", Name: "lookup_weather", Arguments: map[string]interface{}{}},
				},
			}},
			{Message: llm.Message{Role: llm.RoleAssistant, Content: "it's 72 and sunny"}},
		},
	}
	w := newTestWrapper(bus, provider, nil, lookupTool)

	err := w.ProcessMessage(context.Background(), sessionID, "hi", orchestrator.ModeInstant, nil)
	require.NoError(t, err)

	events := drainEvents(ch, 200*time.Millisecond)
	toolCall, sawCall := findEvent(events, eventbus.EventToolCall)
	require.True(t, sawCall)
	require.Equal(t, "lookup_weather", toolCall.Payload["tool_name"])

	toolResult, sawResult := findEvent(events, eventbus.EventToolResult)
	require.True(t, sawResult)
	require.Equal(t, "72 and sunny", toolResult.Payload["result"])

	complete, ok := findEvent(events, eventbus.EventMessageComplete)
	require.True(t, ok)
	require.Contains(t, complete.Payload["content"], "72 and sunny")
}

func TestRunDirectStream_ToolValidationErrorAborts(t *testing.T) {
	bus := eventbus.New()
	sessionID := "w4"
	ch := bus.Subscribe(sessionID, 64)

	provider := &scriptedProvider{
		streamResponses: [][]llm.StreamChunk{
			{{Type: llm.ChunkText, Text: "let me check"}},
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
	w := newTestWrapper(bus, provider, nil)

	err := w.ProcessMessage(context.Background(), sessionID, "hi", orchestrator.ModeInstant, nil)
	require.NoError(t, err)

	events := drainEvents(ch, 200*time.Millisecond)
	_, sawResult := findEvent(events, eventbus.EventToolResult)
	require.False(t, sawResult, "an unknown-tool validation error must abort before tool_result is published")

	complete, ok := findEvent(events, eventbus.EventMessageComplete)
	require.True(t, ok)
	require.Equal(t, "let me check", complete.Payload["content"])
}

func TestApprovePlan_DelegatesToActiveOrchestrator(t *testing.T) {
	bus := eventbus.New()
	sessionID := "w5"
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
	w := newTestWrapper(bus, provider, plan)

	done := make(chan error, 1)
	go func() {
		done <- w.ProcessMessage(context.Background(), sessionID, "please create two documents", orchestrator.ModeApproval, nil)
	}()

	var confirmationID string
	require.Eventually(t, func() bool {
		events := drainEvents(ch, 20*time.Millisecond)
		if e, ok := findEvent(events, eventbus.EventAwaitingConfirmation); ok {
			confirmationID, _ = e.Payload["confirmation_id"].(string)
			return confirmationID != ""
		}
		return false
	}, time.Second, 10*time.Millisecond)

	require.Error(t, w.ApprovePlan(sessionID, "wrong-id"), "a mismatched confirmation id must be rejected")
	require.NoError(t, w.ApprovePlan(sessionID, confirmationID))

	err := <-done
	require.NoError(t, err)
}

func TestRejectPlan_DelegatesToActiveOrchestrator(t *testing.T) {
	bus := eventbus.New()
	sessionID := "w6"
	ch := bus.Subscribe(sessionID, 64)

	plan := &planner.Plan{Summary: "two steps", Steps: []string{"step one", "step two"}}
	provider := &scriptedProvider{
		streamResponses: [][]llm.StreamChunk{
			{{Type: llm.ChunkText, Text: "result one"}},
		},
		generateResponses: []*llm.GenerateResponse{
			{Message: llm.Message{Role: llm.RoleAssistant, Content: "result one"}},
		},
	}
	w := newTestWrapper(bus, provider, plan)

	done := make(chan error, 1)
	go func() {
		done <- w.ProcessMessage(context.Background(), sessionID, "please create two documents", orchestrator.ModeApproval, nil)
	}()

	var confirmationID string
	require.Eventually(t, func() bool {
		events := drainEvents(ch, 20*time.Millisecond)
		if e, ok := findEvent(events, eventbus.EventAwaitingConfirmation); ok {
			confirmationID, _ = e.Payload["confirmation_id"].(string)
			return confirmationID != ""
		}
		return false
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, w.RejectPlan(sessionID, confirmationID))
	require.NoError(t, <-done)
}

func TestResolveAssistance_NoActiveOrchestratorIsError(t *testing.T) {
	bus := eventbus.New()
	w := newTestWrapper(bus, &scriptedProvider{}, nil)
	require.Error(t, w.ResolveAssistance("nobody-home", "assist-1", "a"))
}

func TestStopGeneration_NoActiveOrchestratorIsError(t *testing.T) {
	bus := eventbus.New()
	w := newTestWrapper(bus, &scriptedProvider{}, nil)
	require.Error(t, w.StopGeneration("nobody-home"))
}

func TestStopGeneration_StopsActiveOrchestratorAndPublishesEvent(t *testing.T) {
	bus := eventbus.New()
	sessionID := "w7"
	ch := bus.Subscribe(sessionID, 64)

	plan := &planner.Plan{Summary: "two steps", Steps: []string{"step one", "step two"}}
	provider := &scriptedProvider{
		streamResponses: [][]llm.StreamChunk{
			{{Type: llm.ChunkText, Text: "result one"}},
		},
		generateResponses: []*llm.GenerateResponse{
			{Message: llm.Message{Role: llm.RoleAssistant, Content: "result one"}},
		},
	}
	w := newTestWrapper(bus, provider, plan)

	done := make(chan error, 1)
	go func() {
		done <- w.ProcessMessage(context.Background(), sessionID, "please create two documents", orchestrator.ModeApproval, nil)
	}()

	require.Eventually(t, func() bool {
		events := drainEvents(ch, 20*time.Millisecond)
		_, ok := findEvent(events, eventbus.EventAwaitingConfirmation)
		return ok
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, w.StopGeneration(sessionID))
	require.NoError(t, <-done)

	events := drainEvents(ch, 100*time.Millisecond)
	_, sawStopped := findEvent(events, eventbus.EventWorkflowStopped)
	require.True(t, sawStopped)
}
