package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowmind/orchestrator/internal/llm"
	"github.com/flowmind/orchestrator/internal/orcherrors"
)

// fakeProvider is a minimal llm.Provider stub shared by this package's
// tests; it returns scripted responses/chunks without making any
// network call.
type fakeProvider struct {
	generateContent string
	generateErr     error
	streamChunks    []llm.StreamChunk
	streamErr       error
}

func (f *fakeProvider) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	return &llm.GenerateResponse{Message: llm.Message{Role: llm.RoleAssistant, Content: f.generateContent}}, nil
}

func (f *fakeProvider) GenerateStreaming(ctx context.Context, req llm.GenerateRequest) (<-chan llm.StreamChunk, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	ch := make(chan llm.StreamChunk, len(f.streamChunks))
	for _, c := range f.streamChunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (f *fakeProvider) ModelName() string     { return "fake" }
func (f *fakeProvider) MaxTokens() int        { return 4096 }
func (f *fakeProvider) Temperature() float64  { return 0 }
func (f *fakeProvider) Close() error          { return nil }

func TestPlanner_ParsesCleanJSON(t *testing.T) {
	p := New(&fakeProvider{generateContent: `{"plan":"do the thing","steps":["step one","step two"]}`})
	plan, err := p.Plan(context.Background(), Request{UserRequest: "do the thing"}, nil)
	require.NoError(t, err)
	require.Equal(t, "do the thing", plan.Summary)
	require.Equal(t, []string{"step one", "step two"}, plan.Steps)
}

func TestPlanner_ParsesProseWrappedJSON(t *testing.T) {
	p := New(&fakeProvider{generateContent: "Sure, here is the plan:\n```json\n{\"plan\":\"x\",\"steps\":[\"a\"]}\n```\nLet me know if that works."})
	plan, err := p.Plan(context.Background(), Request{UserRequest: "x"}, nil)
	require.NoError(t, err)
	require.Equal(t, "x", plan.Summary)
	require.Equal(t, []string{"a"}, plan.Steps)
}

func TestPlanner_MalformedJSONIsValidationError(t *testing.T) {
	p := New(&fakeProvider{generateContent: "not json at all"})
	_, err := p.Plan(context.Background(), Request{UserRequest: "x"}, nil)
	require.Error(t, err)
	var verr *orcherrors.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestPlanner_EmptyStepsFallsBackToRawRequest(t *testing.T) {
	p := New(&fakeProvider{generateContent: `{"plan":"trivial","steps":[]}`})
	plan, err := p.Plan(context.Background(), Request{UserRequest: "just say hi"}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"just say hi"}, plan.Steps)
}

func TestPlanner_StreamingCollectsThinkingAndText(t *testing.T) {
	p := New(&fakeProvider{streamChunks: []llm.StreamChunk{
		{Type: llm.ChunkThinking, Text: "considering..."},
		{Type: llm.ChunkText, Text: `{"plan":"y","steps":["only step"]}`},
	}})
	var thoughts []string
	plan, err := p.Plan(context.Background(), Request{UserRequest: "y", EnableThinking: true}, func(fragment string) {
		thoughts = append(thoughts, fragment)
	})
	require.NoError(t, err)
	require.Equal(t, []string{"only step"}, plan.Steps)
	require.Equal(t, []string{"considering..."}, thoughts)
}

func TestPlanner_StreamingErrorChunkPropagates(t *testing.T) {
	p := New(&fakeProvider{streamChunks: []llm.StreamChunk{
		{Type: llm.ChunkError, Err: errors.New("boom")},
	}})
	_, err := p.Plan(context.Background(), Request{UserRequest: "y", EnableThinking: true}, func(string) {})
	require.Error(t, err)
}

func TestPlanner_GenerateErrorPropagates(t *testing.T) {
	p := New(&fakeProvider{generateErr: errors.New("network down")})
	_, err := p.Plan(context.Background(), Request{UserRequest: "x"}, nil)
	require.Error(t, err)
}
