package analyzer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowmind/orchestrator/internal/llm"
)

type fakeProvider struct {
	content string
	err     error
}

func (f *fakeProvider) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.GenerateResponse{Message: llm.Message{Role: llm.RoleAssistant, Content: f.content}}, nil
}

func (f *fakeProvider) GenerateStreaming(ctx context.Context, req llm.GenerateRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk)
	close(ch)
	return ch, nil
}

func (f *fakeProvider) ModelName() string    { return "fake" }
func (f *fakeProvider) MaxTokens() int       { return 4096 }
func (f *fakeProvider) Temperature() float64 { return 0 }
func (f *fakeProvider) Close() error         { return nil }

func TestAnalyze_ErrorPrefixDetected(t *testing.T) {
	a := New(nil)
	result := a.Analyze(context.Background(), "fetch", "Error: connection refused", "get the data", nil, false)
	require.True(t, result.IsError)
	require.False(t, result.IsSuccess)
	require.Zero(t, result.ProgressTowardGoal)
}

func TestAnalyze_EmptyResultFromReadActionIsError(t *testing.T) {
	a := New(nil)
	result := a.Analyze(context.Background(), "list_files", "", "find the file", nil, true)
	require.True(t, result.IsError)
}

func TestAnalyze_EmptyResultFromWriteActionIsNotError(t *testing.T) {
	a := New(nil)
	result := a.Analyze(context.Background(), "send_email", "", "notify the team", nil, false)
	require.False(t, result.IsError)
	require.True(t, result.IsSuccess)
}

func TestAnalyze_NilProviderDefaultsGoalNotAchieved(t *testing.T) {
	a := New(nil)
	result := a.Analyze(context.Background(), "search", "found three matches", "find all matches", nil, false)
	require.False(t, result.IsGoalAchieved)
	require.Equal(t, 0.5, result.ProgressTowardGoal)
}

func TestAnalyze_LLMSaysGoalAchieved(t *testing.T) {
	a := New(&fakeProvider{content: "YES, the goal is complete"})
	result := a.Analyze(context.Background(), "search", "found three matches", "find all matches", nil, false)
	require.True(t, result.IsGoalAchieved)
	require.Equal(t, 1.0, result.ProgressTowardGoal)
}

func TestAnalyze_LLMErrorDefaultsToNotAchieved(t *testing.T) {
	a := New(&fakeProvider{err: errors.New("down")})
	result := a.Analyze(context.Background(), "search", "found three matches", "find all matches", nil, false)
	require.False(t, result.IsGoalAchieved)
}
