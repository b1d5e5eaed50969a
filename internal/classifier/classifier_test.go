package classifier

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

func TestClassify_EmptyUtteranceIsSimple(t *testing.T) {
	c := New(nil)
	require.Equal(t, Simple, c.Classify(context.Background(), "  "))
}

func TestClassify_ShortUtteranceIsSimple(t *testing.T) {
	c := New(nil)
	require.Equal(t, Simple, c.Classify(context.Background(), "ok thanks"))
}

func TestClassify_GreetingIsSimple(t *testing.T) {
	c := New(nil)
	require.Equal(t, Simple, c.Classify(context.Background(), "hello there, how is it going today"))
}

func TestClassify_ActionVerbIsComplex(t *testing.T) {
	c := New(nil)
	require.Equal(t, Complex, c.Classify(context.Background(), "please create a new report for the quarterly numbers"))
}

func TestClassify_ManySentencesIsComplex(t *testing.T) {
	c := New(nil)
	require.Equal(t, Complex, c.Classify(context.Background(), "This is one. This is two. This is three. Is this four?"))
}

func TestClassify_DigitsOrColonIsComplex(t *testing.T) {
	c := New(nil)
	require.Equal(t, Complex, c.Classify(context.Background(), "remind me about the meeting at 10:30 tomorrow please"))
}

func TestClassify_InconclusiveFallsBackToLLM(t *testing.T) {
	c := New(&fakeProvider{content: "SIMPLE"})
	verdict := c.Classify(context.Background(), "what do you think about the weather around here these days")
	require.Equal(t, Simple, verdict)
}

func TestClassify_NilProviderDefaultsToComplex(t *testing.T) {
	c := New(nil)
	verdict := c.Classify(context.Background(), "what do you think about the weather around here these days")
	require.Equal(t, Complex, verdict)
}

func TestClassify_LLMErrorDefaultsToComplex(t *testing.T) {
	c := New(&fakeProvider{err: errors.New("down")})
	verdict := c.Classify(context.Background(), "what do you think about the weather around here these days")
	require.Equal(t, Complex, verdict)
}
