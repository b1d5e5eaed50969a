package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name     string
	closeErr error
	closed   bool
}

func (s *stubProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	return &GenerateResponse{Message: Message{Role: RoleAssistant, Content: s.name}}, nil
}

func (s *stubProvider) GenerateStreaming(ctx context.Context, req GenerateRequest) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk)
	close(ch)
	return ch, nil
}

func (s *stubProvider) ModelName() string    { return s.name }
func (s *stubProvider) MaxTokens() int       { return 1024 }
func (s *stubProvider) Temperature() float64 { return 0 }
func (s *stubProvider) Close() error {
	s.closed = true
	return s.closeErr
}

func TestGateway_RegisterAndGet(t *testing.T) {
	g := NewGateway("primary")
	require.NoError(t, g.Register("primary", &stubProvider{name: "primary"}))

	p, err := g.Get("primary")
	require.NoError(t, err)
	require.Equal(t, "primary", p.ModelName())
}

func TestGateway_GetUnknownProvider(t *testing.T) {
	g := NewGateway("primary")
	_, err := g.Get("missing")
	require.Error(t, err)
}

func TestGateway_DefaultResolvesDefaultKey(t *testing.T) {
	g := NewGateway("primary")
	require.NoError(t, g.Register("primary", &stubProvider{name: "primary"}))
	require.NoError(t, g.Register("secondary", &stubProvider{name: "secondary"}))

	p, err := g.Default()
	require.NoError(t, err)
	require.Equal(t, "primary", p.ModelName())
}

func TestGateway_DefaultUnregisteredIsError(t *testing.T) {
	g := NewGateway("primary")
	_, err := g.Default()
	require.Error(t, err)
}

func TestGateway_List(t *testing.T) {
	g := NewGateway("primary")
	require.NoError(t, g.Register("primary", &stubProvider{name: "primary"}))
	require.NoError(t, g.Register("secondary", &stubProvider{name: "secondary"}))
	require.ElementsMatch(t, []string{"primary", "secondary"}, g.List())
}

func TestGateway_CloseClosesAllProviders(t *testing.T) {
	g := NewGateway("primary")
	a := &stubProvider{name: "a"}
	b := &stubProvider{name: "b"}
	require.NoError(t, g.Register("a", a))
	require.NoError(t, g.Register("b", b))

	require.NoError(t, g.Close())
	require.True(t, a.closed)
	require.True(t, b.closed)
}

func TestGateway_CloseCollectsFirstError(t *testing.T) {
	g := NewGateway("primary")
	require.NoError(t, g.Register("a", &stubProvider{name: "a", closeErr: errors.New("boom")}))

	err := g.Close()
	require.Error(t, err)
}
