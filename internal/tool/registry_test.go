package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowmind/orchestrator/internal/orcherrors"
)

type echoTool struct {
	info Info
	err  error
}

func (t *echoTool) Info() Info { return t.info }

func (t *echoTool) Execute(ctx context.Context, args map[string]interface{}) (Result, error) {
	if t.err != nil {
		return Result{}, t.err
	}
	name, _ := args["name"].(string)
	return Result{Content: "hello " + name}, nil
}

type staticSource struct {
	name  string
	tools []Tool
}

func (s *staticSource) Name() string                             { return s.name }
func (s *staticSource) Discover(context.Context) ([]Tool, error) { return s.tools, nil }

func newEchoRegistry() *Registry {
	r := NewRegistry()
	_ = r.RegisterSource(context.Background(), &staticSource{
		name: "greeter",
		tools: []Tool{&echoTool{info: Info{
			Name:        "greet",
			Description: "says hello",
			Parameters: []Parameter{
				{Name: "name", Type: "string", Required: true},
			},
		}}},
	})
	return r
}

func TestRegistry_ExecuteSuccess(t *testing.T) {
	r := newEchoRegistry()
	result, err := r.Execute(context.Background(), Call{ID: "1", Name: "greet", Arguments: map[string]interface{}{"name": "ada"}})
	require.NoError(t, err)
	require.Equal(t, "hello ada", result.Content)
	require.Equal(t, "1", result.CallID)
	require.Equal(t, "greet", result.Name)
}

func TestRegistry_ExecuteUnknownToolIsValidationError(t *testing.T) {
	r := newEchoRegistry()
	_, err := r.Execute(context.Background(), Call{Name: "does_not_exist"})
	require.Error(t, err)
	var verr *orcherrors.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestRegistry_ExecuteMissingRequiredArgIsValidationError(t *testing.T) {
	r := newEchoRegistry()
	_, err := r.Execute(context.Background(), Call{Name: "greet", Arguments: map[string]interface{}{}})
	require.Error(t, err)
	var verr *orcherrors.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestRegistry_ExecuteToolFailureIsNotValidationError(t *testing.T) {
	r := NewRegistry()
	boom := context.DeadlineExceeded
	require.NoError(t, r.RegisterSource(context.Background(), &staticSource{
		name: "broken",
		tools: []Tool{&echoTool{info: Info{Name: "fail"}, err: boom}},
	}))

	_, err := r.Execute(context.Background(), Call{Name: "fail"})
	require.Error(t, err)
	var verr *orcherrors.ValidationError
	require.False(t, errorAsValidation(err, &verr))
}

func errorAsValidation(err error, target **orcherrors.ValidationError) bool {
	for e := err; e != nil; {
		if v, ok := e.(*orcherrors.ValidationError); ok {
			*target = v
			return true
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}

func TestRegistry_ListByRepository(t *testing.T) {
	r := newEchoRegistry()
	infos := r.ListByRepository("greeter")
	require.Len(t, infos, 1)
	require.Equal(t, "greet", infos[0].Name)
	require.Empty(t, r.ListByRepository("missing"))
}

func TestRegistry_RemoveSource(t *testing.T) {
	r := newEchoRegistry()
	r.RemoveSource("greeter")
	_, ok := r.Get("greet")
	require.False(t, ok)
}
