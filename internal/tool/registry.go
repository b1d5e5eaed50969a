package tool

import (
	"context"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/flowmind/orchestrator/internal/orcherrors"
)

// entry pairs a registered Tool with the repository it was discovered
// from and a precompiled JSON Schema validator for its arguments.
type entry struct {
	tool       Tool
	repository string
	schema     *jsonschema.Schema
}

// Registry holds every tool known to the orchestrator, grouped by the
// repository that discovered it, grounded on the teacher's ToolRegistry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	sources map[string]Source
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]entry),
		sources: make(map[string]Source),
	}
}

// RegisterSource adds a Source and immediately discovers its tools.
func (r *Registry) RegisterSource(ctx context.Context, src Source) error {
	tools, err := src.Discover(ctx)
	if err != nil {
		return orcherrors.NewToolError("tool.Registry", "RegisterSource", "discovery failed for "+src.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[src.Name()] = src
	for _, t := range tools {
		info := t.Info()
		sch, err := compileSchema(info)
		if err != nil {
			return orcherrors.NewValidationError("tool.Registry", "RegisterSource", "invalid schema for "+info.Name, err)
		}
		r.entries[info.Name] = entry{tool: t, repository: src.Name(), schema: sch}
	}
	return nil
}

// compileSchema builds a JSON Schema document from a tool's Parameter
// list and compiles it with jsonschema/v6, so every dispatch validates
// arguments before the tool runs.
func compileSchema(info Info) (*jsonschema.Schema, error) {
	properties := make(map[string]interface{}, len(info.Parameters))
	var required []string
	for _, p := range info.Parameters {
		prop := map[string]interface{}{"type": p.Type, "description": p.Description}
		if len(p.Enum) > 0 {
			enumVals := make([]interface{}, len(p.Enum))
			for i, e := range p.Enum {
				enumVals[i] = e
			}
			prop["enum"] = enumVals
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	doc := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}

	compiler := jsonschema.NewCompiler()
	resourceName := "tool:" + info.Name
	if err := compiler.AddResource(resourceName, doc); err != nil {
		return nil, err
	}
	return compiler.Compile(resourceName)
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// List returns the catalog entries of every registered tool.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.tool.Info())
	}
	return out
}

// ListByRepository returns the catalog entries discovered by repository.
func (r *Registry) ListByRepository(repository string) []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Info
	for _, e := range r.entries {
		if e.repository == repository {
			out = append(out, e.tool.Info())
		}
	}
	return out
}

// Execute validates call.Arguments against the tool's schema and, if
// valid, dispatches to the tool. A schema violation is a ValidationError
// and never reaches the tool's Execute method (§7 error handling).
func (r *Registry) Execute(ctx context.Context, call Call) (Result, error) {
	r.mu.RLock()
	e, ok := r.entries[call.Name]
	r.mu.RUnlock()
	if !ok {
		return Result{}, orcherrors.NewValidationError("tool.Registry", "Execute", fmt.Sprintf("unknown tool %q", call.Name), nil)
	}

	if e.schema != nil {
		if err := e.schema.Validate(toAnyMap(call.Arguments)); err != nil {
			return Result{}, orcherrors.NewValidationError("tool.Registry", "Execute", fmt.Sprintf("arguments for %q failed validation", call.Name), err)
		}
	}

	result, err := e.tool.Execute(ctx, call.Arguments)
	if err != nil {
		return Result{}, orcherrors.NewToolError("tool.Registry", "Execute", fmt.Sprintf("tool %q failed", call.Name), err)
	}
	result.CallID = call.ID
	result.Name = call.Name
	return result, nil
}

// RemoveSource unregisters every tool contributed by the named source.
func (r *Registry) RemoveSource(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sources, name)
	for toolName, e := range r.entries {
		if e.repository == name {
			delete(r.entries, toolName)
		}
	}
}

func toAnyMap(m map[string]interface{}) interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
