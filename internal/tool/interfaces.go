// Package tool implements the Tool Registry (C1): discovery, validation
// and dispatch of callable tools grouped into repositories, grounded on
// the teacher's tools/interfaces.go and tools/registry.go.
package tool

import "context"

// Parameter describes one argument of a tool's input schema.
type Parameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
	Enum        []string    `json:"enum,omitempty"`
}

// Info is the catalog entry exposed to the LLM Gateway and to clients
// listing available tools.
type Info struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Repository  string      `json:"repository"`
	Parameters  []Parameter `json:"parameters"`
	// RequiresApproval marks a tool whose invocation changes external
	// state. The registry and orchestrators do not read it: the approval
	// gate (§4.1) applies to whole multi-step plans, not to single tool
	// calls.
	RequiresApproval bool `json:"requires_approval"`
}

// Call is a requested invocation of a tool, typically built from an
// llm.ToolCall surfaced by the LLM Gateway.
type Call struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// Result is what a Tool returns after executing a Call.
type Result struct {
	CallID   string
	Name     string
	Content  string
	IsError  bool
	Metadata map[string]interface{}
}

// Tool is the contract every concrete tool implements.
type Tool interface {
	Info() Info
	Execute(ctx context.Context, args map[string]interface{}) (Result, error)
}

// Source groups a set of related Tools discovered together (e.g. all
// Google Workspace tools, or the business-data OData tools), mirroring
// the teacher's ToolSource interface.
type Source interface {
	Name() string
	Discover(ctx context.Context) ([]Tool, error)
}
