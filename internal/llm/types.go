// Package llm implements the LLM Gateway (C2): a provider-agnostic
// abstraction over chat-completion backends with streaming and
// tool-calling, grounded on the teacher's pkg/llms/types.go and
// llms/registry.go.
package llm

import "context"

// Role identifies the speaker of a Message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of a chat-completion request/response.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolDefinition describes a callable tool to the model, mirroring the
// teacher's ConvertToolInfoToDefinition conversion from the tool registry.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolCall is a model-requested invocation of a registered tool.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
	RawArgs   string `json:"raw_args,omitempty"`
}

// ChunkType discriminates the kind of content carried by a StreamChunk.
type ChunkType string

const (
	ChunkText     ChunkType = "text"
	ChunkThinking ChunkType = "thinking"
	ChunkToolCall ChunkType = "tool_call"
	ChunkDone     ChunkType = "done"
	ChunkError    ChunkType = "error"
)

// StreamChunk is one fragment of a streaming Generate response.
type StreamChunk struct {
	Type     ChunkType
	Text     string
	ToolCall *ToolCall
	Tokens   int
	Err      error
}

// GenerateRequest bundles everything a provider needs to produce a
// completion: conversation history, available tools and sampling params.
type GenerateRequest struct {
	Messages    []Message
	Tools       []ToolDefinition
	Temperature float64
	MaxTokens   int
	// ThinkingBudgetTokens requests extended-reasoning streaming when the
	// provider supports it (§4.1 Planning "thinking" stream).
	ThinkingBudgetTokens int
}

// GenerateResponse is the non-streaming result of a Generate call.
type GenerateResponse struct {
	Message      Message
	FinishReason string
	PromptTokens int
	OutputTokens int
}

// Provider is the contract every concrete LLM backend implements.
// Grounded on the teacher's llms.LLMProvider interface.
type Provider interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
	GenerateStreaming(ctx context.Context, req GenerateRequest) (<-chan StreamChunk, error)
	ModelName() string
	MaxTokens() int
	Temperature() float64
	Close() error
}
