package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements Provider against the Anthropic Messages API,
// including extended-thinking streaming (§4.1 "thinking" StreamEvents).
type AnthropicProvider struct {
	client       anthropic.Client
	model        string
	maxTokens    int
	temperature  float64
	thinkingBudget int
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey               string
	BaseURL              string
	Model                string
	MaxTokens            int
	Temperature          float64
	ThinkingBudgetTokens int
}

// NewAnthropicProvider builds a Provider backed by the Anthropic SDK client.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("anthropic: model is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:         anthropic.NewClient(opts...),
		model:          cfg.Model,
		maxTokens:      cfg.MaxTokens,
		temperature:    cfg.Temperature,
		thinkingBudget: cfg.ThinkingBudgetTokens,
	}, nil
}

func (p *AnthropicProvider) ModelName() string    { return p.model }
func (p *AnthropicProvider) MaxTokens() int        { return p.maxTokens }
func (p *AnthropicProvider) Temperature() float64  { return p.temperature }
func (p *AnthropicProvider) Close() error          { return nil }

// Generate performs a single non-streaming completion.
func (p *AnthropicProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: generate: %w", err)
	}

	out := Message{Role: RoleAssistant}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			var args map[string]interface{}
			_ = json.Unmarshal(block.Input, &args)
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
				RawArgs:   string(block.Input),
			})
		}
	}

	return &GenerateResponse{
		Message:      out,
		FinishReason: string(msg.StopReason),
		PromptTokens: int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}

// GenerateStreaming streams text, thinking and tool-call fragments as the
// model produces them, closing the channel when the stream ends.
func (p *AnthropicProvider) GenerateStreaming(ctx context.Context, req GenerateRequest) (<-chan StreamChunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamChunk)
	stream := p.client.Messages.NewStreaming(ctx, params)

	go func() {
		defer close(out)

		var toolName, toolID string
		var toolInput strings.Builder
		inTool := false

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "content_block_start":
				block := event.AsContentBlockStart().ContentBlock
				if block.Type == "tool_use" {
					use := block.AsToolUse()
					toolID, toolName = use.ID, use.Name
					toolInput.Reset()
					inTool = true
				}
			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch delta.Type {
				case "text_delta":
					if delta.Text != "" {
						out <- StreamChunk{Type: ChunkText, Text: delta.Text}
					}
				case "thinking_delta":
					if delta.Thinking != "" {
						out <- StreamChunk{Type: ChunkThinking, Text: delta.Thinking}
					}
				case "input_json_delta":
					toolInput.WriteString(delta.PartialJSON)
				}
			case "content_block_stop":
				if inTool {
					var args map[string]interface{}
					_ = json.Unmarshal([]byte(toolInput.String()), &args)
					out <- StreamChunk{Type: ChunkToolCall, ToolCall: &ToolCall{
						ID: toolID, Name: toolName, Arguments: args, RawArgs: toolInput.String(),
					}}
					inTool = false
				}
			case "message_delta":
				delta := event.AsMessageDelta()
				if delta.Usage.OutputTokens > 0 {
					out <- StreamChunk{Type: ChunkDone, Tokens: int(delta.Usage.OutputTokens)}
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- StreamChunk{Type: ChunkError, Err: fmt.Errorf("anthropic: stream: %w", err)}
		}
	}()

	return out, nil
}

func (p *AnthropicProvider) buildParams(req GenerateRequest) (anthropic.MessageNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokens),
	}

	var system []anthropic.TextBlockParam
	var messages []anthropic.MessageParam
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
			continue
		}
		var blocks []anthropic.ContentBlockParamUnion
		if m.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(m.Content))
		}
		if m.Role == RoleTool {
			blocks = append(blocks, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
		}
		for _, tc := range m.ToolCalls {
			blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
		}
		role := anthropic.MessageParamRoleUser
		if m.Role == RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		messages = append(messages, anthropic.MessageParam{Role: role, Content: blocks})
	}
	if len(system) > 0 {
		params.System = system
	}
	params.Messages = messages

	if len(req.Tools) > 0 {
		var tools []anthropic.ToolUnionParam
		for _, t := range req.Tools {
			schemaJSON, err := json.Marshal(t.Parameters)
			if err != nil {
				return params, fmt.Errorf("anthropic: marshal schema for %s: %w", t.Name, err)
			}
			var schema anthropic.ToolInputSchemaParam
			if err := json.Unmarshal(schemaJSON, &schema); err != nil {
				return params, fmt.Errorf("anthropic: invalid schema for %s: %w", t.Name, err)
			}
			tool := anthropic.ToolUnionParamOfTool(schema, t.Name)
			if tool.OfTool != nil {
				tool.OfTool.Description = anthropic.String(t.Description)
			}
			tools = append(tools, tool)
		}
		params.Tools = tools
	}

	budget := req.ThinkingBudgetTokens
	if budget == 0 {
		budget = p.thinkingBudget
	}
	if budget > 0 {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(budget))
	}

	return params, nil
}
