package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements Provider against the OpenAI chat-completions
// API (also usable against any OpenAI-compatible gateway via BaseURL).
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

// NewOpenAIProvider builds a Provider backed by the go-openai client.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai: model is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

func (p *OpenAIProvider) ModelName() string   { return p.model }
func (p *OpenAIProvider) MaxTokens() int       { return p.maxTokens }
func (p *OpenAIProvider) Temperature() float64 { return p.temperature }
func (p *OpenAIProvider) Close() error         { return nil }

func (p *OpenAIProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	chatReq := p.buildRequest(req)

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai: generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: generate: empty response")
	}

	choice := resp.Choices[0]
	out := Message{Role: RoleAssistant, Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]interface{}
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
			RawArgs:   tc.Function.Arguments,
		})
	}

	return &GenerateResponse{
		Message:      out,
		FinishReason: string(choice.FinishReason),
		PromptTokens: resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

func (p *OpenAIProvider) GenerateStreaming(ctx context.Context, req GenerateRequest) (<-chan StreamChunk, error) {
	chatReq := p.buildRequest(req)
	chatReq.Stream = true

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai: stream: %w", err)
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer stream.Close()

		type partialToolCall struct {
			id, name string
			args     string
		}
		calls := make(map[int]*partialToolCall)

		for {
			resp, err := stream.Recv()
			if err == io.EOF {
				for i := 0; i < len(calls); i++ {
					tc, ok := calls[i]
					if !ok || tc.id == "" {
						continue
					}
					var args map[string]interface{}
					_ = json.Unmarshal([]byte(tc.args), &args)
					out <- StreamChunk{Type: ChunkToolCall, ToolCall: &ToolCall{
						ID: tc.id, Name: tc.name, Arguments: args, RawArgs: tc.args,
					}}
				}
				out <- StreamChunk{Type: ChunkDone}
				return
			}
			if err != nil {
				out <- StreamChunk{Type: ChunkError, Err: fmt.Errorf("openai: stream recv: %w", err)}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta
			if delta.Content != "" {
				out <- StreamChunk{Type: ChunkText, Text: delta.Content}
			}
			for _, tc := range delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				entry, ok := calls[idx]
				if !ok {
					entry = &partialToolCall{}
					calls[idx] = entry
				}
				if tc.ID != "" {
					entry.id = tc.ID
				}
				if tc.Function.Name != "" {
					entry.name = tc.Function.Name
				}
				entry.args += tc.Function.Arguments
			}

			select {
			case <-ctx.Done():
				out <- StreamChunk{Type: ChunkError, Err: ctx.Err()}
				return
			default:
			}
		}
	}()

	return out, nil
}

func (p *OpenAIProvider) buildRequest(req GenerateRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			argsJSON := tc.RawArgs
			if argsJSON == "" {
				if b, err := json.Marshal(tc.Arguments); err == nil {
					argsJSON = string(b)
				}
			}
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: argsJSON,
				},
			})
		}
		messages = append(messages, msg)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(p.temperature),
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}

	if len(req.Tools) > 0 {
		tools := make([]openai.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		chatReq.Tools = tools
	}

	return chatReq
}
