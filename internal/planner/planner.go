// Package planner implements the Planner (C6): it asks the LLM Gateway
// for a JSON plan from the user request plus recent context, grounded
// on the teacher's reasoning/strategy.go PromptSlots pattern for
// building the system prompt from named, overridable sections.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/flowmind/orchestrator/internal/llm"
	"github.com/flowmind/orchestrator/internal/orcherrors"
	"github.com/flowmind/orchestrator/internal/tool"
)

// Plan is the JSON object the LLM is asked to produce: a one-line
// summary plus an ordered list of natural-language step titles.
type Plan struct {
	Summary string   `json:"plan"`
	Steps   []string `json:"steps"`
}

// PromptSlots are the named, overridable sections of the planning
// system prompt (SUPPLEMENTED FEATURES #1 in SPEC_FULL.md).
type PromptSlots struct {
	SystemRole        string
	ToolUsage         string
	OutputFormat      string
	CommunicationStyle string
}

// Merge returns a copy of s with any non-empty field of override applied.
func (s PromptSlots) Merge(override PromptSlots) PromptSlots {
	merged := s
	if override.SystemRole != "" {
		merged.SystemRole = override.SystemRole
	}
	if override.ToolUsage != "" {
		merged.ToolUsage = override.ToolUsage
	}
	if override.OutputFormat != "" {
		merged.OutputFormat = override.OutputFormat
	}
	if override.CommunicationStyle != "" {
		merged.CommunicationStyle = override.CommunicationStyle
	}
	return merged
}

func defaultSlots() PromptSlots {
	return PromptSlots{
		SystemRole:   "You are the planning module of a task-executing assistant. You decompose a user's request into a short ordered list of concrete, tool-feasible steps.",
		ToolUsage:    "You never call tools yourself. You only describe what should happen in each step.",
		OutputFormat: `Respond with a single JSON object: {"plan": "<one line summary>", "steps": ["<step 1>", "<step 2>", ...]}. No prose before or after the JSON.`,
		CommunicationStyle: "Each step title is a short natural-language action, not code.",
	}
}

// Request bundles everything the Planner needs.
type Request struct {
	UserRequest    string
	RecentHistory  []llm.Message
	UploadedFiles  []UploadedFile
	WorkspaceHint  string
	AvailableTools []tool.Info
	EnableThinking bool
	ThinkingBudget int
	PromptOverride PromptSlots
}

// UploadedFile is one inlined file-text the planner sees as priority #1
// context (spec.md §4.1 "uploaded-files section").
type UploadedFile struct {
	Name string
	Text string
}

// ThinkingSink receives plan_thinking_chunk fragments as they stream in.
type ThinkingSink func(fragment string)

// Planner turns a user request into a Plan via the LLM Gateway.
type Planner struct {
	provider llm.Provider
}

func New(provider llm.Provider) *Planner {
	return &Planner{provider: provider}
}

// Plan invokes the LLM Gateway and parses the resulting JSON plan,
// tolerant of surrounding prose (spec.md §4.1 "parses the final JSON
// object, tolerant of surrounding prose").
func (p *Planner) Plan(ctx context.Context, req Request, onThinking ThinkingSink) (*Plan, error) {
	slots := defaultSlots().Merge(req.PromptOverride)
	system := buildSystemPrompt(slots, req.AvailableTools)
	user := buildUserMessage(req)

	genReq := llm.GenerateRequest{
		Messages: append([]llm.Message{{Role: llm.RoleSystem, Content: system}}, append(req.RecentHistory, llm.Message{Role: llm.RoleUser, Content: user})...),
	}
	if req.EnableThinking {
		genReq.ThinkingBudgetTokens = req.ThinkingBudget
		if genReq.ThinkingBudgetTokens == 0 {
			genReq.ThinkingBudgetTokens = 3000
		}
	}

	var raw strings.Builder
	if onThinking != nil {
		stream, err := p.provider.GenerateStreaming(ctx, genReq)
		if err != nil {
			return nil, orcherrors.NewToolError("planner.Planner", "Plan", "llm streaming failed", err)
		}
		for chunk := range stream {
			switch chunk.Type {
			case llm.ChunkThinking:
				onThinking(chunk.Text)
			case llm.ChunkText:
				raw.WriteString(chunk.Text)
			case llm.ChunkError:
				return nil, orcherrors.NewToolError("planner.Planner", "Plan", "llm stream error", chunk.Err)
			}
		}
	} else {
		resp, err := p.provider.Generate(ctx, genReq)
		if err != nil {
			return nil, orcherrors.NewToolError("planner.Planner", "Plan", "llm generate failed", err)
		}
		raw.WriteString(resp.Message.Content)
	}

	plan, err := parsePlan(raw.String())
	if err != nil {
		return nil, orcherrors.NewValidationError("planner.Planner", "Plan", "malformed plan JSON from llm", err)
	}

	// spec.md Open Question #3: fewer than one step falls back to a
	// trivial single-step plan using the raw user request as the step.
	if len(plan.Steps) == 0 {
		plan.Steps = []string{req.UserRequest}
	}
	return plan, nil
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

func parsePlan(raw string) (*Plan, error) {
	candidate := strings.TrimSpace(raw)
	var plan Plan
	if err := json.Unmarshal([]byte(candidate), &plan); err == nil {
		return &plan, nil
	}

	match := jsonObjectPattern.FindString(candidate)
	if match == "" {
		return nil, fmt.Errorf("no JSON object found in planner output")
	}
	if err := json.Unmarshal([]byte(match), &plan); err != nil {
		return nil, fmt.Errorf("parsing extracted JSON: %w", err)
	}
	return &plan, nil
}

func buildSystemPrompt(slots PromptSlots, tools []tool.Info) string {
	var b strings.Builder
	b.WriteString(slots.SystemRole)
	b.WriteString("\n\n")
	b.WriteString(slots.ToolUsage)
	b.WriteString("\n\n")
	if len(tools) > 0 {
		b.WriteString("Available capabilities (steps must only reference these):\n")
		for _, t := range tools {
			fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString(slots.OutputFormat)
	b.WriteString("\n")
	b.WriteString(slots.CommunicationStyle)
	return b.String()
}

func buildUserMessage(req Request) string {
	var b strings.Builder
	if len(req.UploadedFiles) > 0 {
		b.WriteString("=== UPLOADED FILES (priority #1) ===\n")
		for _, f := range req.UploadedFiles {
			fmt.Fprintf(&b, "--- %s ---\n%s\n", f.Name, f.Text)
		}
		b.WriteString("\n")
	}
	if req.WorkspaceHint != "" {
		b.WriteString("=== WORKSPACE (priority #2) ===\n")
		b.WriteString(req.WorkspaceHint)
		b.WriteString("\n\n")
	}
	b.WriteString("=== USER REQUEST ===\n")
	b.WriteString(req.UserRequest)
	return b.String()
}
