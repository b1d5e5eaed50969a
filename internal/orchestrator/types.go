// Package orchestrator implements the Step Orchestrator (C7) and the
// ReAct Orchestrator (C8): the two interchangeable executors that drive
// a complex request to a streamed final answer, grounded on the
// teacher's agent/agent.go execute() loop and reasoning/strategy.go
// ReasoningStrategy abstraction.
package orchestrator

import (
	"time"

	"github.com/flowmind/orchestrator/internal/planner"
)

// Status is the terminal state of a C7/C8 turn (spec.md §4.1).
type Status string

const (
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
	StatusStopped   Status = "stopped"
	StatusTimeout   Status = "timeout"
	StatusPaused    Status = "paused"
	// StatusAborted marks a turn terminated because a tool call failed
	// validation (unknown tool name, schema violation) rather than
	// because the tool ran and failed (spec.md §7: validation errors
	// abort the turn; execution errors are fed back to the model and the
	// step continues).
	StatusAborted Status = "aborted"
)

// Mode governs whether the Step Orchestrator must gate on user
// confirmation before executing a multi-step plan.
type Mode string

const (
	ModeInstant  Mode = "instant"
	ModeApproval Mode = "approval"
)

// ExecuteResult is the return value of Execute.
type ExecuteResult struct {
	Status         Status
	Plan           *planner.Plan
	ConfirmationID string
	Result         string
}

// AssistanceOption is one selectable option of a user-assistance request.
type AssistanceOption struct {
	ID          string                 `json:"id"`
	Label       string                 `json:"label"`
	Description string                 `json:"description,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// AssistanceRequest is the parsed payload of the sentinel header
// (spec.md §4.1 "🔍 USER ASSISTANCE REQUEST").
type AssistanceRequest struct {
	Question string                 `json:"question"`
	Options  []AssistanceOption     `json:"options"`
	Context  map[string]interface{} `json:"context,omitempty"`
}

const (
	assistanceSentinel     = "🔍 USER ASSISTANCE REQUEST"
	criticalFailureMarker  = "⛔ CRITICAL FAILURE"
	toolResultTruncateNote = "\n...[truncated]"
)

const (
	approvalTimeout   = 300 * time.Second
	approvalPoll      = 500 * time.Millisecond
	assistanceTimeout = 300 * time.Second
	assistancePoll    = 500 * time.Millisecond
)
