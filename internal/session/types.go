// Package session implements the Session Store (C4): per-conversation
// state (message history, entity memory, attached files, pending
// confirmations) keyed by session id, grounded on the teacher's
// context/conversation.go ConversationHistory.
package session

import "time"

// Role mirrors llm.Role to avoid a session->llm import; kept as a
// distinct string type since the session store must stay independent
// of the LLM Gateway's wire types.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of conversation history.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// EntityMemory is a small fact remembered across turns (§3 Data Model
// "entity memory"): e.g. a resolved customer id, a default calendar.
type EntityMemory struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AttachedFile is a file the user attached to the conversation.
type AttachedFile struct {
	Name      string    `json:"name"`
	MimeType  string    `json:"mime_type"`
	URI       string    `json:"uri"`
	AddedAt   time.Time `json:"added_at"`
}

// OpenFileHint names a file the user currently has open in their
// workspace, used to bias tool/planning context (§3 "open file hints").
type OpenFileHint struct {
	Path     string    `json:"path"`
	OpenedAt time.Time `json:"opened_at"`
}

// PendingConfirmation tracks an outstanding approval-gate request
// (§4.1 approval gate) awaiting a user decision.
type PendingConfirmation struct {
	ID        string    `json:"id"`
	ToolName  string    `json:"tool_name"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}

// PendingAssistance tracks an outstanding user-assistance request
// (§4.2 user assistance) awaiting a user reply.
type PendingAssistance struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	CreatedAt time.Time `json:"created_at"`
}

// ExecutionMode governs whether the Step Orchestrator must gate on user
// confirmation before executing a multi-step plan (spec.md §3
// "execution_mode ∈ {instant, approval}"). Mirrors orchestrator.Mode's
// values for the same reason Role mirrors llm.Role above.
type ExecutionMode string

const (
	ModeInstant  ExecutionMode = "instant"
	ModeApproval ExecutionMode = "approval"
)

// ConversationContext is the full per-session state persisted by the
// Session Store, extending the teacher's ConversationHistory with the
// orchestrator-specific fields from spec.md §3.
type ConversationContext struct {
	SessionID    string        `json:"session_id"`
	ModelName    string        `json:"model_name"`
	ExecutionMode ExecutionMode `json:"execution_mode"`

	History []Message `json:"history"`

	EntityMemory []EntityMemory `json:"entity_memory"`
	AttachedFiles []AttachedFile `json:"attached_files"`
	OpenFiles     []OpenFileHint `json:"open_files"`

	PendingConfirmations []PendingConfirmation `json:"pending_confirmations"`
	PendingAssistance    []PendingAssistance    `json:"pending_assistance"`

	// ShowDebugInfo/ShowThinking are per-session display flags (teacher
	// ReasoningConfig flags). They are only stored with the session: no
	// orchestrator reads them, so they do not change which debug/thinking
	// StreamEvents are emitted.
	ShowDebugInfo bool `json:"show_debug_info"`
	ShowThinking  bool `json:"show_thinking"`

	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// AppendMessage records one turn and bumps LastActiveAt.
func (c *ConversationContext) AppendMessage(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	c.History = append(c.History, msg)
	c.LastActiveAt = msg.Timestamp
}

// TrimHistory keeps only the most recent max messages, dropping the
// oldest (§6 "Persisted state" bounds history growth per session).
func (c *ConversationContext) TrimHistory(max int) {
	if max <= 0 || len(c.History) <= max {
		return
	}
	c.History = c.History[len(c.History)-max:]
}

// RememberEntity upserts a fact by key.
func (c *ConversationContext) RememberEntity(key, value string) {
	now := time.Now()
	for i := range c.EntityMemory {
		if c.EntityMemory[i].Key == key {
			c.EntityMemory[i].Value = value
			c.EntityMemory[i].UpdatedAt = now
			return
		}
	}
	c.EntityMemory = append(c.EntityMemory, EntityMemory{Key: key, Value: value, UpdatedAt: now})
}

// AddPendingConfirmation registers a new approval-gate request.
func (c *ConversationContext) AddPendingConfirmation(p PendingConfirmation) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	c.PendingConfirmations = append(c.PendingConfirmations, p)
}

// ResolvePendingConfirmation removes a confirmation by id, returning
// whether it was found.
func (c *ConversationContext) ResolvePendingConfirmation(id string) bool {
	for i, p := range c.PendingConfirmations {
		if p.ID == id {
			c.PendingConfirmations = append(c.PendingConfirmations[:i], c.PendingConfirmations[i+1:]...)
			return true
		}
	}
	return false
}
