// Package eventbus implements the Event Bus (C3): per-session publish
// and newest-subscriber-wins fan-out of StreamEvents, grounded on the
// teacher's a2a/server.go handleStreamTask websocket pump (one
// subscriber channel per session, replaced — not queued — when a new
// subscriber attaches).
package eventbus

import (
	"sync"
	"time"
)

// EventType enumerates the StreamEvent kinds named in spec.md §3.
type EventType string

const (
	EventMessage               EventType = "message"
	EventMessageStart          EventType = "message_start"
	EventMessageChunk          EventType = "message_chunk"
	EventMessageComplete       EventType = "message_complete"
	EventThinkingChunk         EventType = "thinking_chunk"
	EventResponseChunk         EventType = "response_chunk"
	EventPlanGenerated         EventType = "plan_generated"
	EventPlanThinkingChunk     EventType = "plan_thinking_chunk"
	EventPlanThinkingComplete  EventType = "plan_thinking_complete"
	EventPlanUpdated           EventType = "plan_updated"
	EventAwaitingConfirmation  EventType = "awaiting_confirmation"
	EventStepStart             EventType = "step_start"
	EventStepComplete          EventType = "step_complete"
	EventToolCall              EventType = "tool_call"
	EventToolResult            EventType = "tool_result"
	EventUserAssistanceRequest EventType = "user_assistance_request"
	EventFinalResultStart      EventType = "final_result_start"
	EventFinalResultChunk      EventType = "final_result_chunk"
	EventFinalResultComplete   EventType = "final_result_complete"
	EventWorkflowComplete      EventType = "workflow_complete"
	EventWorkflowStopped       EventType = "workflow_stopped"
	EventWorkflowPaused        EventType = "workflow_paused"
	EventError                 EventType = "error"

	// ReAct Orchestrator (C8) events, spec.md §4.2. Distinct from the
	// Step Orchestrator's taxonomy above since a ReAct loop has no plan
	// or steps, only iterations.
	EventReactThinking   EventType = "react_thinking"
	EventReactAction     EventType = "react_action"
	EventReactObservation EventType = "react_observation"
	EventReactComplete   EventType = "react_complete"
	EventReactFailed     EventType = "react_failed"
)

// Publisher is the subset of Bus's contract that orchestrators and the
// Agent Wrapper depend on, letting a decorator (audit.AuditedBus) stand
// in for the concrete Bus without those packages importing audit.
type Publisher interface {
	Publish(sessionID string, event StreamEvent) StreamEvent
	HasSubscriber(sessionID string) bool
}

// StreamEvent is one unit published on a session's channel.
type StreamEvent struct {
	Type      EventType              `json:"type"`
	SessionID string                 `json:"session_id"`
	Turn      int                    `json:"turn,omitempty"`
	Seq       int                    `json:"seq"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// subscription wraps the channel handed to a single subscriber plus a
// closed-once guard, since the bus may need to replace and close it
// from Subscribe while a publisher is mid-send.
type subscription struct {
	ch     chan StreamEvent
	once   sync.Once
}

func (s *subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// Bus fans out StreamEvents to at most one live subscriber per session.
// Publishing to a session with no subscriber is a no-op: the event is
// dropped, matching §5's "no-subscriber policy" (the orchestrator keeps
// running; nothing buffers on the publisher's behalf).
type Bus struct {
	mu   sync.Mutex
	subs map[string]*subscription
	seq  map[string]int
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		subs: make(map[string]*subscription),
		seq:  make(map[string]int),
	}
}

// Subscribe attaches a new subscriber to sessionID, replacing and
// closing any previous subscriber's channel (newest-subscriber-wins,
// §6 session transport: a reconnect supersedes the stale connection).
func (b *Bus) Subscribe(sessionID string, buffer int) <-chan StreamEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.subs[sessionID]; ok {
		old.close()
	}
	sub := &subscription{ch: make(chan StreamEvent, buffer)}
	b.subs[sessionID] = sub
	return sub.ch
}

// Unsubscribe detaches and closes the current subscriber for sessionID,
// if it is still the one identified by ch.
func (b *Bus) Unsubscribe(sessionID string, ch <-chan StreamEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[sessionID]
	if !ok {
		return
	}
	var current <-chan StreamEvent = sub.ch
	if current != ch {
		return
	}
	sub.close()
	delete(b.subs, sessionID)
}

// Publish delivers event to sessionID's current subscriber, if any. It
// never blocks: a full subscriber channel drops the event rather than
// stalling the orchestrator loop. Returns the stamped event (sequence
// number and timestamp assigned) so decorators such as audit.AuditedBus
// can record exactly what was published.
func (b *Bus) Publish(sessionID string, event StreamEvent) StreamEvent {
	b.mu.Lock()
	b.seq[sessionID]++
	event.SessionID = sessionID
	event.Seq = b.seq[sessionID]
	if event.Timestamp.IsZero() {
		event.Timestamp = timeNow()
	}
	sub, ok := b.subs[sessionID]
	b.mu.Unlock()
	if !ok {
		return event
	}
	select {
	case sub.ch <- event:
	default:
	}
	return event
}

// HasSubscriber reports whether sessionID currently has a live subscriber.
func (b *Bus) HasSubscriber(sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subs[sessionID]
	return ok
}

// timeNow is a seam so tests can stub out wall-clock time if needed.
var timeNow = time.Now
