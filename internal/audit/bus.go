package audit

import (
	"context"
	"log/slog"

	"github.com/flowmind/orchestrator/internal/eventbus"
)

// AuditedBus wraps an eventbus.Bus, persisting every published event
// to a Sink before fanning it out to the live subscriber. It is a
// decorator rather than a second subscriber because the bus's
// newest-subscriber-wins contract (spec.md §4.4) allows only one live
// subscriber per session; auditing must not compete for that slot.
type AuditedBus struct {
	*eventbus.Bus
	sink   *Sink
	logger *slog.Logger
}

// Wrap returns an AuditedBus delegating to bus and sink. logger may be
// nil, in which case write failures are simply dropped.
func Wrap(bus *eventbus.Bus, sink *Sink, logger *slog.Logger) *AuditedBus {
	return &AuditedBus{Bus: bus, sink: sink, logger: logger}
}

// Publish delegates to the wrapped bus first (so the live subscriber
// gets the event with no added latency), then records the stamped
// event. A failed audit write never blocks or fails the publish
// (spec.md §9 "audit log sinks" are an out-of-scope collaborator, not
// a correctness dependency).
func (a *AuditedBus) Publish(sessionID string, event eventbus.StreamEvent) eventbus.StreamEvent {
	stamped := a.Bus.Publish(sessionID, event)
	if a.sink != nil {
		if err := a.sink.Record(context.Background(), stamped); err != nil && a.logger != nil {
			a.logger.Warn("audit: failed to record event", "session_id", sessionID, "error", err)
		}
	}
	return stamped
}
