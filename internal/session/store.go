package session

import (
	"context"
	"time"
)

// Store is the contract both the in-memory and Redis-backed Session
// Stores implement (§6 session transport: "a pluggable session store").
type Store interface {
	// Create starts a brand-new session and returns its initial context.
	Create(ctx context.Context, sessionID string) (*ConversationContext, error)
	// Get loads the session's context, or (nil, false) if unknown.
	Get(ctx context.Context, sessionID string) (*ConversationContext, bool, error)
	// Save persists the (possibly mutated) context.
	Save(ctx context.Context, cc *ConversationContext) error
	// Delete removes a session entirely.
	Delete(ctx context.Context, sessionID string) error
	// EvictIdle removes sessions whose LastActiveAt predates the cutoff,
	// returning how many were removed (§5 "idle session GC").
	EvictIdle(ctx context.Context, cutoff time.Time) (int, error)
}
