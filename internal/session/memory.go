package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowmind/orchestrator/internal/orcherrors"
)

// MemoryStore is the default single-process Store, a mutex-protected
// map matching the concurrency model in §5 (one process, cooperative
// goroutines, shared registries guarded by RWMutex).
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*ConversationContext
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*ConversationContext)}
}

func (s *MemoryStore) Create(ctx context.Context, sessionID string) (*ConversationContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sessionID]; exists {
		return nil, orcherrors.NewValidationError("session.MemoryStore", "Create", fmt.Sprintf("session %q already exists", sessionID), nil)
	}
	now := time.Now()
	cc := &ConversationContext{
		SessionID:    sessionID,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	s.sessions[sessionID] = cc
	return cc, nil
}

func (s *MemoryStore) Get(ctx context.Context, sessionID string) (*ConversationContext, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cc, ok := s.sessions[sessionID]
	return cc, ok, nil
}

func (s *MemoryStore) Save(ctx context.Context, cc *ConversationContext) error {
	if cc == nil {
		return orcherrors.NewValidationError("session.MemoryStore", "Save", "context is nil", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[cc.SessionID] = cc
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *MemoryStore) EvictIdle(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, cc := range s.sessions {
		if cc.LastActiveAt.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}
