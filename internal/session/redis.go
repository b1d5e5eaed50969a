package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowmind/orchestrator/internal/orcherrors"
)

// RedisStore is a multi-process Store backed by Redis, for deployments
// that run more than one orchestrator process behind a shared session
// transport (§6 "optional Redis-backed session store for multi-process
// deployments" — SPEC_FULL domain stack).
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to addr and returns a RedisStore. ttl is the
// idle expiry applied to every key on Save (mirroring the idle session
// GC the MemoryStore performs by sweeping).
func NewRedisStore(addr string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: "orchestrator:session:",
		ttl:    ttl,
	}
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + sessionID
}

func (s *RedisStore) Create(ctx context.Context, sessionID string) (*ConversationContext, error) {
	exists, err := s.client.Exists(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, orcherrors.NewToolError("session.RedisStore", "Create", "checking existing session", err)
	}
	if exists > 0 {
		return nil, orcherrors.NewValidationError("session.RedisStore", "Create", fmt.Sprintf("session %q already exists", sessionID), nil)
	}

	now := time.Now()
	cc := &ConversationContext{SessionID: sessionID, CreatedAt: now, LastActiveAt: now}
	if err := s.Save(ctx, cc); err != nil {
		return nil, err
	}
	return cc, nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*ConversationContext, bool, error) {
	raw, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, orcherrors.NewToolError("session.RedisStore", "Get", "fetching session", err)
	}
	var cc ConversationContext
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, false, orcherrors.NewToolError("session.RedisStore", "Get", "decoding session", err)
	}
	return &cc, true, nil
}

func (s *RedisStore) Save(ctx context.Context, cc *ConversationContext) error {
	if cc == nil {
		return orcherrors.NewValidationError("session.RedisStore", "Save", "context is nil", nil)
	}
	raw, err := json.Marshal(cc)
	if err != nil {
		return orcherrors.NewToolError("session.RedisStore", "Save", "encoding session", err)
	}
	if err := s.client.Set(ctx, s.key(cc.SessionID), raw, s.ttl).Err(); err != nil {
		return orcherrors.NewToolError("session.RedisStore", "Save", "writing session", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return orcherrors.NewToolError("session.RedisStore", "Delete", "deleting session", err)
	}
	return nil
}

// EvictIdle is a no-op for Redis: the per-key TTL set in Save already
// expires idle sessions server-side.
func (s *RedisStore) EvictIdle(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}
