package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStore_CreateGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	cc, err := s.Create(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "s1", cc.SessionID)

	got, ok, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "s1", got.SessionID)
}

func TestMemoryStore_CreateDuplicate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.Create(ctx, "s1")
	require.NoError(t, err)
	_, err = s.Create(ctx, "s1")
	require.Error(t, err)
}

func TestMemoryStore_EvictIdle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	cc, err := s.Create(ctx, "old")
	require.NoError(t, err)
	cc.LastActiveAt = time.Now().Add(-time.Hour)
	require.NoError(t, s.Save(ctx, cc))

	_, err = s.Create(ctx, "fresh")
	require.NoError(t, err)

	removed, err := s.EvictIdle(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, ok, _ := s.Get(ctx, "old")
	require.False(t, ok)
	_, ok, _ = s.Get(ctx, "fresh")
	require.True(t, ok)
}

func TestConversationContext_TrimHistory(t *testing.T) {
	cc := &ConversationContext{SessionID: "s1"}
	for i := 0; i < 5; i++ {
		cc.AppendMessage(Message{Role: RoleUser, Content: "hi"})
	}
	cc.TrimHistory(2)
	require.Len(t, cc.History, 2)
}

func TestConversationContext_RememberEntity(t *testing.T) {
	cc := &ConversationContext{SessionID: "s1"}
	cc.RememberEntity("customer_id", "abc")
	cc.RememberEntity("customer_id", "xyz")
	require.Len(t, cc.EntityMemory, 1)
	require.Equal(t, "xyz", cc.EntityMemory[0].Value)
}
