package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowmind/orchestrator/internal/eventbus"
)

func TestSink_RecordAndTail(t *testing.T) {
	sink, err := Open("file::memory:?cache=shared")
	require.NoError(t, err)
	defer sink.Close()

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		ev := eventbus.StreamEvent{
			Type: eventbus.EventToolCall, SessionID: "s1", Seq: i,
			Payload: map[string]interface{}{"n": i},
		}
		require.NoError(t, sink.Record(ctx, ev))
	}

	events, err := sink.Tail(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, 1, events[0].Seq)
	require.Equal(t, 3, events[2].Seq)
}

func TestSink_TailIsolatesBySession(t *testing.T) {
	sink, err := Open("file::memory:?cache=shared")
	require.NoError(t, err)
	defer sink.Close()

	ctx := context.Background()
	require.NoError(t, sink.Record(ctx, eventbus.StreamEvent{Type: eventbus.EventMessage, SessionID: "a", Seq: 1}))
	require.NoError(t, sink.Record(ctx, eventbus.StreamEvent{Type: eventbus.EventMessage, SessionID: "b", Seq: 1}))

	events, err := sink.Tail(ctx, "a", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "a", events[0].SessionID)
}
