package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowmind/orchestrator/internal/eventbus"
)

func TestAuditedBus_RecordsStampedEvent(t *testing.T) {
	sink, err := Open("file::memory:?cache=shared")
	require.NoError(t, err)
	defer sink.Close()

	bus := eventbus.New()
	audited := Wrap(bus, sink, nil)

	stamped := audited.Publish("s1", eventbus.StreamEvent{Type: eventbus.EventMessage})
	require.Equal(t, "s1", stamped.SessionID)
	require.Equal(t, 1, stamped.Seq)

	events, err := sink.Tail(context.Background(), "s1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, 1, events[0].Seq)
	require.Equal(t, "s1", events[0].SessionID)
}

func TestAuditedBus_DelegatesToLiveSubscriber(t *testing.T) {
	sink, err := Open("file::memory:?cache=shared")
	require.NoError(t, err)
	defer sink.Close()

	bus := eventbus.New()
	audited := Wrap(bus, sink, nil)

	ch := bus.Subscribe("s1", 1)
	audited.Publish("s1", eventbus.StreamEvent{Type: eventbus.EventMessage})

	select {
	case ev := <-ch:
		require.Equal(t, eventbus.EventMessage, ev.Type)
	default:
		t.Fatal("expected event delivered to live subscriber")
	}
}

func TestAuditedBus_NilSinkNeverPanics(t *testing.T) {
	bus := eventbus.New()
	audited := Wrap(bus, nil, nil)
	require.NotPanics(t, func() {
		audited.Publish("s1", eventbus.StreamEvent{Type: eventbus.EventMessage})
	})
}
