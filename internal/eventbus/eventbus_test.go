package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBus_PublishSubscribe(t *testing.T) {
	b := New()
	ch := b.Subscribe("s1", 4)

	b.Publish("s1", StreamEvent{Type: EventMessage})

	select {
	case ev := <-ch:
		require.Equal(t, EventMessage, ev.Type)
		require.Equal(t, "s1", ev.SessionID)
		require.Equal(t, 1, ev.Seq)
	case <-time.After(time.Second):
		t.Fatal("expected event, got none")
	}
}

func TestBus_NoSubscriberDropsEvent(t *testing.T) {
	b := New()
	// Should not panic or block with no subscriber.
	b.Publish("ghost", StreamEvent{Type: EventMessage})
	require.False(t, b.HasSubscriber("ghost"))
}

func TestBus_NewestSubscriberWins(t *testing.T) {
	b := New()
	first := b.Subscribe("s1", 1)
	second := b.Subscribe("s1", 1)

	_, stillOpen := <-first
	require.False(t, stillOpen, "first subscriber channel should be closed")

	b.Publish("s1", StreamEvent{Type: EventMessage})
	select {
	case ev := <-second:
		require.Equal(t, EventMessage, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected event on newest subscriber")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New()
	ch := b.Subscribe("s1", 1)
	b.Unsubscribe("s1", ch)
	require.False(t, b.HasSubscriber("s1"))
}
