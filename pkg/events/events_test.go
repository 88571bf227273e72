package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBrokerPublishDeliversToSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Type: EventRoleChanged, Message: "follower -> leader"})

	select {
	case ev := <-sub:
		require.Equal(t, EventRoleChanged, ev.Type)
		require.Equal(t, "follower -> leader", ev.Message)
		require.False(t, ev.Timestamp.IsZero(), "Publish should stamp a zero-value Timestamp")
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the published event")
	}
}

func TestBrokerBroadcastsToEverySubscriber(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	subA := b.Subscribe()
	subB := b.Subscribe()
	defer b.Unsubscribe(subA)
	defer b.Unsubscribe(subB)

	require.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{Type: EventCommitAdvanced})

	for _, sub := range []Subscriber{subA, subB} {
		select {
		case ev := <-sub:
			require.Equal(t, EventCommitAdvanced, ev.Type)
		case <-time.After(time.Second):
			t.Fatal("a subscriber missed the broadcast event")
		}
	}
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)

	require.Equal(t, 0, b.SubscriberCount())

	_, ok := <-sub
	require.False(t, ok, "unsubscribed channel should be closed")
}

func TestBrokerPublishDoesNotBlockAfterStop(t *testing.T) {
	b := NewBroker()
	b.Start()
	b.Subscribe() // an unread subscriber would otherwise never block Publish anyway; Stop is what's under test

	b.Stop()

	done := make(chan struct{})
	go func() {
		b.Publish(&Event{Type: EventTermChanged})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked after Stop")
	}
}
