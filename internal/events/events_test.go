package events

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmitDeliversToSubscriber(t *testing.T) {
	bus := New()
	ch, unsub := bus.Subscribe("inbox-1")
	defer unsub()

	bus.Emit(TopicEmailNew, "inbox-1", map[string]string{"email_id": "abc"})

	select {
	case ev := <-ch:
		require.Equal(t, TopicEmailNew, ev.Topic)
		require.Equal(t, "inbox-1", ev.InboxHash)
	default:
		t.Fatal("expected event to be delivered")
	}
}

func TestEmitWithNoSubscribersIsSafe(t *testing.T) {
	bus := New()
	require.NotPanics(t, func() {
		bus.Emit(TopicEmailStored, "nobody", nil)
	})
}

func TestUnsubscribeRemovesListener(t *testing.T) {
	bus := New()
	_, unsub := bus.Subscribe("inbox-1")
	require.Equal(t, 1, bus.SubscriberCount("inbox-1"))
	unsub()
	require.Equal(t, 0, bus.SubscriberCount("inbox-1"))
}

func TestMultipleSubscribersBothReceive(t *testing.T) {
	bus := New()
	ch1, unsub1 := bus.Subscribe("inbox-1")
	ch2, unsub2 := bus.Subscribe("inbox-1")
	defer unsub1()
	defer unsub2()

	bus.Emit(TopicEmailReceived, "inbox-1", "payload")

	require.Len(t, ch1, 1)
	require.Len(t, ch2, 1)
}
