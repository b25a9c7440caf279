package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *Subscription) ChangeEvent {
	t.Helper()
	select {
	case event, ok := <-sub.Events():
		require.True(t, ok, "subscription closed unexpectedly")
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return ChangeEvent{}
}

func TestBrokerFiltersByTableAndConversation(t *testing.T) {
	broker := NewBroker()
	sub := broker.Subscribe(context.Background(), []Table{TableMessages}, Filter{ConversationID: "c1"})
	defer sub.Close()

	broker.Publish(ChangeEvent{Table: TableCalls, Type: EventInsert, ConversationID: "c1"})
	broker.Publish(ChangeEvent{Table: TableMessages, Type: EventInsert, ConversationID: "c2"})
	broker.Publish(ChangeEvent{Table: TableMessages, Type: EventInsert, ConversationID: "c1", Record: "hello"})

	event := receive(t, sub)
	require.Equal(t, "hello", event.Record)
	require.Equal(t, uint64(3), event.Seq)
	require.Equal(t, "messages.insert", event.Key())
	require.False(t, event.At.IsZero())
	require.Empty(t, sub.Events())
}

func TestBrokerFiltersByUser(t *testing.T) {
	broker := NewBroker()
	sub := broker.Subscribe(context.Background(), nil, Filter{UserID: "u2"})
	defer sub.Close()

	broker.Publish(ChangeEvent{Table: TableNotifications, Type: EventInsert, UserIDs: []string{"u1"}})
	broker.Publish(ChangeEvent{Table: TableNotifications, Type: EventInsert, UserIDs: []string{"u1", "u2"}, Name: "notification.created"})

	event := receive(t, sub)
	require.Equal(t, "notification.created", event.Key())
}

func TestBrokerPreservesPublishOrder(t *testing.T) {
	broker := NewBroker()
	sub := broker.Subscribe(context.Background(), []Table{TableMessages}, Filter{})
	defer sub.Close()

	for i := 0; i < 10; i++ {
		broker.Publish(ChangeEvent{Table: TableMessages, Type: EventInsert, Record: i})
	}
	for i := 0; i < 10; i++ {
		require.Equal(t, i, receive(t, sub).Record)
	}
}

func TestBrokerDropsSlowSubscriber(t *testing.T) {
	broker := NewBroker(WithBufferSize(2))
	slow := broker.Subscribe(context.Background(), nil, Filter{})
	fast := broker.Subscribe(context.Background(), []Table{TableCalls}, Filter{})
	defer fast.Close()

	for i := 0; i < 3; i++ {
		broker.Publish(ChangeEvent{Table: TableMessages, Type: EventInsert, Record: i})
	}

	require.True(t, slow.Dropped())
	select {
	case <-slow.Done():
	default:
		t.Fatal("expected dropped subscription to be done")
	}

	drained := 0
	for range slow.Events() {
		drained++
	}
	require.Equal(t, 2, drained, "buffered events remain readable before the stream closes")
	require.Equal(t, 1, broker.Subscribers())
	require.False(t, fast.Dropped())
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	broker := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	sub := broker.Subscribe(ctx, nil, Filter{})

	cancel()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("expected subscription to end after cancellation")
	}
	_, ok := <-sub.Events()
	require.False(t, ok)
	require.False(t, sub.Dropped())
	require.Zero(t, broker.Subscribers())

	sub.Close()
}

func TestParseStream(t *testing.T) {
	prefix, id, ok := ParseStream(" Conversation.ABC ")
	require.True(t, ok)
	require.Equal(t, StreamPrefixConversation, prefix)
	require.Equal(t, "abc", id)

	_, _, ok = ParseStream("user.")
	require.False(t, ok)
	_, _, ok = ParseStream("notifications")
	require.False(t, ok)

	require.Equal(t, "presence.u1", PresenceStream("U1"))
	require.Equal(t, "user.u1", UserStream("u1"))
}
