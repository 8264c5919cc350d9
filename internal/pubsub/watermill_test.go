package pubsub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type note struct {
	UserID string `json:"userId"`
	Text   string `json:"text"`
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	var zero T
	return zero
}

func TestWatermillBridge_FanOutToEverySubscriber(t *testing.T) {
	bridge := NewWatermillBridge()
	defer bridge.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := make(chan Message, 1)
	second := make(chan Message, 1)
	require.NoError(t, bridge.Subscribe(ctx, "notification-created", func(_ context.Context, m Message) error {
		first <- m
		return nil
	}))
	require.NoError(t, bridge.Subscribe(ctx, "notification-created", func(_ context.Context, m Message) error {
		second <- m
		return nil
	}))

	require.NoError(t, bridge.Publish(ctx, Message{
		Topic:    "notification-created",
		UserID:   "u1",
		Payload:  []byte("payload"),
		Metadata: map[string]string{"request_id": "req-1"},
	}))

	for _, ch := range []chan Message{first, second} {
		m := receive(t, ch)
		assert.Equal(t, "notification-created", m.Topic)
		assert.Equal(t, "u1", m.UserID)
		assert.Equal(t, []byte("payload"), m.Payload)
		assert.Equal(t, "req-1", m.Metadata["request_id"])
	}
}

func TestWatermillBridge_HandlerErrorDoesNotStopSubscription(t *testing.T) {
	bridge := NewWatermillBridge()
	defer bridge.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := make(chan string, 2)
	require.NoError(t, bridge.Subscribe(ctx, "t", func(_ context.Context, m Message) error {
		calls <- string(m.Payload)
		if string(m.Payload) == "bad" {
			return errors.New("boom")
		}
		return nil
	}))

	require.NoError(t, bridge.Publish(ctx, Message{Topic: "t", Payload: []byte("bad")}))
	require.NoError(t, bridge.Publish(ctx, Message{Topic: "t", Payload: []byte("good")}))

	got := []string{receive(t, calls), receive(t, calls)}
	assert.ElementsMatch(t, []string{"bad", "good"}, got)
}

func TestWatermillBridge_Closed(t *testing.T) {
	bridge := NewWatermillBridge()
	require.NoError(t, bridge.Close())
	require.NoError(t, bridge.Close())

	err := bridge.Publish(context.Background(), Message{Topic: "t"})
	assert.ErrorIs(t, err, ErrClosed)
	err = bridge.Subscribe(context.Background(), "t", func(context.Context, Message) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTypedChannel(t *testing.T) {
	bridge := NewWatermillBridge()
	defer bridge.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := NewChannel[note]("notes")
	assert.Equal(t, "notes", ch.Name())

	got := make(chan note, 1)
	require.NoError(t, Subscribe(ctx, bridge, ch, func(_ context.Context, n note) error {
		got <- n
		return nil
	}))

	require.NoError(t, Publish(ctx, bridge, ch, "u1", note{UserID: "u1", Text: "hi"}))
	assert.Equal(t, note{UserID: "u1", Text: "hi"}, receive(t, got))
}

func TestTypedChannel_UndecodablePayload(t *testing.T) {
	bridge := NewWatermillBridge()
	defer bridge.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := NewChannel[note]("notes")
	got := make(chan note, 1)
	require.NoError(t, Subscribe(ctx, bridge, ch, func(_ context.Context, n note) error {
		got <- n
		return nil
	}))

	require.NoError(t, bridge.Publish(ctx, Message{Topic: "notes", Payload: []byte("{not json")}))
	require.NoError(t, Publish(ctx, bridge, ch, "u2", note{UserID: "u2"}))
	assert.Equal(t, "u2", receive(t, got).UserID, "a bad payload is skipped")
}
