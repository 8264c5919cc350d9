package pubsub

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNATSMessageMapping(t *testing.T) {
	m := toNATSMsg(Message{Topic: "notification-created", UserID: "u1", Payload: []byte("p"), Metadata: map[string]string{"Traceparent": "00-abc"}})
	assert.Equal(t, "notification-created", m.Subject)
	assert.Equal(t, "u1", m.Header.Get(headerUserID))

	back := fromNATSMsg(m)
	assert.Equal(t, "u1", back.UserID)
	assert.Equal(t, []byte("p"), back.Payload)
	assert.Equal(t, "00-abc", back.Metadata["Traceparent"])
	assert.NotContains(t, back.Metadata, headerUserID)

	bare := fromNATSMsg(&nats.Msg{Subject: "s", Data: []byte("x")})
	assert.Empty(t, bare.UserID)
}

// roundTrip checks that two independent connections, standing in for two
// server processes, see each other's messages.
func roundTrip(t *testing.T, a, b Bus) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	topic := "roomcast-test-" + uuid.NewString()
	got := make(chan Message, 1)
	require.NoError(t, b.Subscribe(ctx, topic, func(_ context.Context, m Message) error {
		got <- m
		return nil
	}))

	require.NoError(t, a.Publish(ctx, Message{Topic: topic, UserID: "u1", Payload: []byte(`{"userId":"u1"}`)}))
	m := receive(t, got)
	assert.Equal(t, topic, m.Topic)
	assert.JSONEq(t, `{"userId":"u1"}`, string(m.Payload))
}

func TestRedisBridge_Integration(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if testing.Short() || url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()

	a, err := NewRedisBridge(ctx, url, nil)
	require.NoError(t, err)
	defer a.Close()
	b, err := NewRedisBridge(ctx, url, nil)
	require.NoError(t, err)
	defer b.Close()

	roundTrip(t, a, b)
}

func TestNATSBridge_Integration(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if testing.Short() || url == "" {
		t.Skip("NATS_URL not set")
	}

	a, err := NewNATSBridge(url, "roomcast-test-a", nil)
	require.NoError(t, err)
	defer a.Close()
	b, err := NewNATSBridge(url, "roomcast-test-b", nil)
	require.NoError(t, err)
	defer b.Close()

	roundTrip(t, a, b)
}
