package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nfrund/roomcast/internal/chat"
	"github.com/nfrund/roomcast/internal/config"
	"github.com/nfrund/roomcast/internal/domain"
	"github.com/nfrund/roomcast/internal/events"
	"github.com/nfrund/roomcast/internal/presence"
	"github.com/nfrund/roomcast/internal/pubsub"
	"github.com/nfrund/roomcast/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func notification(id, userID string) *domain.Notification {
	body := "hello"
	return &domain.Notification{
		ID:          id,
		RecipientID: userID,
		Type:        domain.NotificationMessage,
		Title:       "New message in Calculus",
		Body:        &body,
		CreatedAt:   time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

type collector struct {
	mu  sync.Mutex
	got []*domain.Notification
}

func (c *collector) handle(_ context.Context, n *domain.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, n)
	return nil
}

func (c *collector) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.got))
	for i, n := range c.got {
		out[i] = n.ID
	}
	return out
}

// notificationFrames returns the notification ids queued on s.
func notificationFrames(t *testing.T, s *presence.Session) []string {
	t.Helper()
	var ids []string
	for {
		select {
		case f := <-s.Outbound():
			env, err := events.Decode(f)
			require.NoError(t, err)
			if env.Event != events.Notification {
				continue
			}
			var n domain.Notification
			require.NoError(t, json.Unmarshal(env.Data, &n))
			ids = append(ids, n.ID)
		default:
			return ids
		}
	}
}

func TestDirectBridge_DeliversToEveryHandler(t *testing.T) {
	b := NewDirectBridge()
	t.Cleanup(func() { b.Close() })

	var first, second collector
	require.NoError(t, b.Subscribe(context.Background(), first.handle))
	require.NoError(t, b.Subscribe(context.Background(), second.handle))

	b.Publish(context.Background(), notification("n1", "w"))
	b.Wait()

	assert.Equal(t, []string{"n1"}, first.ids())
	assert.Equal(t, []string{"n1"}, second.ids())
}

func TestDirectBridge_HandlerErrorIsSwallowed(t *testing.T) {
	b := NewDirectBridge()
	var ok collector
	require.NoError(t, b.Subscribe(context.Background(), func(context.Context, *domain.Notification) error {
		return errors.New("boom")
	}))
	require.NoError(t, b.Subscribe(context.Background(), ok.handle))

	b.Publish(context.Background(), notification("n1", "w"))
	require.NoError(t, b.Close())
	assert.Equal(t, []string{"n1"}, ok.ids())
}

func TestDirectBridge_UnsubscribeOnCancel(t *testing.T) {
	b := NewDirectBridge()
	t.Cleanup(func() { b.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	var c collector
	require.NoError(t, b.Subscribe(ctx, c.handle))
	cancel()

	assert.Eventually(t, func() bool {
		before := len(c.ids())
		b.Publish(context.Background(), notification("late", "w"))
		b.Wait()
		return len(c.ids()) == before
	}, time.Second, 10*time.Millisecond)
}

func TestDirectBridge_CloseReleasesBackgroundSubscriptions(t *testing.T) {
	b := NewDirectBridge()
	var c collector
	require.NoError(t, b.Subscribe(context.Background(), c.handle))
	require.NoError(t, b.Subscribe(context.Background(), noopHandler))

	closed := make(chan error, 1)
	go func() { closed <- b.Close() }()

	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close blocked on subscriptions with a non-cancellable context")
	}
	require.NoError(t, b.Close())
}

func TestDirectBridge_ClosedRejectsSubscribe(t *testing.T) {
	b := NewDirectBridge()
	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Subscribe(context.Background(), noopHandler), ErrBridgeClosed)
	b.Publish(context.Background(), notification("n1", "w"))
}

func TestPubSubBridge_RoundTrip(t *testing.T) {
	b := NewPubSubBridge(pubsub.NewWatermillBridge(), "")
	t.Cleanup(func() { b.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	var c collector
	require.NoError(t, b.Subscribe(ctx, c.handle))

	// The caller's context is cancelled right after Publish returns.
	pubCtx, pubCancel := context.WithCancel(context.Background())
	b.Publish(pubCtx, notification("n1", "w"))
	pubCancel()
	b.Wait()

	require.Eventually(t, func() bool { return len(c.ids()) == 1 }, 2*time.Second, 10*time.Millisecond)
	c.mu.Lock()
	got := c.got[0]
	c.mu.Unlock()
	assert.Equal(t, "w", got.RecipientID)
	require.NotNil(t, got.Body)
	assert.Equal(t, "hello", *got.Body)
}

func TestPubSubBridge_PayloadShape(t *testing.T) {
	bus := pubsub.NewWatermillBridge()
	t.Cleanup(func() { bus.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	raw := make(chan []byte, 1)
	require.NoError(t, bus.Subscribe(ctx, "custom-channel", func(_ context.Context, msg pubsub.Message) error {
		raw <- msg.Payload
		return nil
	}))

	b := NewPubSubBridge(bus, "custom-channel")
	b.Publish(ctx, notification("n1", "w"))
	b.Wait()

	select {
	case data := <-raw:
		var decoded map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.JSONEq(t, `"w"`, string(decoded["userId"]))
		assert.Contains(t, decoded, "notification")
	case <-time.After(2 * time.Second):
		t.Fatal("no payload published")
	}
}

func TestPubSubBridge_PublishAfterCloseIsDropped(t *testing.T) {
	b := NewPubSubBridge(pubsub.NewWatermillBridge(), "")
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	b.Publish(context.Background(), notification("n1", "w"))
	assert.ErrorIs(t, b.Subscribe(context.Background(), noopHandler), ErrBridgeClosed)
}

func TestDeliverer_PushesToLocalSessions(t *testing.T) {
	store := testutils.NewMemoryStore()
	reg := presence.NewRegistry(store, store, store)
	t.Cleanup(reg.Shutdown)

	s1 := presence.NewSession("w", "")
	s2 := presence.NewSession("w", "")
	other := presence.NewSession("x", "")
	for _, s := range []*presence.Session{s1, s2, other} {
		require.NoError(t, reg.Connect(context.Background(), s))
	}

	d := NewDeliverer(reg)
	require.NoError(t, d.Handle(context.Background(), notification("n1", "w")))
	require.NoError(t, d.Handle(context.Background(), notification("n2", "nobody")))

	assert.Equal(t, []string{"n1"}, notificationFrames(t, s1))
	assert.Equal(t, []string{"n1"}, notificationFrames(t, s2))
	assert.Empty(t, notificationFrames(t, other))
}

// Two server processes share a backend: a message posted on A notifies a
// member whose only session lives on B.
func TestCrossProcessDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := testutils.NewMemoryStore()
	store.AddTopic(&domain.Topic{ID: "calc-101", Name: "Calculus"})
	require.NoError(t, store.AddMember(ctx, "calc-101", "u"))
	require.NoError(t, store.AddMember(ctx, "calc-101", "w"))

	bus := pubsub.NewWatermillBridge()
	t.Cleanup(func() { bus.Close() })

	regA := presence.NewRegistry(store, store, store)
	regB := presence.NewRegistry(store, store, store)
	t.Cleanup(regA.Shutdown)
	t.Cleanup(regB.Shutdown)

	bridgeA := NewPubSubBridge(bus, "")
	bridgeB := NewPubSubBridge(bus, "")
	require.NoError(t, NewDeliverer(regA).Start(ctx, bridgeA))
	require.NoError(t, NewDeliverer(regB).Start(ctx, bridgeB))

	author := presence.NewSession("u", "Ursula")
	require.NoError(t, regA.Connect(ctx, author))
	recipient := presence.NewSession("w", "Wen")
	require.NoError(t, regB.Connect(ctx, recipient))

	svc := chat.NewService(chat.Dependencies{
		Members:       store,
		Messages:      store,
		Topics:        store,
		Notifications: store,
		Rooms:         regA,
		Bridge:        bridgeA,
	})

	msg, err := svc.PostMessage(ctx, author, "calc-101", "integrals at noon")
	require.NoError(t, err)
	svc.Wait()
	bridgeA.Wait()

	var got []string
	require.Eventually(t, func() bool {
		got = append(got, notificationFrames(t, recipient)...)
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	stored := store.Notifications()
	require.Len(t, stored, 1)
	assert.Equal(t, stored[0].ID, got[0])
	assert.Equal(t, "w", stored[0].RecipientID)
	assert.NotEmpty(t, msg.ID)

	// The author is never notified of their own message.
	assert.Empty(t, notificationFrames(t, author))
}

func TestNewBridge(t *testing.T) {
	b, err := NewBridge(context.Background(), &config.Config{BridgeDriver: config.BridgeDirect}, nil)
	require.NoError(t, err)
	assert.IsType(t, &DirectBridge{}, b)
	require.NoError(t, b.Close())

	b, err = NewBridge(context.Background(), &config.Config{BridgeDriver: config.BridgeLocal}, pubsub.NoopTracer())
	require.NoError(t, err)
	assert.IsType(t, &PubSubBridge{}, b)
	require.NoError(t, b.Close())

	_, err = NewBridge(context.Background(), &config.Config{BridgeDriver: "carrier-pigeon"}, nil)
	assert.Error(t, err)
}
