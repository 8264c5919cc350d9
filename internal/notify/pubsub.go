package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nfrund/roomcast/internal/domain"
	"github.com/nfrund/roomcast/internal/pubsub"
)

// DefaultChannel is the single topic notifications travel on.
const DefaultChannel = "notification-created"

// ErrBridgeClosed is returned by Subscribe after Close.
var ErrBridgeClosed = errors.New("notification bridge closed")

// Payload is the cross-process wire format.
type Payload struct {
	UserID       string               `json:"userId"`
	Notification *domain.Notification `json:"notification"`
}

// PubSubBridge publishes notifications on a pubsub backend so that every
// process subscribed to the channel can deliver them.
type PubSubBridge struct {
	bus      pubsub.Bus
	channel  pubsub.Channel[Payload]
	inflight sync.WaitGroup
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewPubSubBridge returns a bridge on bus using channel (DefaultChannel when empty).
func NewPubSubBridge(bus pubsub.Bus, channel string) *PubSubBridge {
	if channel == "" {
		channel = DefaultChannel
	}
	return &PubSubBridge{
		bus:     bus,
		channel: pubsub.NewChannel[Payload](channel),
		logger:  slog.Default().With("service", "notify", "bridge", "pubsub", "channel", channel),
	}
}

// Publish sends n in the background. Failures are logged and swallowed.
func (b *PubSubBridge) Publish(ctx context.Context, n *domain.Notification) {
	if n == nil {
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.logger.Warn("Dropping notification published after close", "notification_id", n.ID)
		return
	}
	b.inflight.Add(1)
	b.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	go func() {
		defer b.inflight.Done()
		payload := Payload{UserID: n.RecipientID, Notification: n}
		if err := pubsub.Publish(ctx, b.bus, b.channel, n.RecipientID, payload); err != nil {
			b.logger.ErrorContext(ctx, "Failed to publish notification", "notification_id", n.ID, "user_id", n.RecipientID, "error", err)
		}
	}()
}

// Subscribe registers h for every payload on the channel.
func (b *PubSubBridge) Subscribe(ctx context.Context, h Handler) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBridgeClosed
	}

	return pubsub.Subscribe(ctx, b.bus, b.channel, func(ctx context.Context, p Payload) error {
		if p.Notification == nil {
			return fmt.Errorf("payload for %q carries no notification", p.UserID)
		}
		if p.Notification.RecipientID == "" {
			p.Notification.RecipientID = p.UserID
		}
		return h(ctx, p.Notification)
	})
}

// Wait blocks until in-flight publishes finish.
func (b *PubSubBridge) Wait() {
	b.inflight.Wait()
}

// Close waits for in-flight publishes and closes the backend.
func (b *PubSubBridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.inflight.Wait()
	return b.bus.Close()
}
