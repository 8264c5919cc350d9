// Package notify moves stored notifications to live sessions, possibly held
// by another server process.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nfrund/roomcast/internal/domain"
)

// Handler is invoked for every published notification.
type Handler func(ctx context.Context, n *domain.Notification) error

// Bridge decouples "a notification was stored" from "push it to a live
// session". Publish is fire-and-forget: failures are logged, never returned,
// because the stored notification is the source of truth.
type Bridge interface {
	Publish(ctx context.Context, n *domain.Notification)
	Subscribe(ctx context.Context, h Handler) error
	Close() error
}

// DirectBridge dispatches to handlers registered in this process. It suits
// single-instance deployments.
type DirectBridge struct {
	mu       sync.RWMutex
	handlers []Handler
	closed   bool
	done     chan struct{}
	inflight sync.WaitGroup
	watchers sync.WaitGroup
	logger   *slog.Logger
}

// NewDirectBridge returns an in-process bridge.
func NewDirectBridge() *DirectBridge {
	return &DirectBridge{
		done:   make(chan struct{}),
		logger: slog.Default().With("service", "notify", "bridge", "direct"),
	}
}

// Publish hands n to every handler on a separate goroutine.
func (b *DirectBridge) Publish(ctx context.Context, n *domain.Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed || n == nil {
		return
	}

	ctx = context.WithoutCancel(ctx)
	for _, h := range b.handlers {
		b.inflight.Add(1)
		go func(h Handler) {
			defer b.inflight.Done()
			if err := h(ctx, n); err != nil {
				b.logger.WarnContext(ctx, "Notification handler failed", "notification_id", n.ID, "user_id", n.RecipientID, "error", err)
			}
		}(h)
	}
}

// Subscribe registers h until ctx is cancelled or the bridge is closed.
func (b *DirectBridge) Subscribe(ctx context.Context, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBridgeClosed
	}
	b.handlers = append(b.handlers, h)
	idx := len(b.handlers) - 1

	b.watchers.Add(1)
	go func() {
		defer b.watchers.Done()
		select {
		case <-ctx.Done():
		case <-b.done:
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if idx < len(b.handlers) {
			b.handlers[idx] = noopHandler
		}
	}()
	return nil
}

// Wait blocks until in-flight deliveries finish.
func (b *DirectBridge) Wait() {
	b.inflight.Wait()
}

// Close stops accepting publishes and waits for in-flight deliveries and
// subscription watchers.
func (b *DirectBridge) Close() error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	b.mu.Unlock()
	b.inflight.Wait()
	b.watchers.Wait()
	return nil
}

func noopHandler(context.Context, *domain.Notification) error { return nil }
