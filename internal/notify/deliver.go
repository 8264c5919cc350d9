package notify

import (
	"context"
	"log/slog"

	"github.com/nfrund/roomcast/internal/domain"
	"github.com/nfrund/roomcast/internal/events"
)

// SessionSender pushes a frame to every local session of a user and returns
// how many sessions received it.
type SessionSender interface {
	SendToUser(userID string, f events.Frame) int
}

// Deliverer is the per-process bridge handler: it pushes a notification to
// the recipient's sessions held by this process, if any.
type Deliverer struct {
	sessions SessionSender
	logger   *slog.Logger
}

// NewDeliverer returns a handler backed by sessions.
func NewDeliverer(sessions SessionSender) *Deliverer {
	return &Deliverer{
		sessions: sessions,
		logger:   slog.Default().With("service", "notify", "component", "deliverer"),
	}
}

// Handle implements Handler. A recipient without local sessions is not an error.
func (d *Deliverer) Handle(ctx context.Context, n *domain.Notification) error {
	frame, err := events.Encode(events.Notification, n)
	if err != nil {
		return err
	}
	delivered := d.sessions.SendToUser(n.RecipientID, frame)
	if delivered > 0 {
		d.logger.DebugContext(ctx, "Delivered notification", "notification_id", n.ID, "user_id", n.RecipientID, "sessions", delivered)
	}
	return nil
}

// Start subscribes the deliverer to bridge.
func (d *Deliverer) Start(ctx context.Context, bridge Bridge) error {
	return bridge.Subscribe(ctx, d.Handle)
}
