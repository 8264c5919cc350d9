package domain

import (
	"context"
	"time"
)

// NotificationType classifies a notification for client rendering.
type NotificationType string

const (
	NotificationMessage     NotificationType = "message"
	NotificationReaction    NotificationType = "reaction"
	NotificationTopicInvite NotificationType = "topic_invite"
	NotificationSystem      NotificationType = "system"
)

// MaxNotificationBodyRunes is the hard cap on a stored notification body.
const MaxNotificationBodyRunes = 500

// Notification is a durable record addressed to one recipient.
type Notification struct {
	ID          string           `json:"id"`
	RecipientID string           `json:"userId" validate:"required"`
	Type        NotificationType `json:"type" validate:"required,oneof=message reaction topic_invite system"`
	Title       string           `json:"title" validate:"required,max=200"`
	Body        *string          `json:"body,omitempty"`
	Link        *string          `json:"link,omitempty" validate:"omitempty,max=2048"`
	Read        bool             `json:"read"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// Validate checks the notification before it is stored.
func (n *Notification) Validate() error {
	if n.Body != nil {
		capped := Truncate(*n.Body, MaxNotificationBodyRunes)
		n.Body = &capped
	}
	return validatorInstance.Struct(n)
}

// NotificationRepository stores notifications. The pull API that reads them
// back belongs to the REST service.
type NotificationRepository interface {
	InsertNotification(ctx context.Context, n *Notification) (*Notification, error)
}
