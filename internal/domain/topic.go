package domain

import "context"

// Topic is the externally owned entity a chat room is bound to.
type Topic struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TopicRepository looks up topic metadata.
type TopicRepository interface {
	// GetTopic returns ErrNotFound when the topic does not exist.
	GetTopic(ctx context.Context, id string) (*Topic, error)
}

// MembershipRepository is the durable record of who belongs to a room.
// Membership is distinct from presence: it survives restarts and defines the
// notification audience.
type MembershipRepository interface {
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
	// AddMember is idempotent.
	AddMember(ctx context.Context, roomID, userID string) error
	ListMembers(ctx context.Context, roomID string) ([]string, error)
}
