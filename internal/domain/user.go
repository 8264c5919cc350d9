package domain

import "context"

// User is the profile subset the chat core needs to decorate presence and
// message payloads.
type User struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	AvatarURL *string `json:"avatarUrl,omitempty"`
}

// DisplayName returns the user's name, falling back to the raw identity.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.Name == "" {
		return u.ID
	}
	return u.Name
}

// UserRepository is the read-only profile lookup owned by the user service.
type UserRepository interface {
	// GetUser returns ErrNotFound when no profile exists for id.
	GetUser(ctx context.Context, id string) (*User, error)
}
