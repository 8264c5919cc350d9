package domain

import (
	"context"
	"time"
	"unicode/utf8"
)

// MaxMessageRunes caps the length of a single chat message.
const MaxMessageRunes = 4000

// Message is a persisted chat entry. Text is always normalized and non-empty.
type Message struct {
	ID        string     `json:"id"`
	RoomID    string     `json:"roomId" validate:"required"`
	AuthorID  string     `json:"userId" validate:"required"`
	Text      string     `json:"text" validate:"required,trimmed"`
	CreatedAt time.Time  `json:"createdAt"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
}

// Validate checks the invariants a message must hold before it is stored.
func (m *Message) Validate() error {
	return validatorInstance.Struct(m)
}

// PrepareMessageText normalizes raw client input and enforces the text rules.
// It never touches a store.
func PrepareMessageText(raw string) (string, error) {
	text := NormalizeText(raw)
	if text == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageRunes {
		return "", ErrMessageTooLong
	}
	return text, nil
}

// MessageRepository persists and lists chat messages.
type MessageRepository interface {
	InsertMessage(ctx context.Context, roomID, userID, text string) (*Message, error)
	// ListRecentMessages returns at most limit messages, oldest first.
	ListRecentMessages(ctx context.Context, roomID string, limit int) ([]*Message, error)
}
