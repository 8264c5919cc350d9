package database

import (
	"github.com/nfrund/roomcast/internal/domain"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

type userRow struct {
	ID        *surrealmodels.RecordID `json:"id,omitempty"`
	Name      string                  `json:"name"`
	AvatarURL *string                 `json:"avatar_url,omitempty"`
}

func (r *userRow) toDomain() *domain.User {
	return &domain.User{ID: recordKey(r.ID), Name: r.Name, AvatarURL: r.AvatarURL}
}

type topicRow struct {
	ID   *surrealmodels.RecordID `json:"id,omitempty"`
	Name string                  `json:"name"`
}

type memberRow struct {
	ID       *surrealmodels.RecordID       `json:"id,omitempty"`
	RoomID   string                        `json:"room_id"`
	UserID   string                        `json:"user_id"`
	JoinedAt *surrealmodels.CustomDateTime `json:"joined_at,omitempty"`
}

type messageRow struct {
	ID        *surrealmodels.RecordID       `json:"id,omitempty"`
	RoomID    string                        `json:"room_id"`
	UserID    string                        `json:"user_id"`
	Text      string                        `json:"text"`
	CreatedAt surrealmodels.CustomDateTime  `json:"created_at"`
	EditedAt  *surrealmodels.CustomDateTime `json:"edited_at,omitempty"`
}

func (r *messageRow) toDomain() *domain.Message {
	return &domain.Message{
		ID:        recordKey(r.ID),
		RoomID:    r.RoomID,
		AuthorID:  r.UserID,
		Text:      r.Text,
		CreatedAt: r.CreatedAt.Time.UTC(),
		EditedAt:  timeOf(r.EditedAt),
	}
}

type notificationRow struct {
	ID        *surrealmodels.RecordID      `json:"id,omitempty"`
	UserID    string                       `json:"user_id"`
	Type      string                       `json:"type"`
	Title     string                       `json:"title"`
	Body      *string                      `json:"body,omitempty"`
	Link      *string                      `json:"link,omitempty"`
	Read      bool                         `json:"read"`
	CreatedAt surrealmodels.CustomDateTime `json:"created_at"`
}

func (r *notificationRow) toDomain() *domain.Notification {
	return &domain.Notification{
		ID:          recordKey(r.ID),
		RecipientID: r.UserID,
		Type:        domain.NotificationType(r.Type),
		Title:       r.Title,
		Body:        r.Body,
		Link:        r.Link,
		Read:        r.Read,
		CreatedAt:   r.CreatedAt.Time.UTC(),
	}
}

type revokedRow struct {
	ID        *surrealmodels.RecordID       `json:"id,omitempty"`
	TokenType string                        `json:"token_type"`
	ExpiresAt *surrealmodels.CustomDateTime `json:"expires_at,omitempty"`
}
