package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/nfrund/roomcast/internal/domain"
)

// GetUser implements domain.UserRepository.
func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	row, err := selectRow[userRow](ctx, s,
		"SELECT * FROM type::thing($table, $id)",
		map[string]any{"table": userTable, "id": bareKey(userTable, id)})
	if err != nil {
		return nil, WrapError(err, "failed to get user")
	}
	if row == nil {
		return nil, domain.ErrNotFound
	}
	u := row.toDomain()
	u.ID = id
	return u, nil
}

// GetTopic implements domain.TopicRepository.
func (s *Store) GetTopic(ctx context.Context, id string) (*domain.Topic, error) {
	row, err := selectRow[topicRow](ctx, s,
		"SELECT * FROM type::thing($table, $id)",
		map[string]any{"table": topicTable, "id": bareKey(topicTable, id)})
	if err != nil {
		return nil, WrapError(err, "failed to get topic")
	}
	if row == nil {
		return nil, domain.ErrNotFound
	}
	return &domain.Topic{ID: id, Name: row.Name}, nil
}

// IsMember implements domain.MembershipRepository.
func (s *Store) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	row, err := selectRow[memberRow](ctx, s,
		"SELECT * FROM type::thing($table, [$room, $user])",
		map[string]any{"table": memberTable, "room": roomID, "user": userID})
	if err != nil {
		return false, WrapError(err, "failed to check membership")
	}
	return row != nil, nil
}

// AddMember implements domain.MembershipRepository. The record id is the
// (room, user) pair, so a second insert is ignored.
func (s *Store) AddMember(ctx context.Context, roomID, userID string) error {
	_, err := mutateRows[memberRow](ctx, s,
		"INSERT IGNORE INTO room_member { id: [$room, $user], room_id: $room, user_id: $user, joined_at: time::now() }",
		map[string]any{"room": roomID, "user": userID})
	if err != nil {
		return WrapError(err, "failed to add member")
	}
	return nil
}

// ListMembers implements domain.MembershipRepository.
func (s *Store) ListMembers(ctx context.Context, roomID string) ([]string, error) {
	ids, err := selectRows[string](ctx, s,
		"SELECT VALUE user_id FROM room_member WHERE room_id = $room ORDER BY user_id",
		map[string]any{"room": roomID})
	if err != nil {
		return nil, WrapError(err, "failed to list members")
	}
	return ids, nil
}

// InsertMessage implements domain.MessageRepository.
func (s *Store) InsertMessage(ctx context.Context, roomID, userID, text string) (*domain.Message, error) {
	rows, err := mutateRows[messageRow](ctx, s,
		"CREATE type::thing($table, $id) SET room_id = $room, user_id = $user, text = $text, created_at = $now",
		map[string]any{
			"table": messageTable,
			"id":    newMessageID(),
			"room":  roomID,
			"user":  userID,
			"text":  text,
			"now":   datetime(s.now()),
		})
	if err != nil {
		return nil, WrapError(err, "failed to insert message")
	}
	if len(rows) == 0 {
		return nil, NewDBError(ErrQueryFailed, "insert message returned no record")
	}
	return rows[0].toDomain(), nil
}

// newMessageID returns a time-ordered UUIDv7. Ids minted by one process
// increase monotonically, so they break created_at ties in insertion order.
func newMessageID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ListRecentMessages implements domain.MessageRepository. It returns the
// newest limit messages, oldest first.
func (s *Store) ListRecentMessages(ctx context.Context, roomID string, limit int) ([]*domain.Message, error) {
	rows, err := selectRows[messageRow](ctx, s,
		"SELECT * FROM (SELECT * FROM message WHERE room_id = $room ORDER BY created_at DESC, id DESC LIMIT $limit) ORDER BY created_at ASC, id ASC",
		map[string]any{"room": roomID, "limit": limit})
	if err != nil {
		return nil, WrapError(err, "failed to list messages")
	}
	out := make([]*domain.Message, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

// InsertNotification implements domain.NotificationRepository.
func (s *Store) InsertNotification(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	if n == nil {
		return nil, NewDBError(ErrInvalidInput, "notification is nil")
	}
	rows, err := mutateRows[notificationRow](ctx, s,
		`CREATE type::thing($table, $id) SET user_id = $user, type = $type, title = $title,
			body = $body, link = $link, read = false, created_at = $now`,
		map[string]any{
			"table": notificationTable,
			"id":    uuid.NewString(),
			"user":  n.RecipientID,
			"type":  string(n.Type),
			"title": n.Title,
			"body":  n.Body,
			"link":  n.Link,
			"now":   datetime(s.now()),
		})
	if err != nil {
		return nil, WrapError(err, "failed to insert notification")
	}
	if len(rows) == 0 {
		return nil, NewDBError(ErrQueryFailed, "insert notification returned no record")
	}
	return rows[0].toDomain(), nil
}
