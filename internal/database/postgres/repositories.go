package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nfrund/roomcast/internal/database"
	"github.com/nfrund/roomcast/internal/domain"
)

const (
	getUserQuery  = `SELECT id, name, avatar_url FROM users WHERE id = $1`
	getTopicQuery = `SELECT id, name FROM topics WHERE id = $1`

	isMemberQuery    = `SELECT EXISTS (SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2)`
	addMemberQuery   = `INSERT INTO room_members (room_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	listMembersQuery = `SELECT user_id FROM room_members WHERE room_id = $1 ORDER BY user_id`

	insertMessageQuery = `INSERT INTO messages (id, room_id, user_id, text, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, room_id, user_id, text, created_at, edited_at`
	listRecentMessagesQuery = `SELECT id, room_id, user_id, text, created_at, edited_at FROM (
			SELECT * FROM messages WHERE room_id = $1 ORDER BY created_at DESC, seq DESC LIMIT $2
		) recent ORDER BY created_at ASC, seq ASC`

	insertNotificationQuery = `INSERT INTO notifications (id, user_id, type, title, body, link, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, $7)
		RETURNING id, user_id, type, title, body, link, read, created_at`

	insertRevokedQuery = `INSERT INTO revoked_tokens (token_hash, token_type, expires_at, created_at)
		VALUES ($1, $2, $3, $4) ON CONFLICT (token_hash) DO NOTHING`
	isRevokedQuery = `SELECT EXISTS (SELECT 1 FROM revoked_tokens
		WHERE token_hash = $1 AND (expires_at IS NULL OR expires_at > $2))`
	deleteExpiredQuery = `DELETE FROM revoked_tokens WHERE expires_at IS NOT NULL AND expires_at <= $1`
)

// GetUser implements domain.UserRepository.
func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	ctx, cancel := s.readContext(ctx)
	defer cancel()

	var (
		u      domain.User
		avatar sql.NullString
	)
	err := s.db.QueryRowContext(ctx, getUserQuery, id).Scan(&u.ID, &u.Name, &avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, queryError(err, "failed to get user", getUserQuery)
	}
	u.AvatarURL = stringPtr(avatar)
	return &u, nil
}

// GetTopic implements domain.TopicRepository.
func (s *Store) GetTopic(ctx context.Context, id string) (*domain.Topic, error) {
	ctx, cancel := s.readContext(ctx)
	defer cancel()

	var t domain.Topic
	err := s.db.QueryRowContext(ctx, getTopicQuery, id).Scan(&t.ID, &t.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, queryError(err, "failed to get topic", getTopicQuery)
	}
	return &t, nil
}

// IsMember implements domain.MembershipRepository.
func (s *Store) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	ctx, cancel := s.readContext(ctx)
	defer cancel()

	var ok bool
	if err := s.db.QueryRowContext(ctx, isMemberQuery, roomID, userID).Scan(&ok); err != nil {
		return false, queryError(err, "failed to check membership", isMemberQuery)
	}
	return ok, nil
}

// AddMember implements domain.MembershipRepository.
func (s *Store) AddMember(ctx context.Context, roomID, userID string) error {
	ctx, cancel := s.writeContext(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, addMemberQuery, roomID, userID); err != nil {
		return queryError(err, "failed to add member", addMemberQuery)
	}
	return nil
}

// ListMembers implements domain.MembershipRepository.
func (s *Store) ListMembers(ctx context.Context, roomID string) ([]string, error) {
	ctx, cancel := s.readContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, listMembersQuery, roomID)
	if err != nil {
		return nil, queryError(err, "failed to list members", listMembersQuery)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, queryError(err, "failed to scan member", listMembersQuery)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError(err, "failed to list members", listMembersQuery)
	}
	return ids, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*domain.Message, error) {
	var (
		m      domain.Message
		edited sql.NullTime
	)
	if err := row.Scan(&m.ID, &m.RoomID, &m.AuthorID, &m.Text, &m.CreatedAt, &edited); err != nil {
		return nil, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.EditedAt = timePtr(edited)
	return &m, nil
}

// InsertMessage implements domain.MessageRepository.
func (s *Store) InsertMessage(ctx context.Context, roomID, userID, text string) (*domain.Message, error) {
	ctx, cancel := s.writeContext(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, insertMessageQuery, uuid.NewString(), roomID, userID, text, s.now().UTC())
	m, err := scanMessage(row)
	if err != nil {
		return nil, queryError(err, "failed to insert message", insertMessageQuery)
	}
	return m, nil
}

// ListRecentMessages implements domain.MessageRepository.
func (s *Store) ListRecentMessages(ctx context.Context, roomID string, limit int) ([]*domain.Message, error) {
	ctx, cancel := s.readContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, listRecentMessagesQuery, roomID, limit)
	if err != nil {
		return nil, queryError(err, "failed to list messages", listRecentMessagesQuery)
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, queryError(err, "failed to scan message", listRecentMessagesQuery)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError(err, "failed to list messages", listRecentMessagesQuery)
	}
	return out, nil
}

// InsertNotification implements domain.NotificationRepository.
func (s *Store) InsertNotification(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	if n == nil {
		return nil, database.NewDBError(database.ErrInvalidInput, "notification is nil")
	}
	ctx, cancel := s.writeContext(ctx)
	defer cancel()

	var (
		out        domain.Notification
		typ        string
		body, link sql.NullString
	)
	err := s.db.QueryRowContext(ctx, insertNotificationQuery,
		uuid.NewString(), n.RecipientID, string(n.Type), n.Title, nullString(n.Body), nullString(n.Link), s.now().UTC(),
	).Scan(&out.ID, &out.RecipientID, &typ, &out.Title, &body, &link, &out.Read, &out.CreatedAt)
	if err != nil {
		return nil, queryError(err, "failed to insert notification", insertNotificationQuery)
	}
	out.Type = domain.NotificationType(typ)
	out.Body = stringPtr(body)
	out.Link = stringPtr(link)
	out.CreatedAt = out.CreatedAt.UTC()
	return &out, nil
}

// InsertRevokedToken implements domain.RevocationRepository.
func (s *Store) InsertRevokedToken(ctx context.Context, t *domain.RevokedToken) error {
	ctx, cancel := s.writeContext(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, insertRevokedQuery, t.TokenHash, string(t.Type), nullTime(t.ExpiresAt), s.now().UTC())
	if err != nil {
		return queryError(err, "failed to insert revoked token", insertRevokedQuery)
	}
	return nil
}

// IsTokenRevoked implements domain.RevocationRepository.
func (s *Store) IsTokenRevoked(ctx context.Context, hash string, now time.Time) (bool, error) {
	ctx, cancel := s.readContext(ctx)
	defer cancel()

	var revoked bool
	if err := s.db.QueryRowContext(ctx, isRevokedQuery, hash, now.UTC()).Scan(&revoked); err != nil {
		return false, queryError(err, "failed to check revoked token", isRevokedQuery)
	}
	return revoked, nil
}

// DeleteExpiredTokens implements domain.RevocationRepository.
func (s *Store) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := s.writeContext(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, deleteExpiredQuery, now.UTC())
	if err != nil {
		return 0, queryError(err, "failed to purge revoked tokens", deleteExpiredQuery)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, queryError(err, "failed to purge revoked tokens", deleteExpiredQuery)
	}
	return n, nil
}
