package database

import (
	"context"

	"github.com/surrealdb/surrealdb.go"
)

// schema defines the tables this service writes. user and topic belong to
// other services and are not defined here.
const schema = `
DEFINE TABLE IF NOT EXISTS room_member SCHEMALESS;
DEFINE INDEX IF NOT EXISTS room_member_room ON room_member FIELDS room_id;

DEFINE TABLE IF NOT EXISTS message SCHEMALESS;
DEFINE INDEX IF NOT EXISTS message_room_created ON message FIELDS room_id, created_at;

DEFINE TABLE IF NOT EXISTS notification SCHEMALESS;
DEFINE INDEX IF NOT EXISTS notification_user_created ON notification FIELDS user_id, created_at;

DEFINE TABLE IF NOT EXISTS revoked_token SCHEMALESS;
DEFINE INDEX IF NOT EXISTS revoked_token_expiry ON revoked_token FIELDS expires_at;
`

// Bootstrap defines tables and indexes. It is safe to run on every start.
func (s *Store) Bootstrap(ctx context.Context) error {
	ctx, cancel := getTimeoutFromContext(ctx, s.conn.GetDBExecuteTimeout(), ContextKeyExecuteTimeout)
	defer cancel()

	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		return Execute(ctx, db, schema, nil)
	})
	if err != nil {
		return WrapError(err, "failed to bootstrap schema")
	}
	s.logger.InfoContext(ctx, "Schema bootstrapped")
	return nil
}
