package postgres

import "context"

// schema creates the tables read and written here. users and topics are
// normally owned by other services; they are created only if missing.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	avatar_url TEXT
);

CREATE TABLE IF NOT EXISTS topics (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS room_members (
	room_id   TEXT NOT NULL,
	user_id   TEXT NOT NULL,
	joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (room_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id         UUID PRIMARY KEY,
	seq        BIGSERIAL NOT NULL,
	room_id    TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	text       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	edited_at  TIMESTAMPTZ
);
-- seq breaks created_at ties in insertion order.
ALTER TABLE messages ADD COLUMN IF NOT EXISTS seq BIGSERIAL NOT NULL;
CREATE INDEX IF NOT EXISTS messages_room_created_seq_idx ON messages (room_id, created_at DESC, seq DESC);

CREATE TABLE IF NOT EXISTS notifications (
	id         UUID PRIMARY KEY,
	user_id    TEXT NOT NULL,
	type       TEXT NOT NULL,
	title      TEXT NOT NULL,
	body       TEXT,
	link       TEXT,
	read       BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS notifications_user_created_idx ON notifications (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS revoked_tokens (
	token_hash TEXT PRIMARY KEY,
	token_type TEXT NOT NULL,
	expires_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS revoked_tokens_expires_idx ON revoked_tokens (expires_at);
`

// Bootstrap creates missing tables and indexes. It is safe to run on every start.
func (s *Store) Bootstrap(ctx context.Context) error {
	ctx, cancel := s.writeContext(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return queryError(err, "failed to bootstrap schema", "schema")
	}
	s.logger.InfoContext(ctx, "Schema bootstrapped")
	return nil
}
