package database

import (
	"context"
	"time"

	"github.com/nfrund/roomcast/internal/domain"
)

// InsertRevokedToken implements domain.RevocationRepository. The token hash
// is the record id; a repeated insert is ignored.
func (s *Store) InsertRevokedToken(ctx context.Context, t *domain.RevokedToken) error {
	params := map[string]any{
		"hash": t.TokenHash,
		"type": string(t.Type),
		"now":  datetime(s.now()),
	}
	query := "INSERT IGNORE INTO revoked_token { id: $hash, token_type: $type, created_at: $now }"
	if t.ExpiresAt != nil {
		params["expires"] = datetime(*t.ExpiresAt)
		query = "INSERT IGNORE INTO revoked_token { id: $hash, token_type: $type, expires_at: $expires, created_at: $now }"
	}

	if _, err := mutateRows[revokedRow](ctx, s, query, params); err != nil {
		return WrapError(err, "failed to insert revoked token")
	}
	return nil
}

// IsTokenRevoked implements domain.RevocationRepository.
func (s *Store) IsTokenRevoked(ctx context.Context, hash string, now time.Time) (bool, error) {
	row, err := selectRow[revokedRow](ctx, s,
		"SELECT * FROM type::thing($table, $hash)",
		map[string]any{"table": revokedTable, "hash": hash})
	if err != nil {
		return false, WrapError(err, "failed to check revoked token")
	}
	if row == nil {
		return false, nil
	}
	return row.ExpiresAt == nil || row.ExpiresAt.Time.After(now), nil
}

// DeleteExpiredTokens implements domain.RevocationRepository.
func (s *Store) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	rows, err := mutateRows[revokedRow](ctx, s,
		"DELETE revoked_token WHERE expires_at != NONE AND expires_at <= $now RETURN BEFORE",
		map[string]any{"now": datetime(now)})
	if err != nil {
		return 0, WrapError(err, "failed to purge revoked tokens")
	}
	return int64(len(rows)), nil
}
