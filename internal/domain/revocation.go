package domain

import (
	"context"
	"time"
)

// TokenType distinguishes the two kinds of bearer credential that can be revoked.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// Valid reports whether t is a known token type.
func (t TokenType) Valid() bool {
	return t == TokenAccess || t == TokenRefresh
}

// RevokedToken records a revoked credential by its one-way hash. A nil
// ExpiresAt means the revocation never lapses.
type RevokedToken struct {
	TokenHash string     `json:"tokenHash" validate:"required,len=64,hexadecimal"`
	Type      TokenType  `json:"type" validate:"required,oneof=access refresh"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Validate checks the record before it is stored.
func (r *RevokedToken) Validate() error {
	return validatorInstance.Struct(r)
}

// ActiveAt reports whether the revocation is still in force at now.
func (r *RevokedToken) ActiveAt(now time.Time) bool {
	return r.ExpiresAt == nil || r.ExpiresAt.After(now)
}

// RevocationRepository stores revoked token hashes. Implementations never
// receive raw credentials.
type RevocationRepository interface {
	// InsertRevokedToken is a no-op when the hash is already present.
	InsertRevokedToken(ctx context.Context, t *RevokedToken) error
	// IsTokenRevoked reports whether a record exists whose expiry is nil or after now.
	IsTokenRevoked(ctx context.Context, hash string, now time.Time) (bool, error)
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}
