package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nfrund/roomcast/internal/domain"
	"github.com/nfrund/roomcast/internal/retry"
)

// RevocationStore records and checks revoked credentials. Raw tokens are
// hashed before they reach the repository.
type RevocationStore struct {
	repo   domain.RevocationRepository
	now    func() time.Time
	logger *slog.Logger
}

// RevocationOption configures a RevocationStore.
type RevocationOption func(*RevocationStore)

// WithRevocationClock overrides the time source, for tests.
func WithRevocationClock(now func() time.Time) RevocationOption {
	return func(s *RevocationStore) { s.now = now }
}

// NewRevocationStore wraps repo.
func NewRevocationStore(repo domain.RevocationRepository, opts ...RevocationOption) *RevocationStore {
	s := &RevocationStore{
		repo:   repo,
		now:    time.Now,
		logger: slog.Default().With("service", "revocation"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Revoke records token as revoked until expiresAt, or forever when expiresAt is nil.
// Revoking the same token twice is a no-op.
func (s *RevocationStore) Revoke(ctx context.Context, token string, typ domain.TokenType, expiresAt *time.Time) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.ErrEmptyToken
	}
	if !typ.Valid() {
		return fmt.Errorf("%w: unknown token type %q", domain.ErrValidation, typ)
	}

	record := &domain.RevokedToken{
		TokenHash: HashToken(token),
		Type:      typ,
		ExpiresAt: expiresAt,
		CreatedAt: s.now().UTC(),
	}
	if err := record.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if err := s.repo.InsertRevokedToken(ctx, record); err != nil {
		return domain.Unavailable("revoke token", err)
	}

	s.logger.InfoContext(ctx, "Token revoked", "hash_prefix", hashPrefix(record.TokenHash), "type", typ, "expires_at", expiresAt)
	return nil
}

// IsRevoked reports whether token has an active revocation. A store failure
// is returned as domain.ErrStoreUnavailable and must be treated as revoked.
func (s *RevocationStore) IsRevoked(ctx context.Context, token string) (bool, error) {
	revoked, err := s.repo.IsTokenRevoked(ctx, HashToken(token), s.now().UTC())
	if err != nil {
		return true, domain.Unavailable("check revocation", err)
	}
	return revoked, nil
}

// PurgeExpired deletes revocations whose expiry has passed. It only reclaims
// storage; IsRevoked already ignores expired records.
func (s *RevocationStore) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpiredTokens(ctx, s.now().UTC())
	if err != nil {
		return 0, domain.Unavailable("purge revocations", err)
	}
	return n, nil
}

// Purger runs PurgeExpired on an interval. Failed runs are retried with
// backoff; the operation is idempotent.
type Purger struct {
	store    *RevocationStore
	interval time.Duration
	retryer  retry.Retryer
	logger   *slog.Logger
}

// NewPurger returns a purger for store. A nil retryer uses the default backoff.
func NewPurger(store *RevocationStore, interval time.Duration, retryer retry.Retryer) *Purger {
	if retryer == nil {
		retryer = retry.NewExponentialBackoff()
	}
	return &Purger{
		store:    store,
		interval: interval,
		retryer:  retryer,
		logger:   slog.Default().With("service", "revocation-purger"),
	}
}

// Run blocks until ctx is cancelled.
func (p *Purger) Run(ctx context.Context) {
	if p.interval <= 0 {
		p.logger.Info("Revocation purge disabled")
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single purge with retries and returns the number of removed records.
func (p *Purger) RunOnce(ctx context.Context) int64 {
	var removed int64
	err := p.retryer.Retry(ctx, func() error {
		n, err := p.store.PurgeExpired(ctx)
		removed = n
		return err
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "Revocation purge failed", "error", err)
		return 0
	}
	if removed > 0 {
		p.logger.InfoContext(ctx, "Purged expired revocations", "removed", removed)
	}
	return removed
}
