package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nfrund/roomcast/internal/domain"
	"github.com/nfrund/roomcast/internal/retry"
	"github.com/nfrund/roomcast/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("connection refused")

func fastRetryer() retry.Retryer {
	return &retry.ExponentialBackoff{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestRevocationStore_Revoke(t *testing.T) {
	ctx := context.Background()
	repo := testutils.NewMemoryStore()
	store := NewRevocationStore(repo)

	revoked, err := store.IsRevoked(ctx, "token-a")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, store.Revoke(ctx, "token-a", domain.TokenAccess, nil))
	require.NoError(t, store.Revoke(ctx, "token-a", domain.TokenAccess, nil), "revoking twice is a no-op")
	assert.Equal(t, 1, repo.RevokedCount())

	revoked, err = store.IsRevoked(ctx, "token-a")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = store.IsRevoked(ctx, "token-b")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRevocationStore_RevokeValidation(t *testing.T) {
	ctx := context.Background()
	store := NewRevocationStore(testutils.NewMemoryStore())

	err := store.Revoke(ctx, "   ", domain.TokenAccess, nil)
	assert.ErrorIs(t, err, domain.ErrEmptyToken)
	assert.ErrorIs(t, err, domain.ErrValidation)

	err = store.Revoke(ctx, "token", domain.TokenType("session"), nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRevocationStore_ExpiryBoundsTheRevocation(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	repo := testutils.NewMemoryStore()
	store := NewRevocationStore(repo, WithRevocationClock(clock))

	expiry := now.Add(10 * time.Minute)
	require.NoError(t, store.Revoke(ctx, "short-lived", domain.TokenAccess, &expiry))

	revoked, err := store.IsRevoked(ctx, "short-lived")
	require.NoError(t, err)
	assert.True(t, revoked)

	now = now.Add(11 * time.Minute)

	revoked, err = store.IsRevoked(ctx, "short-lived")
	require.NoError(t, err)
	assert.False(t, revoked, "a revocation stops applying once the credential has expired")

	n, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 0, repo.RevokedCount())
}

func TestRevocationStore_FailsClosed(t *testing.T) {
	ctx := context.Background()
	repo := testutils.NewMemoryStore()
	store := NewRevocationStore(repo)

	repo.Fail(testutils.OpIsTokenRevoked, errDown)
	revoked, err := store.IsRevoked(ctx, "token")
	assert.True(t, revoked)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.ErrorIs(t, err, errDown)

	repo.Fail(testutils.OpInsertRevokedToken, errDown)
	err = store.Revoke(ctx, "token", domain.TokenAccess, nil)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

// flakyRepo fails the first n purge attempts.
type flakyRepo struct {
	*testutils.MemoryStore
	failures int
}

func (r *flakyRepo) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	if r.failures > 0 {
		r.failures--
		return 0, errDown
	}
	return r.MemoryStore.DeleteExpiredTokens(ctx, now)
}

func TestPurger_RunOnceRetries(t *testing.T) {
	ctx := context.Background()
	repo := &flakyRepo{MemoryStore: testutils.NewMemoryStore(), failures: 2}
	store := NewRevocationStore(repo)

	past := time.Now().Add(-time.Hour)
	require.NoError(t, store.Revoke(ctx, "old", domain.TokenRefresh, &past))
	require.NoError(t, store.Revoke(ctx, "forever", domain.TokenAccess, nil))

	purger := NewPurger(store, time.Minute, fastRetryer())
	assert.Equal(t, int64(1), purger.RunOnce(ctx))
	assert.Equal(t, 1, repo.RevokedCount())
}

func TestPurger_RunOnceGivesUp(t *testing.T) {
	repo := testutils.NewMemoryStore()
	repo.Fail(testutils.OpDeleteExpiredTokens, errDown)

	purger := NewPurger(NewRevocationStore(repo), time.Minute, fastRetryer())
	assert.Equal(t, int64(0), purger.RunOnce(context.Background()))
	assert.Equal(t, 4, repo.Calls(testutils.OpDeleteExpiredTokens))
}

func TestPurger_RunStopsWithContext(t *testing.T) {
	repo := testutils.NewMemoryStore()
	purger := NewPurger(NewRevocationStore(repo), 5*time.Millisecond, fastRetryer())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		purger.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return repo.Calls(testutils.OpDeleteExpiredTokens) >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("purger did not stop")
	}
}

func TestPurger_DisabledInterval(t *testing.T) {
	purger := NewPurger(NewRevocationStore(testutils.NewMemoryStore()), 0, nil)
	done := make(chan struct{})
	go func() {
		purger.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled purger should return immediately")
	}
}
