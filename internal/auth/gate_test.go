package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nfrund/roomcast/internal/domain"
	"github.com/nfrund/roomcast/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(t *testing.T) (*Gate, *RevocationStore, *testutils.MemoryStore, *TestSigner) {
	t.Helper()
	repo := testutils.NewMemoryStore()
	revocations := NewRevocationStore(repo)
	return NewGate(NewHMACVerifier(testSecret), revocations), revocations, repo, NewHMACTestSigner(testSecret)
}

func TestGate_Authenticate(t *testing.T) {
	ctx := context.Background()
	gate, revocations, repo, signer := newTestGate(t)

	t.Run("valid credential", func(t *testing.T) {
		raw, err := signer.Issue("user:alice", "Alice", time.Hour)
		require.NoError(t, err)

		id, err := gate.Authenticate(ctx, raw)
		require.NoError(t, err)
		assert.Equal(t, "user:alice", id.UserID)
		assert.Equal(t, "Alice", id.Name)
		assert.NotNil(t, id.ExpiresAt)
	})

	t.Run("missing credential", func(t *testing.T) {
		_, err := gate.Authenticate(ctx, "  ")
		assert.ErrorIs(t, err, domain.ErrMissingCredential)
		assert.Equal(t, http.StatusUnauthorized, HTTPStatus(err))
		assert.Equal(t, "missing credential", PublicReason(err))
	})

	t.Run("expired credential skips the revocation lookup", func(t *testing.T) {
		raw, err := signer.Issue("user:alice", "", -time.Minute)
		require.NoError(t, err)

		before := repo.Calls(testutils.OpIsTokenRevoked)
		_, err = gate.Authenticate(ctx, raw)
		assert.ErrorIs(t, err, domain.ErrInvalidCredential)
		assert.Equal(t, before, repo.Calls(testutils.OpIsTokenRevoked))
		assert.Equal(t, "invalid or expired credential", PublicReason(err))
	})

	t.Run("revoked credential", func(t *testing.T) {
		raw, err := signer.Issue("user:alice", "", time.Hour)
		require.NoError(t, err)
		require.NoError(t, revocations.Revoke(ctx, raw, domain.TokenAccess, nil))

		_, err = gate.Authenticate(ctx, raw)
		assert.ErrorIs(t, err, domain.ErrRevokedCredential)
		assert.Equal(t, http.StatusUnauthorized, HTTPStatus(err))
		assert.Equal(t, "revoked", PublicReason(err))
	})

	t.Run("revocation store down refuses the connection", func(t *testing.T) {
		raw, err := signer.Issue("user:alice", "", time.Hour)
		require.NoError(t, err)

		repo.Fail(testutils.OpIsTokenRevoked, errDown)
		defer repo.Heal()

		id, err := gate.Authenticate(ctx, raw)
		assert.Nil(t, id)
		assert.ErrorIs(t, err, ErrRevocationUnavailable)
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
		assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(err))
		assert.Equal(t, "authentication temporarily unavailable", PublicReason(err))
	})
}

func TestCredentialFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{name: "bearer header", header: "Bearer abc", want: "abc"},
		{name: "lowercase scheme", header: "bearer abc", want: "abc"},
		{name: "query parameter", query: "?token=xyz", want: "xyz"},
		{name: "header wins over query", header: "Bearer abc", query: "?token=xyz", want: "abc"},
		{name: "basic auth ignored", header: "Basic Zm9vOmJhcg==", want: ""},
		{name: "nothing", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, CredentialFromRequest(req))
		})
	}
}

func TestHTTPStatus_Unknown(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(assert.AnError))
	assert.Equal(t, "authentication failed", PublicReason(assert.AnError))
}
