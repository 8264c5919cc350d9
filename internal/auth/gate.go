package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nfrund/roomcast/internal/domain"
)

// ErrRevocationUnavailable is returned when the revocation store can not be
// consulted. The connection is refused: the check fails closed.
var ErrRevocationUnavailable = fmt.Errorf("%w: %w: revocation check failed", domain.ErrAuthentication, domain.ErrStoreUnavailable)

// TokenVerifier checks a credential's signature and expiry.
type TokenVerifier interface {
	Verify(raw string) (*Claims, error)
}

// RevocationChecker reports whether a credential was revoked.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// Identity is what a successful authentication attaches to a session.
type Identity struct {
	UserID string
	// Name comes from the credential when present; otherwise it is resolved later.
	Name      string
	ExpiresAt *time.Time
}

// Gate admits or rejects a connection attempt before any room state exists.
type Gate struct {
	verifier    TokenVerifier
	revocations RevocationChecker
	logger      *slog.Logger
}

// NewGate returns a Gate that verifies with verifier and consults revocations.
func NewGate(verifier TokenVerifier, revocations RevocationChecker) *Gate {
	return &Gate{
		verifier:    verifier,
		revocations: revocations,
		logger:      slog.Default().With("service", "auth-gate"),
	}
}

// Authenticate runs the three checks in order: presence of a credential,
// signature and expiry, then revocation. It has no side effects besides logging.
func (g *Gate) Authenticate(ctx context.Context, raw string) (*Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, domain.ErrMissingCredential
	}

	claims, err := g.verifier.Verify(raw)
	if err != nil {
		g.logger.DebugContext(ctx, "Credential rejected", "reason", err)
		return nil, err
	}

	revoked, err := g.revocations.IsRevoked(ctx, raw)
	if err != nil {
		g.logger.ErrorContext(ctx, "Revocation check failed, refusing connection", "user_id", claims.Subject, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrRevocationUnavailable, err)
	}
	if revoked {
		g.logger.InfoContext(ctx, "Revoked credential presented", "user_id", claims.Subject, "hash_prefix", hashPrefix(HashToken(raw)))
		return nil, domain.ErrRevokedCredential
	}

	return &Identity{
		UserID:    claims.Subject,
		Name:      claims.Name,
		ExpiresAt: claims.ExpiresAtTime(),
	}, nil
}

// CredentialFromRequest extracts the bearer credential presented at handshake
// time: the Authorization header, or the token query parameter for clients
// that can not set headers on an upgrade request.
func CredentialFromRequest(r *http.Request) string {
	if token := ExtractBearer(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// ExtractBearer returns the token of a "Bearer <token>" header value.
func ExtractBearer(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// HTTPStatus maps an authentication error to the status refused handshakes
// and protected endpoints respond with.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrAuthentication):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// PublicReason is the short reason given to a refused client.
func PublicReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "authentication temporarily unavailable"
	case errors.Is(err, domain.ErrMissingCredential):
		return "missing credential"
	case errors.Is(err, domain.ErrRevokedCredential):
		return "revoked"
	case errors.Is(err, domain.ErrAuthentication):
		return "invalid or expired credential"
	default:
		return "authentication failed"
	}
}
