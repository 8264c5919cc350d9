package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/roomcast/internal/auth"
	"github.com/nfrund/roomcast/internal/domain"
	"github.com/nfrund/roomcast/internal/middleware"
)

// Revoker records revoked credentials. *auth.RevocationStore satisfies it.
type Revoker interface {
	Revoke(ctx context.Context, token string, typ domain.TokenType, expiresAt *time.Time) error
}

// AuthHandler handles credential lifecycle requests. Issuance lives in the
// account service; this handler only ends credentials.
type AuthHandler struct {
	revoker Revoker
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(revoker Revoker) *AuthHandler {
	return &AuthHandler{revoker: revoker}
}

// Logout revokes the access credential the request was authenticated with
// until its expiry and, when the body carries one, the refresh credential
// (POST /api/auth/logout). It must run behind middleware.BearerAuth.
func (h *AuthHandler) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	logger := middleware.FromContext(ctx)

	identity, ok := middleware.IdentityFrom(c)
	raw, _ := c.Get(middleware.TokenContextKey).(string)
	if !ok || raw == "" {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing credential"})
	}

	var req LogoutRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		}
		if err := c.Validate(&req); err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "refreshToken must be a JWT"})
		}
	}

	if err := h.revoker.Revoke(ctx, raw, domain.TokenAccess, identity.ExpiresAt); err != nil {
		logger.Error("Failed to revoke access token", "user_id", identity.UserID, "error", err)
		return revokeFailed(c, err)
	}

	if req.RefreshToken != "" {
		var expiresAt *time.Time
		if claims, err := auth.ParseUnverified(req.RefreshToken); err == nil {
			expiresAt = claims.ExpiresAtTime()
		}
		if err := h.revoker.Revoke(ctx, req.RefreshToken, domain.TokenRefresh, expiresAt); err != nil {
			logger.Error("Failed to revoke refresh token", "user_id", identity.UserID, "error", err)
			return revokeFailed(c, err)
		}
	}

	logger.Info("User logged out", "user_id", identity.UserID, "refresh_revoked", req.RefreshToken != "")
	return c.NoContent(http.StatusNoContent)
}

func revokeFailed(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrStoreUnavailable):
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "revocation temporarily unavailable"})
	case errors.Is(err, domain.ErrValidation):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: domain.PublicMessage(err)})
	default:
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "logout failed"})
	}
}
