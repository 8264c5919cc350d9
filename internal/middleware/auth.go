package middleware

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/roomcast/internal/auth"
)

const (
	// IdentityContextKey holds the *auth.Identity of an authenticated request.
	IdentityContextKey = "identity"
	// TokenContextKey holds the raw credential the request was authenticated with.
	TokenContextKey = "token"
)

// Authenticator is satisfied by *auth.Gate.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (*auth.Identity, error)
}

// BearerAuth protects API routes with the same gate the WebSocket handshake
// uses. Refused requests get a JSON error with the gate's status.
func BearerAuth(gate Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := auth.ExtractBearer(c.Request().Header.Get(echo.HeaderAuthorization))

			identity, err := gate.Authenticate(c.Request().Context(), raw)
			if err != nil {
				FromContext(c.Request().Context()).Debug("Request refused by auth gate", "path", c.Path(), "error", err)
				return c.JSON(auth.HTTPStatus(err), map[string]string{"error": auth.PublicReason(err)})
			}

			c.Set(IdentityContextKey, identity)
			c.Set(TokenContextKey, raw)
			return next(c)
		}
	}
}

// IdentityFrom returns the identity BearerAuth stored on c.
func IdentityFrom(c echo.Context) (*auth.Identity, bool) {
	identity, ok := c.Get(IdentityContextKey).(*auth.Identity)
	return identity, ok && identity != nil
}
