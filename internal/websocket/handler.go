// Package websocket serves the chat protocol over WebSocket connections.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"
	"github.com/nfrund/roomcast/internal/auth"
	"github.com/nfrund/roomcast/internal/chat"
	"github.com/nfrund/roomcast/internal/domain"
	"github.com/nfrund/roomcast/internal/presence"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second
	// Interval between keepalive pings.
	pingPeriod = 30 * time.Second
	// Time allowed for the peer to answer a ping.
	pongWait = 10 * time.Second
	// Largest frame accepted from a client.
	maxFrameSize = 32 << 10

	defaultRate  = 5
	defaultBurst = 10
)

// Authenticator admits or rejects a handshake credential.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (*auth.Identity, error)
}

// Poster runs the message pipeline.
type Poster interface {
	PostMessage(ctx context.Context, author chat.Author, roomID, raw string) (*domain.Message, error)
}

// Dependencies are the services a connection talks to.
type Dependencies struct {
	Gate     Authenticator
	Registry *presence.Registry
	Chat     Poster
}

// Option configures a Handler.
type Option func(*Handler)

// WithAllowedOrigins sets the host patterns accepted in the Origin header.
// Without patterns only same-origin browser requests are accepted.
func WithAllowedOrigins(patterns []string) Option {
	return func(h *Handler) {
		h.origins = patterns
	}
}

// WithRateLimit limits inbound events per connection to r per second with the given burst.
func WithRateLimit(r float64, burst int) Option {
	return func(h *Handler) {
		if r > 0 && burst > 0 {
			h.rate, h.burst = rate.Limit(r), burst
		}
	}
}

// WithPingPeriod overrides the keepalive interval.
func WithPingPeriod(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.pingPeriod = d
		}
	}
}

// WithWhitelist replaces the set of events clients may send.
func WithWhitelist(w *eventWhitelist) Option {
	return func(h *Handler) {
		h.whitelist = w
	}
}

// Handler authenticates handshakes and runs one connection task per client.
type Handler struct {
	deps       Dependencies
	origins    []string
	rate       rate.Limit
	burst      int
	pingPeriod time.Duration
	whitelist  *eventWhitelist
	logger     *slog.Logger
}

// NewHandler creates a Handler over deps.
func NewHandler(deps Dependencies, opts ...Option) *Handler {
	h := &Handler{
		deps:       deps,
		rate:       defaultRate,
		burst:      defaultBurst,
		pingPeriod: pingPeriod,
		whitelist:  DefaultEventWhitelist(),
		logger:     slog.Default().With("service", "websocket"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle adapts the handler to echo.
func (h *Handler) Handle(c echo.Context) error {
	h.ServeHTTP(c.Response(), c.Request())
	return nil
}

// ServeHTTP authenticates the request and, only if that succeeds, upgrades it
// and serves the connection until it closes. A refused handshake never
// touches presence state.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, err := h.deps.Gate.Authenticate(ctx, auth.CredentialFromRequest(r))
	if err != nil {
		status := auth.HTTPStatus(err)
		h.logger.InfoContext(ctx, "Handshake refused", "status", status, "remote_addr", r.RemoteAddr, "reason", auth.PublicReason(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": auth.PublicReason(err)})
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "Failed to upgrade connection to WebSocket", "user_id", identity.UserID, "error", err)
		return
	}
	conn.SetReadLimit(maxFrameSize)

	session := presence.NewSession(identity.UserID, identity.Name)
	c := &connection{
		handler: h,
		conn:    conn,
		session: session,
		limiter: rate.NewLimiter(h.rate, h.burst),
		logger:  h.logger.With("user_id", identity.UserID, "session_id", session.ID),
	}
	c.serve(ctx)
}
