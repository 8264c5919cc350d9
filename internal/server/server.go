// Package server wires the HTTP surface: the WebSocket endpoint, health and
// the small REST boundary used for revocation.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/nfrund/roomcast/internal/auth"
	"github.com/nfrund/roomcast/internal/chat"
	"github.com/nfrund/roomcast/internal/config"
	"github.com/nfrund/roomcast/internal/handlers"
	"github.com/nfrund/roomcast/internal/presence"
	"github.com/nfrund/roomcast/internal/websocket"
)

// Store is the part of the durable store the HTTP layer touches directly.
type Store interface {
	Ping(ctx context.Context) error
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
}

// Dependencies are the collaborators the server routes to.
type Dependencies struct {
	Config   *config.Config
	Echo     *echo.Echo
	Gate     *auth.Gate
	Revoker  *auth.RevocationStore
	Registry *presence.Registry
	Chat     *chat.Service
	Store    Store
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	E        *echo.Echo
	cfg      *config.Config
	deps     Dependencies
	ws       *websocket.Handler
	auth     *handlers.AuthHandler
	health   *handlers.HealthHandler
	presence *handlers.PresenceHandler
	logger   *slog.Logger

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a new Server instance. Routes are registered by RegisterRoutes.
func New(deps Dependencies) (*Server, error) {
	switch {
	case deps.Config == nil:
		return nil, errors.New("server: config is required")
	case deps.Gate == nil, deps.Revoker == nil:
		return nil, errors.New("server: auth gate and revocation store are required")
	case deps.Registry == nil, deps.Chat == nil:
		return nil, errors.New("server: presence registry and chat service are required")
	case deps.Store == nil:
		return nil, errors.New("server: store is required")
	}

	e := deps.Echo
	if e == nil {
		e = echo.New()
	}
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handlers.NewValidator()
	e.Use(echomw.RequestID())
	e.Use(echomw.Recover())
	setupErrorHandling(e)

	cfg := deps.Config
	ws := websocket.NewHandler(
		websocket.Dependencies{Gate: deps.Gate, Registry: deps.Registry, Chat: deps.Chat},
		websocket.WithAllowedOrigins(cfg.AllowedOrigins()),
		websocket.WithRateLimit(cfg.WSMessageRate, cfg.WSMessageBurst),
	)

	return &Server{
		E:        e,
		cfg:      cfg,
		deps:     deps,
		ws:       ws,
		auth:     handlers.NewAuthHandler(deps.Revoker),
		health:   handlers.NewHealthHandler(deps.Store, deps.Registry),
		presence: handlers.NewPresenceHandler(deps.Registry, deps.Store),
		logger:   slog.Default().With("service", "server"),
	}, nil
}

// setupErrorHandling installs an error handler that logs unhandled errors
// with a stack trace and answers with a JSON body.
func setupErrorHandling(e *echo.Echo) {
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			msg := fmt.Sprint(he.Message)
			if he.Code >= http.StatusInternalServerError {
				slog.Error("HTTP error", "status", he.Code, "path", c.Path(), "error", err)
			}
			_ = c.JSON(he.Code, handlers.ErrorResponse{Error: msg})
			return
		}

		slog.Error("Internal Server Error (Unhandled)",
			"path", c.Path(),
			"error", err.Error(),
			"stack_trace", string(debug.Stack()),
		)
		_ = c.JSON(http.StatusInternalServerError, handlers.ErrorResponse{Error: "internal server error"})
	}
}
