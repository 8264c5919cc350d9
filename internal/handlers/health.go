package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/roomcast/internal/middleware"
)

// Pinger checks the durable store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PresenceStats exposes the local registry's counters.
type PresenceStats interface {
	SessionCount() int
	RoomCount() int
}

// HealthHandler reports liveness and store health.
type HealthHandler struct {
	store   Pinger
	stats   PresenceStats
	timeout time.Duration
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(store Pinger, stats PresenceStats) *HealthHandler {
	return &HealthHandler{store: store, stats: stats, timeout: 2 * time.Second}
}

// Health answers GET /health. A failing store turns the response into 503
// so load balancers stop routing new handshakes here.
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	resp := HealthResponse{
		Status:   "ok",
		Store:    "ok",
		Sessions: h.stats.SessionCount(),
		Rooms:    h.stats.RoomCount(),
	}
	status := http.StatusOK

	if err := h.store.Ping(ctx); err != nil {
		middleware.FromContext(ctx).Warn("Store health check failed", "error", err)
		resp.Status = "degraded"
		resp.Store = "unavailable"
		status = http.StatusServiceUnavailable
	}

	return c.JSON(status, resp)
}
