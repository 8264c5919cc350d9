package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/roomcast/internal/events"
	"github.com/nfrund/roomcast/internal/middleware"
)

// RosterSource reports who is present in a room on this process.
type RosterSource interface {
	Roster(roomID string) []events.UserInfo
}

// MembershipChecker reports durable room membership.
type MembershipChecker interface {
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
}

// PresenceHandler serves room presence over HTTP for clients that poll.
type PresenceHandler struct {
	rooms   RosterSource
	members MembershipChecker
}

// NewPresenceHandler creates a new presence handler.
func NewPresenceHandler(rooms RosterSource, members MembershipChecker) *PresenceHandler {
	return &PresenceHandler{rooms: rooms, members: members}
}

// GetPresence returns the present users of a room as JSON
// (GET /api/rooms/:roomID/presence). Only durable members may look.
func (h *PresenceHandler) GetPresence(c echo.Context) error {
	ctx := c.Request().Context()
	logger := middleware.FromContext(ctx)

	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing credential"})
	}

	roomID := strings.TrimSpace(c.Param("roomID"))
	if roomID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "room id is required"})
	}

	member, err := h.members.IsMember(ctx, roomID, identity.UserID)
	if err != nil {
		logger.Error("Membership check failed", "room_id", roomID, "user_id", identity.UserID, "error", err)
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "service temporarily unavailable, please retry"})
	}
	if !member {
		return c.JSON(http.StatusForbidden, ErrorResponse{Error: "you are not a member of this room"})
	}

	return c.JSON(http.StatusOK, NewPresenceResponse(roomID, h.rooms.Roster(roomID)))
}
