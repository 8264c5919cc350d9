package handlers

import (
	"github.com/nfrund/roomcast/internal/events"
)

// ErrorResponse is the standard format for API error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Store    string `json:"store"`
	Sessions int    `json:"sessions"`
	Rooms    int    `json:"rooms"`
}

// PresenceResponse lists who is currently present in a room.
type PresenceResponse struct {
	RoomID string            `json:"roomId"`
	Users  []events.UserInfo `json:"users"`
	Count  int               `json:"count"`
}

// NewPresenceResponse builds the response for roomID's roster.
func NewPresenceResponse(roomID string, users []events.UserInfo) *PresenceResponse {
	if users == nil {
		users = []events.UserInfo{}
	}
	return &PresenceResponse{RoomID: roomID, Users: users, Count: len(users)}
}
