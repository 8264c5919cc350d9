package server

import (
	"github.com/nfrund/roomcast/internal/middleware"
)

// handshakesPerMinute bounds upgrade attempts per client IP.
const handshakesPerMinute = 120

// RegisterRoutes sets up all the application routes.
func (s *Server) RegisterRoutes() {
	s.E.Use(middleware.Logger)

	bearer := middleware.BearerAuth(s.deps.Gate)
	rateLimiter := middleware.RateLimiter(handshakesPerMinute)

	s.E.GET("/health", s.health.Health)
	s.E.GET("/ws", s.ws.Handle, rateLimiter)

	api := s.E.Group("/api", bearer)
	api.POST("/auth/logout", s.auth.Logout, rateLimiter)
	api.GET("/rooms/:roomID/presence", s.presence.GetPresence)
}
