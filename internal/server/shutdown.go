package server

import (
	"context"
)

// Shutdown stops accepting connections, closes every live session, and
// waits for in-flight requests and notification fan-out.
// Later calls return the first result.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.logger.Info("Shutting down HTTP server")

		// Hijacked WebSocket connections are not tracked by http.Server. Dropping
		// the sessions makes each connection close with a going-away status.
		s.deps.Registry.Shutdown()
		s.shutdownErr = s.E.Shutdown(ctx)
		s.deps.Chat.Wait()
	})
	return s.shutdownErr
}
