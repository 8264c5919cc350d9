package presence

import (
	"sync"

	"github.com/google/uuid"
	"github.com/nfrund/roomcast/internal/events"
)

// DefaultSendBuffer is the number of frames a session may have queued before
// it is considered too slow and dropped.
const DefaultSendBuffer = 256

// CloseReason tells the connection task why its session was dropped.
type CloseReason int

const (
	// CloseNone means the session is live or ended by its own disconnect.
	CloseNone CloseReason = iota
	// CloseSlow means the outbound queue overflowed.
	CloseSlow
	// CloseShutdown means the registry is shutting down.
	CloseShutdown
)

// Session is one authenticated live connection. The connection task owns the
// Session; the Registry only queues frames on it and tracks its rooms.
type Session struct {
	ID     string
	UserID string
	Name   string
	Avatar *string

	out    chan events.Frame
	done   chan struct{}
	kick   sync.Once
	reason CloseReason

	// Guarded by the owning Registry's mutex.
	rooms      map[string]struct{}
	registered bool
	closed     bool
}

// NewSession creates a session for userID. name may be empty; it is then
// resolved from the user's profile on Connect.
func NewSession(userID, name string) *Session {
	return NewSessionWithBuffer(userID, name, DefaultSendBuffer)
}

// NewSessionWithBuffer is NewSession with an explicit outbound queue size.
func NewSessionWithBuffer(userID, name string, buffer int) *Session {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Session{
		ID:     uuid.NewString(),
		UserID: userID,
		Name:   name,
		out:    make(chan events.Frame, buffer),
		done:   make(chan struct{}),
		rooms:  make(map[string]struct{}),
	}
}

// Outbound yields frames queued for the client, in the order they were queued.
func (s *Session) Outbound() <-chan events.Frame {
	return s.out
}

// Done is closed when the session must be torn down: it was disconnected or
// it fell too far behind. The connection task still calls Registry.Disconnect.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Info returns the session's display metadata.
func (s *Session) Info() events.UserInfo {
	return events.UserInfo{UserID: s.UserID, Name: s.Name, Avatar: s.Avatar}
}

// Send queues a frame addressed to this session only, such as an error reply.
// It reports false when the session is gone or was kicked for being full.
func (s *Session) Send(f events.Frame) bool {
	return s.deliver(f)
}

// deliver queues f without blocking. A full queue kicks the session.
func (s *Session) deliver(f events.Frame) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.out <- f:
		return true
	default:
		s.stopWith(CloseSlow)
		return false
	}
}

// Reason reports why Done was closed. It is only meaningful after Done.
func (s *Session) Reason() CloseReason {
	<-s.done
	return s.reason
}

func (s *Session) stop() {
	s.stopWith(CloseNone)
}

func (s *Session) stopWith(reason CloseReason) {
	s.kick.Do(func() {
		s.reason = reason
		close(s.done)
	})
}
