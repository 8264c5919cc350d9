package websocket

import (
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/nfrund/roomcast/internal/events"
)

var (
	// ErrEventAlreadyAllowed is returned when adding a duplicate event.
	ErrEventAlreadyAllowed = errors.New("event already in whitelist")
	// ErrInvalidEvent is returned when an empty event name is provided.
	ErrInvalidEvent = errors.New("event name cannot be empty")
)

// eventWhitelist is the set of events clients are allowed to send.
type eventWhitelist struct {
	mu      sync.RWMutex
	allowed []string
}

// NewEventWhitelist creates a whitelist with the given allowed events.
func NewEventWhitelist(allowed ...string) *eventWhitelist {
	valid := make([]string, 0, len(allowed))
	for _, event := range allowed {
		if event != "" && !slices.Contains(valid, event) {
			valid = append(valid, event)
		}
	}
	return &eventWhitelist{allowed: valid}
}

// DefaultEventWhitelist allows the client events of the chat protocol.
func DefaultEventWhitelist() *eventWhitelist {
	return NewEventWhitelist(events.Inbound...)
}

// IsAllowed reports whether event may be sent by a client.
func (w *eventWhitelist) IsAllowed(event string) bool {
	if event == "" {
		return false
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	return slices.Contains(w.allowed, event)
}

// Allow adds an event to the whitelist.
func (w *eventWhitelist) Allow(event string) error {
	if event == "" {
		slog.Warn("Attempted to whitelist empty event")
		return ErrInvalidEvent
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if slices.Contains(w.allowed, event) {
		return ErrEventAlreadyAllowed
	}
	w.allowed = append(w.allowed, event)
	slog.Info("Added event to whitelist", "event", event)
	return nil
}

// Events returns a copy of the allowed events.
func (w *eventWhitelist) Events() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.allowed)
}
