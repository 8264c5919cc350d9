// Package pubsub is the transport under the notification bridge. Backends:
// watermill GoChannel (in-process), Redis and NATS (cross-process).
package pubsub

import (
	"context"
	"errors"
)

// ErrClosed is returned when publishing on or subscribing to a closed backend.
var ErrClosed = errors.New("pubsub: closed")

// Message is the structure passed between processes on the bus.
type Message struct {
	// Topic identifies the channel the message belongs to (e.g., "notification-created").
	Topic string
	// UserID identifies the user the message concerns.
	UserID string
	// Payload contains the raw message data.
	Payload []byte
	// Metadata carries transport context such as trace headers. Backends
	// without header support drop it.
	Metadata map[string]string
}

// Handler processes a received message.
type Handler func(ctx context.Context, msg Message) error

// Publisher sends messages on the bus.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber receives messages from the bus.
type Subscriber interface {
	// Subscribe registers handler for topic and returns once the subscription
	// is active. Messages are processed in the background until ctx is
	// cancelled or the subscriber is closed.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

// Bus is a backend that both publishes and subscribes.
type Bus interface {
	Publisher
	Subscriber
}
