package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
)

// Channel[T] names a topic whose payloads are JSON-encoded T values.
type Channel[T any] struct {
	name string
}

// NewChannel declares a typed channel.
func NewChannel[T any](name string) Channel[T] {
	return Channel[T]{name: name}
}

// Name returns the topic name.
func (c Channel[T]) Name() string {
	return c.name
}

// Publish sends payload on ch. The compiler ensures payload matches T.
func Publish[T any](ctx context.Context, p Publisher, ch Channel[T], userID string, payload T) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", ch.name, err)
	}
	return p.Publish(ctx, Message{
		Topic:   ch.name,
		UserID:  userID,
		Payload: data,
	})
}

// Subscribe decodes every message on ch into a T before calling handler.
// Undecodable payloads are reported as handler errors.
func Subscribe[T any](ctx context.Context, s Subscriber, ch Channel[T], handler func(ctx context.Context, payload T) error) error {
	return s.Subscribe(ctx, ch.name, func(ctx context.Context, msg Message) error {
		var payload T
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", ch.name, err)
		}
		return handler(ctx, payload)
	})
}
