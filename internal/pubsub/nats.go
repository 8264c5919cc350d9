package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"
)

// headerUserID carries Message.UserID in NATS headers.
const headerUserID = "Roomcast-User-Id"

// NATSBridge implements Bus on core NATS subjects. Metadata travels as
// headers, so traces continue across processes.
type NATSBridge struct {
	conn   *nats.Conn
	tracer trace.Tracer
	logger *slog.Logger

	mu     sync.Mutex
	subs   []*nats.Subscription
	closed bool
}

// NewNATSBridge connects to url with reconnects enabled.
func NewNATSBridge(url, name string, tracer trace.Tracer) (*NATSBridge, error) {
	logger := slog.Default().With("service", "pubsub", "backend", "nats")
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("Disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	logger.Info("Connected to NATS", "url", nc.ConnectedUrl())
	return NewNATSBridgeFromConn(nc, tracer), nil
}

// NewNATSBridgeFromConn wraps an existing connection. Close drains it.
func NewNATSBridgeFromConn(nc *nats.Conn, tracer trace.Tracer) *NATSBridge {
	if tracer == nil {
		tracer = NoopTracer()
	}
	return &NATSBridge{
		conn:   nc,
		tracer: tracer,
		logger: slog.Default().With("service", "pubsub", "backend", "nats"),
	}
}

func toNATSMsg(msg Message) *nats.Msg {
	m := nats.NewMsg(msg.Topic)
	m.Data = msg.Payload
	if msg.UserID != "" {
		m.Header.Set(headerUserID, msg.UserID)
	}
	for k, v := range msg.Metadata {
		m.Header.Set(k, v)
	}
	return m
}

func fromNATSMsg(m *nats.Msg) Message {
	msg := Message{Topic: m.Subject, Payload: m.Data}
	if len(m.Header) > 0 {
		msg.UserID = m.Header.Get(headerUserID)
		msg.Metadata = make(map[string]string, len(m.Header))
		for k := range m.Header {
			if k != headerUserID {
				msg.Metadata[k] = m.Header.Get(k)
			}
		}
	}
	return msg
}

// Publish implements Publisher.
func (nb *NATSBridge) Publish(ctx context.Context, msg Message) error {
	nb.mu.Lock()
	closed := nb.closed
	nb.mu.Unlock()
	if closed {
		return ErrClosed
	}

	_, span := startPublishSpan(ctx, nb.tracer, "nats", &msg)
	err := nb.conn.PublishMsg(toNATSMsg(msg))
	endSpan(span, err)
	if err != nil {
		return fmt.Errorf("nats publish to %s: %w", msg.Topic, err)
	}
	return nil
}

// Subscribe implements Subscriber.
func (nb *NATSBridge) Subscribe(ctx context.Context, topic string, handler Handler) error {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	if nb.closed {
		return ErrClosed
	}

	sub, err := nb.conn.Subscribe(topic, func(m *nats.Msg) {
		msg := fromNATSMsg(m)
		spanCtx, span := startProcessSpan(ctx, nb.tracer, "nats", msg)
		err := handler(spanCtx, msg)
		endSpan(span, err)
		if err != nil {
			nb.logger.Error("Failed to handle message", "topic", topic, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe to %s: %w", topic, err)
	}
	// Make sure the server knows about the interest before returning.
	if err := nb.conn.Flush(); err != nil {
		sub.Unsubscribe()
		return fmt.Errorf("nats subscribe to %s: %w", topic, err)
	}
	nb.subs = append(nb.subs, sub)

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()

	nb.logger.Info("Subscribed", "topic", topic)
	return nil
}

// Close unsubscribes and drains the connection.
func (nb *NATSBridge) Close() error {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	if nb.closed {
		return nil
	}
	nb.closed = true
	for _, sub := range nb.subs {
		sub.Unsubscribe()
	}
	return nb.conn.Drain()
}
