package pubsub

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// payloadPreviewLimit bounds the payload excerpt recorded on spans.
const payloadPreviewLimit = 100

func payloadPreview(p []byte) string {
	s := string(p)
	if len(s) > payloadPreviewLimit {
		s = s[:payloadPreviewLimit] + "..."
	}
	return s
}

// startPublishSpan opens a producer span for msg and injects its context into
// msg.Metadata so backends with headers can carry it across processes.
func startPublishSpan(ctx context.Context, tracer trace.Tracer, system string, msg *Message) (context.Context, trace.Span) {
	spanCtx, span := tracer.Start(ctx, fmt.Sprintf("pubsub.publish.%s", msg.Topic),
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", system),
			attribute.String("messaging.operation", "publish"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.String("user.id", msg.UserID),
			attribute.Int("messaging.message_payload_size_bytes", len(msg.Payload)),
			attribute.String("messaging.message_payload_preview", payloadPreview(msg.Payload)),
		),
	)

	if msg.Metadata == nil {
		msg.Metadata = make(map[string]string)
	}
	otel.GetTextMapPropagator().Inject(spanCtx, propagation.MapCarrier(msg.Metadata))
	return spanCtx, span
}

// startProcessSpan opens a consumer span for msg, continuing the trace carried
// in its metadata when present.
func startProcessSpan(ctx context.Context, tracer trace.Tracer, system string, msg Message) (context.Context, trace.Span) {
	if len(msg.Metadata) > 0 {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Metadata))
	}
	return tracer.Start(ctx, fmt.Sprintf("pubsub.process.%s", msg.Topic),
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", system),
			attribute.String("messaging.operation", "process"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.String("user.id", msg.UserID),
			attribute.Int("messaging.message_payload_size_bytes", len(msg.Payload)),
		),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// PublisherTracingMiddleware wraps a watermill publisher with tracing.
type PublisherTracingMiddleware struct {
	publisher message.Publisher
	tracer    trace.Tracer
}

// NewPublisherTracingMiddleware creates a new publisher with tracing middleware
func NewPublisherTracingMiddleware(publisher message.Publisher, tracer trace.Tracer) *PublisherTracingMiddleware {
	return &PublisherTracingMiddleware{
		publisher: publisher,
		tracer:    tracer,
	}
}

// Publish wraps the publish operation with one span per message.
func (p *PublisherTracingMiddleware) Publish(topic string, messages ...*message.Message) error {
	spans := make([]trace.Span, 0, len(messages))
	for _, wmMsg := range messages {
		ctx := wmMsg.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		msg := mapToPubSubMessage(wmMsg)
		msg.Topic = topic
		spanCtx, span := startPublishSpan(ctx, p.tracer, "watermill", &msg)
		span.SetAttributes(attribute.String("messaging.message_id", wmMsg.UUID))
		for k, v := range msg.Metadata {
			wmMsg.Metadata.Set(k, v)
		}
		wmMsg.SetContext(spanCtx)
		spans = append(spans, span)
	}

	err := p.publisher.Publish(topic, messages...)
	for _, span := range spans {
		endSpan(span, err)
	}
	return err
}

// Close closes the underlying publisher
func (p *PublisherTracingMiddleware) Close() error {
	return p.publisher.Close()
}
