package pubsub

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// eventName reads the envelope's event name. Payload content is never put on
// a span: it carries user messages.
func eventName(payload []byte) string {
	var env struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return "unknown"
	}
	return env.Event
}

func deliveryAttributes(operation, topic string, msg *message.Message) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("messaging.system", "watermill"),
		attribute.String("messaging.operation", operation),
		attribute.String("messaging.destination", topic),
		attribute.String("messaging.message_id", msg.UUID),
		attribute.Int("messaging.message_payload_size_bytes", len(msg.Payload)),
		attribute.String("parley.event", eventName(msg.Payload)),
		attribute.String("parley.target_kind", msg.Metadata.Get(metaKeyTargetKind)),
		attribute.String("parley.target", msg.Metadata.Get(metaKeyTarget)),
		attribute.String("parley.except_user", msg.Metadata.Get(metaKeyExcept)),
	}
}

func contextOf(msg *message.Message) context.Context {
	if ctx := msg.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// TracingMiddleware wraps a watermill handler in a span per handled delivery.
func TracingMiddleware(tracer trace.Tracer) func(message.HandlerFunc) message.HandlerFunc {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			topic := msg.Metadata.Get(metaKeyTopic)
			ctx, span := tracer.Start(contextOf(msg), "delivery.process",
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(deliveryAttributes("process", topic, msg)...),
			)
			defer span.End()
			msg.SetContext(ctx)

			produced, err := h(msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
			return produced, nil
		}
	}
}

// PublisherTracingMiddleware starts a producer span for every published
// delivery.
type PublisherTracingMiddleware struct {
	publisher message.Publisher
	tracer    trace.Tracer
}

// NewPublisherTracingMiddleware wraps publisher.
func NewPublisherTracingMiddleware(publisher message.Publisher, tracer trace.Tracer) *PublisherTracingMiddleware {
	return &PublisherTracingMiddleware{
		publisher: publisher,
		tracer:    tracer,
	}
}

// Publish implements message.Publisher.
func (p *PublisherTracingMiddleware) Publish(topic string, messages ...*message.Message) error {
	spans := make([]trace.Span, 0, len(messages))
	for _, msg := range messages {
		ctx, span := p.tracer.Start(contextOf(msg), "delivery.publish",
			trace.WithSpanKind(trace.SpanKindProducer),
			trace.WithAttributes(deliveryAttributes("publish", topic, msg)...),
		)
		msg.SetContext(ctx)
		spans = append(spans, span)
	}

	err := p.publisher.Publish(topic, messages...)
	for _, span := range spans {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
	return err
}

// Close closes the underlying publisher.
func (p *PublisherTracingMiddleware) Close() error {
	return p.publisher.Close()
}
