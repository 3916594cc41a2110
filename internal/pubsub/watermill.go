package pubsub

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// WatermillBridge implements the Publisher and Subscriber interfaces using watermill's GoChannel.
type WatermillBridge struct {
	pub    message.Publisher
	sub    message.Subscriber
	tracer trace.Tracer
	logger watermill.LoggerAdapter
}

// Watermill metadata keys carrying a Delivery's addressing. The payload rides
// as the watermill message body.
const (
	metaKeyTopic      = "topic"
	metaKeyTarget     = "target"
	metaKeyTargetKind = "target_kind"
	metaKeyExcept     = "except_user"
)

// BridgeOption configures a WatermillBridge.
type BridgeOption func(*bridgeOptions)

type bridgeOptions struct {
	tracer       trace.Tracer
	blockForAck  bool
	outputBuffer int64
}

// WithTracer traces every publish and every delivery with tracer.
func WithTracer(tracer trace.Tracer) BridgeOption {
	return func(o *bridgeOptions) { o.tracer = tracer }
}

// WithBlockingPublish makes Publish return only after the subscriber acked the
// message, so a single publisher observes its messages handled in order.
func WithBlockingPublish() BridgeOption {
	return func(o *bridgeOptions) { o.blockForAck = true }
}

// WithOutputBuffer sets the gochannel output buffer per subscriber.
func WithOutputBuffer(n int64) BridgeOption {
	return func(o *bridgeOptions) { o.outputBuffer = n }
}

// NewWatermillBridge initializes an in-memory Pub/Sub system.
func NewWatermillBridge(opts ...BridgeOption) *WatermillBridge {
	o := bridgeOptions{tracer: noop.NewTracerProvider().Tracer("parley-pubsub")}
	for _, opt := range opts {
		opt(&o)
	}

	logger := watermill.NewStdLogger(false, false)
	goChannel := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            o.outputBuffer,
			BlockPublishUntilSubscriberAck: o.blockForAck,
		},
		logger,
	)

	return &WatermillBridge{
		pub:    NewPublisherTracingMiddleware(goChannel, o.tracer),
		sub:    goChannel,
		tracer: o.tracer,
		logger: logger,
	}
}

func isAddressingKey(k string) bool {
	switch k {
	case metaKeyTopic, metaKeyTarget, metaKeyTargetKind, metaKeyExcept:
		return true
	}
	return false
}

func toWatermill(ctx context.Context, msg Message) *message.Message {
	wmMsg := message.NewMessage(watermill.NewUUID(), msg.Delivery.Payload)
	wmMsg.SetContext(ctx)
	for k, v := range msg.Headers {
		wmMsg.Metadata.Set(k, v)
	}
	wmMsg.Metadata.Set(metaKeyTopic, msg.Topic)
	wmMsg.Metadata.Set(metaKeyTargetKind, string(msg.Delivery.Kind))
	wmMsg.Metadata.Set(metaKeyTarget, msg.Delivery.Target)
	wmMsg.Metadata.Set(metaKeyExcept, msg.Delivery.ExceptUser)
	return wmMsg
}

func fromWatermill(wmMsg *message.Message) Message {
	headers := make(map[string]string)
	for k, v := range wmMsg.Metadata {
		if !isAddressingKey(k) {
			headers[k] = v
		}
	}
	return Message{
		Topic: wmMsg.Metadata.Get(metaKeyTopic),
		Delivery: Delivery{
			Kind:       TargetKind(wmMsg.Metadata.Get(metaKeyTargetKind)),
			Target:     wmMsg.Metadata.Get(metaKeyTarget),
			ExceptUser: wmMsg.Metadata.Get(metaKeyExcept),
			Payload:    wmMsg.Payload,
		},
		Headers: headers,
	}
}

// Publish implements the Publisher interface.
func (wb *WatermillBridge) Publish(ctx context.Context, msg Message) error {
	return wb.pub.Publish(msg.Topic, toWatermill(ctx, msg))
}

// Subscribe implements the Subscriber interface.
//
// Messages are always acked, even when the handler fails: gochannel redelivers
// nacked messages forever, and a delivery that failed for one subscriber is
// not retried.
func (wb *WatermillBridge) Subscribe(ctx context.Context, topic string, handler Handler) error {
	messages, err := wb.sub.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	process := TracingMiddleware(wb.tracer)(func(wmMsg *message.Message) ([]*message.Message, error) {
		return nil, handler(wmMsg.Context(), fromWatermill(wmMsg))
	})

	go func() {
		for wmMsg := range messages {
			if _, err := process(wmMsg); err != nil {
				slog.Error("Failed to handle message", "topic", topic, "msg_id", wmMsg.UUID, "error", err)
			}
			wmMsg.Ack()
		}
		slog.Debug("Subscription message loop ended", "topic", topic)
	}()

	return nil
}

// Close implements the Publisher and Subscriber interface to shut down the bridge.
func (wb *WatermillBridge) Close() error {
	return wb.sub.Close()
}
