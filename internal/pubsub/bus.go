package pubsub

import (
	"context"
	"fmt"
	"log/slog"
)

// DeliveryTopic carries every outbound event on its way to the connections.
const DeliveryTopic = "parley.deliveries"

// TargetKind says how a Delivery is addressed.
type TargetKind string

const (
	TargetRoom TargetKind = "room"
	TargetConn TargetKind = "conn"
	TargetAll  TargetKind = "all"
)

// Delivery is one encoded event addressed to a room, a single connection or
// every connection. ExceptUser, when set, skips all of that user's connections.
type Delivery struct {
	Kind       TargetKind
	Target     string
	ExceptUser string
	Payload    []byte
}

// ToRoom addresses payload to room.
func ToRoom(room string, payload []byte, exceptUser string) Delivery {
	return Delivery{Kind: TargetRoom, Target: room, ExceptUser: exceptUser, Payload: payload}
}

// ToConn addresses payload to one connection.
func ToConn(connID string, payload []byte) Delivery {
	return Delivery{Kind: TargetConn, Target: connID, Payload: payload}
}

// ToAll addresses payload to every connection.
func ToAll(payload []byte, exceptUser string) Delivery {
	return Delivery{Kind: TargetAll, ExceptUser: exceptUser, Payload: payload}
}

// Emitter hands deliveries to whatever fans them out.
type Emitter interface {
	Emit(ctx context.Context, d Delivery) error
}

// Sink is the in-memory fan-out a Delivery finally lands on. The session
// registry implements it.
type Sink interface {
	ToRoom(room string, payload []byte, exceptUser string) int
	ToConn(connID string, payload []byte) bool
	ToAll(payload []byte, exceptUser string) int
}

// Dispatch applies d to sink and returns how many connections accepted it.
func Dispatch(sink Sink, d Delivery) (int, error) {
	switch d.Kind {
	case TargetRoom:
		return sink.ToRoom(d.Target, d.Payload, d.ExceptUser), nil
	case TargetConn:
		if sink.ToConn(d.Target, d.Payload) {
			return 1, nil
		}
		return 0, nil
	case TargetAll:
		return sink.ToAll(d.Payload, d.ExceptUser), nil
	default:
		return 0, fmt.Errorf("unknown delivery target kind %q", d.Kind)
	}
}

// Direct is an Emitter that dispatches synchronously to a Sink.
type Direct struct {
	Sink Sink
}

// Emit implements Emitter.
func (d Direct) Emit(_ context.Context, delivery Delivery) error {
	_, err := Dispatch(d.Sink, delivery)
	return err
}

// Bus is an Emitter that routes deliveries through a Publisher/Subscriber pair
// before they reach the Sink.
type Bus struct {
	pub    Publisher
	sink   Sink
	logger *slog.Logger
}

// NewBus subscribes sink to the delivery topic of sub and returns an Emitter
// publishing on pub. With a blocking watermill bridge, Emit returns after the
// sink has been handed the delivery, so a single caller's events keep their
// order.
func NewBus(ctx context.Context, pub Publisher, sub Subscriber, sink Sink) (*Bus, error) {
	b := &Bus{
		pub:    pub,
		sink:   sink,
		logger: slog.Default().With("service", "bus"),
	}
	if err := sub.Subscribe(ctx, DeliveryTopic, b.handle); err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", DeliveryTopic, err)
	}
	return b, nil
}

// Emit implements Emitter.
func (b *Bus) Emit(ctx context.Context, d Delivery) error {
	if err := b.pub.Publish(ctx, Message{Topic: DeliveryTopic, Delivery: d}); err != nil {
		return fmt.Errorf("publishing delivery to %s %s: %w", d.Kind, d.Target, err)
	}
	return nil
}

func (b *Bus) handle(_ context.Context, msg Message) error {
	d := msg.Delivery
	n, err := Dispatch(b.sink, d)
	if err != nil {
		return err
	}
	b.logger.Debug("Delivered event", "kind", d.Kind, "target", d.Target, "recipients", n)
	return nil
}
