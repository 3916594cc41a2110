package pubsub

import (
	"context"
)

// Message is a Delivery in transit on a bus topic. Headers carry optional
// context, such as a request id, next to the addressing.
type Message struct {
	Topic    string
	Delivery Delivery
	Headers  map[string]string
}

// Handler processes one message taken off a topic.
type Handler func(ctx context.Context, msg Message) error

// Publisher puts messages on a topic.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber feeds a topic to a Handler. Subscribe returns once the
// subscription is live and handles messages in the background until ctx ends.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}
