package presence

import (
	"context"
	"fmt"

	"github.com/nfrund/parley/internal/hub"
	"github.com/nfrund/parley/internal/pubsub"
)

// Sink decides who hears about a user's presence change.
type Sink interface {
	Publish(ctx context.Context, userID string, frame []byte) error
}

// GlobalSink sends presence to every connected session except the user's own.
type GlobalSink struct {
	Emitter pubsub.Emitter
}

// Publish implements Sink.
func (g GlobalSink) Publish(ctx context.Context, userID string, frame []byte) error {
	return g.Emitter.Emit(ctx, pubsub.ToAll(frame, userID))
}

// PeerLister returns the users who share a conversation with userID.
type PeerLister interface {
	Peers(ctx context.Context, userID string) ([]string, error)
}

// PeerSink sends presence only to the personal rooms of users who share a
// conversation with the subject.
type PeerSink struct {
	Emitter pubsub.Emitter
	Peers   PeerLister
}

// Publish implements Sink. It keeps going past a failed peer and returns the
// first error.
func (p PeerSink) Publish(ctx context.Context, userID string, frame []byte) error {
	peers, err := p.Peers.Peers(ctx, userID)
	if err != nil {
		return fmt.Errorf("listing peers of %s: %w", userID, err)
	}
	var firstErr error
	for _, peer := range peers {
		if err := p.Emitter.Emit(ctx, pubsub.ToRoom(hub.UserRoom(peer), frame, "")); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
