package chat

import (
	"context"
	"errors"
	"time"

	"github.com/nfrund/parley/internal/domain"
	"github.com/nfrund/parley/internal/events"
	"github.com/nfrund/parley/internal/hub"
	"github.com/nfrund/parley/internal/metrics"
	"github.com/nfrund/parley/internal/pubsub"
)

// MarkRead flips every unread message in the conversation that userID did not
// send to read, and reports how many changed. A non-zero result is broadcast
// as messages_read to the room, excluding the reader. Calling it again with no
// new messages returns zero and broadcasts nothing.
func (s *Service) MarkRead(ctx context.Context, userID, conversationID string) (int, error) {
	if err := s.authorize(ctx, userID, conversationID); err != nil {
		return 0, err
	}

	start := time.Now()
	n, err := s.store.MarkRead(ctx, conversationID, userID)
	observe("mark_read", start)
	if err != nil {
		return 0, domain.Persistence("mark messages read", err)
	}
	if n == 0 {
		return 0, nil
	}
	metrics.MessagesMarkedRead.Add(float64(n))
	ctx = context.WithoutCancel(ctx)

	reader := domain.PublicProfile{ID: userID}
	if u, err := s.store.FindUserByID(ctx, userID); err == nil {
		reader = u.Profile()
	} else if !errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("Failed to load reader profile", "user_id", userID, "error", err)
	}

	frame := events.MustEncode(events.MessagesRead, events.ReadPayload{
		ConversationID: conversationID,
		ReadBy:         userID,
		ReadByUser:     reader,
	})
	s.emit(ctx, pubsub.ToRoom(hub.ConversationRoom(conversationID), frame, userID))
	return n, nil
}
