package chat

import (
	"context"

	"github.com/nfrund/parley/internal/domain"
	"github.com/nfrund/parley/internal/events"
	"github.com/nfrund/parley/internal/hub"
	"github.com/nfrund/parley/internal/pubsub"
)

// Typing relays a typing indicator to the conversation room, excluding every
// connection of the sender. Nothing is persisted and nothing is reported back.
func (s *Service) Typing(ctx context.Context, from domain.PublicProfile, conversationID string, typing bool) {
	if conversationID == "" {
		return
	}
	event := events.UserTyping
	if !typing {
		event = events.UserStopTyping
	}
	frame := events.MustEncode(event, events.TypingPayload{
		UserID:         from.ID,
		Username:       from.Username,
		ConversationID: conversationID,
	})
	s.emit(ctx, pubsub.ToRoom(hub.ConversationRoom(conversationID), frame, from.ID))
}
