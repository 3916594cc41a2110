package chat

import (
	"context"
	"time"

	"github.com/nfrund/parley/internal/domain"
	"github.com/nfrund/parley/internal/hub"
)

// authorize asks the store whether userID participates in conversationID.
// The answer is never cached.
func (s *Service) authorize(ctx context.Context, userID, conversationID string) error {
	if conversationID == "" {
		return domain.NewValidationError("conversationId", "conversation id is required")
	}
	defer observe("is_participant", time.Now())
	ok, err := s.store.IsParticipant(ctx, userID, conversationID)
	if err != nil {
		return domain.Persistence("check membership", err)
	}
	if !ok {
		return domain.Forbidden(userID, conversationID)
	}
	return nil
}

// Join adds connID to the conversation room after a fresh membership check.
// On refusal the registry is left untouched.
func (s *Service) Join(ctx context.Context, connID, userID, conversationID string) error {
	if err := s.authorize(ctx, userID, conversationID); err != nil {
		return err
	}
	if err := s.rooms.Join(connID, hub.ConversationRoom(conversationID)); err != nil {
		return err
	}
	s.logger.Debug("Joined conversation", "conn_id", connID, "user_id", userID, "conversation_id", conversationID)
	return nil
}

// Leave removes connID from the conversation room. Leaving is always allowed.
func (s *Service) Leave(connID, conversationID string) {
	if conversationID == "" {
		return
	}
	s.rooms.Leave(connID, hub.ConversationRoom(conversationID))
}
