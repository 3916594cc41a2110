package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/nfrund/parley/internal/database"
	"github.com/nfrund/parley/internal/domain"
	"github.com/nfrund/parley/internal/events"
	"github.com/nfrund/parley/internal/hub"
	"github.com/nfrund/parley/internal/metrics"
	"github.com/nfrund/parley/internal/pubsub"
)

// normalizeContent trims and NFC-normalizes content and checks it against the
// length limit, counted in characters.
func (s *Service) normalizeContent(content string) (string, error) {
	text := norm.NFC.String(strings.TrimSpace(content))
	if text == "" {
		return "", domain.NewValidationError("content", "message content cannot be empty")
	}
	if err := s.validate.Var(text, fmt.Sprintf("required,max=%d", s.maxLen)); err != nil {
		return "", domain.NewValidationError("content",
			fmt.Sprintf("message content cannot exceed %d characters", s.maxLen))
	}
	return text, nil
}

func normalizeType(t domain.MessageType) (domain.MessageType, error) {
	if t == "" {
		return domain.MessageText, nil
	}
	t = domain.MessageType(strings.ToUpper(string(t)))
	if !t.Valid() {
		return "", domain.NewValidationError("type", fmt.Sprintf("unknown message type %q", t))
	}
	return t, nil
}

// Send validates, authorizes and persists a message, then fans it out: the
// full message to the conversation room (sender included) and a notification
// to the personal room of every other participant.
//
// Nothing is stored or broadcast when validation or authorization fails. A
// store failure is returned to the caller and not retried. Once the message is
// stored, fan-out runs to completion even if ctx is cancelled.
func (s *Service) Send(ctx context.Context, userID, conversationID, content string, typ domain.MessageType) (*domain.Message, error) {
	text, err := s.normalizeContent(content)
	if err != nil {
		return nil, err
	}
	typ, err = normalizeType(typ)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	start := time.Now()
	msg, err := s.store.AppendMessage(ctx, database.NewMessage{
		ConversationID: conversationID,
		SenderID:       userID,
		Content:        text,
		Type:           typ,
	})
	observe("append_message", start)
	if err != nil {
		s.logger.Error("Failed to persist message", "user_id", userID, "conversation_id", conversationID, "error", err)
		return nil, domain.Persistence("save message", err)
	}
	metrics.MessagesSent.WithLabelValues(string(msg.Type)).Inc()

	// The message is stored; fan-out must not depend on the caller staying.
	ctx = context.WithoutCancel(ctx)
	s.emit(ctx, pubsub.ToRoom(hub.ConversationRoom(conversationID), events.MustEncode(events.NewMessage, msg), ""))
	s.notify(ctx, msg)

	s.logger.Info("Message sent", "message_id", msg.ID, "conversation_id", conversationID, "user_id", userID)
	return msg, nil
}

// notify delivers new_message_notification to every participant but the
// sender, whether or not they have the conversation open.
func (s *Service) notify(ctx context.Context, msg *domain.Message) {
	participants, err := s.store.Participants(ctx, msg.ConversationID)
	if err != nil {
		s.logger.Warn("Failed to load participants for notification",
			"conversation_id", msg.ConversationID, "error", err)
		return
	}

	from := domain.PublicProfile{ID: msg.SenderID}
	if msg.Sender != nil {
		from = *msg.Sender
	}
	frame := events.MustEncode(events.NewMessageNotification, events.NotificationPayload{
		ConversationID: msg.ConversationID,
		Message:        msg,
		FromUser:       from,
	})
	for _, p := range participants {
		if p == msg.SenderID {
			continue
		}
		s.emit(ctx, pubsub.ToRoom(hub.UserRoom(p), frame, ""))
	}
}
