package websocket

import (
	"encoding/json"
	"errors"

	"github.com/nfrund/parley/internal/domain"
	"github.com/nfrund/parley/internal/events"
	"github.com/nfrund/parley/internal/hub"
	"github.com/nfrund/parley/internal/metrics"
)

// handle processes one inbound frame. It runs on the connection's processor
// goroutine only.
func (g *Gateway) handle(c *Conn, frame []byte) {
	env, err := events.Decode(frame)
	if err != nil {
		metrics.EventErrors.WithLabelValues("malformed").Inc()
		c.sendError("", "malformed event")
		return
	}
	if !g.whitelist.IsAllowed(env.Event) {
		metrics.EventErrors.WithLabelValues("unknown").Inc()
		c.sendError(env.Event, "unknown event")
		return
	}
	metrics.EventsReceived.WithLabelValues(env.Event).Inc()

	switch env.Event {
	case events.JoinConversation:
		ref, ok := g.conversationRef(c, env)
		if !ok {
			return
		}
		ctx, cancel := g.storeContext(c)
		defer cancel()
		if err := g.chat.Join(ctx, c.ID, c.User.ID, ref.ConversationID); err != nil {
			g.fail(c, env.Event, err, "Failed to join conversation")
		}

	case events.LeaveConversation:
		ref, ok := g.conversationRef(c, env)
		if !ok {
			return
		}
		g.chat.Leave(c.ID, ref.ConversationID)

	case events.SendMessage:
		var p events.SendPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			g.fail(c, env.Event, domain.NewValidationError("", "invalid send_message payload"), "")
			return
		}
		ctx, cancel := g.storeContext(c)
		defer cancel()
		if _, err := g.chat.Send(ctx, c.User.ID, p.ConversationID, p.Content, p.Type); err != nil {
			g.fail(c, env.Event, err, "Failed to send message")
		}

	case events.TypingStart, events.TypingStop:
		var ref events.ConversationRef
		if err := json.Unmarshal(env.Data, &ref); err != nil || ref.ConversationID == "" {
			return
		}
		// Typing is only relayed for rooms this connection has joined.
		if !g.sessions.InRoom(c.ID, hub.ConversationRoom(ref.ConversationID)) {
			return
		}
		g.chat.Typing(c.ctx, c.User.Profile(), ref.ConversationID, env.Event == events.TypingStart)

	case events.MarkMessagesRead:
		ref, ok := g.conversationRef(c, env)
		if !ok {
			return
		}
		ctx, cancel := g.storeContext(c)
		defer cancel()
		if _, err := g.chat.MarkRead(ctx, c.User.ID, ref.ConversationID); err != nil {
			g.fail(c, env.Event, err, "Failed to mark messages as read")
		}

	case events.UserOnline:
		g.presence.Announce(c.ctx, c.User.ID)
	}
}

func (g *Gateway) conversationRef(c *Conn, env events.Envelope) (events.ConversationRef, bool) {
	var ref events.ConversationRef
	if err := json.Unmarshal(env.Data, &ref); err != nil || ref.ConversationID == "" {
		g.fail(c, env.Event, domain.NewValidationError("conversationId", "conversation id is required"), "")
		return ref, false
	}
	return ref, true
}

// fail reports err to the originating connection. Persistence failures are
// logged in full and reported with fallback only.
func (g *Gateway) fail(c *Conn, event string, err error, fallback string) {
	var (
		kind string
		msg  string
		vErr *domain.ValidationError
	)
	switch {
	case errors.Is(err, domain.ErrForbidden):
		kind, msg = "forbidden", "Not authorized to access this conversation"
	case errors.As(err, &vErr):
		kind, msg = "invalid", vErr.Message
	case errors.Is(err, domain.ErrNotFound):
		kind, msg = "not_found", "Conversation not found"
	default:
		kind, msg = "internal", fallback
		c.logger.Error("Event failed", "event", event, "error", err)
	}
	if msg == "" {
		msg = "Request failed"
	}
	metrics.EventErrors.WithLabelValues(kind).Inc()
	c.sendError(event, msg)
}
