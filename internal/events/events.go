// Package events defines the wire protocol spoken over the persistent
// connection: event names, payload shapes and the JSON envelope.
package events

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nfrund/parley/internal/domain"
)

// Inbound events (connection to server).
const (
	Authenticate      = "authenticate"
	JoinConversation  = "join_conversation"
	LeaveConversation = "leave_conversation"
	SendMessage       = "send_message"
	TypingStart       = "typing_start"
	TypingStop        = "typing_stop"
	MarkMessagesRead  = "mark_messages_read"
	UserOnline        = "user_online"
)

// Outbound events (server to connection).
const (
	NewMessage             = "new_message"
	NewMessageNotification = "new_message_notification"
	UserTyping             = "user_typing"
	UserStopTyping         = "user_stop_typing"
	MessagesRead           = "messages_read"
	UserStatusChange       = "user_status_change"
	Error                  = "error"
)

// Envelope is the frame every event travels in.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode wraps data in an envelope and marshals it.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// MustEncode is Encode for payloads that cannot fail to marshal.
func MustEncode(event string, data any) []byte {
	b, err := Encode(event, data)
	if err != nil {
		panic(err)
	}
	return b
}

// Decode parses a raw frame into an envelope.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return env, fmt.Errorf("malformed frame: %w", err)
	}
	if env.Event == "" {
		return env, fmt.Errorf("malformed frame: missing event")
	}
	return env, nil
}

// ConversationRef is the payload of join, leave, typing and read events. A bare
// JSON string is accepted as well as {"conversationId": "..."}.
type ConversationRef struct {
	ConversationID string `json:"conversationId"`
}

// UnmarshalJSON accepts both payload shapes.
func (c *ConversationRef) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	if strings.HasPrefix(trimmed, `"`) {
		return json.Unmarshal(b, &c.ConversationID)
	}
	type plain ConversationRef
	return json.Unmarshal(b, (*plain)(c))
}

// AuthenticatePayload is the data of the authenticate handshake, used by
// clients that could not present a token on the upgrade request.
type AuthenticatePayload struct {
	Token string `json:"token"`
}

// SendPayload is the data of send_message.
type SendPayload struct {
	ConversationID string             `json:"conversationId"`
	Content        string             `json:"content"`
	Type           domain.MessageType `json:"type,omitempty"`
}

// NotificationPayload is the data of new_message_notification.
type NotificationPayload struct {
	ConversationID string               `json:"conversationId"`
	Message        *domain.Message      `json:"message"`
	FromUser       domain.PublicProfile `json:"fromUser"`
}

// TypingPayload is the data of user_typing and user_stop_typing.
type TypingPayload struct {
	UserID         string `json:"userId"`
	Username       string `json:"username"`
	ConversationID string `json:"conversationId"`
}

// ReadPayload is the data of messages_read.
type ReadPayload struct {
	ConversationID string               `json:"conversationId"`
	ReadBy         string               `json:"readBy"`
	ReadByUser     domain.PublicProfile `json:"readByUser"`
}

// Status values of user_status_change.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// StatusPayload is the data of user_status_change.
type StatusPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Status   string `json:"status"`
}

// ErrorPayload is the data of error.
type ErrorPayload struct {
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}
