package domain

import (
	"context"
	"time"
)

// MessageType enumerates the kinds of chat message.
type MessageType string

const (
	MessageText  MessageType = "TEXT"
	MessageImage MessageType = "IMAGE"
	MessageFile  MessageType = "FILE"
)

// Valid reports whether t is one of the known kinds.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile:
		return true
	}
	return false
}

// Conversation groups two or more participants. LastMessageAt is bumped on
// every accepted send and never moves backwards.
type Conversation struct {
	ID            string    `json:"id"`
	Participants  []string  `json:"participants"`
	CreatedAt     time.Time `json:"createdAt"`
	LastMessageAt time.Time `json:"lastMessageAt"`
}

// HasParticipant reports whether userID belongs to c.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Message is created exactly once by the message router. IsRead only ever
// moves from false to true.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	SenderID       string         `json:"senderId"`
	Content        string         `json:"content"`
	Type           MessageType    `json:"type"`
	IsRead         bool           `json:"isRead"`
	CreatedAt      time.Time      `json:"createdAt"`
	Sender         *PublicProfile `json:"sender,omitempty"`
}

// ConversationSummary is a row of a user's conversation list.
type ConversationSummary struct {
	ID               string         `json:"id"`
	OtherParticipant *PublicProfile `json:"otherParticipant,omitempty"`
	LastMessage      *Message       `json:"lastMessage,omitempty"`
	LastMessageAt    time.Time      `json:"lastMessageAt"`
	UnreadCount      int            `json:"unreadCount"`
}

// MembershipOracle answers participant queries. Answers are never cached by
// callers.
type MembershipOracle interface {
	IsParticipant(ctx context.Context, userID, conversationID string) (bool, error)
}

// Pagination defaults for message history.
const (
	DefaultPage     = 1
	DefaultPageSize = 50
	MaxPageSize     = 100
)
