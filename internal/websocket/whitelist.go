package websocket

import (
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/nfrund/parley/internal/events"
)

var (
	// ErrEventAlreadyExists is returned when trying to add a duplicate event
	ErrEventAlreadyExists = errors.New("event already exists in whitelist")
	// ErrInvalidEvent is returned when an empty event name is provided
	ErrInvalidEvent = errors.New("event cannot be empty")
)

// eventWhitelist contains the inbound events clients are allowed to send.
type eventWhitelist struct {
	mu            sync.RWMutex
	allowedEvents []string
}

// NewEventWhitelist creates a new whitelist with the given allowed events
func NewEventWhitelist(allowedEvents ...string) *eventWhitelist {
	validEvents := make([]string, 0, len(allowedEvents))
	for _, event := range allowedEvents {
		if event != "" {
			validEvents = append(validEvents, event)
		}
	}

	return &eventWhitelist{
		allowedEvents: validEvents,
	}
}

// IsAllowed checks if an event is in the whitelist in a thread-safe manner
func (w *eventWhitelist) IsAllowed(event string) bool {
	if event == "" {
		return false
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	return slices.Contains(w.allowedEvents, event)
}

// AddEvent adds an event to the whitelist in a thread-safe manner
// Returns an error if the event is empty or already exists
func (w *eventWhitelist) AddEvent(event string) error {
	if event == "" {
		return ErrInvalidEvent
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if slices.Contains(w.allowedEvents, event) {
		return ErrEventAlreadyExists
	}

	w.allowedEvents = append(w.allowedEvents, event)
	slog.Debug("added event to whitelist", "event", event)
	return nil
}

// DefaultEventWhitelist returns the inbound events of the chat protocol.
func DefaultEventWhitelist() *eventWhitelist {
	return NewEventWhitelist(
		events.JoinConversation,
		events.LeaveConversation,
		events.SendMessage,
		events.TypingStart,
		events.TypingStop,
		events.MarkMessagesRead,
		events.UserOnline,
	)
}
