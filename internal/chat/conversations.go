package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"

	"github.com/nfrund/parley/internal/domain"
)

// ConversationView is a conversation as seen by one of its participants.
type ConversationView struct {
	*domain.Conversation
	OtherParticipant *domain.PublicProfile `json:"otherParticipant,omitempty"`
}

// OpenDirect returns the two-party conversation between userID and otherID,
// creating it when none exists. created reports which happened.
func (s *Service) OpenDirect(ctx context.Context, userID, otherID string) (view *ConversationView, created bool, err error) {
	if otherID == "" {
		return nil, false, domain.NewValidationError("participantId", "participant id is required")
	}
	if otherID == userID {
		return nil, false, domain.NewValidationError("participantId", "cannot create a conversation with yourself")
	}

	other, err := s.store.FindUserByID(ctx, otherID)
	if err != nil {
		return nil, false, domain.Persistence("find participant", err)
	}
	if !other.IsActive {
		return nil, false, domain.ErrNotFound
	}

	profile := other.Profile()

	conv, err := s.store.FindDirectConversation(ctx, userID, otherID)
	switch {
	case err == nil:
		return &ConversationView{Conversation: conv, OtherParticipant: &profile}, false, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, false, domain.Persistence("find conversation", err)
	}

	defer observe("create_conversation", time.Now())
	conv, err = s.store.CreateConversation(ctx, []string{userID, otherID})
	if err != nil {
		return nil, false, domain.Persistence("create conversation", err)
	}
	s.logger.Info("Conversation created", "conversation_id", conv.ID, "user_id", userID, "participant_id", otherID)
	return &ConversationView{Conversation: conv, OtherParticipant: &profile}, true, nil
}

// ListConversations returns userID's conversations, most recently active
// first, each with its last message and unread count.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]domain.ConversationSummary, error) {
	defer observe("list_conversations", time.Now())
	list, err := s.store.ConversationsFor(ctx, userID)
	if err != nil {
		return nil, domain.Persistence("list conversations", err)
	}
	return list, nil
}

// Conversation returns the details of one conversation to a participant.
func (s *Service) Conversation(ctx context.Context, userID, conversationID string) (*ConversationView, error) {
	if err := s.authorize(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, domain.Persistence("get conversation", err)
	}

	view := &ConversationView{Conversation: conv}
	if otherID, ok := lo.Find(conv.Participants, func(p string) bool { return p != userID }); ok {
		if u, err := s.store.FindUserByID(ctx, otherID); err == nil {
			profile := u.Profile()
			view.OtherParticipant = &profile
		} else if !errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Persistence("find participant", err)
		}
	}
	return view, nil
}

// History returns one page of messages, oldest first. Page 1 holds the newest
// messages; limit is clamped to domain.MaxPageSize.
func (s *Service) History(ctx context.Context, userID, conversationID string, page, limit int) ([]domain.Message, error) {
	if err := s.authorize(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	defer observe("list_messages", time.Now())
	msgs, err := s.store.ListMessages(ctx, conversationID, page, limit)
	if err != nil {
		return nil, domain.Persistence("list messages", err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}

// User search bounds.
const (
	MinSearchLength  = 2
	MaxSearchResults = 10
)

// SearchUsers finds active users other than userID to start a conversation
// with. Queries shorter than MinSearchLength return an empty list.
func (s *Service) SearchUsers(ctx context.Context, userID, query string) ([]domain.PublicProfile, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < MinSearchLength {
		return []domain.PublicProfile{}, nil
	}
	defer observe("search_users", time.Now())
	users, err := s.store.SearchUsers(ctx, query, userID, MaxSearchResults)
	if err != nil {
		return nil, domain.Persistence("search users", err)
	}
	if users == nil {
		users = []domain.PublicProfile{}
	}
	return users, nil
}
