package database

import (
	"context"
	"fmt"
	"math"

	"github.com/nfrund/parley/internal/config"
	"github.com/nfrund/parley/internal/domain"
)

// NewMessage is the input to AppendMessage.
type NewMessage struct {
	ConversationID string
	SenderID       string
	Content        string
	Type           domain.MessageType
}

// Store is the durable side of the chat core. It doubles as the membership
// oracle and the user directory the credential verifier reads from.
//
// Implementations must make AppendMessage atomic with the lastMessageAt bump
// (which never moves backwards) and MarkRead a single bulk transition that
// reports the rows it changed.
type Store interface {
	domain.UserDirectory
	domain.MembershipOracle

	// SaveUser inserts or replaces a user record.
	SaveUser(ctx context.Context, u *domain.User) error
	// SearchUsers returns up to limit active users other than excludeID whose
	// username, first or last name contains query, ignoring case.
	SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]domain.PublicProfile, error)

	// CreateConversation persists a conversation with the given participants.
	CreateConversation(ctx context.Context, participants []string) (*domain.Conversation, error)
	// FindDirectConversation returns the two-party conversation between a and b,
	// or domain.ErrNotFound.
	FindDirectConversation(ctx context.Context, a, b string) (*domain.Conversation, error)
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)
	Participants(ctx context.Context, conversationID string) ([]string, error)
	// ConversationsFor lists userID's conversations, most recently active first.
	ConversationsFor(ctx context.Context, userID string) ([]domain.ConversationSummary, error)
	// Peers returns every user sharing at least one conversation with userID.
	Peers(ctx context.Context, userID string) ([]string, error)

	AppendMessage(ctx context.Context, m NewMessage) (*domain.Message, error)
	MarkRead(ctx context.Context, conversationID, readerID string) (int, error)
	// ListMessages returns one page of history, oldest first. Page 1 holds the
	// newest messages.
	ListMessages(ctx context.Context, conversationID string, page, limit int) ([]domain.Message, error)

	Ping(ctx context.Context) error
	Close() error
}

// Open builds the store selected by the configuration.
func Open(ctx context.Context, cfg config.Provider) (Store, error) {
	switch cfg.GetStoreDriver() {
	case config.StoreSQLite:
		return NewSQLiteStore(cfg.GetSQLitePath())
	case config.StoreSurreal:
		conn := NewConnection(cfg)
		if err := conn.Connect(ctx); err != nil {
			return nil, err
		}
		s := NewSurrealStore(conn)
		if err := s.DefineSchema(ctx); err != nil {
			_ = conn.Close(ctx)
			return nil, err
		}
		conn.StartMonitoring()
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.GetStoreDriver())
	}
}

func validateParticipants(participants []string) error {
	if len(participants) < 2 {
		return NewDBError(ErrInvalidInput, "a conversation needs at least two participants")
	}
	seen := make(map[string]struct{}, len(participants))
	for _, p := range participants {
		if p == "" {
			return NewDBError(ErrInvalidInput, "empty participant id")
		}
		if _, dup := seen[p]; dup {
			return NewDBError(ErrInvalidInput, fmt.Sprintf("duplicate participant %s", p))
		}
		seen[p] = struct{}{}
	}
	return nil
}

// pageWindow turns a page number into LIMIT/OFFSET. ok is false when the
// page lies past any representable offset; such a page is empty.
func pageWindow(page, limit int) (lim, offset int, ok bool) {
	if page < 1 {
		page = domain.DefaultPage
	}
	if limit < 1 {
		limit = domain.DefaultPageSize
	}
	if limit > domain.MaxPageSize {
		limit = domain.MaxPageSize
	}
	if page-1 > math.MaxInt/limit {
		return limit, 0, false
	}
	return limit, (page - 1) * limit, true
}
