package database

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/surrealdb/surrealdb.go"

	"github.com/nfrund/parley/internal/domain"
)

// SurrealStore implements Store on SurrealDB. Records use plain string keys
// (user:<id>, conversation:<id>, message:<id>) and timestamps are unix
// nanoseconds, matching the SQLite store.
type SurrealStore struct {
	conn *Connection
}

var _ Store = (*SurrealStore)(nil)

// NewSurrealStore wraps an established connection.
func NewSurrealStore(conn *Connection) *SurrealStore {
	return &SurrealStore{conn: conn}
}

type surrealUser struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Avatar    string `json:"avatar"`
	IsActive  bool   `json:"is_active"`
}

func (u surrealUser) toDomain() *domain.User {
	return &domain.User{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Avatar:    u.Avatar,
		IsActive:  u.IsActive,
	}
}

type surrealConversation struct {
	ID            string   `json:"id"`
	Participants  []string `json:"participants"`
	CreatedAt     int64    `json:"created_at"`
	LastMessageAt int64    `json:"last_message_at"`
}

func (c surrealConversation) toDomain() *domain.Conversation {
	return &domain.Conversation{
		ID:            c.ID,
		Participants:  c.Participants,
		CreatedAt:     fromNanos(c.CreatedAt),
		LastMessageAt: fromNanos(c.LastMessageAt),
	}
}

type surrealMessage struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Content        string `json:"content"`
	Type           string `json:"type"`
	IsRead         bool   `json:"is_read"`
	CreatedAt      int64  `json:"created_at"`
}

func (m surrealMessage) toDomain() domain.Message {
	return domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Type:           domain.MessageType(m.Type),
		IsRead:         m.IsRead,
		CreatedAt:      fromNanos(m.CreatedAt),
	}
}

type countRow struct {
	Count int `json:"count"`
}

const (
	userFields         = `meta::id(id) AS id, username, email, first_name, last_name, avatar, is_active`
	conversationFields = `meta::id(id) AS id, participants, created_at, last_message_at`
	messageFields      = `meta::id(id) AS id, conversation_id, sender_id, content, type, is_read, created_at`
)

// DefineSchema creates the indexes the store's queries rely on.
func (s *SurrealStore) DefineSchema(ctx context.Context) error {
	const q = `
		DEFINE INDEX IF NOT EXISTS message_conversation_created ON message FIELDS conversation_id, created_at;
		DEFINE INDEX IF NOT EXISTS conversation_participants ON conversation FIELDS participants;
	`
	return s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		return Execute(ctx, db, q, nil)
	})
}

// Ping asks the server for its version.
func (s *SurrealStore) Ping(ctx context.Context) error {
	return s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		_, err := db.Version(ctx)
		return err
	})
}

// Close closes the underlying connection.
func (s *SurrealStore) Close() error {
	return s.conn.Close(context.Background())
}

func (s *SurrealStore) SaveUser(ctx context.Context, u *domain.User) error {
	if u.ID == "" || u.Username == "" {
		return NewDBError(ErrInvalidInput, "user id and username are required")
	}
	const q = `UPSERT type::thing('user', $id) SET
		username = $username, email = $email, first_name = $first_name,
		last_name = $last_name, avatar = $avatar, is_active = $is_active
		RETURN NONE`
	params := map[string]any{
		"id":         u.ID,
		"username":   u.Username,
		"email":      u.Email,
		"first_name": u.FirstName,
		"last_name":  u.LastName,
		"avatar":     u.Avatar,
		"is_active":  u.IsActive,
	}
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		return Execute(ctx, db, q, params)
	})
	return WrapError(err, "save user")
}

func (s *SurrealStore) FindUserByID(ctx context.Context, id string) (*domain.User, error) {
	var row *surrealUser
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		row, err = QueryOne[surrealUser](ctx, db,
			`SELECT `+userFields+` FROM type::thing('user', $id)`, map[string]any{"id": id})
		return err
	})
	if err != nil {
		return nil, WrapError(err, "find user")
	}
	if row == nil {
		return nil, domain.ErrNotFound
	}
	return row.toDomain(), nil
}

func (s *SurrealStore) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]domain.PublicProfile, error) {
	var rows []surrealUser
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		rows, err = Query[surrealUser](ctx, db,
			`SELECT `+userFields+` FROM user
			 WHERE is_active = true AND meta::id(id) != $exclude
			   AND (string::contains(string::lowercase(username), $q)
			     OR string::contains(string::lowercase(first_name), $q)
			     OR string::contains(string::lowercase(last_name), $q))
			 ORDER BY username LIMIT $limit`,
			map[string]any{"q": strings.ToLower(query), "exclude": excludeID, "limit": limit})
		return err
	})
	if err != nil {
		return nil, WrapError(err, "search users")
	}
	return lo.Map(rows, func(u surrealUser, _ int) domain.PublicProfile {
		return u.toDomain().Profile()
	}), nil
}

func (s *SurrealStore) IsParticipant(ctx context.Context, userID, conversationID string) (bool, error) {
	var rows []bool
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		rows, err = Query[bool](ctx, db,
			`SELECT VALUE participants CONTAINS $user FROM type::thing('conversation', $conversation)`,
			map[string]any{"user": userID, "conversation": conversationID})
		return err
	})
	if err != nil {
		return false, WrapError(err, "check participant")
	}
	return len(rows) > 0 && rows[0], nil
}

func (s *SurrealStore) Participants(ctx context.Context, conversationID string) ([]string, error) {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return conv.Participants, nil
}

func (s *SurrealStore) CreateConversation(ctx context.Context, participants []string) (*domain.Conversation, error) {
	if err := validateParticipants(participants); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	conv := &domain.Conversation{
		ID:            uuid.NewString(),
		Participants:  append([]string(nil), participants...),
		CreatedAt:     now,
		LastMessageAt: now,
	}
	const q = `CREATE type::thing('conversation', $id) SET
		participants = $participants, created_at = $now, last_message_at = $now
		RETURN NONE`
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		return Execute(ctx, db, q, map[string]any{
			"id":           conv.ID,
			"participants": conv.Participants,
			"now":          now.UnixNano(),
		})
	})
	if err != nil {
		return nil, WrapError(err, "create conversation")
	}
	return conv, nil
}

func (s *SurrealStore) FindDirectConversation(ctx context.Context, a, b string) (*domain.Conversation, error) {
	var row *surrealConversation
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		row, err = QueryOne[surrealConversation](ctx, db,
			`SELECT `+conversationFields+` FROM conversation
			 WHERE array::len(participants) = 2 AND participants CONTAINS $a AND participants CONTAINS $b
			 ORDER BY created_at`,
			map[string]any{"a": a, "b": b})
		return err
	})
	if err != nil {
		return nil, WrapError(err, "find direct conversation")
	}
	if row == nil {
		return nil, domain.ErrNotFound
	}
	return row.toDomain(), nil
}

func (s *SurrealStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	var row *surrealConversation
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		row, err = QueryOne[surrealConversation](ctx, db,
			`SELECT `+conversationFields+` FROM type::thing('conversation', $id)`, map[string]any{"id": id})
		return err
	})
	if err != nil {
		return nil, WrapError(err, "get conversation")
	}
	if row == nil {
		return nil, domain.ErrNotFound
	}
	return row.toDomain(), nil
}

// AppendMessage creates the message and bumps last_message_at inside one
// SurrealDB transaction. created_at is kept strictly past the newest message
// already stored for the conversation.
func (s *SurrealStore) AppendMessage(ctx context.Context, m NewMessage) (*domain.Message, error) {
	if _, err := s.GetConversation(ctx, m.ConversationID); err != nil {
		return nil, err
	}

	const q = `
		BEGIN TRANSACTION;
		LET $newest = (SELECT VALUE created_at FROM message WHERE conversation_id = $conversation ORDER BY created_at DESC LIMIT 1)[0] ?? 0;
		LET $created = math::max([$now, $newest + 1]);
		CREATE type::thing('message', $id) SET
			conversation_id = $conversation, sender_id = $sender, content = $content,
			type = $type, is_read = false, created_at = $created
			RETURN NONE;
		UPDATE type::thing('conversation', $conversation) SET
			last_message_at = math::max([last_message_at, $created])
			RETURN NONE;
		SELECT ` + messageFields + ` FROM type::thing('message', $id);
		COMMIT TRANSACTION;`

	id := uuid.NewString()
	var rows []surrealMessage
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		rows, err = QueryLast[surrealMessage](ctx, db, q, map[string]any{
			"id":           id,
			"conversation": m.ConversationID,
			"sender":       m.SenderID,
			"content":      m.Content,
			"type":         string(m.Type),
			"now":          time.Now().UTC().UnixNano(),
		})
		return err
	})
	if err != nil {
		return nil, WrapError(err, "append message")
	}
	if len(rows) == 0 {
		return nil, NewDBError(ErrQueryFailed, "append message returned no row")
	}

	msg := rows[0].toDomain()
	profiles, err := s.profiles(ctx, []string{m.SenderID})
	if err != nil {
		return nil, err
	}
	msg.Sender = profileOrStub(profiles, m.SenderID)
	return &msg, nil
}

func (s *SurrealStore) MarkRead(ctx context.Context, conversationID, readerID string) (int, error) {
	const q = `UPDATE message SET is_read = true
		WHERE conversation_id = $conversation AND sender_id != $reader AND is_read = false
		RETURN meta::id(id) AS id`
	var rows []map[string]any
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		rows, err = Query[map[string]any](ctx, db, q, map[string]any{
			"conversation": conversationID,
			"reader":       readerID,
		})
		return err
	})
	if err != nil {
		return 0, WrapError(err, "mark read")
	}
	return len(rows), nil
}

func (s *SurrealStore) ListMessages(ctx context.Context, conversationID string, page, limit int) ([]domain.Message, error) {
	limit, offset, ok := pageWindow(page, limit)
	if !ok {
		return []domain.Message{}, nil
	}

	var rows []surrealMessage
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		rows, err = Query[surrealMessage](ctx, db,
			`SELECT `+messageFields+` FROM message WHERE conversation_id = $conversation
			 ORDER BY created_at DESC LIMIT $limit START $start`,
			map[string]any{"conversation": conversationID, "limit": limit, "start": offset})
		return err
	})
	if err != nil {
		return nil, WrapError(err, "list messages")
	}

	senders := lo.Uniq(lo.Map(rows, func(m surrealMessage, _ int) string { return m.SenderID }))
	profiles, err := s.profiles(ctx, senders)
	if err != nil {
		return nil, err
	}

	messages := lo.Map(rows, func(m surrealMessage, _ int) domain.Message {
		msg := m.toDomain()
		msg.Sender = profileOrStub(profiles, m.SenderID)
		return msg
	})
	return lo.Reverse(messages), nil
}

func (s *SurrealStore) ConversationsFor(ctx context.Context, userID string) ([]domain.ConversationSummary, error) {
	var rows []surrealConversation
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		rows, err = Query[surrealConversation](ctx, db,
			`SELECT `+conversationFields+` FROM conversation WHERE participants CONTAINS $user ORDER BY last_message_at DESC`,
			map[string]any{"user": userID})
		return err
	})
	if err != nil {
		return nil, WrapError(err, "list conversations")
	}

	others := lo.Uniq(lo.FilterMap(rows, func(c surrealConversation, _ int) (string, bool) {
		return otherParticipant(c.Participants, userID)
	}))
	profiles, err := s.profiles(ctx, others)
	if err != nil {
		return nil, err
	}

	summaries := make([]domain.ConversationSummary, 0, len(rows))
	for _, c := range rows {
		sum := domain.ConversationSummary{ID: c.ID, LastMessageAt: fromNanos(c.LastMessageAt)}
		if other, ok := otherParticipant(c.Participants, userID); ok {
			sum.OtherParticipant = profileOrStub(profiles, other)
		}
		if err := s.fillSummary(ctx, userID, &sum); err != nil {
			return nil, err
		}
		summaries = append(summaries, sum)
	}
	return summaries, nil
}

func (s *SurrealStore) fillSummary(ctx context.Context, userID string, sum *domain.ConversationSummary) error {
	var (
		last   []surrealMessage
		counts []countRow
	)
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		last, err = Query[surrealMessage](ctx, db,
			`SELECT `+messageFields+` FROM message WHERE conversation_id = $conversation ORDER BY created_at DESC LIMIT 1`,
			map[string]any{"conversation": sum.ID})
		if err != nil {
			return err
		}
		counts, err = Query[countRow](ctx, db,
			`SELECT count() AS count FROM message
			 WHERE conversation_id = $conversation AND sender_id != $user AND is_read = false GROUP ALL`,
			map[string]any{"conversation": sum.ID, "user": userID})
		return err
	})
	if err != nil {
		return WrapError(err, "summarize conversation")
	}

	if len(last) > 0 {
		msg := last[0].toDomain()
		profiles, err := s.profiles(ctx, []string{msg.SenderID})
		if err != nil {
			return err
		}
		msg.Sender = profileOrStub(profiles, msg.SenderID)
		sum.LastMessage = &msg
	}
	if len(counts) > 0 {
		sum.UnreadCount = counts[0].Count
	}
	return nil
}

func (s *SurrealStore) Peers(ctx context.Context, userID string) ([]string, error) {
	var rows [][]string
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		rows, err = Query[[]string](ctx, db,
			`SELECT VALUE participants FROM conversation WHERE participants CONTAINS $user`,
			map[string]any{"user": userID})
		return err
	})
	if err != nil {
		return nil, WrapError(err, "list peers")
	}

	peers := lo.Without(lo.Uniq(lo.Flatten(rows)), userID)
	sort.Strings(peers)
	return peers, nil
}

// profiles loads public profiles for ids in one query.
func (s *SurrealStore) profiles(ctx context.Context, ids []string) (map[string]domain.PublicProfile, error) {
	if len(ids) == 0 {
		return map[string]domain.PublicProfile{}, nil
	}
	var rows []surrealUser
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		rows, err = Query[surrealUser](ctx, db,
			`SELECT `+userFields+` FROM user WHERE meta::id(id) INSIDE $ids`,
			map[string]any{"ids": ids})
		return err
	})
	if err != nil {
		return nil, WrapError(err, "load profiles")
	}
	return lo.SliceToMap(rows, func(u surrealUser) (string, domain.PublicProfile) {
		return u.ID, u.toDomain().Profile()
	}), nil
}

func profileOrStub(profiles map[string]domain.PublicProfile, id string) *domain.PublicProfile {
	if p, ok := profiles[id]; ok {
		return &p
	}
	return &domain.PublicProfile{ID: id}
}

func otherParticipant(participants []string, userID string) (string, bool) {
	return lo.Find(participants, func(p string) bool { return p != userID })
}
