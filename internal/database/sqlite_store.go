package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	_ "modernc.org/sqlite"

	"github.com/nfrund/parley/internal/domain"
)

// SQLiteStore implements Store on modernc.org/sqlite. Timestamps are stored as
// unix nanoseconds so ordering comparisons stay numeric.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path. ":memory:" gives a
// private in-memory database, which is what the tests use.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store", "driver", "sqlite")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection serializes every write transaction, which is what makes
	// the monotonic created_at assignment in AppendMessage race free. It also
	// keeps a ":memory:" database alive for the store's lifetime.
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			username   TEXT NOT NULL,
			email      TEXT NOT NULL DEFAULT '',
			first_name TEXT NOT NULL DEFAULT '',
			last_name  TEXT NOT NULL DEFAULT '',
			avatar     TEXT NOT NULL DEFAULT '',
			is_active  INTEGER NOT NULL DEFAULT 1
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id              TEXT PRIMARY KEY,
			created_at      INTEGER NOT NULL,
			last_message_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id TEXT NOT NULL,
			user_id         TEXT NOT NULL,
			PRIMARY KEY (conversation_id, user_id),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_participants_user
			ON conversation_participants(user_id);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_id       TEXT NOT NULL,
			content         TEXT NOT NULL,
			type            TEXT NOT NULL DEFAULT 'TEXT',
			is_read         INTEGER NOT NULL DEFAULT 0,
			created_at      INTEGER NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_messages_unread
			ON messages(conversation_id, is_read, sender_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveUser inserts or updates a user.
func (s *SQLiteStore) SaveUser(ctx context.Context, u *domain.User) error {
	const q = `
		INSERT INTO users (id, username, email, first_name, last_name, avatar, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			email = excluded.email,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			avatar = excluded.avatar,
			is_active = excluded.is_active`
	if u.ID == "" || u.Username == "" {
		return NewDBError(ErrInvalidInput, "user id and username are required")
	}
	_, err := s.db.ExecContext(ctx, q, u.ID, u.Username, u.Email, u.FirstName, u.LastName, u.Avatar, u.IsActive)
	if err != nil {
		return NewDBError(err, "save user").WithQuery(q)
	}
	return nil
}

// FindUserByID returns domain.ErrNotFound when the user does not exist.
func (s *SQLiteStore) FindUserByID(ctx context.Context, id string) (*domain.User, error) {
	const q = `SELECT id, username, email, first_name, last_name, avatar, is_active FROM users WHERE id = ?`
	var u domain.User
	err := s.db.QueryRowContext(ctx, q, id).Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.Avatar, &u.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, NewDBError(err, "find user").WithQuery(q)
	}
	return &u, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchUsers matches query as a substring. SQLite's LIKE ignores case for
// ASCII letters.
func (s *SQLiteStore) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]domain.PublicProfile, error) {
	const q = `
		SELECT id, username, first_name, last_name, avatar FROM users
		WHERE is_active = 1 AND id != ?1
			AND (username LIKE ?2 ESCAPE '\'
				OR first_name LIKE ?2 ESCAPE '\'
				OR last_name LIKE ?2 ESCAPE '\')
		ORDER BY username COLLATE NOCASE
		LIMIT ?3`
	pattern := "%" + likeEscaper.Replace(query) + "%"
	rows, err := s.db.QueryContext(ctx, q, excludeID, pattern, limit)
	if err != nil {
		return nil, NewDBError(err, "search users").WithQuery(strings.TrimSpace(q))
	}
	defer rows.Close()

	users := []domain.PublicProfile{}
	for rows.Next() {
		var p domain.PublicProfile
		if err := rows.Scan(&p.ID, &p.Username, &p.FirstName, &p.LastName, &p.Avatar); err != nil {
			return nil, NewDBError(err, "scan user")
		}
		users = append(users, p)
	}
	return users, rows.Err()
}

// IsParticipant answers the membership question straight from the database.
func (s *SQLiteStore) IsParticipant(ctx context.Context, userID, conversationID string) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM conversation_participants WHERE conversation_id = ? AND user_id = ?)`
	var ok bool
	if err := s.db.QueryRowContext(ctx, q, conversationID, userID).Scan(&ok); err != nil {
		return false, NewDBError(err, "check participant").WithQuery(q)
	}
	return ok, nil
}

// Participants lists the user ids of a conversation.
func (s *SQLiteStore) Participants(ctx context.Context, conversationID string) ([]string, error) {
	const q = `SELECT user_id FROM conversation_participants WHERE conversation_id = ? ORDER BY user_id`
	rows, err := s.db.QueryContext(ctx, q, conversationID)
	if err != nil {
		return nil, NewDBError(err, "list participants").WithQuery(q)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, NewDBError(err, "scan participant")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateConversation persists a new conversation and its participants.
func (s *SQLiteStore) CreateConversation(ctx context.Context, participants []string) (*domain.Conversation, error) {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, NewDBError(err, "begin create conversation")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (id, created_at, last_message_at) VALUES (?, ?, ?)`,
		conv.ID, now.UnixNano(), now.UnixNano()); err != nil {
		return nil, NewDBError(err, "insert conversation")
	}
	for _, p := range participants {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_participants (conversation_id, user_id) VALUES (?, ?)`,
			conv.ID, p); err != nil {
			return nil, NewDBError(err, "insert participant")
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, NewDBError(err, "commit create conversation")
	}
	return conv, nil
}

// FindDirectConversation finds the conversation whose participants are exactly a and b.
func (s *SQLiteStore) FindDirectConversation(ctx context.Context, a, b string) (*domain.Conversation, error) {
	const q = `
		SELECT c.id FROM conversations c
		JOIN conversation_participants pa ON pa.conversation_id = c.id AND pa.user_id = ?
		JOIN conversation_participants pb ON pb.conversation_id = c.id AND pb.user_id = ?
		WHERE (SELECT COUNT(*) FROM conversation_participants p WHERE p.conversation_id = c.id) = 2
		ORDER BY c.created_at
		LIMIT 1`
	var id string
	err := s.db.QueryRowContext(ctx, q, a, b).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, NewDBError(err, "find direct conversation").WithQuery(q)
	}
	return s.GetConversation(ctx, id)
}

// GetConversation returns domain.ErrNotFound for unknown ids.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	const q = `SELECT id, created_at, last_message_at FROM conversations WHERE id = ?`
	var (
		conv            domain.Conversation
		created, latest int64
	)
	err := s.db.QueryRowContext(ctx, q, id).Scan(&conv.ID, &created, &latest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, NewDBError(err, "get conversation").WithQuery(q)
	}
	conv.CreatedAt = fromNanos(created)
	conv.LastMessageAt = fromNanos(latest)

	conv.Participants, err = s.Participants(ctx, id)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// AppendMessage stores a message and bumps the conversation's lastMessageAt in
// one transaction. created_at is forced strictly past the newest message of
// the conversation so the log order equals the insertion order.
func (s *SQLiteStore) AppendMessage(ctx context.Context, m NewMessage) (*domain.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, NewDBError(err, "begin append message")
	}
	defer tx.Rollback()

	var newest sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM messages WHERE conversation_id = ?`, m.ConversationID).Scan(&newest); err != nil {
		return nil, NewDBError(err, "read newest message")
	}

	created := time.Now().UTC().UnixNano()
	if newest.Valid && created <= newest.Int64 {
		created = newest.Int64 + 1
	}

	msg := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Type:           m.Type,
		CreatedAt:      fromNanos(created),
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = MAX(last_message_at, ?) WHERE id = ?`,
		created, m.ConversationID)
	if err != nil {
		return nil, NewDBError(err, "bump last message")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, content, type, is_read, created_at) VALUES (?, ?, ?, ?, ?, 0, ?)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content, string(msg.Type), created); err != nil {
		return nil, NewDBError(err, "insert message")
	}

	var sender domain.PublicProfile
	err = tx.QueryRowContext(ctx,
		`SELECT id, username, first_name, last_name, avatar FROM users WHERE id = ?`, m.SenderID).
		Scan(&sender.ID, &sender.Username, &sender.FirstName, &sender.LastName, &sender.Avatar)
	switch {
	case err == nil:
		msg.Sender = &sender
	case errors.Is(err, sql.ErrNoRows):
		msg.Sender = &domain.PublicProfile{ID: m.SenderID}
	default:
		return nil, NewDBError(err, "load sender profile")
	}

	if err := tx.Commit(); err != nil {
		return nil, NewDBError(err, "commit append message")
	}
	return msg, nil
}

// MarkRead flips every unread message not sent by readerID and reports how many
// rows changed.
func (s *SQLiteStore) MarkRead(ctx context.Context, conversationID, readerID string) (int, error) {
	const q = `UPDATE messages SET is_read = 1 WHERE conversation_id = ? AND sender_id != ? AND is_read = 0`
	res, err := s.db.ExecContext(ctx, q, conversationID, readerID)
	if err != nil {
		return 0, NewDBError(err, "mark read").WithQuery(q)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, NewDBError(err, "mark read rows affected")
	}
	return int(n), nil
}

const messageColumns = `
	m.id, m.conversation_id, m.sender_id, m.content, m.type, m.is_read, m.created_at,
	COALESCE(u.username, ''), COALESCE(u.first_name, ''), COALESCE(u.last_name, ''), COALESCE(u.avatar, '')`

func scanMessage(rows *sql.Rows) (domain.Message, error) {
	var (
		m       domain.Message
		typ     string
		created int64
		sender  domain.PublicProfile
	)
	err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &typ, &m.IsRead, &created,
		&sender.Username, &sender.FirstName, &sender.LastName, &sender.Avatar)
	if err != nil {
		return m, err
	}
	m.Type = domain.MessageType(typ)
	m.CreatedAt = fromNanos(created)
	sender.ID = m.SenderID
	m.Sender = &sender
	return m, nil
}

// ListMessages fetches a page newest first and returns it reversed.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, page, limit int) ([]domain.Message, error) {
	limit, offset, ok := pageWindow(page, limit)
	if !ok {
		return []domain.Message{}, nil
	}

	q := `SELECT` + messageColumns + `
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = ?
		ORDER BY m.created_at DESC
		LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, q, conversationID, limit, offset)
	if err != nil {
		return nil, NewDBError(err, "list messages").WithQuery(q)
	}
	defer rows.Close()

	messages := make([]domain.Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, NewDBError(err, "scan message")
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, NewDBError(err, "iterate messages")
	}
	return lo.Reverse(messages), nil
}

// ConversationsFor lists userID's conversations ordered by lastMessageAt desc.
func (s *SQLiteStore) ConversationsFor(ctx context.Context, userID string) ([]domain.ConversationSummary, error) {
	const q = `
		SELECT c.id, c.last_message_at FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.last_message_at DESC`
	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, NewDBError(err, "list conversations").WithQuery(q)
	}

	var summaries []domain.ConversationSummary
	for rows.Next() {
		var (
			sum    domain.ConversationSummary
			latest int64
		)
		if err := rows.Scan(&sum.ID, &latest); err != nil {
			rows.Close()
			return nil, NewDBError(err, "scan conversation")
		}
		sum.LastMessageAt = fromNanos(latest)
		summaries = append(summaries, sum)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, NewDBError(err, "iterate conversations")
	}

	// The pool holds a single connection, so the rows above must be closed
	// before the per-conversation lookups run.
	for i := range summaries {
		if err := s.fillSummary(ctx, userID, &summaries[i]); err != nil {
			return nil, err
		}
	}
	if summaries == nil {
		summaries = []domain.ConversationSummary{}
	}
	return summaries, nil
}

func (s *SQLiteStore) fillSummary(ctx context.Context, userID string, sum *domain.ConversationSummary) error {
	var other domain.PublicProfile
	err := s.db.QueryRowContext(ctx, `
		SELECT p.user_id, COALESCE(u.username, ''), COALESCE(u.first_name, ''), COALESCE(u.last_name, ''), COALESCE(u.avatar, '')
		FROM conversation_participants p
		LEFT JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id = ? AND p.user_id != ?
		ORDER BY p.user_id LIMIT 1`, sum.ID, userID).
		Scan(&other.ID, &other.Username, &other.FirstName, &other.LastName, &other.Avatar)
	switch {
	case err == nil:
		sum.OtherParticipant = &other
	case !errors.Is(err, sql.ErrNoRows):
		return NewDBError(err, "load other participant")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT`+messageColumns+`
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = ?
		ORDER BY m.created_at DESC
		LIMIT 1`, sum.ID)
	if err != nil {
		return NewDBError(err, "load last message")
	}
	if rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return NewDBError(err, "scan last message")
		}
		sum.LastMessage = &m
	}
	rows.Close()

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND sender_id != ? AND is_read = 0`,
		sum.ID, userID).Scan(&sum.UnreadCount)
	if err != nil {
		return NewDBError(err, "count unread")
	}
	return nil
}

// Peers returns the distinct users sharing a conversation with userID.
func (s *SQLiteStore) Peers(ctx context.Context, userID string) ([]string, error) {
	const q = `
		SELECT DISTINCT other.user_id
		FROM conversation_participants me
		JOIN conversation_participants other ON other.conversation_id = me.conversation_id
		WHERE me.user_id = ? AND other.user_id != ?
		ORDER BY other.user_id`
	rows, err := s.db.QueryContext(ctx, q, userID, userID)
	if err != nil {
		return nil, NewDBError(err, "list peers").WithQuery(strings.TrimSpace(q))
	}
	defer rows.Close()

	var peers []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, NewDBError(err, "scan peer")
		}
		peers = append(peers, id)
	}
	return peers, rows.Err()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
