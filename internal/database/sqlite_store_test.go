package database

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/parley/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seedPair creates users alice and bob plus a direct conversation between them.
func seedPair(t *testing.T, s Store) *domain.Conversation {
	t.Helper()
	ctx := context.Background()
	for _, u := range []*domain.User{
		{ID: "alice", Username: "alice", FirstName: "Alice", IsActive: true},
		{ID: "bob", Username: "bob", FirstName: "Bob", IsActive: true},
	} {
		require.NoError(t, s.SaveUser(ctx, u))
	}
	conv, err := s.CreateConversation(ctx, []string{"alice", "bob"})
	require.NoError(t, err)
	return conv
}

func TestSQLiteStore_Users(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.FindUserByID(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.SaveUser(ctx, &domain.User{ID: "u1", Username: "first", IsActive: true}))
	require.NoError(t, s.SaveUser(ctx, &domain.User{ID: "u1", Username: "renamed", IsActive: false}))

	u, err := s.FindUserByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", u.Username)
	assert.False(t, u.IsActive)

	err = s.SaveUser(ctx, &domain.User{ID: "u2"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSQLiteStore_SearchUsers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for _, u := range []*domain.User{
		{ID: "alice", Username: "alice", FirstName: "Alice", IsActive: true},
		{ID: "al", Username: "al_pacino", FirstName: "Alfredo", LastName: "Pacino", IsActive: true},
		{ID: "sal", Username: "sally", LastName: "Salinger", IsActive: true},
		{ID: "ali", Username: "ali", IsActive: false},
		{ID: "bob", Username: "bob", FirstName: "Bob", IsActive: true},
	} {
		require.NoError(t, s.SaveUser(ctx, u))
	}

	ids := func(ps []domain.PublicProfile) []string {
		out := make([]string, len(ps))
		for i, p := range ps {
			out[i] = p.ID
		}
		return out
	}

	found, err := s.SearchUsers(ctx, "AL", "bob", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"al", "alice", "sal"}, ids(found), "case-insensitive, active only")
	assert.Equal(t, "Pacino", found[0].LastName)

	found, err = s.SearchUsers(ctx, "al", "alice", 10)
	require.NoError(t, err)
	assert.NotContains(t, ids(found), "alice", "the caller is excluded")

	found, err = s.SearchUsers(ctx, "al", "bob", 1)
	require.NoError(t, err)
	assert.Len(t, found, 1)

	found, err = s.SearchUsers(ctx, "_p", "bob", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"al"}, ids(found), "wildcards match literally")

	found, err = s.SearchUsers(ctx, "nobody", "bob", 10)
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.NotNil(t, found)
}

func TestSQLiteStore_Conversations(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conv := seedPair(t, s)

	t.Run("membership", func(t *testing.T) {
		ok, err := s.IsParticipant(ctx, "alice", conv.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.IsParticipant(ctx, "mallory", conv.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("find direct conversation either way round", func(t *testing.T) {
		found, err := s.FindDirectConversation(ctx, "bob", "alice")
		require.NoError(t, err)
		assert.Equal(t, conv.ID, found.ID)
		assert.ElementsMatch(t, []string{"alice", "bob"}, found.Participants)

		_, err = s.FindDirectConversation(ctx, "alice", "carol")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("rejects bad participant lists", func(t *testing.T) {
		_, err := s.CreateConversation(ctx, []string{"alice"})
		assert.ErrorIs(t, err, ErrInvalidInput)
		_, err = s.CreateConversation(ctx, []string{"alice", "alice"})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("unknown conversation", func(t *testing.T) {
		_, err := s.GetConversation(ctx, "nope")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("peers", func(t *testing.T) {
		require.NoError(t, s.SaveUser(ctx, &domain.User{ID: "carol", Username: "carol", IsActive: true}))
		_, err := s.CreateConversation(ctx, []string{"alice", "carol"})
		require.NoError(t, err)

		peers, err := s.Peers(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, []string{"bob", "carol"}, peers)

		peers, err = s.Peers(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, []string{"alice"}, peers)
	})
}

func TestSQLiteStore_AppendMessage(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conv := seedPair(t, s)

	msg, err := s.AppendMessage(ctx, NewMessage{ConversationID: conv.ID, SenderID: "alice", Content: "hello", Type: domain.MessageText})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.IsRead)
	require.NotNil(t, msg.Sender)
	assert.Equal(t, "alice", msg.Sender.Username)

	updated, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.False(t, updated.LastMessageAt.Before(msg.CreatedAt))

	_, err = s.AppendMessage(ctx, NewMessage{ConversationID: "missing", SenderID: "alice", Content: "x", Type: domain.MessageText})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLiteStore_ConcurrentSendsKeepOrderAndTimestamp(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conv := seedPair(t, s)

	const perSender = 20
	var wg sync.WaitGroup
	results := make(chan *domain.Message, 2*perSender)
	for _, sender := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(sender string) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				m, err := s.AppendMessage(ctx, NewMessage{
					ConversationID: conv.ID,
					SenderID:       sender,
					Content:        fmt.Sprintf("%s-%d", sender, i),
					Type:           domain.MessageText,
				})
				if !assert.NoError(t, err) {
					return
				}
				results <- m
			}
		}(sender)
	}
	wg.Wait()
	close(results)

	updated, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	for m := range results {
		assert.False(t, updated.LastMessageAt.Before(m.CreatedAt), "lastMessageAt older than %s", m.ID)
	}

	history, err := s.ListMessages(ctx, conv.ID, 1, 100)
	require.NoError(t, err)
	require.Len(t, history, 2*perSender)
	for i := 1; i < len(history); i++ {
		assert.True(t, history[i-1].CreatedAt.Before(history[i].CreatedAt), "history out of order at %d", i)
	}
}

func TestSQLiteStore_MarkReadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conv := seedPair(t, s)

	for i := 0; i < 3; i++ {
		_, err := s.AppendMessage(ctx, NewMessage{ConversationID: conv.ID, SenderID: "alice", Content: "hi", Type: domain.MessageText})
		require.NoError(t, err)
	}
	_, err := s.AppendMessage(ctx, NewMessage{ConversationID: conv.ID, SenderID: "bob", Content: "mine", Type: domain.MessageText})
	require.NoError(t, err)

	n, err := s.MarkRead(ctx, conv.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.MarkRead(ctx, conv.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	history, err := s.ListMessages(ctx, conv.ID, 1, 50)
	require.NoError(t, err)
	for _, m := range history {
		// Bob's own message stays unread until alice reads it.
		assert.Equal(t, m.SenderID == "alice", m.IsRead, "message %s", m.Content)
	}
}

func TestSQLiteStore_ListMessagesPagination(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conv := seedPair(t, s)

	for i := 1; i <= 5; i++ {
		_, err := s.AppendMessage(ctx, NewMessage{ConversationID: conv.ID, SenderID: "alice", Content: fmt.Sprintf("m%d", i), Type: domain.MessageText})
		require.NoError(t, err)
	}

	contents := func(ms []domain.Message) []string {
		out := make([]string, len(ms))
		for i, m := range ms {
			out[i] = m.Content
		}
		return out
	}

	page1, err := s.ListMessages(ctx, conv.ID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"m4", "m5"}, contents(page1))

	page3, err := s.ListMessages(ctx, conv.ID, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, contents(page3))

	all, err := s.ListMessages(ctx, conv.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "m5"}, contents(all))
	assert.Equal(t, "Alice", all[0].Sender.FirstName)

	far, err := s.ListMessages(ctx, conv.ID, math.MaxInt/50+2, 50)
	require.NoError(t, err)
	assert.Empty(t, far, "a page past any offset is empty, not the newest page")
	assert.NotNil(t, far)
}

func TestPageWindow(t *testing.T) {
	tests := []struct {
		name         string
		page, limit  int
		wantLimit    int
		wantOffset   int
		wantInWindow bool
	}{
		{"defaults", 0, 0, domain.DefaultPageSize, 0, true},
		{"third page", 3, 20, 20, 40, true},
		{"limit clamped", 2, 1000, domain.MaxPageSize, domain.MaxPageSize, true},
		{"overflowing page", math.MaxInt, 50, 50, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit, offset, ok := pageWindow(tt.page, tt.limit)
			assert.Equal(t, tt.wantLimit, limit)
			assert.Equal(t, tt.wantOffset, offset)
			assert.Equal(t, tt.wantInWindow, ok)
		})
	}
}

func TestSQLiteStore_ConversationsFor(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	first := seedPair(t, s)

	require.NoError(t, s.SaveUser(ctx, &domain.User{ID: "carol", Username: "carol", IsActive: true}))
	second, err := s.CreateConversation(ctx, []string{"carol", "alice"})
	require.NoError(t, err)

	_, err = s.AppendMessage(ctx, NewMessage{ConversationID: first.ID, SenderID: "bob", Content: "old", Type: domain.MessageText})
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, NewMessage{ConversationID: second.ID, SenderID: "carol", Content: "new", Type: domain.MessageText})
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, NewMessage{ConversationID: second.ID, SenderID: "alice", Content: "reply", Type: domain.MessageText})
	require.NoError(t, err)

	list, err := s.ConversationsFor(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, "carol", list[0].OtherParticipant.ID)
	assert.Equal(t, "reply", list[0].LastMessage.Content)
	assert.Equal(t, 1, list[0].UnreadCount)

	assert.Equal(t, first.ID, list[1].ID)
	assert.Equal(t, "bob", list[1].OtherParticipant.Username)
	assert.Equal(t, 1, list[1].UnreadCount)

	empty, err := s.ConversationsFor(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDBError(t *testing.T) {
	err := NewDBError(ErrQueryFailed, "list peers").WithQuery("SELECT 1")
	assert.True(t, errors.Is(err, ErrQueryFailed))
	assert.Contains(t, err.Error(), "Query: SELECT 1")

	wrapped := WrapError(err, "presence")
	assert.Contains(t, wrapped.Error(), "presence: list peers")
	assert.Nil(t, WrapError(nil, "noop"))
}
