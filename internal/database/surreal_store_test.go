package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/parley/internal/domain"
)

func TestSurrealStore(t *testing.T) {
	s := setupSurrealStore(t)
	ctx := context.Background()
	conv := seedPair(t, s)

	t.Run("membership", func(t *testing.T) {
		ok, err := s.IsParticipant(ctx, "alice", conv.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.IsParticipant(ctx, "mallory", conv.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("append bumps last message and keeps order", func(t *testing.T) {
		var last *domain.Message
		for _, c := range []string{"one", "two", "three"} {
			m, err := s.AppendMessage(ctx, NewMessage{ConversationID: conv.ID, SenderID: "alice", Content: c, Type: domain.MessageText})
			require.NoError(t, err)
			assert.Equal(t, "alice", m.Sender.Username)
			last = m
		}

		updated, err := s.GetConversation(ctx, conv.ID)
		require.NoError(t, err)
		assert.False(t, updated.LastMessageAt.Before(last.CreatedAt))

		history, err := s.ListMessages(ctx, conv.ID, 1, 50)
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, "one", history[0].Content)
		assert.Equal(t, "three", history[2].Content)
	})

	t.Run("mark read is idempotent", func(t *testing.T) {
		n, err := s.MarkRead(ctx, conv.ID, "bob")
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		n, err = s.MarkRead(ctx, conv.ID, "bob")
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("summaries and peers", func(t *testing.T) {
		list, err := s.ConversationsFor(ctx, "bob")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "alice", list[0].OtherParticipant.ID)
		assert.Equal(t, "three", list[0].LastMessage.Content)
		assert.Equal(t, 0, list[0].UnreadCount)

		peers, err := s.Peers(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, []string{"alice"}, peers)
	})

	t.Run("search users", func(t *testing.T) {
		found, err := s.SearchUsers(ctx, "ALI", "bob", 10)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "alice", found[0].ID)

		found, err = s.SearchUsers(ctx, "ali", "alice", 10)
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := s.FindUserByID(ctx, "ghost")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = s.FindDirectConversation(ctx, "alice", "ghost")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestHasLimitClause(t *testing.T) {
	assert.True(t, hasLimitClause("SELECT * FROM message LIMIT 1"))
	assert.True(t, hasLimitClause("select * from message limit $n"))
	assert.False(t, hasLimitClause("SELECT * FROM limits"))
}

func TestRedactDBURL(t *testing.T) {
	assert.Equal(t, "ws://root:xxxxx@localhost:8000/rpc", redactDBURL("ws://root:secret@localhost:8000/rpc"))
	assert.Equal(t, "invalid-url", redactDBURL("://bad"))
}
