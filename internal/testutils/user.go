package testutils

import (
	"context"
	"testing"

	"github.com/nfrund/parley/internal/database"
	"github.com/nfrund/parley/internal/domain"
)

// ActiveUser returns an active user whose username equals its id.
func ActiveUser(id string) *domain.User {
	return &domain.User{ID: id, Username: id, IsActive: true}
}

// InactiveUser returns a deactivated account.
func InactiveUser(id string) *domain.User {
	return &domain.User{ID: id, Username: id, IsActive: false}
}

// SeedUsers saves users into store.
func SeedUsers(t *testing.T, store database.Store, users ...*domain.User) {
	t.Helper()
	for _, u := range users {
		if err := store.SaveUser(context.Background(), u); err != nil {
			t.Fatalf("seeding user %s: %v", u.ID, err)
		}
	}
}

// SeedConversation creates a conversation between the given participants.
func SeedConversation(t *testing.T, store database.Store, participants ...string) *domain.Conversation {
	t.Helper()
	conv, err := store.CreateConversation(context.Background(), participants)
	if err != nil {
		t.Fatalf("seeding conversation: %v", err)
	}
	return conv
}
