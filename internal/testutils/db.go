package testutils

import (
	"testing"

	"github.com/nfrund/parley/internal/database"
)

// NewStore opens a private in-memory store closed with the test.
func NewStore(t *testing.T) *database.SQLiteStore {
	t.Helper()
	store, err := database.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
