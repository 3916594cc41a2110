// Package testutils holds fixtures shared by the integration tests.
package testutils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joho/godotenv"

	"github.com/nfrund/parley/internal/config"
)

// ConfigForTests returns a valid configuration backed by an in-memory SQLite
// store. Values from the project's .env.test, when present, are applied to
// the environment first so PARLEY_* overrides reach FromEnv.
func ConfigForTests(t *testing.T) *config.Config {
	t.Helper()

	// Find project root by looking for go.mod to reliably locate .env.test
	path, _ := os.Getwd()
	for {
		if _, err := os.Stat(filepath.Join(path, "go.mod")); err == nil {
			break
		}
		if path == filepath.Dir(path) {
			t.Fatalf("could not find project root with go.mod")
		}
		path = filepath.Dir(path)
	}

	if env, err := godotenv.Read(filepath.Join(path, ".env.test")); err == nil {
		for key, value := range env {
			t.Setenv(key, value)
		}
	}

	t.Setenv("PARLEY_JWT_SECRET", "test-secret")
	t.Setenv("PARLEY_STORE", config.StoreSQLite)
	t.Setenv("PARLEY_SQLITE_PATH", ":memory:")
	t.Setenv("PARLEY_STORE_TIMEOUT", time.Second.String())

	cfg, err := config.FromEnv()
	if err != nil {
		t.Fatalf("building test config: %v", err)
	}
	return cfg
}
