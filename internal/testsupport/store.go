package testsupport

import (
	"context"
	"testing"

	"curator/internal/config"
	"curator/internal/queue"
)

// MustOpenStore opens the queue store for tests that need real persistence.
// Tests are skipped when CURATOR_TEST_DATABASE_URL is not set; the variable
// should point at a throwaway Postgres database. Tables are truncated before
// the test runs so every test starts from an empty queue.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	if cfg.Database.URL == "" {
		t.Skip("CURATOR_TEST_DATABASE_URL not set; skipping database test")
	}

	ctx := context.Background()
	store, err := queue.Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	if err := store.TruncateAll(ctx); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return store
}
