package testutil

import (
	"testing"

	"pinnit-go/internal/database"
	"pinnit-go/internal/database/migrations"
)

// NewTestLocalStore creates an in-memory SQLite store with migrations applied.
// The store is closed when the test completes.
func NewTestLocalStore(t *testing.T) *database.SQLiteStore {
	t.Helper()

	sqlDB, err := database.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if err := migrations.MigrateUp(sqlDB); err != nil {
		sqlDB.Close()
		t.Fatalf("failed to apply migrations: %v", err)
	}

	store := database.NewSQLiteStoreFromDB(sqlDB)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}
