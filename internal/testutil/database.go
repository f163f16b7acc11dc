// Package testutil provides shared test fixtures for the taxflow packages.
package testutil

import (
	"context"
	"testing"

	"github.com/Veraticus/taxflow/internal/model"
	"github.com/Veraticus/taxflow/internal/storage"
)

// TestDB represents a test database with associated test utilities.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
}

// SetupTestDB creates a new in-memory test database.
// It automatically handles migrations and cleanup.
//
// Example:
//
//	db := testutil.SetupTestDB(t)
//	db.SeedPattern(model.PatternEntry{Kind: model.PatternVendor, Key: "acme corp", Outcome: "taxable"})
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	// Create in-memory SQLite storage
	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	// Run migrations
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	// Register cleanup
	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{
		Storage: store,
		t:       t,
	}
}

// SeedPattern inserts a pattern entry or fails the test.
func (db *TestDB) SeedPattern(entry model.PatternEntry) model.PatternEntry {
	db.t.Helper()
	if err := db.Storage.InsertPattern(context.Background(), &entry); err != nil {
		db.t.Fatalf("failed to seed pattern %s/%s: %v", entry.Kind, entry.Key, err)
	}
	return entry
}

// SeedChunks inserts corpus chunks or fails the test.
func (db *TestDB) SeedChunks(chunks ...model.Chunk) {
	db.t.Helper()
	if err := db.Storage.SaveChunks(context.Background(), chunks); err != nil {
		db.t.Fatalf("failed to seed chunks: %v", err)
	}
}
