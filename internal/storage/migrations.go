package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 5

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS file_fingerprints (
					file_id TEXT PRIMARY KEY,
					file_hash TEXT NOT NULL,
					last_processed_at DATETIME NOT NULL,
					processed_count INTEGER NOT NULL DEFAULT 0
				)`,

				`CREATE TABLE IF NOT EXISTS record_hashes (
					file_id TEXT NOT NULL,
					record_id TEXT NOT NULL,
					hash TEXT NOT NULL,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (file_id, record_id)
				)`,

				`CREATE TABLE IF NOT EXISTS results (
					file_id TEXT NOT NULL,
					record_id TEXT NOT NULL,
					run_id TEXT NOT NULL,
					outcome TEXT NOT NULL,
					confidence REAL NOT NULL DEFAULT 0,
					citation TEXT,
					estimate REAL NOT NULL DEFAULT 0,
					explanation TEXT,
					strategy TEXT NOT NULL,
					record_hash TEXT NOT NULL,
					analyzed_at DATETIME NOT NULL,
					PRIMARY KEY (file_id, record_id)
				)`,
				`CREATE INDEX idx_results_run ON results(run_id)`,
			})
		},
	},
	{
		Version:     2,
		Description: "Add result history",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS result_history (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					file_id TEXT NOT NULL,
					record_id TEXT NOT NULL,
					run_id TEXT NOT NULL,
					outcome TEXT NOT NULL,
					confidence REAL NOT NULL DEFAULT 0,
					citation TEXT,
					estimate REAL NOT NULL DEFAULT 0,
					strategy TEXT NOT NULL,
					record_hash TEXT NOT NULL,
					analyzed_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_result_history_record ON result_history(file_id, record_id)`,
			})
		},
	},
	{
		Version:     3,
		Description: "Add pattern store",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS patterns (
					kind TEXT NOT NULL CHECK (kind IN ('vendor', 'keyword')),
					match_key TEXT NOT NULL,
					outcome TEXT NOT NULL,
					keywords TEXT NOT NULL DEFAULT '[]',
					citation TEXT,
					success_rate REAL NOT NULL DEFAULT 0 CHECK (success_rate >= 0 AND success_rate <= 1),
					sample_count INTEGER NOT NULL DEFAULT 0 CHECK (sample_count >= 0),
					version INTEGER NOT NULL DEFAULT 1,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (kind, match_key, outcome)
				)`,
				`CREATE INDEX idx_patterns_kind ON patterns(kind)`,
			})
		},
	},
	{
		Version:     4,
		Description: "Add correction audit log and archive",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS audit_log (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					correction_id TEXT NOT NULL,
					status TEXT NOT NULL,
					payload TEXT NOT NULL,
					recorded_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_audit_log_correction ON audit_log(correction_id)`,

				`CREATE TABLE IF NOT EXISTS processed_corrections (
					correction_id TEXT PRIMARY KEY,
					processed_at DATETIME NOT NULL
				)`,

				`CREATE TABLE IF NOT EXISTS correction_archive (
					correction_id TEXT PRIMARY KEY,
					record_id TEXT NOT NULL,
					status TEXT NOT NULL,
					payload TEXT NOT NULL,
					archived_at DATETIME NOT NULL
				)`,
			})
		},
	},
	{
		Version:     5,
		Description: "Add reference corpus chunks and checkpoint metadata",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS chunks (
					id TEXT PRIMARY KEY,
					document_id TEXT NOT NULL,
					sequence INTEGER NOT NULL,
					text TEXT NOT NULL,
					category TEXT,
					citation TEXT,
					dimension INTEGER NOT NULL,
					embedding BLOB NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (document_id, sequence)
				)`,
				`CREATE INDEX idx_chunks_document ON chunks(document_id)`,

				`CREATE TABLE IF NOT EXISTS checkpoint_metadata (
					id TEXT PRIMARY KEY,
					created_at DATETIME NOT NULL,
					description TEXT,
					file_size INTEGER,
					row_counts TEXT,
					schema_version INTEGER,
					is_auto BOOLEAN DEFAULT 0,
					parent_checkpoint TEXT
				)`,
			})
		},
	},
}

// Migrate runs all database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	// Get current version
	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	// Apply migrations
	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		// Update version
		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	// Verify we're at the expected schema version
	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
