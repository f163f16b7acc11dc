package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/taxflow/internal/common"
	"github.com/Veraticus/taxflow/internal/model"
	"github.com/Veraticus/taxflow/internal/service"
)

// GetFileFingerprint retrieves the stored fingerprint for a file.
func (s *SQLiteStorage) GetFileFingerprint(ctx context.Context, fileID string) (*model.FileFingerprint, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(fileID, "fileID"); err != nil {
		return nil, err
	}

	var fp model.FileFingerprint
	err := s.db.QueryRowContext(ctx, `
		SELECT file_id, file_hash, last_processed_at, processed_count
		FROM file_fingerprints
		WHERE file_id = ?
	`, fileID).Scan(&fp.FileID, &fp.FileHash, &fp.LastProcessedAt, &fp.ProcessedCount)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fingerprint for %s: %w", fileID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file fingerprint: %w", err)
	}

	return &fp, nil
}

// GetRecordHashes returns the stored record hashes of a file keyed by record ID.
func (s *SQLiteStorage) GetRecordHashes(ctx context.Context, fileID string) (map[string]string, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(fileID, "fileID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, hash FROM record_hashes WHERE file_id = ?
	`, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to query record hashes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hashes := make(map[string]string)
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, fmt.Errorf("failed to scan record hash: %w", err)
		}
		hashes[id] = hash
	}

	return hashes, rows.Err()
}

// CommitRun persists results, record hashes and optionally the file fingerprint atomically.
func (s *SQLiteStorage) CommitRun(ctx context.Context, commit service.RunCommit) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(commit.FileID, "fileID"); err != nil {
		return err
	}
	for i := range commit.Results {
		if err := validateResult(&commit.Results[i]); err != nil {
			return fmt.Errorf("result at index %d: %w", i, err)
		}
	}
	if commit.AdvanceFile {
		if err := validateString(commit.FileHash, "fileHash"); err != nil {
			return err
		}
	}

	processedAt := commit.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now()
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for i := range commit.Results {
			if err := s.saveResultTx(ctx, tx, commit.FileID, &commit.Results[i]); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO record_hashes (file_id, record_id, hash, updated_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(file_id, record_id) DO UPDATE SET
					hash = excluded.hash,
					updated_at = excluded.updated_at
			`, commit.FileID, commit.Results[i].RecordID, commit.Results[i].RecordHash, processedAt); err != nil {
				return fmt.Errorf("failed to save record hash: %w", err)
			}
		}

		if !commit.AdvanceFile {
			return nil
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO file_fingerprints (file_id, file_hash, last_processed_at, processed_count)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(file_id) DO UPDATE SET
				file_hash = excluded.file_hash,
				last_processed_at = excluded.last_processed_at,
				processed_count = excluded.processed_count
		`, commit.FileID, commit.FileHash, processedAt, commit.RecordCount)
		if err != nil {
			return fmt.Errorf("failed to save file fingerprint: %w", err)
		}
		return nil
	})
}
