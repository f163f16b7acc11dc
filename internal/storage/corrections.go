package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Veraticus/taxflow/internal/common"
	"github.com/Veraticus/taxflow/internal/model"
)

// AppendAudit appends one entry to the correction audit log.
func (s *SQLiteStorage) AppendAudit(ctx context.Context, entry model.AuditEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(entry.CorrectionID, "correctionID"); err != nil {
		return err
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (correction_id, status, payload, recorded_at)
		VALUES (?, ?, ?, ?)
	`, entry.CorrectionID, string(entry.Status), entry.Payload, entry.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the audit entries of one correction in append order.
func (s *SQLiteStorage) ListAudit(ctx context.Context, correctionID string) ([]model.AuditEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT correction_id, status, payload, recorded_at
		FROM audit_log
		WHERE correction_id = ?
		ORDER BY id
	`, correctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.AuditEntry
	for rows.Next() {
		var (
			e      model.AuditEntry
			status string
		)
		if err := rows.Scan(&e.CorrectionID, &status, &e.Payload, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Status = model.ReviewStatus(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// IsCorrectionProcessed reports whether a correction was already applied.
func (s *SQLiteStorage) IsCorrectionProcessed(ctx context.Context, correctionID string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(correctionID, "correctionID"); err != nil {
		return false, err
	}

	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM processed_corrections WHERE correction_id = ?)
	`, correctionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check processed correction: %w", err)
	}
	return exists, nil
}

// ArchiveCorrection marks a correction processed and archives it in one transaction.
func (s *SQLiteStorage) ArchiveCorrection(ctx context.Context, correction model.Correction, processedAt time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(correction.ID, "correctionID"); err != nil {
		return err
	}

	payload, err := json.Marshal(correction)
	if err != nil {
		return fmt.Errorf("failed to marshal correction: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO processed_corrections (correction_id, processed_at)
			VALUES (?, ?)
		`, correction.ID, processedAt); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("correction %s: %w", correction.ID, common.ErrDuplicateEntry)
			}
			return fmt.Errorf("failed to mark correction processed: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO correction_archive (correction_id, record_id, status, payload, archived_at)
			VALUES (?, ?, ?, ?, ?)
		`, correction.ID, correction.RecordID, string(correction.Status), string(payload), processedAt); err != nil {
			return fmt.Errorf("failed to archive correction: %w", err)
		}
		return nil
	})
}
