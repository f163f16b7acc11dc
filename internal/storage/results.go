package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Veraticus/taxflow/internal/common"
	"github.com/Veraticus/taxflow/internal/model"
)

const resultColumns = `record_id, file_id, run_id, outcome, confidence, citation,
	estimate, explanation, strategy, record_hash, analyzed_at`

func (s *SQLiteStorage) saveResultTx(ctx context.Context, q queryable, fileID string, r *model.Result) error {
	r.FileID = fileID

	_, err := q.ExecContext(ctx, `
		INSERT INTO results (`+resultColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_id, record_id) DO UPDATE SET
			run_id = excluded.run_id,
			outcome = excluded.outcome,
			confidence = excluded.confidence,
			citation = excluded.citation,
			estimate = excluded.estimate,
			explanation = excluded.explanation,
			strategy = excluded.strategy,
			record_hash = excluded.record_hash,
			analyzed_at = excluded.analyzed_at
	`, r.RecordID, fileID, r.RunID, r.Outcome, r.Confidence, r.Citation,
		r.Estimate, r.Explanation, string(r.Strategy), r.RecordHash, r.AnalyzedAt)
	if err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO result_history (file_id, record_id, run_id, outcome, confidence,
			citation, estimate, strategy, record_hash, analyzed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, fileID, r.RecordID, r.RunID, r.Outcome, r.Confidence,
		r.Citation, r.Estimate, string(r.Strategy), r.RecordHash, r.AnalyzedAt)
	if err != nil {
		return fmt.Errorf("failed to append result history: %w", err)
	}

	return nil
}

// GetResult retrieves the latest result for a record.
func (s *SQLiteStorage) GetResult(ctx context.Context, fileID, recordID string) (*model.Result, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(fileID, "fileID"); err != nil {
		return nil, err
	}
	if err := validateString(recordID, "recordID"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+resultColumns+`
		FROM results
		WHERE file_id = ? AND record_id = ?
	`, fileID, recordID)

	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("result %s/%s: %w", fileID, recordID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return r, nil
}

// ListResults returns every result of a file ordered by record ID.
func (s *SQLiteStorage) ListResults(ctx context.Context, fileID string) ([]model.Result, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(fileID, "fileID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+resultColumns+`
		FROM results
		WHERE file_id = ?
		ORDER BY record_id
	`, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []model.Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, *r)
	}
	return results, rows.Err()
}

// CountResultHistory returns how many result versions were ever committed for a record.
func (s *SQLiteStorage) CountResultHistory(ctx context.Context, fileID, recordID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM result_history WHERE file_id = ? AND record_id = ?
	`, fileID, recordID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count result history: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (*model.Result, error) {
	var (
		r           model.Result
		citation    sql.NullString
		explanation sql.NullString
		strategy    string
	)
	if err := row.Scan(&r.RecordID, &r.FileID, &r.RunID, &r.Outcome, &r.Confidence, &citation,
		&r.Estimate, &explanation, &strategy, &r.RecordHash, &r.AnalyzedAt); err != nil {
		return nil, err
	}
	r.Citation = citation.String
	r.Explanation = explanation.String
	r.Strategy = model.Route(strategy)
	return &r, nil
}
