package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/taxflow/internal/common"
	"github.com/Veraticus/taxflow/internal/model"
	"github.com/mattn/go-sqlite3"
)

const patternColumns = `kind, match_key, outcome, keywords, citation,
	success_rate, sample_count, version, updated_at`

// GetPatterns returns every outcome stored for a key.
func (s *SQLiteStorage) GetPatterns(ctx context.Context, kind model.PatternKind, key string) ([]model.PatternEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(key, "key"); err != nil {
		return nil, err
	}

	return s.queryPatterns(ctx, s.db, `
		SELECT `+patternColumns+`
		FROM patterns
		WHERE kind = ? AND match_key = ?
		ORDER BY outcome
	`, string(kind), key)
}

// ListPatterns returns every pattern of a kind ordered by key and outcome.
func (s *SQLiteStorage) ListPatterns(ctx context.Context, kind model.PatternKind) ([]model.PatternEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	return s.queryPatterns(ctx, s.db, `
		SELECT `+patternColumns+`
		FROM patterns
		WHERE kind = ?
		ORDER BY match_key, outcome
	`, string(kind))
}

// InsertPattern creates a new pattern row at version 1.
func (s *SQLiteStorage) InsertPattern(ctx context.Context, entry *model.PatternEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePattern(entry); err != nil {
		return err
	}

	keywords, err := json.Marshal(nonNilKeywords(entry.Keywords))
	if err != nil {
		return fmt.Errorf("failed to marshal keywords: %w", err)
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO patterns (`+patternColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)
	`, string(entry.Kind), entry.Key, entry.Outcome, string(keywords), entry.Citation,
		entry.SuccessRate, entry.SampleCount, entry.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("pattern %s/%s/%s: %w", entry.Kind, entry.Key, entry.Outcome, common.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to insert pattern: %w", err)
	}

	entry.Version = 1
	return nil
}

// UpdatePatternCAS writes entry only if the stored version still equals expectedVersion.
func (s *SQLiteStorage) UpdatePatternCAS(ctx context.Context, entry *model.PatternEntry, expectedVersion int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePattern(entry); err != nil {
		return err
	}

	keywords, err := json.Marshal(nonNilKeywords(entry.Keywords))
	if err != nil {
		return fmt.Errorf("failed to marshal keywords: %w", err)
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE patterns SET
			keywords = ?,
			citation = ?,
			success_rate = ?,
			sample_count = ?,
			version = version + 1,
			updated_at = ?
		WHERE kind = ? AND match_key = ? AND outcome = ? AND version = ?
	`, string(keywords), entry.Citation, entry.SuccessRate, entry.SampleCount, entry.UpdatedAt,
		string(entry.Kind), entry.Key, entry.Outcome, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update pattern: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("pattern %s/%s/%s at version %d: %w",
			entry.Kind, entry.Key, entry.Outcome, expectedVersion, common.ErrConcurrencyConflict)
	}

	entry.Version = expectedVersion + 1
	return nil
}

func (s *SQLiteStorage) queryPatterns(ctx context.Context, q queryable, query string, args ...any) ([]model.PatternEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.PatternEntry
	for rows.Next() {
		var (
			p        model.PatternEntry
			kind     string
			keywords string
			citation sql.NullString
		)
		if err := rows.Scan(&kind, &p.Key, &p.Outcome, &keywords, &citation,
			&p.SuccessRate, &p.SampleCount, &p.Version, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		p.Kind = model.PatternKind(kind)
		p.Citation = citation.String
		if err := json.Unmarshal([]byte(keywords), &p.Keywords); err != nil {
			return nil, fmt.Errorf("failed to unmarshal keywords for %s: %w", p.Key, err)
		}
		entries = append(entries, p)
	}

	return entries, rows.Err()
}

func nonNilKeywords(k []string) []string {
	if k == nil {
		return []string{}
	}
	return k
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
