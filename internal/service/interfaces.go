// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/taxflow/internal/model"
)

// FingerprintRepository persists file fingerprints, record hashes and results.
type FingerprintRepository interface {
	// GetFileFingerprint returns common.ErrNotFound when the file was never processed.
	GetFileFingerprint(ctx context.Context, fileID string) (*model.FileFingerprint, error)
	GetRecordHashes(ctx context.Context, fileID string) (map[string]string, error)
	// CommitRun writes results, record hashes and optionally the file fingerprint in one transaction.
	CommitRun(ctx context.Context, commit RunCommit) error
}

// RunCommit is the unit of work written atomically at the end of a batch run.
type RunCommit struct {
	ProcessedAt time.Time
	FileID      string
	FileHash    string
	Results     []model.Result
	RecordCount int
	AdvanceFile bool
}

// PatternRepository persists learned patterns with optimistic concurrency.
type PatternRepository interface {
	GetPatterns(ctx context.Context, kind model.PatternKind, key string) ([]model.PatternEntry, error)
	ListPatterns(ctx context.Context, kind model.PatternKind) ([]model.PatternEntry, error)
	// InsertPattern returns common.ErrDuplicateEntry when the (kind, key, outcome) row exists.
	InsertPattern(ctx context.Context, entry *model.PatternEntry) error
	// UpdatePatternCAS returns common.ErrConcurrencyConflict when the stored version moved.
	UpdatePatternCAS(ctx context.Context, entry *model.PatternEntry, expectedVersion int64) error
}

// ResultRepository reads persisted analysis results.
type ResultRepository interface {
	GetResult(ctx context.Context, fileID, recordID string) (*model.Result, error)
	ListResults(ctx context.Context, fileID string) ([]model.Result, error)
}

// CorrectionLog is the append-only audit trail and archive for corrections.
type CorrectionLog interface {
	AppendAudit(ctx context.Context, entry model.AuditEntry) error
	IsCorrectionProcessed(ctx context.Context, correctionID string) (bool, error)
	// ArchiveCorrection marks the correction processed and archives it.
	ArchiveCorrection(ctx context.Context, correction model.Correction, processedAt time.Time) error
}

// ChunkRepository persists reference-corpus chunks.
type ChunkRepository interface {
	SaveChunks(ctx context.Context, chunks []model.Chunk) error
	ListChunks(ctx context.Context) ([]model.Chunk, error)
	CountChunks(ctx context.Context) (int, error)
	MaxChunkSequence(ctx context.Context, documentID string) (int, error)
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	FingerprintRepository
	PatternRepository
	ResultRepository
	CorrectionLog
	ChunkRepository

	Migrate(ctx context.Context) error
	Close() error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
