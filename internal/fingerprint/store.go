// Package fingerprint tracks which input files and records changed since they were last analyzed.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/Veraticus/taxflow/internal/common"
	"github.com/Veraticus/taxflow/internal/model"
	"github.com/Veraticus/taxflow/internal/service"
)

// Store is the single source of truth for "has this changed".
type Store struct {
	repo service.FingerprintRepository
	now  func() time.Time
}

// NewStore creates a fingerprint store over the given repository.
func NewStore(repo service.FingerprintRepository) *Store {
	return &Store{repo: repo, now: time.Now}
}

// FileHash hashes the record count and the id:hash pairs sorted by record ID.
// Records must already carry their hashes.
func FileHash(records []model.Record) string {
	pairs := make([]string, len(records))
	for i, r := range records {
		pairs[i] = r.ID + ":" + r.Hash
	}
	sort.Strings(pairs)

	h := sha256.New()
	h.Write([]byte(strconv.Itoa(len(records))))
	for _, p := range pairs {
		h.Write([]byte{'\n'})
		h.Write([]byte(p))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// IsChanged reports whether fileHash differs from the stored fingerprint or none exists.
func (s *Store) IsChanged(ctx context.Context, fileID, fileHash string) (bool, error) {
	fp, err := s.repo.GetFileFingerprint(ctx, fileID)
	if errors.Is(err, common.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load fingerprint for %s: %w", fileID, err)
	}
	return fp.FileHash != fileHash, nil
}

// UnresolvedRecords returns the records whose hash differs from the stored one or that have none.
// Stored hashes for records absent from the input are left untouched.
func (s *Store) UnresolvedRecords(ctx context.Context, fileID string, records []model.Record) ([]model.Record, error) {
	stored, err := s.repo.GetRecordHashes(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to load record hashes for %s: %w", fileID, err)
	}

	unresolved := make([]model.Record, 0, len(records))
	for _, r := range records {
		if prev, ok := stored[r.ID]; ok && prev == r.Hash {
			continue
		}
		unresolved = append(unresolved, r)
	}
	return unresolved, nil
}

// Commit persists results and their record hashes, advancing the file fingerprint only when advanceFile is set.
func (s *Store) Commit(ctx context.Context, fileID, fileHash string, recordCount int, processed []model.Result, advanceFile bool) error {
	return s.repo.CommitRun(ctx, service.RunCommit{
		FileID:      fileID,
		FileHash:    fileHash,
		Results:     processed,
		RecordCount: recordCount,
		AdvanceFile: advanceFile,
		ProcessedAt: s.now(),
	})
}
