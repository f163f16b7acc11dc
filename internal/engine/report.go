package engine

import (
	"time"

	"github.com/Veraticus/taxflow/internal/model"
)

// RecordFailure is one record that could not be analyzed.
type RecordFailure struct {
	Err      error
	RecordID string
}

// RunReport summarizes one processor run.
type RunReport struct {
	StartedAt    time.Time
	Routes       map[model.Route]int
	RunID        string
	FileID       string
	Failures     []RecordFailure
	Results      []model.Result
	Duration     time.Duration
	Total        int
	Unresolved   int
	Succeeded    int
	Failed       int
	Skipped      int
	Batches      int
	CacheHits    int
	CacheMisses  int
	Unchanged    bool
	DryRun       bool
	FileAdvanced bool
}

func newRunReport(runID, fileID string, start time.Time, dryRun bool) *RunReport {
	return &RunReport{
		RunID:     runID,
		FileID:    fileID,
		StartedAt: start,
		DryRun:    dryRun,
		Routes:    make(map[model.Route]int),
	}
}

func (r *RunReport) fail(recordID string, err error) {
	r.Failures = append(r.Failures, RecordFailure{RecordID: recordID, Err: err})
	r.Failed++
}
