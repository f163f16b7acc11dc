package model

import "time"

// Result is the persisted analysis outcome for one record.
type Result struct {
	AnalyzedAt  time.Time `json:"analyzed_at"`
	RecordID    string    `json:"record_id"`
	FileID      string    `json:"file_id"`
	RunID       string    `json:"run_id"`
	Outcome     string    `json:"outcome"`
	Citation    string    `json:"citation,omitempty"`
	Explanation string    `json:"explanation,omitempty"`
	Strategy    Route     `json:"strategy"`
	RecordHash  string    `json:"record_hash"`
	Confidence  float64   `json:"confidence"`
	Estimate    float64   `json:"estimate"`
}
