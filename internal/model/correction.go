package model

import "time"

// ReviewStatus is the reviewer's verdict on a prior result.
type ReviewStatus string

// Review statuses.
const (
	ReviewApproved        ReviewStatus = "approved"
	ReviewNeedsCorrection ReviewStatus = "needs-correction"
	ReviewRejected        ReviewStatus = "rejected"
)

// Valid reports whether s is a known status.
func (s ReviewStatus) Valid() bool {
	switch s {
	case ReviewApproved, ReviewNeedsCorrection, ReviewRejected:
		return true
	}
	return false
}

// Correction is a human-authored review of a prior result.
type Correction struct {
	ReviewedAt        time.Time    `json:"reviewed_at" yaml:"reviewed_at"`
	ID                string       `json:"id,omitempty" yaml:"id,omitempty"`
	RecordID          string       `json:"record_id" yaml:"record_id"`
	Vendor            string       `json:"vendor" yaml:"vendor"`
	Description       string       `json:"description,omitempty" yaml:"description,omitempty"`
	KeywordSignature  string       `json:"keyword_signature,omitempty" yaml:"keyword_signature,omitempty"`
	OriginalOutcome   string       `json:"original_outcome" yaml:"original_outcome"`
	CorrectedOutcome  string       `json:"corrected_outcome,omitempty" yaml:"corrected_outcome,omitempty"`
	CorrectedCitation string       `json:"corrected_citation,omitempty" yaml:"corrected_citation,omitempty"`
	Note              string       `json:"note,omitempty" yaml:"note,omitempty"`
	Status            ReviewStatus `json:"status" yaml:"status"`
}

// AuditEntry is one append-only audit log line.
type AuditEntry struct {
	RecordedAt   time.Time
	CorrectionID string
	Status       ReviewStatus
	Payload      string
}
