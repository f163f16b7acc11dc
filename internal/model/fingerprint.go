package model

import "time"

// FileFingerprint is the whole-file hash recorded after a fully successful run.
type FileFingerprint struct {
	LastProcessedAt time.Time
	FileID          string
	FileHash        string
	ProcessedCount  int
}
