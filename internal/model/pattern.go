package model

import "time"

// PatternKind distinguishes vendor patterns from keyword patterns.
type PatternKind string

// Pattern kinds.
const (
	PatternVendor  PatternKind = "vendor"
	PatternKeyword PatternKind = "keyword"
)

// PatternEntry is a learned association between a match key and an outcome.
type PatternEntry struct {
	UpdatedAt   time.Time
	Kind        PatternKind
	Key         string
	Outcome     string
	Citation    string
	Keywords    []string
	SuccessRate float64
	SampleCount int
	Version     int64
}
