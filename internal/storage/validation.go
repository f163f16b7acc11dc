// Package storage provides the SQLite persistence layer for taxflow.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/taxflow/internal/model"
)

// Validation errors.
var (
	ErrNilContext     = errors.New("context cannot be nil")
	ErrEmptyString    = errors.New("string parameter cannot be empty")
	ErrNilParameter   = errors.New("parameter cannot be nil")
	ErrInvalidResult  = errors.New("invalid result")
	ErrInvalidPattern = errors.New("invalid pattern")
	ErrInvalidChunk   = errors.New("invalid chunk")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateResult validates a single analysis result.
func validateResult(r *model.Result) error {
	if r == nil {
		return fmt.Errorf("%w: result", ErrNilParameter)
	}
	if r.RecordID == "" {
		return fmt.Errorf("%w: missing record ID", ErrInvalidResult)
	}
	if r.RecordHash == "" {
		return fmt.Errorf("%w: missing record hash for %s", ErrInvalidResult, r.RecordID)
	}
	if r.Outcome == "" {
		return fmt.Errorf("%w: missing outcome for %s", ErrInvalidResult, r.RecordID)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be between 0 and 1", ErrInvalidResult)
	}
	return nil
}

// validatePattern validates a pattern entry before it is written.
func validatePattern(p *model.PatternEntry) error {
	if p == nil {
		return fmt.Errorf("%w: pattern", ErrNilParameter)
	}
	switch p.Kind {
	case model.PatternVendor, model.PatternKeyword:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidPattern, p.Kind)
	}
	if strings.TrimSpace(p.Key) == "" {
		return fmt.Errorf("%w: missing key", ErrInvalidPattern)
	}
	if strings.TrimSpace(p.Outcome) == "" {
		return fmt.Errorf("%w: missing outcome", ErrInvalidPattern)
	}
	if p.SuccessRate < 0 || p.SuccessRate > 1 {
		return fmt.Errorf("%w: success rate must be between 0 and 1", ErrInvalidPattern)
	}
	if p.SampleCount < 0 {
		return fmt.Errorf("%w: negative sample count", ErrInvalidPattern)
	}
	return nil
}

// validateChunk validates a corpus chunk.
func validateChunk(c *model.Chunk) error {
	if c == nil {
		return fmt.Errorf("%w: chunk", ErrNilParameter)
	}
	if c.ID == "" || c.DocumentID == "" {
		return fmt.Errorf("%w: missing identifier", ErrInvalidChunk)
	}
	if c.Sequence < 0 {
		return fmt.Errorf("%w: negative sequence for %s", ErrInvalidChunk, c.ID)
	}
	return nil
}
