// Package learning folds reviewed results back into the pattern store.
package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/Veraticus/taxflow/internal/common"
	"github.com/Veraticus/taxflow/internal/metrics"
	"github.com/Veraticus/taxflow/internal/model"
	"github.com/Veraticus/taxflow/internal/pattern"
	"github.com/Veraticus/taxflow/internal/service"
)

// correctionNamespace scopes content-derived correction IDs.
var correctionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/Veraticus/taxflow/corrections"))

// PatternWriter is the write side of the pattern store.
type PatternWriter interface {
	Entries(ctx context.Context, kind model.PatternKind, key string) ([]model.PatternEntry, error)
	Upsert(ctx context.Context, u pattern.Update) (*model.PatternEntry, error)
}

// Failure is a correction that could not be applied.
type Failure struct {
	Err          error
	CorrectionID string
	RecordID     string
}

// UpdateSummary reports what one Apply call did.
type UpdateSummary struct {
	Failures       []Failure
	Received       int
	Applied        int
	Duplicates     int
	Invalid        int
	PatternUpdates int
	Dropped        int
}

// Loop applies corrections exactly once.
type Loop struct {
	log      service.CorrectionLog
	patterns PatternWriter
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New creates a learning loop. m may be nil.
func New(log service.CorrectionLog, patterns PatternWriter, m *metrics.Metrics) *Loop {
	return &Loop{log: log, patterns: patterns, metrics: m, now: time.Now}
}

// CorrectionID derives a stable ID from a correction's content.
func CorrectionID(c model.Correction) string {
	c.ID = ""
	payload, _ := json.Marshal(c) // plain strings and a time; cannot fail
	return uuid.NewSHA1(correctionNamespace, payload).String()
}

// Validate checks a correction before it takes effect.
func Validate(c model.Correction) error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.RecordID, validation.Required),
		validation.Field(&c.Vendor, validation.Required),
		validation.Field(&c.OriginalOutcome, validation.Required),
		validation.Field(&c.Status, validation.Required, validation.By(func(any) error {
			if !c.Status.Valid() {
				return fmt.Errorf("must be one of approved, needs-correction, rejected")
			}
			return nil
		})),
		validation.Field(&c.CorrectedOutcome,
			validation.When(c.Status == model.ReviewNeedsCorrection, validation.Required)),
	)
	if err != nil {
		return common.NewIntegrityError("invalid correction for record %q: %v", c.RecordID, err)
	}
	return nil
}

// Apply processes corrections in order. Each correction is audited, then
// skipped if already processed, then archived, then turned into pattern
// updates. A failure affects only its own correction.
func (l *Loop) Apply(ctx context.Context, corrections []model.Correction) (*UpdateSummary, error) {
	summary := &UpdateSummary{Received: len(corrections)}

	for _, c := range corrections {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		if c.ID == "" {
			c.ID = CorrectionID(c)
		}
		if err := Validate(c); err != nil {
			// Rejected input is still traceable in the audit log
			if auditErr := l.audit(ctx, c, l.now()); auditErr != nil {
				slog.Warn("Failed to audit invalid correction",
					"correction_id", c.ID,
					"error", auditErr)
			}
			summary.Invalid++
			summary.fail(c, err)
			l.count(c.Status, "invalid")
			continue
		}

		result, err := l.applyOne(ctx, c, summary)
		if err != nil {
			summary.fail(c, err)
			slog.Error("Failed to apply correction",
				"correction_id", c.ID,
				"record_id", c.RecordID,
				"error", err)
		}
		l.count(c.Status, result)
	}

	slog.Info("Corrections applied",
		"received", summary.Received,
		"applied", summary.Applied,
		"duplicates", summary.Duplicates,
		"invalid", summary.Invalid,
		"pattern_updates", summary.PatternUpdates,
		"dropped", summary.Dropped)

	return summary, nil
}

func (l *Loop) audit(ctx context.Context, c model.Correction, now time.Time) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode correction: %w", err)
	}
	return l.log.AppendAudit(ctx, model.AuditEntry{
		RecordedAt:   now,
		CorrectionID: c.ID,
		Status:       c.Status,
		Payload:      string(payload),
	})
}

func (l *Loop) applyOne(ctx context.Context, c model.Correction, summary *UpdateSummary) (string, error) {
	now := l.now()
	if err := l.audit(ctx, c, now); err != nil {
		return "failed", fmt.Errorf("audit append failed, correction not applied: %w", err)
	}

	processed, err := l.log.IsCorrectionProcessed(ctx, c.ID)
	if err != nil {
		return "failed", fmt.Errorf("failed to check correction state: %w", err)
	}
	if processed {
		summary.Duplicates++
		slog.Debug("Skipping already processed correction", "correction_id", c.ID)
		return "duplicate", nil
	}

	if err := l.log.ArchiveCorrection(ctx, c, now); err != nil {
		if errors.Is(err, common.ErrDuplicateEntry) {
			summary.Duplicates++
			return "duplicate", nil
		}
		return "failed", fmt.Errorf("failed to archive correction: %w", err)
	}

	summary.Applied++
	for _, key := range keysFor(c) {
		l.update(ctx, c, key, summary)
	}
	return "applied", nil
}

type patternKey struct {
	kind     model.PatternKind
	key      string
	keywords []string
}

func keysFor(c model.Correction) []patternKey {
	var keys []patternKey
	if vk := pattern.NormalizeVendor(c.Vendor); vk != "" {
		keys = append(keys, patternKey{kind: model.PatternVendor, key: vk, keywords: pattern.VendorKeywords(c.Vendor)})
	}

	var kws []string
	if strings.TrimSpace(c.KeywordSignature) != "" {
		kws = pattern.ParseSignature(c.KeywordSignature)
	} else {
		kws = pattern.ExtractKeywords(c.Description)
	}
	if len(kws) > 0 {
		keys = append(keys, patternKey{kind: model.PatternKeyword, key: pattern.Signature(kws), keywords: kws})
	}
	return keys
}

// update applies the status-specific evidence to one key. Conflicting
// outcomes decay through zero-valued samples and are never reset.
func (l *Loop) update(ctx context.Context, c model.Correction, key patternKey, summary *UpdateSummary) {
	var updates []pattern.Update
	base := pattern.Update{Kind: key.kind, Key: key.key, Keywords: key.keywords, SampleDelta: 1}

	switch c.Status {
	case model.ReviewApproved:
		u := base
		u.Outcome = c.OriginalOutcome
		u.OutcomeValue = 1
		updates = append(updates, u)

	case model.ReviewNeedsCorrection:
		existing, err := l.patterns.Entries(ctx, key.kind, key.key)
		if err != nil {
			slog.Warn("Failed to load existing patterns, skipping decay",
				"kind", key.kind, "key", key.key, "error", err)
		}
		u := base
		u.Outcome = c.CorrectedOutcome
		u.Citation = c.CorrectedCitation
		u.OutcomeValue = 1
		updates = append(updates, u)
		for _, e := range existing {
			if e.Outcome == c.CorrectedOutcome {
				continue
			}
			d := base
			d.Outcome = e.Outcome
			d.OutcomeValue = 0
			updates = append(updates, d)
		}

	case model.ReviewRejected:
		u := base
		u.Outcome = c.OriginalOutcome
		u.OutcomeValue = 0
		updates = append(updates, u)
	}

	for _, u := range updates {
		if _, err := l.patterns.Upsert(ctx, u); err != nil {
			if errors.Is(err, common.ErrConcurrencyConflict) {
				summary.Dropped++
				if l.metrics != nil {
					l.metrics.PatternWriteDrops.Inc()
				}
				continue
			}
			summary.fail(c, fmt.Errorf("pattern update %s/%s/%s failed: %w", u.Kind, u.Key, u.Outcome, err))
			continue
		}
		summary.PatternUpdates++
	}
}

func (l *Loop) count(status model.ReviewStatus, result string) {
	if l.metrics == nil {
		return
	}
	st := string(status)
	if !status.Valid() {
		st = "unknown"
	}
	l.metrics.CorrectionsTotal.WithLabelValues(st, result).Inc()
}

func (s *UpdateSummary) fail(c model.Correction, err error) {
	s.Failures = append(s.Failures, Failure{CorrectionID: c.ID, RecordID: c.RecordID, Err: err})
}
