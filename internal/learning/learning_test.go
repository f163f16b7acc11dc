package learning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Veraticus/taxflow/internal/common"
	"github.com/Veraticus/taxflow/internal/metrics"
	"github.com/Veraticus/taxflow/internal/model"
	"github.com/Veraticus/taxflow/internal/pattern"
	"github.com/Veraticus/taxflow/internal/service"
	"github.com/Veraticus/taxflow/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var reviewedAt = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newLoop(t *testing.T) (*Loop, *pattern.Store, *testutil.TestDB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	store := pattern.NewStore(db.Storage, pattern.DefaultOptions())
	return New(db.Storage, store, nil), store, db
}

func entry(t *testing.T, store *pattern.Store, kind model.PatternKind, key, outcome string) *model.PatternEntry {
	t.Helper()
	entries, err := store.Entries(context.Background(), kind, key)
	require.NoError(t, err)
	for i := range entries {
		if entries[i].Outcome == outcome {
			return &entries[i]
		}
	}
	return nil
}

func TestApply_Approved(t *testing.T) {
	loop, store, _ := newLoop(t)

	summary, err := loop.Apply(context.Background(), []model.Correction{{
		RecordID:        "r1",
		Vendor:          "Acme Corp",
		Description:     "Networking hardware purchase",
		OriginalOutcome: "taxable",
		Status:          model.ReviewApproved,
		ReviewedAt:      reviewedAt,
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Applied)
	assert.Equal(t, 2, summary.PatternUpdates)

	v := entry(t, store, model.PatternVendor, "acme corp", "taxable")
	require.NotNil(t, v)
	assert.Equal(t, 1, v.SampleCount)
	assert.InDelta(t, 1.0, v.SuccessRate, 1e-9)

	k := entry(t, store, model.PatternKeyword, "hardware|networking", "taxable")
	require.NotNil(t, k)
	assert.Equal(t, []string{"hardware", "networking"}, k.Keywords)
}

func TestApply_NeedsCorrectionDecaysConflictingOutcome(t *testing.T) {
	loop, store, db := newLoop(t)
	db.SeedPattern(model.PatternEntry{Kind: model.PatternKeyword, Key: "hardware|networking", Keywords: []string{"hardware", "networking"}, Outcome: "taxable", SuccessRate: 1, SampleCount: 1})

	summary, err := loop.Apply(context.Background(), []model.Correction{{
		RecordID:          "r1",
		Vendor:            "Initech",
		KeywordSignature:  "networking|hardware",
		OriginalOutcome:   "taxable",
		CorrectedOutcome:  "exempt",
		CorrectedCitation: "Sec. 144.054",
		Status:            model.ReviewNeedsCorrection,
		ReviewedAt:        reviewedAt,
	}})
	require.NoError(t, err)
	assert.Empty(t, summary.Failures)

	taxable := entry(t, store, model.PatternKeyword, "hardware|networking", "taxable")
	require.NotNil(t, taxable)
	assert.Equal(t, 2, taxable.SampleCount, "never reset")
	assert.InDelta(t, 0.5, taxable.SuccessRate, 1e-9)

	exempt := entry(t, store, model.PatternKeyword, "hardware|networking", "exempt")
	require.NotNil(t, exempt)
	assert.Equal(t, 1, exempt.SampleCount)
	assert.InDelta(t, 1.0, exempt.SuccessRate, 1e-9)
	assert.Equal(t, "Sec. 144.054", exempt.Citation)

	m, err := store.MatchKeywords(context.Background(), "hardware for networking")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "exempt", m.Entry.Outcome)
}

func TestApply_Rejected(t *testing.T) {
	loop, store, db := newLoop(t)
	db.SeedPattern(model.PatternEntry{Kind: model.PatternVendor, Key: "globex", Outcome: "exempt", SuccessRate: 1, SampleCount: 3})

	_, err := loop.Apply(context.Background(), []model.Correction{{
		RecordID: "r9", Vendor: "Globex", OriginalOutcome: "exempt", Status: model.ReviewRejected, ReviewedAt: reviewedAt,
	}})
	require.NoError(t, err)

	e := entry(t, store, model.PatternVendor, "globex", "exempt")
	require.NotNil(t, e)
	assert.Equal(t, 4, e.SampleCount)
	assert.InDelta(t, 0.75, e.SuccessRate, 1e-9)
}

func TestApply_Idempotent(t *testing.T) {
	loop, store, db := newLoop(t)
	ctx := context.Background()
	c := model.Correction{RecordID: "r1", Vendor: "Acme", OriginalOutcome: "taxable", Status: model.ReviewApproved, ReviewedAt: reviewedAt}

	first, err := loop.Apply(ctx, []model.Correction{c, c})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Applied)
	assert.Equal(t, 1, first.Duplicates)

	second, err := loop.Apply(ctx, []model.Correction{c})
	require.NoError(t, err)
	assert.Zero(t, second.Applied)
	assert.Equal(t, 1, second.Duplicates)

	e := entry(t, store, model.PatternVendor, "acme", "taxable")
	require.NotNil(t, e)
	assert.Equal(t, 1, e.SampleCount)

	audit, err := db.Storage.ListAudit(ctx, CorrectionID(c))
	require.NoError(t, err)
	assert.Len(t, audit, 3, "every submission is audited")
}

func TestCorrectionID_Deterministic(t *testing.T) {
	c := model.Correction{RecordID: "r1", Vendor: "Acme", OriginalOutcome: "taxable", Status: model.ReviewApproved, ReviewedAt: reviewedAt}
	assert.Equal(t, CorrectionID(c), CorrectionID(c))

	withID := c
	withID.ID = "ignored"
	assert.Equal(t, CorrectionID(c), CorrectionID(withID))

	other := c
	other.Note = "second look"
	assert.NotEqual(t, CorrectionID(c), CorrectionID(other))
}

func TestApply_Invalid(t *testing.T) {
	loop, _, db := newLoop(t)

	tests := map[string]model.Correction{
		"unknown status":   {RecordID: "r", Vendor: "v", OriginalOutcome: "o", Status: "maybe"},
		"missing vendor":   {RecordID: "r", OriginalOutcome: "o", Status: model.ReviewApproved},
		"missing original": {RecordID: "r", Vendor: "v", Status: model.ReviewRejected},
		"missing correction outcome": {
			RecordID: "r", Vendor: "v", OriginalOutcome: "o", Status: model.ReviewNeedsCorrection,
		},
	}
	for name, c := range tests {
		t.Run(name, func(t *testing.T) {
			summary, err := loop.Apply(context.Background(), []model.Correction{c})
			require.NoError(t, err)
			assert.Equal(t, 1, summary.Invalid)
			require.Len(t, summary.Failures, 1)
			assert.ErrorIs(t, summary.Failures[0].Err, common.ErrDataIntegrity)

			audit, err := db.Storage.ListAudit(context.Background(), CorrectionID(c))
			require.NoError(t, err)
			require.Len(t, audit, 1, "rejected input is audited")
			assert.Equal(t, c.Status, audit[0].Status)
			assert.Contains(t, audit[0].Payload, `"record_id":"r"`)
		})
	}
}

// failingAuditLog rejects every audit append.
type failingAuditLog struct {
	service.CorrectionLog
}

func (failingAuditLog) AppendAudit(context.Context, model.AuditEntry) error {
	return errors.New("disk full")
}

func TestApply_AuditFailureBlocksMutation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := pattern.NewStore(db.Storage, pattern.DefaultOptions())
	loop := New(failingAuditLog{CorrectionLog: db.Storage}, store, nil)

	c := model.Correction{RecordID: "r1", Vendor: "Acme", OriginalOutcome: "taxable", Status: model.ReviewApproved, ReviewedAt: reviewedAt}
	summary, err := loop.Apply(context.Background(), []model.Correction{c})
	require.NoError(t, err)
	assert.Zero(t, summary.Applied)
	require.Len(t, summary.Failures, 1)

	processed, err := db.Storage.IsCorrectionProcessed(context.Background(), CorrectionID(c))
	require.NoError(t, err)
	assert.False(t, processed)
	assert.Nil(t, entry(t, store, model.PatternVendor, "acme", "taxable"))
}

// conflictingWriter loses every compare-and-swap.
type conflictingWriter struct{}

func (conflictingWriter) Entries(context.Context, model.PatternKind, string) ([]model.PatternEntry, error) {
	return nil, nil
}

func (conflictingWriter) Upsert(context.Context, pattern.Update) (*model.PatternEntry, error) {
	return nil, common.ErrConcurrencyConflict
}

func TestApply_ConflictsAreDropped(t *testing.T) {
	db := testutil.SetupTestDB(t)
	m := metrics.New(prometheus.NewRegistry(), prometheus.NewRegistry())
	loop := New(db.Storage, conflictingWriter{}, m)

	summary, err := loop.Apply(context.Background(), []model.Correction{{
		RecordID: "r1", Vendor: "Acme", Description: "cloud hosting", OriginalOutcome: "taxable", Status: model.ReviewApproved, ReviewedAt: reviewedAt,
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Applied)
	assert.Equal(t, 2, summary.Dropped)
	assert.Empty(t, summary.Failures)
	assert.InDelta(t, 2, promtest.ToFloat64(m.PatternWriteDrops), 0)
	assert.InDelta(t, 1, promtest.ToFloat64(m.CorrectionsTotal.WithLabelValues("approved", "applied")), 0)
}

func TestApply_SampleCountsNeverDecrease(t *testing.T) {
	loop, store, _ := newLoop(t)
	ctx := context.Background()

	statuses := []model.ReviewStatus{model.ReviewApproved, model.ReviewRejected, model.ReviewNeedsCorrection, model.ReviewApproved, model.ReviewRejected}
	last := 0
	for i, st := range statuses {
		c := model.Correction{RecordID: "r", Vendor: "Acme", OriginalOutcome: "taxable", Status: st, ReviewedAt: reviewedAt.Add(time.Duration(i) * time.Hour)}
		if st == model.ReviewNeedsCorrection {
			c.CorrectedOutcome = "exempt"
		}
		_, err := loop.Apply(ctx, []model.Correction{c})
		require.NoError(t, err)

		e := entry(t, store, model.PatternVendor, "acme", "taxable")
		require.NotNil(t, e)
		assert.GreaterOrEqual(t, e.SampleCount, last)
		assert.GreaterOrEqual(t, e.SuccessRate, 0.0)
		assert.LessOrEqual(t, e.SuccessRate, 1.0)
		last = e.SampleCount
	}
	assert.Equal(t, 5, last)
}
