package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/Veraticus/taxflow/internal/common"
	"github.com/Veraticus/taxflow/internal/fingerprint"
	"github.com/Veraticus/taxflow/internal/metrics"
	"github.com/Veraticus/taxflow/internal/model"
	"github.com/Veraticus/taxflow/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db       *testutil.TestDB
	router   *MockRouter
	searcher *MockSearcher
	reasoner *MockReasoner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		db:       testutil.SetupTestDB(t),
		router:   &MockRouter{byVendor: map[string]model.Decision{}},
		searcher: &MockSearcher{},
		reasoner: &MockReasoner{},
	}
}

func (f *fixture) processor(t *testing.T, cfg Config, opts ...Option) *Processor {
	t.Helper()
	p, err := New(fingerprint.NewStore(f.db.Storage), f.router, f.searcher, f.reasoner, cfg, opts...)
	require.NoError(t, err)
	return p
}

func makeRecords(n int) []model.Record {
	recs := make([]model.Record, n)
	for i := range recs {
		recs[i] = model.Record{
			ID:          fmt.Sprintf("r%03d", i),
			Vendor:      fmt.Sprintf("Vendor %d", i),
			ProductType: "office supplies",
			Amount:      100,
			TaxAmount:   7,
		}
	}
	return recs
}

func TestProcessor_FirstRunThenUnchanged(t *testing.T) {
	f := newFixture(t)
	p := f.processor(t, DefaultConfig())
	ctx := context.Background()
	records := makeRecords(3)

	report, err := p.Run(ctx, "file-a", records)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Succeeded)
	assert.Zero(t, report.Failed)
	assert.True(t, report.FileAdvanced)
	assert.Equal(t, 3, report.Routes[model.RouteRetrieveSimple])

	stored, err := f.db.Storage.ListResults(ctx, "file-a")
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for _, r := range stored {
		assert.Equal(t, "exempt", r.Outcome)
		assert.Equal(t, model.RouteRetrieveSimple, r.Strategy)
		assert.Equal(t, "Sec. 144.030", r.Citation, "falls back to the first retrieved citation")
		assert.InDelta(t, 7, r.Estimate, 1e-9, "exempt outcomes refund the tax paid")
		assert.NotEmpty(t, r.RecordHash)
		assert.Equal(t, report.RunID, r.RunID)
	}

	again, err := p.Run(ctx, "file-a", records)
	require.NoError(t, err)
	assert.True(t, again.Unchanged)
	assert.Zero(t, again.Succeeded)
	assert.Equal(t, []int{3}, f.reasoner.batches(), "no second reasoning call")
}

func TestProcessor_OnlyChangedRecordsReprocessed(t *testing.T) {
	f := newFixture(t)
	p := f.processor(t, DefaultConfig())
	ctx := context.Background()
	records := makeRecords(5)

	_, err := p.Run(ctx, "file-a", records)
	require.NoError(t, err)

	records[2].Amount = 250
	report, err := p.Run(ctx, "file-a", records)
	require.NoError(t, err)
	assert.False(t, report.Unchanged)
	assert.Equal(t, 1, report.Unresolved)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, []int{5, 1}, f.reasoner.batches())
}

func TestProcessor_BatchesOfConfiguredSize(t *testing.T) {
	f := newFixture(t)
	p := f.processor(t, DefaultConfig())

	report, err := p.Run(context.Background(), "file-a", makeRecords(45))
	require.NoError(t, err)
	assert.Equal(t, []int{20, 20, 5}, f.reasoner.batches())
	assert.Equal(t, 3, report.Batches)
	assert.Equal(t, 45, report.Succeeded)
}

func TestProcessor_BatchIntegrityFailure(t *testing.T) {
	f := newFixture(t)
	f.reasoner.err = common.NewIntegrityError("batch response has 3 outcomes for 20 records")
	f.reasoner.failBatch = 2
	p := f.processor(t, DefaultConfig())
	ctx := context.Background()

	report, err := p.Run(ctx, "file-a", makeRecords(30))
	require.NoError(t, err)
	assert.Equal(t, 20, report.Succeeded)
	assert.Equal(t, 10, report.Failed)
	assert.False(t, report.FileAdvanced)
	for _, failure := range report.Failures {
		assert.ErrorIs(t, failure.Err, common.ErrDataIntegrity)
	}

	fp, err := f.db.Storage.GetFileFingerprint(ctx, "file-a")
	assert.ErrorIs(t, err, common.ErrNotFound, "file hash must not advance after failures")
	assert.Nil(t, fp)

	// Next run only retries the failed batch.
	f.reasoner.err = nil
	report, err = p.Run(ctx, "file-a", makeRecords(30))
	require.NoError(t, err)
	assert.Equal(t, 10, report.Unresolved)
	assert.Equal(t, 10, report.Succeeded)
	assert.True(t, report.FileAdvanced)
}

func TestProcessor_LocalRoutesSkipReasoning(t *testing.T) {
	f := newFixture(t)
	f.router.byVendor["Acme"] = model.Decision{
		Route:      model.RouteCached,
		Pattern:    &model.PatternEntry{Key: "acme", Outcome: "taxable", Citation: "Sec. 1"},
		Confidence: 0.95,
		Reasons:    []string{"exact vendor pattern"},
	}
	f.router.byVendor["Initech"] = model.Decision{
		Route:      model.RouteRule,
		Rule:       &model.StaticRule{ID: "saas", Outcome: "exempt", Citation: "Sec. 2"},
		RuleID:     "saas",
		Confidence: 0.9,
		Reasons:    []string{"Rule saas"},
	}
	p := f.processor(t, DefaultConfig())

	report, err := p.Run(context.Background(), "file-a", []model.Record{
		{ID: "1", Vendor: "Acme", TaxAmount: 5},
		{ID: "2", Vendor: "Initech", TaxAmount: 8},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)
	assert.Empty(t, f.reasoner.batches())
	assert.Zero(t, f.searcher.count())

	byID := map[string]model.Result{}
	for _, r := range report.Results {
		byID[r.RecordID] = r
	}
	assert.Equal(t, "taxable", byID["1"].Outcome)
	assert.Equal(t, model.RouteCached, byID["1"].Strategy)
	assert.Zero(t, byID["1"].Estimate)
	assert.Equal(t, "exempt", byID["2"].Outcome)
	assert.Equal(t, "Sec. 2", byID["2"].Citation)
	assert.InDelta(t, 8, byID["2"].Estimate, 1e-9)
}

func TestProcessor_InvalidRecords(t *testing.T) {
	f := newFixture(t)
	p := f.processor(t, DefaultConfig())

	report, err := p.Run(context.Background(), "file-a", []model.Record{
		{ID: "1", Vendor: "Acme"},
		{ID: "2"},
		{ID: "1", Vendor: "Acme again"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 2, report.Failed)
	assert.False(t, report.FileAdvanced)
	for _, failure := range report.Failures {
		assert.ErrorIs(t, failure.Err, common.ErrDataIntegrity)
	}
}

func TestProcessor_CancellationBetweenBatches(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.reasoner.after = func(batch int) {
		if batch == 1 {
			cancel()
		}
	}
	p := f.processor(t, DefaultConfig())

	report, err := p.Run(ctx, "file-a", makeRecords(30))
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Equal(t, 20, report.Succeeded, "the dispatched batch completes")
	assert.Equal(t, 10, report.Skipped)
	assert.False(t, report.FileAdvanced)

	stored, err := f.db.Storage.ListResults(context.Background(), "file-a")
	require.NoError(t, err)
	assert.Len(t, stored, 20)
}

func TestProcessor_ConfigurationErrorAbortsWithoutCommit(t *testing.T) {
	f := newFixture(t)
	f.searcher.err = fmt.Errorf("%w: embedding dimension mismatch", common.ErrConfiguration)
	p := f.processor(t, DefaultConfig())
	ctx := context.Background()

	report, err := p.Run(ctx, "file-a", makeRecords(3))
	require.ErrorIs(t, err, common.ErrConfiguration)
	assert.Nil(t, report)

	hashes, err := f.db.Storage.GetRecordHashes(ctx, "file-a")
	require.NoError(t, err)
	assert.Empty(t, hashes)
}

func TestProcessor_TransientRetrievalFailureFailsRecord(t *testing.T) {
	f := newFixture(t)
	f.searcher.err = fmt.Errorf("%w: vector index unavailable", common.ErrTransient)
	p := f.processor(t, DefaultConfig())

	report, err := p.Run(context.Background(), "file-a", makeRecords(2))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Failed)
	assert.Empty(t, f.reasoner.batches())
}

func TestProcessor_DryRunDoesNotCommit(t *testing.T) {
	f := newFixture(t)
	cfg := DefaultConfig()
	cfg.DryRun = true
	p := f.processor(t, cfg)
	ctx := context.Background()

	report, err := p.Run(ctx, "file-a", makeRecords(2))
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Len(t, report.Results, 2)

	stored, err := f.db.Storage.ListResults(ctx, "file-a")
	require.NoError(t, err)
	assert.Empty(t, stored)

	report, err = p.Run(ctx, "file-a", makeRecords(2))
	require.NoError(t, err)
	assert.False(t, report.Unchanged)
}

func TestProcessor_SharesRetrievalWithinRun(t *testing.T) {
	f := newFixture(t)
	f.router.byVendor["Acme"] = model.Decision{Route: model.RouteRetrieveEnhanced, Complex: true}
	p := f.processor(t, Config{Workers: 8})

	records := make([]model.Record, 10)
	for i := range records {
		records[i] = model.Record{ID: fmt.Sprint(i), Vendor: "Acme", ProductType: "Software Bundle"}
	}

	report, err := p.Run(context.Background(), "file-a", records)
	require.NoError(t, err)
	assert.Equal(t, 10, report.Succeeded)
	assert.Equal(t, 1, f.searcher.count())
	assert.Equal(t, []model.Strategy{model.StrategyEnhanced}, f.searcher.strategies)
	assert.Equal(t, []string{"Software Bundle Acme"}, f.searcher.queries)
	assert.Equal(t, 9, report.CacheHits)
	assert.Equal(t, 1, report.CacheMisses)
}

func TestProcessor_ProgressAndMetrics(t *testing.T) {
	f := newFixture(t)
	m := metrics.New(prometheus.NewRegistry(), prometheus.NewRegistry())
	var seen []Progress
	p := f.processor(t, DefaultConfig(), WithMetrics(m), WithProgress(func(pr Progress) { seen = append(seen, pr) }))

	_, err := p.Run(context.Background(), "file-a", makeRecords(25))
	require.NoError(t, err)

	require.NotEmpty(t, seen)
	assert.Equal(t, Progress{Done: 25, Total: 25}, seen[len(seen)-1])
	assert.InDelta(t, 25, promtest.ToFloat64(m.RecordsTotal.WithLabelValues("succeeded")), 0)
	assert.InDelta(t, 2, promtest.ToFloat64(m.BatchesTotal.WithLabelValues("ok")), 0)
}

func TestNew_RejectsBadConfig(t *testing.T) {
	f := newFixture(t)
	_, err := New(fingerprint.NewStore(f.db.Storage), f.router, f.searcher, f.reasoner, Config{SimpleStrategy: "psychic"})
	assert.ErrorIs(t, err, common.ErrConfiguration)

	_, err = New(nil, f.router, f.searcher, f.reasoner, DefaultConfig())
	assert.ErrorIs(t, err, common.ErrConfiguration)
}
