package router

import (
	"context"
	"errors"
	"testing"

	"github.com/Veraticus/taxflow/internal/metrics"
	"github.com/Veraticus/taxflow/internal/model"
	"github.com/Veraticus/taxflow/internal/pattern"
	"github.com/Veraticus/taxflow/internal/rules"
	"github.com/Veraticus/taxflow/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockPatterns returns canned matches and records lookups.
type MockPatterns struct {
	vendor     *pattern.Match
	keyword    *pattern.Match
	err        error
	vendorArgs []string
	textArgs   []string
}

func (m *MockPatterns) MatchVendor(_ context.Context, name string) (*pattern.Match, error) {
	m.vendorArgs = append(m.vendorArgs, name)
	if m.err != nil {
		return nil, m.err
	}
	return m.vendor, nil
}

func (m *MockPatterns) MatchKeywords(_ context.Context, text string) (*pattern.Match, error) {
	m.textArgs = append(m.textArgs, text)
	if m.err != nil {
		return nil, m.err
	}
	return m.keyword, nil
}

func match(key, outcome string, rate float64, samples int) *pattern.Match {
	return &pattern.Match{
		Entry:   model.PatternEntry{Kind: model.PatternVendor, Key: key, Outcome: outcome, SuccessRate: rate, SampleCount: samples},
		Overlap: 1,
		Exact:   true,
	}
}

func mustMatcher(t *testing.T, rs ...rules.Rule) *rules.Matcher {
	t.Helper()
	m, err := rules.NewMatcher(rs)
	require.NoError(t, err)
	return m
}

func TestRouter_Route(t *testing.T) {
	saasRule := rules.Rule{ID: "saas", ProductTypePattern: "saas", Outcome: "exempt", Citation: "Sec. 1", Confidence: 0.95, IsActive: true}

	tests := []struct {
		patterns    *MockPatterns
		name        string
		wantRuleID  string
		wantOutcome string
		rules       []rules.Rule
		rec         model.Record
		wantRoute   model.Route
		wantConf    float64
		wantComplex bool
	}{
		{
			name:        "trusted vendor pattern is cached",
			patterns:    &MockPatterns{vendor: match("acme corp", "taxable", 0.95, 50)},
			rules:       []rules.Rule{saasRule},
			rec:         model.Record{ID: "1", Vendor: "Acme Corp", ProductType: "saas", Amount: 100},
			wantRoute:   model.RouteCached,
			wantOutcome: "taxable",
			wantConf:    0.95,
		},
		{
			name:        "trusted keyword pattern is cached when vendor is unknown",
			patterns:    &MockPatterns{keyword: match("hardware|networking", "taxable", 0.9, 4)},
			rec:         model.Record{ID: "1", Vendor: "Globex", Description: "networking hardware", Amount: 100},
			wantRoute:   model.RouteCached,
			wantOutcome: "taxable",
			wantConf:    0.9,
		},
		{
			name:       "static rule beats young pattern",
			patterns:   &MockPatterns{vendor: match("acme corp", "taxable", 1.0, 1)},
			rules:      []rules.Rule{saasRule},
			rec:        model.Record{ID: "1", Vendor: "Acme Corp", ProductType: "SaaS", Amount: 100},
			wantRoute:  model.RouteRule,
			wantRuleID: "saas",
			wantConf:   0.95,
		},
		{
			name:        "young high-rate pattern becomes a rule-level decision",
			patterns:    &MockPatterns{vendor: match("acme corp", "taxable", 1.0, 2)},
			rec:         model.Record{ID: "1", Vendor: "Acme Corp", ProductType: "hardware", Amount: 100},
			wantRoute:   model.RouteRule,
			wantOutcome: "taxable",
			wantConf:    0.7,
		},
		{
			name:      "plain record retrieves simply",
			patterns:  &MockPatterns{},
			rec:       model.Record{ID: "1", Vendor: "Globex", ProductType: "office chairs", Amount: 300},
			wantRoute: model.RouteRetrieveSimple,
		},
		{
			name:        "ambiguous product type is enhanced",
			patterns:    &MockPatterns{},
			rec:         model.Record{ID: "1", Vendor: "Globex", ProductType: "software bundle", Amount: 300},
			wantRoute:   model.RouteRetrieveEnhanced,
			wantComplex: true,
		},
		{
			name:        "high value is enhanced",
			patterns:    &MockPatterns{},
			rec:         model.Record{ID: "1", Vendor: "Globex", ProductType: "forklift", Amount: 25000},
			wantRoute:   model.RouteRetrieveEnhanced,
			wantComplex: true,
		},
		{
			name:        "low confidence history is enhanced and keeps the hint",
			patterns:    &MockPatterns{vendor: match("globex", "exempt", 0.3, 10)},
			rec:         model.Record{ID: "1", Vendor: "Globex", ProductType: "forklift", Amount: 100},
			wantRoute:   model.RouteRetrieveEnhanced,
			wantOutcome: "exempt",
			wantComplex: true,
		},
		{
			name:      "pattern store failure is treated as no match",
			patterns:  &MockPatterns{err: errors.New("database is locked")},
			rec:       model.Record{ID: "1", Vendor: "Acme", Description: "desk", ProductType: "furniture", Amount: 10},
			wantRoute: model.RouteRetrieveSimple,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(tt.patterns, mustMatcher(t, tt.rules...), DefaultOptions(), nil)
			d := r.Route(context.Background(), tt.rec)

			assert.Equal(t, tt.wantRoute, d.Route)
			assert.Equal(t, tt.wantComplex, d.Complex)
			assert.Equal(t, tt.wantRuleID, d.RuleID)
			assert.InDelta(t, tt.wantConf, d.Confidence, 1e-9)
			assert.NotEmpty(t, d.Reasons)
			if tt.wantOutcome != "" {
				require.NotNil(t, d.Pattern)
				assert.Equal(t, tt.wantOutcome, d.Pattern.Outcome)
			}
		})
	}
}

func TestRouter_SkipsKeywordLookupWithoutDescription(t *testing.T) {
	mp := &MockPatterns{}
	New(mp, nil, DefaultOptions(), nil).Route(context.Background(), model.Record{ID: "1", Vendor: "Acme"})
	assert.Equal(t, []string{"Acme"}, mp.vendorArgs)
	assert.Empty(t, mp.textArgs)
}

func TestRouter_RecordsDecisionMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry(), prometheus.NewRegistry())
	r := New(&MockPatterns{vendor: match("acme corp", "taxable", 0.95, 50)}, nil, DefaultOptions(), m)

	r.Route(context.Background(), model.Record{ID: "1", Vendor: "Acme Corp"})
	r.Route(context.Background(), model.Record{ID: "2", Vendor: "Acme Corp"})

	assert.InDelta(t, 2, promtest.ToFloat64(m.DecisionsTotal.WithLabelValues(string(model.RouteCached))), 0)
}

func TestRouter_WithPatternStore(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := pattern.NewStore(db.Storage, pattern.DefaultOptions())
	ctx := context.Background()

	db.SeedPattern(model.PatternEntry{Kind: model.PatternVendor, Key: "acme corp", Outcome: "taxable", SuccessRate: 0.95, SampleCount: 12})
	db.SeedPattern(model.PatternEntry{Kind: model.PatternKeyword, Key: "hardware|networking", Keywords: []string{"hardware", "networking"}, Outcome: "taxable", SuccessRate: 1, SampleCount: 1})

	r := New(store, nil, DefaultOptions(), nil)

	d := r.Route(ctx, model.Record{ID: "1", Vendor: "ACME Corp."})
	assert.Equal(t, model.RouteCached, d.Route)

	// A single approved sample is only a hint.
	d = r.Route(ctx, model.Record{ID: "2", Vendor: "Initech", Description: "Networking hardware purchase"})
	assert.Equal(t, model.RouteRule, d.Route)
	require.NotNil(t, d.Pattern)
	assert.Equal(t, "hardware|networking", d.Pattern.Key)
}
