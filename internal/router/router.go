// Package router picks the cheapest adequate analysis path for each record.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/Veraticus/taxflow/internal/metrics"
	"github.com/Veraticus/taxflow/internal/model"
	"github.com/Veraticus/taxflow/internal/pattern"
	"github.com/Veraticus/taxflow/internal/rules"
)

// PatternMatcher is the read side of the pattern store.
type PatternMatcher interface {
	MatchVendor(ctx context.Context, name string) (*pattern.Match, error)
	MatchKeywords(ctx context.Context, text string) (*pattern.Match, error)
}

// RuleMatcher returns the highest-priority static rule for a record, or nil.
type RuleMatcher interface {
	First(ctx context.Context, rec model.Record) *rules.Rule
}

// Options holds the routing thresholds.
type Options struct {
	AmbiguousTerms  []string
	HighConfidence  float64
	LowConfidence   float64
	HintConfidence  float64
	HighValueAmount float64
	MinSamples      int
}

// DefaultOptions returns the standard routing thresholds.
func DefaultOptions() Options {
	return Options{
		HighConfidence:  0.85,
		LowConfidence:   0.5,
		HintConfidence:  0.7,
		HighValueAmount: 5000,
		MinSamples:      3,
		AmbiguousTerms: []string{
			"bundle", "bundled", "digital", "general", "maintenance", "mixed",
			"other", "services", "software", "subscription", "support", "various",
		},
	}
}

// Router routes records. It never writes.
type Router struct {
	patterns  PatternMatcher
	rules     RuleMatcher
	metrics   *metrics.Metrics
	ambiguous map[string]bool
	opts      Options
}

// New creates a router. rules and m may be nil.
func New(patterns PatternMatcher, ruleMatcher RuleMatcher, opts Options, m *metrics.Metrics) *Router {
	ambiguous := make(map[string]bool, len(opts.AmbiguousTerms))
	for _, term := range opts.AmbiguousTerms {
		ambiguous[strings.ToLower(strings.TrimSpace(term))] = true
	}
	if opts.MinSamples <= 0 {
		opts.MinSamples = 1
	}
	return &Router{
		patterns:  patterns,
		rules:     ruleMatcher,
		metrics:   m,
		ambiguous: ambiguous,
		opts:      opts,
	}
}

// Route decides how rec will be analyzed. Checks run cheapest first: a
// trusted pattern, a static rule, a promising but young pattern, then
// retrieval sized by how hard the record looks.
func (r *Router) Route(ctx context.Context, rec model.Record) model.Decision {
	d := r.route(ctx, rec)
	if r.metrics != nil {
		r.metrics.DecisionsTotal.WithLabelValues(string(d.Route)).Inc()
	}
	slog.Debug("Routed record",
		"record_id", rec.ID,
		"route", d.Route,
		"reasons", d.Reasons)
	return d
}

func (r *Router) route(ctx context.Context, rec model.Record) model.Decision {
	var matches []*pattern.Match
	if m := r.lookup(ctx, "vendor", rec.ID, func() (*pattern.Match, error) {
		return r.patterns.MatchVendor(ctx, rec.Vendor)
	}); m != nil {
		if r.trusted(m) {
			return cached(m, "vendor")
		}
		matches = append(matches, m)
	}

	if strings.TrimSpace(rec.Description) != "" {
		if m := r.lookup(ctx, "keyword", rec.ID, func() (*pattern.Match, error) {
			return r.patterns.MatchKeywords(ctx, rec.Description)
		}); m != nil {
			if r.trusted(m) {
				return cached(m, "keyword")
			}
			matches = append(matches, m)
		}
	}

	if r.rules != nil {
		if rule := r.rules.First(ctx, rec); rule != nil {
			confidence := rule.Confidence
			if confidence == 0 {
				confidence = r.opts.HighConfidence
			}
			rc := *rule
			return model.Decision{
				Route:      model.RouteRule,
				Rule:       &rc,
				RuleID:     rule.ID,
				Confidence: confidence,
				Reasons:    []string{rules.Explain(rec, *rule)},
			}
		}
	}

	best := strongest(matches)
	if best != nil && best.Entry.SuccessRate >= r.opts.HighConfidence {
		entry := best.Entry
		return model.Decision{
			Route:      model.RouteRule,
			Pattern:    &entry,
			Confidence: min(entry.SuccessRate, r.opts.HintConfidence),
			Reasons: []string{fmt.Sprintf("pattern %q agrees %.0f%% over only %d of %d required samples",
				entry.Key, entry.SuccessRate*100, entry.SampleCount, r.opts.MinSamples)},
		}
	}

	reasons := r.complexity(rec, matches)
	d := model.Decision{
		Route:   model.RouteRetrieveSimple,
		Complex: len(reasons) > 0,
		Reasons: reasons,
	}
	if d.Complex {
		d.Route = model.RouteRetrieveEnhanced
	} else {
		d.Reasons = []string{"no pattern or rule applies"}
	}
	if best != nil {
		entry := best.Entry
		d.Pattern = &entry
	}
	return d
}

func (r *Router) lookup(ctx context.Context, kind, recordID string, fn func() (*pattern.Match, error)) *pattern.Match {
	if ctx.Err() != nil {
		return nil
	}
	m, err := fn()
	if err != nil {
		slog.Warn("Pattern lookup failed, continuing without it",
			"kind", kind,
			"record_id", recordID,
			"error", err)
		return nil
	}
	return m
}

func (r *Router) trusted(m *pattern.Match) bool {
	return m.Entry.SuccessRate >= r.opts.HighConfidence && m.Entry.SampleCount >= r.opts.MinSamples
}

func cached(m *pattern.Match, kind string) model.Decision {
	entry := m.Entry
	how := "fuzzy"
	if m.Exact {
		how = "exact"
	}
	return model.Decision{
		Route:      model.RouteCached,
		Pattern:    &entry,
		Confidence: entry.SuccessRate,
		Reasons: []string{fmt.Sprintf("%s %s pattern %q: %s at %.0f%% over %d samples",
			how, kind, entry.Key, entry.Outcome, entry.SuccessRate*100, entry.SampleCount)},
	}
}

// complexity lists what makes rec hard. An empty list means simple.
func (r *Router) complexity(rec model.Record, matches []*pattern.Match) []string {
	var reasons []string

	for _, field := range []struct{ name, value string }{
		{"product type", rec.ProductType},
		{"category", rec.Category},
	} {
		for _, tok := range strings.FieldsFunc(strings.ToLower(field.value), func(c rune) bool {
			return !unicode.IsLetter(c) && !unicode.IsDigit(c)
		}) {
			if r.ambiguous[tok] {
				reasons = append(reasons, fmt.Sprintf("ambiguous %s %q", field.name, field.value))
				break
			}
		}
	}
	if rec.ProductType == "" && rec.Category == "" && strings.TrimSpace(rec.Description) == "" {
		reasons = append(reasons, "nothing describes what was bought")
	}

	if r.opts.HighValueAmount > 0 && abs(rec.Amount) >= r.opts.HighValueAmount {
		reasons = append(reasons, fmt.Sprintf("high value amount %.2f", rec.Amount))
	}

	for _, m := range matches {
		if m.Entry.SuccessRate < r.opts.LowConfidence {
			reasons = append(reasons, fmt.Sprintf("pattern %q has low confidence %.0f%%", m.Entry.Key, m.Entry.SuccessRate*100))
		}
	}

	return reasons
}

// strongest returns the match with the highest success rate, preferring
// more samples on ties.
func strongest(matches []*pattern.Match) *pattern.Match {
	var best *pattern.Match
	for _, m := range matches {
		if best == nil ||
			m.Entry.SuccessRate > best.Entry.SuccessRate ||
			(m.Entry.SuccessRate == best.Entry.SuccessRate && m.Entry.SampleCount > best.Entry.SampleCount) {
			best = m
		}
	}
	return best
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
