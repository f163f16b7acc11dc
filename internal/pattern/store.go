// Package pattern implements the learned vendor and keyword pattern cache.
package pattern

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Veraticus/taxflow/internal/common"
	"github.com/Veraticus/taxflow/internal/model"
	"github.com/Veraticus/taxflow/internal/service"
)

// ErrInvalidUpdate is returned for upserts with out-of-range arguments.
var ErrInvalidUpdate = errors.New("invalid pattern update")

// Options tunes matching and write contention handling.
type Options struct {
	MinOverlap    float64
	MaxCASRetries int
}

// DefaultOptions returns the standard pattern store settings.
func DefaultOptions() Options {
	return Options{
		MinOverlap:    0.5,
		MaxCASRetries: 5,
	}
}

// Match is a lookup hit together with how it was found.
type Match struct {
	Entry   model.PatternEntry
	Overlap float64
	Exact   bool
}

// Store is the only writer of pattern entries.
type Store struct {
	repo service.PatternRepository
	now  func() time.Time
	opts Options
}

// NewStore creates a pattern store.
func NewStore(repo service.PatternRepository, opts Options) *Store {
	if opts.MaxCASRetries <= 0 {
		opts.MaxCASRetries = DefaultOptions().MaxCASRetries
	}
	return &Store{repo: repo, opts: opts, now: time.Now}
}

// MatchVendor looks a vendor up by normalized name, then by fuzzy keyword overlap.
func (s *Store) MatchVendor(ctx context.Context, name string) (*Match, error) {
	key := NormalizeVendor(name)
	if key == "" {
		return nil, nil
	}

	entries, err := s.repo.GetPatterns(ctx, model.PatternVendor, key)
	if err != nil {
		return nil, fmt.Errorf("failed to look up vendor %q: %w", key, err)
	}
	if best := bestOutcome(entries); best != nil {
		return &Match{Entry: *best, Overlap: 1, Exact: true}, nil
	}

	return s.fuzzy(ctx, model.PatternVendor, VendorKeywords(name))
}

// MatchKeywords looks free text up by canonical keyword signature, then by overlap.
func (s *Store) MatchKeywords(ctx context.Context, text string) (*Match, error) {
	return s.MatchSignature(ctx, ExtractKeywords(text))
}

// MatchSignature looks up an already extracted keyword set.
func (s *Store) MatchSignature(ctx context.Context, keywords []string) (*Match, error) {
	if len(keywords) == 0 {
		return nil, nil
	}

	sig := Signature(keywords)
	entries, err := s.repo.GetPatterns(ctx, model.PatternKeyword, sig)
	if err != nil {
		return nil, fmt.Errorf("failed to look up signature %q: %w", sig, err)
	}
	if best := bestOutcome(entries); best != nil {
		return &Match{Entry: *best, Overlap: 1, Exact: true}, nil
	}

	return s.fuzzy(ctx, model.PatternKeyword, keywords)
}

// fuzzy returns the highest-overlap key above MinOverlap. Ties go to the larger
// sample count, then the lexicographically first key.
func (s *Store) fuzzy(ctx context.Context, kind model.PatternKind, keywords []string) (*Match, error) {
	if len(keywords) == 0 {
		return nil, nil
	}

	all, err := s.repo.ListPatterns(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s patterns: %w", kind, err)
	}

	var best *Match
	for _, group := range groupByKey(all) {
		entry := bestOutcome(group)
		overlap := Overlap(keywords, entryKeywords(entry))
		if overlap <= 0 || overlap < s.opts.MinOverlap {
			continue
		}
		candidate := &Match{Entry: *entry, Overlap: overlap}
		if best == nil || better(candidate, best) {
			best = candidate
		}
	}
	return best, nil
}

func better(a, b *Match) bool {
	if a.Overlap != b.Overlap {
		return a.Overlap > b.Overlap
	}
	if a.Entry.SampleCount != b.Entry.SampleCount {
		return a.Entry.SampleCount > b.Entry.SampleCount
	}
	return a.Entry.Key < b.Entry.Key
}

// Entries returns every outcome stored for a key.
func (s *Store) Entries(ctx context.Context, kind model.PatternKind, key string) ([]model.PatternEntry, error) {
	return s.repo.GetPatterns(ctx, kind, key)
}

// List returns every pattern of a kind.
func (s *Store) List(ctx context.Context, kind model.PatternKind) ([]model.PatternEntry, error) {
	return s.repo.ListPatterns(ctx, kind)
}

// Update describes one evidence increment for a (kind, key, outcome) entry.
type Update struct {
	Kind         model.PatternKind
	Key          string
	Outcome      string
	Citation     string
	Keywords     []string
	OutcomeValue float64
	SampleDelta  int
}

// Upsert folds evidence into an entry as a running weighted average using
// optimistic compare-and-swap on the row version.
func (s *Store) Upsert(ctx context.Context, u Update) (*model.PatternEntry, error) {
	if u.OutcomeValue < 0 || u.OutcomeValue > 1 {
		return nil, fmt.Errorf("%w: outcome value %v outside [0,1]", ErrInvalidUpdate, u.OutcomeValue)
	}
	if u.SampleDelta <= 0 {
		return nil, fmt.Errorf("%w: sample delta must be positive", ErrInvalidUpdate)
	}
	if u.Key == "" || u.Outcome == "" {
		return nil, fmt.Errorf("%w: key and outcome are required", ErrInvalidUpdate)
	}

	var written *model.PatternEntry
	err := common.WithRetry(ctx, func() error {
		entry, err := s.tryUpsert(ctx, u)
		if err != nil {
			if errors.Is(err, common.ErrConcurrencyConflict) || errors.Is(err, common.ErrDuplicateEntry) {
				return fmt.Errorf("%w: %w", common.ErrConcurrencyConflict, err)
			}
			return common.Permanent(err)
		}
		written = entry
		return nil
	}, service.RetryOptions{
		MaxAttempts:  s.opts.MaxCASRetries,
		InitialDelay: 2 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   2,
	})
	if err != nil {
		if errors.Is(err, common.ErrConcurrencyConflict) {
			slog.Warn("Pattern update dropped after repeated conflicts",
				"kind", u.Kind, "key", u.Key, "outcome", u.Outcome)
		}
		return nil, err
	}
	return written, nil
}

func (s *Store) tryUpsert(ctx context.Context, u Update) (*model.PatternEntry, error) {
	entries, err := s.repo.GetPatterns(ctx, u.Kind, u.Key)
	if err != nil {
		return nil, err
	}

	var current *model.PatternEntry
	for i := range entries {
		if entries[i].Outcome == u.Outcome {
			current = &entries[i]
			break
		}
	}

	if current == nil {
		entry := &model.PatternEntry{
			Kind:        u.Kind,
			Key:         u.Key,
			Keywords:    u.Keywords,
			Outcome:     u.Outcome,
			Citation:    u.Citation,
			SuccessRate: u.OutcomeValue,
			SampleCount: u.SampleDelta,
			UpdatedAt:   s.now(),
		}
		if err := s.repo.InsertPattern(ctx, entry); err != nil {
			return nil, err
		}
		return entry, nil
	}

	next := *current
	next.SampleCount = current.SampleCount + u.SampleDelta
	next.SuccessRate = clamp01((current.SuccessRate*float64(current.SampleCount) +
		u.OutcomeValue*float64(u.SampleDelta)) / float64(next.SampleCount))
	if u.Citation != "" {
		next.Citation = u.Citation
	}
	if len(next.Keywords) == 0 {
		next.Keywords = u.Keywords
	}
	next.UpdatedAt = s.now()

	if err := s.repo.UpdatePatternCAS(ctx, &next, current.Version); err != nil {
		return nil, err
	}
	return &next, nil
}

// bestOutcome picks the entry a lookup reports for one key: highest success
// rate, then most samples, then the first outcome alphabetically.
func bestOutcome(entries []model.PatternEntry) *model.PatternEntry {
	if len(entries) == 0 {
		return nil
	}
	best := &entries[0]
	for i := 1; i < len(entries); i++ {
		e := &entries[i]
		switch {
		case e.SuccessRate != best.SuccessRate:
			if e.SuccessRate > best.SuccessRate {
				best = e
			}
		case e.SampleCount != best.SampleCount:
			if e.SampleCount > best.SampleCount {
				best = e
			}
		case e.Outcome < best.Outcome:
			best = e
		}
	}
	return best
}

func groupByKey(entries []model.PatternEntry) [][]model.PatternEntry {
	idx := make(map[string]int)
	var groups [][]model.PatternEntry
	for _, e := range entries {
		i, ok := idx[e.Key]
		if !ok {
			i = len(groups)
			idx[e.Key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], e)
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i][0].Key < groups[j][0].Key })
	return groups
}

func entryKeywords(e *model.PatternEntry) []string {
	if len(e.Keywords) > 0 {
		return e.Keywords
	}
	if e.Kind == model.PatternVendor {
		return VendorKeywords(e.Key)
	}
	return ParseSignature(e.Key)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
