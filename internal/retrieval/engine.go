// Package retrieval searches the reference corpus with a ladder of strategies
// from a single vector lookup up to graded, expanded and reranked search.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/taxflow/internal/common"
	"github.com/Veraticus/taxflow/internal/metrics"
	"github.com/Veraticus/taxflow/internal/model"
	"github.com/Veraticus/taxflow/internal/service"
)

// Corpus is the searchable reference corpus.
type Corpus interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	VectorSearch(ctx context.Context, vec []float32, filters model.SearchFilters, limit int) ([]model.ScoredChunk, error)
	LexicalSearch(ctx context.Context, query string, filters model.SearchFilters, limit int) ([]model.ScoredChunk, error)
}

// Options tunes every strategy.
type Options struct {
	EmbedRetry          service.RetryOptions
	SimilarityThreshold float64
	RelevanceFloor      float64
	TopK                int
	MinRelevant         int
	RerankCandidates    int
	EnhancedHybridMerge bool
}

// DefaultOptions returns conservative retrieval settings.
func DefaultOptions() Options {
	return Options{
		SimilarityThreshold: 0.2,
		RelevanceFloor:      0.35,
		TopK:                5,
		MinRelevant:         2,
		RerankCandidates:    20,
		EnhancedHybridMerge: true,
		EmbedRetry: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
		},
	}
}

// Engine runs retrieval strategies against a Corpus.
type Engine struct {
	corpus   Corpus
	grader   Grader
	reranker Reranker
	expander Expander
	metrics  *metrics.Metrics
	opts     Options
}

// Option customizes an Engine.
type Option func(*Engine)

// WithGrader replaces the default relevance grader.
func WithGrader(g Grader) Option { return func(e *Engine) { e.grader = g } }

// WithReranker replaces the default reranker.
func WithReranker(r Reranker) Option { return func(e *Engine) { e.reranker = r } }

// WithExpander replaces the default query expander.
func WithExpander(x Expander) Option { return func(e *Engine) { e.expander = x } }

// WithMetrics records search metrics on m.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// NewEngine creates a retrieval engine.
func NewEngine(corpus Corpus, opts Options, options ...Option) (*Engine, error) {
	if corpus == nil {
		return nil, fmt.Errorf("%w: retrieval requires a corpus", common.ErrConfiguration)
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultOptions().TopK
	}
	if opts.RerankCandidates < opts.TopK {
		opts.RerankCandidates = opts.TopK
	}
	if opts.MinRelevant <= 0 {
		opts.MinRelevant = 1
	}

	e := &Engine{
		corpus:   corpus,
		opts:     opts,
		grader:   NewTermGrader(),
		reranker: NewTermReranker(),
		expander: NewSynonymExpander(nil),
	}
	for _, o := range options {
		o(e)
	}
	return e, nil
}

// Search runs one strategy. Results are deduplicated by chunk ID and totally
// ordered by score, then chunk sequence, then chunk ID.
func (e *Engine) Search(ctx context.Context, query string, strategy model.Strategy, filters model.SearchFilters) (*model.RetrievalResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, common.NewIntegrityError("empty retrieval query")
	}

	start := time.Now()
	res := &model.RetrievalResult{Query: query, Strategy: strategy}

	var (
		chunks []model.ScoredChunk
		err    error
	)
	switch strategy {
	case model.StrategyBasic:
		chunks, err = e.basic(ctx, query, filters, e.opts.TopK)
	case model.StrategyHybrid:
		chunks, err = e.hybrid(ctx, query, filters, e.opts.TopK, res)
	case model.StrategyExpansion:
		chunks, err = e.expansion(ctx, query, filters, e.opts.TopK)
	case model.StrategyCorrective:
		chunks, err = e.corrective(ctx, query, filters, res)
	case model.StrategyRerank:
		chunks, err = e.rerank(ctx, query, filters, res)
	case model.StrategyEnhanced:
		chunks, err = e.enhanced(ctx, query, filters, res)
	default:
		return nil, fmt.Errorf("%w: unknown retrieval strategy %q", common.ErrConfiguration, strategy)
	}
	if err != nil {
		return nil, err
	}

	for i := range chunks {
		chunks[i].Strategy = strategy
	}
	res.Chunks = chunks

	if e.metrics != nil {
		e.metrics.SearchesTotal.WithLabelValues(string(strategy)).Inc()
		e.metrics.SearchDuration.WithLabelValues(string(strategy)).Observe(time.Since(start).Seconds())
		if res.Degraded {
			e.metrics.SearchDegraded.Inc()
		}
		if res.Escalated {
			e.metrics.SearchEscalations.Inc()
		}
	}
	slog.Debug("Retrieval complete",
		"strategy", strategy,
		"chunks", len(chunks),
		"degraded", res.Degraded,
		"escalated", res.Escalated,
		"duration", time.Since(start))
	return res, nil
}

// basic embeds the query and keeps vector hits at or above SimilarityThreshold.
// A failed embedding fails the search once the retry budget is spent.
func (e *Engine) basic(ctx context.Context, query string, filters model.SearchFilters, limit int) ([]model.ScoredChunk, error) {
	var vec []float32
	err := common.WithRetry(ctx, func() error {
		v, err := e.corpus.Embed(ctx, query)
		if err != nil {
			if !common.IsRetryable(err) {
				return common.Permanent(err)
			}
			return err
		}
		vec = v
		return nil
	}, e.opts.EmbedRetry)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := e.corpus.VectorSearch(ctx, vec, filters, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	kept := hits[:0]
	for _, h := range hits {
		if h.Score >= e.opts.SimilarityThreshold {
			kept = append(kept, h)
		}
	}
	return truncate(sortChunks(dedupe(kept)), limit), nil
}

// hybrid unions basic and lexical hits after max-normalizing each list.
// A lexical failure leaves vector-only results and marks res degraded.
func (e *Engine) hybrid(ctx context.Context, query string, filters model.SearchFilters, limit int, res *model.RetrievalResult) ([]model.ScoredChunk, error) {
	vector, err := e.basic(ctx, query, filters, limit)
	if err != nil {
		return nil, err
	}

	lexical, err := e.corpus.LexicalSearch(ctx, query, filters, limit)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		slog.Warn("Lexical search failed, using vector results only", "error", err)
		res.Degraded = true
		return vector, nil
	}

	return truncate(merge(normalize(vector), normalize(lexical)), limit), nil
}

// expansion runs basic search for the query and each variant and merges them.
func (e *Engine) expansion(ctx context.Context, query string, filters model.SearchFilters, limit int) ([]model.ScoredChunk, error) {
	queries := append([]string{query}, e.expander.Expand(query)...)

	lists := make([][]model.ScoredChunk, 0, len(queries))
	for _, q := range queries {
		hits, err := e.basic(ctx, q, filters, limit)
		if err != nil {
			return nil, err
		}
		lists = append(lists, normalize(hits))
	}
	return truncate(merge(lists...), limit), nil
}

// rerank reorders the top RerankCandidates hybrid hits.
func (e *Engine) rerank(ctx context.Context, query string, filters model.SearchFilters, res *model.RetrievalResult) ([]model.ScoredChunk, error) {
	candidates, err := e.hybrid(ctx, query, filters, e.opts.RerankCandidates, res)
	if err != nil {
		return nil, err
	}
	return e.applyReranker(ctx, query, filters, candidates)
}

// enhanced composes corrective search, an optional lexical merge and reranking.
func (e *Engine) enhanced(ctx context.Context, query string, filters model.SearchFilters, res *model.RetrievalResult) ([]model.ScoredChunk, error) {
	graded, err := e.corrective(ctx, query, filters, res)
	if err != nil {
		return nil, err
	}

	candidates := graded
	if e.opts.EnhancedHybridMerge {
		lexical, err := e.corpus.LexicalSearch(ctx, query, filters, e.opts.RerankCandidates)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			slog.Warn("Lexical merge failed, continuing with graded results", "error", err)
			res.Degraded = true
		default:
			candidates = merge(graded, normalize(lexical))
		}
	}
	return e.applyReranker(ctx, query, filters, candidates)
}

func (e *Engine) applyReranker(ctx context.Context, query string, filters model.SearchFilters, candidates []model.ScoredChunk) ([]model.ScoredChunk, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	reranked, err := e.reranker.Rerank(ctx, query, filters, candidates)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		slog.Warn("Rerank failed, keeping retrieval order", "error", err)
		reranked = candidates
	}
	return truncate(sortChunks(dedupe(reranked)), e.opts.TopK), nil
}
