package retrieval

import (
	"context"
	"strings"

	"github.com/Veraticus/taxflow/internal/model"
)

// Reranker reorders candidate chunks using signals beyond vector distance.
type Reranker interface {
	Rerank(ctx context.Context, query string, filters model.SearchFilters, chunks []model.ScoredChunk) ([]model.ScoredChunk, error)
}

// TermReranker combines the original score with term overlap, exact phrase
// presence and agreement between the chunk category and the search context.
type TermReranker struct {
	OriginalWeight float64
	OverlapWeight  float64
	PhraseWeight   float64
	CategoryWeight float64
}

// NewTermReranker creates a reranker with default weights.
func NewTermReranker() *TermReranker {
	return &TermReranker{
		OriginalWeight: 0.4,
		OverlapWeight:  0.3,
		PhraseWeight:   0.2,
		CategoryWeight: 0.1,
	}
}

// Rerank rescores every chunk. Order is left to the caller.
func (r *TermReranker) Rerank(ctx context.Context, query string, filters model.SearchFilters, chunks []model.ScoredChunk) ([]model.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	terms := contentTerms(query)
	phrase := strings.Join(words(query), " ")
	if len(terms) == 0 {
		out := make([]model.ScoredChunk, len(chunks))
		copy(out, chunks)
		return out, nil
	}

	out := make([]model.ScoredChunk, len(chunks))
	for i, c := range chunks {
		text := strings.Join(words(c.Chunk.Text), " ")

		var phraseScore float64
		if phrase != "" && strings.Contains(text, phrase) {
			phraseScore = 1
		}

		c.Score = clamp01(r.OriginalWeight*c.Score +
			r.OverlapWeight*termCoverage(terms, c.Chunk.Text) +
			r.PhraseWeight*phraseScore +
			r.CategoryWeight*categoryAgreement(c.Chunk.Category, filters, terms))
		out[i] = c
	}
	return out, nil
}

// categoryAgreement is 1 when the chunk's category matches the requested
// category, or, with no category filter, when the query names the category.
func categoryAgreement(category string, filters model.SearchFilters, queryTerms []string) float64 {
	if category == "" {
		return 0
	}
	if filters.Category != "" {
		if strings.EqualFold(filters.Category, category) {
			return 1
		}
		return 0
	}
	return termCoverage(contentTerms(category), strings.Join(queryTerms, " "))
}
