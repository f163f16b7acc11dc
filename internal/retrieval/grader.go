package retrieval

import (
	"context"

	"github.com/Veraticus/taxflow/internal/model"
)

// Grader scores how relevant each chunk is to a query, in [0,1].
type Grader interface {
	Grade(ctx context.Context, query string, chunks []model.ScoredChunk) ([]float64, error)
}

// TermGrader blends query-term coverage with the retrieval score.
type TermGrader struct {
	CoverageWeight float64
	ScoreWeight    float64
}

// NewTermGrader creates a grader weighting coverage and retrieval score equally.
func NewTermGrader() *TermGrader {
	return &TermGrader{CoverageWeight: 0.5, ScoreWeight: 0.5}
}

// Grade returns one relevance score per chunk.
func (g *TermGrader) Grade(ctx context.Context, query string, chunks []model.ScoredChunk) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := contentTerms(query)
	out := make([]float64, len(chunks))
	for i, c := range chunks {
		out[i] = clamp01(g.CoverageWeight*termCoverage(terms, c.Chunk.Text) + g.ScoreWeight*c.Score)
	}
	return out, nil
}
