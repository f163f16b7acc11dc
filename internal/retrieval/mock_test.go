package retrieval

import (
	"context"
	"sync"

	"github.com/Veraticus/taxflow/internal/model"
)

// MockCorpus serves canned hits keyed by the most recently embedded query.
type MockCorpus struct {
	Vector       map[string][]model.ScoredChunk
	Lexical      map[string][]model.ScoredChunk
	LexicalErr   error
	EmbedErrs    []error
	EmbedCalls   []string
	LexicalCalls []string
	last         string
	mu           sync.Mutex
}

func (m *MockCorpus) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EmbedCalls = append(m.EmbedCalls, text)
	if len(m.EmbedErrs) > 0 {
		err := m.EmbedErrs[0]
		m.EmbedErrs = m.EmbedErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	m.last = text
	return []float32{1}, nil
}

func (m *MockCorpus) VectorSearch(_ context.Context, _ []float32, filters model.SearchFilters, limit int) ([]model.ScoredChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return pick(m.Vector[m.last], filters, limit), nil
}

func (m *MockCorpus) LexicalSearch(_ context.Context, query string, filters model.SearchFilters, limit int) ([]model.ScoredChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LexicalCalls = append(m.LexicalCalls, query)
	if m.LexicalErr != nil {
		return nil, m.LexicalErr
	}
	return pick(m.Lexical[query], filters, limit), nil
}

func pick(hits []model.ScoredChunk, filters model.SearchFilters, limit int) []model.ScoredChunk {
	var out []model.ScoredChunk
	for _, h := range hits {
		if filters.Matches(h.Chunk) && len(out) < limit {
			out = append(out, h)
		}
	}
	return out
}

// MockGrader returns fixed scores per chunk ID.
type MockGrader struct {
	Scores map[string]float64
	Calls  int
}

func (g *MockGrader) Grade(_ context.Context, _ string, chunks []model.ScoredChunk) ([]float64, error) {
	g.Calls++
	out := make([]float64, len(chunks))
	for i, c := range chunks {
		out[i] = g.Scores[c.Chunk.ID]
	}
	return out, nil
}

// MockExpander returns fixed variants.
type MockExpander struct {
	Variants []string
	Calls    int
}

func (x *MockExpander) Expand(string) []string {
	x.Calls++
	return x.Variants
}

func hit(id string, seq int, score float64, text string) model.ScoredChunk {
	return model.ScoredChunk{
		Chunk: model.Chunk{ID: id, DocumentID: "doc", Sequence: seq, Text: text},
		Score: score,
	}
}

func ids(chunks []model.ScoredChunk) []string {
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, c.Chunk.ID)
	}
	return out
}
