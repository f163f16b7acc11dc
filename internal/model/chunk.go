package model

import "fmt"

// Chunk is a bounded span of reference-corpus text with its embedding.
type Chunk struct {
	ID         string    `json:"id" yaml:"id"`
	DocumentID string    `json:"document_id" yaml:"document_id"`
	Text       string    `json:"text" yaml:"text"`
	Category   string    `json:"category" yaml:"category"`
	Citation   string    `json:"citation" yaml:"citation"`
	Embedding  []float32 `json:"embedding,omitempty" yaml:"embedding,omitempty"`
	Sequence   int       `json:"sequence" yaml:"sequence"`
}

// ChunkID builds the canonical identifier for a chunk of a document.
func ChunkID(documentID string, sequence int) string {
	return fmt.Sprintf("%s#%d", documentID, sequence)
}

// Strategy names a retrieval strategy.
type Strategy string

// Retrieval strategies ordered by cost.
const (
	StrategyBasic      Strategy = "basic"
	StrategyHybrid     Strategy = "hybrid"
	StrategyExpansion  Strategy = "expansion"
	StrategyCorrective Strategy = "corrective"
	StrategyRerank     Strategy = "rerank"
	StrategyEnhanced   Strategy = "enhanced"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyBasic, StrategyHybrid, StrategyExpansion, StrategyCorrective, StrategyRerank, StrategyEnhanced:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown retrieval strategy %q", s)
}

// ScoredChunk pairs a chunk with its relevance in [0,1] and the strategy that produced it.
type ScoredChunk struct {
	Strategy Strategy
	Chunk    Chunk
	Score    float64
}

// SearchFilters restrict which chunks a search may return.
type SearchFilters struct {
	Category   string
	DocumentID string
}

// Matches reports whether a chunk satisfies the filters.
func (f SearchFilters) Matches(c Chunk) bool {
	if f.Category != "" && c.Category != f.Category {
		return false
	}
	if f.DocumentID != "" && c.DocumentID != f.DocumentID {
		return false
	}
	return true
}

// RetrievalResult is the ordered, deduplicated output of one search.
type RetrievalResult struct {
	Query     string
	Strategy  Strategy
	Chunks    []ScoredChunk
	Degraded  bool
	Escalated bool
}

// Citations returns the distinct citations in result order.
func (r *RetrievalResult) Citations() []string {
	if r == nil {
		return nil
	}
	seen := make(map[string]bool, len(r.Chunks))
	var out []string
	for _, sc := range r.Chunks {
		if sc.Chunk.Citation == "" || seen[sc.Chunk.Citation] {
			continue
		}
		seen[sc.Chunk.Citation] = true
		out = append(out, sc.Chunk.Citation)
	}
	return out
}
