// Package corpus holds the chunked reference corpus and answers vector and
// lexical searches over it.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/Veraticus/taxflow/internal/common"
	"github.com/Veraticus/taxflow/internal/embeddings"
	"github.com/Veraticus/taxflow/internal/model"
	"github.com/Veraticus/taxflow/internal/service"
	"github.com/philippgille/chromem-go"
)

const collectionName = "corpus"

// Metadata keys stored with each chromem document.
const (
	metaDocument = "document_id"
	metaSequence = "sequence"
	metaCategory = "category"
)

// ErrLexicalUnavailable is returned when lexical search has nothing to search.
var ErrLexicalUnavailable = errors.New("lexical index unavailable")

// Index is the searchable in-memory view of the corpus: a chromem-go
// collection for vectors and a BM25 index for text. Chunks themselves live in
// SQLite and are loaded at startup.
type Index struct {
	embedder   embeddings.Embedder
	collection *chromem.Collection
	chunks     map[string]model.Chunk
	lexical    *bm25Index
	mu         sync.RWMutex
}

// NewIndex creates an empty index that embeds with embedder.
func NewIndex(embedder embeddings.Embedder) (*Index, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", common.ErrConfiguration)
	}

	db := chromem.NewDB()
	collection, err := db.GetOrCreateCollection(collectionName, nil, chromem.EmbeddingFunc(embedder.Embed))
	if err != nil {
		return nil, fmt.Errorf("failed to create corpus collection: %w", err)
	}

	return &Index{
		embedder:   embedder,
		collection: collection,
		chunks:     make(map[string]model.Chunk),
		lexical:    newBM25Index(),
	}, nil
}

// Load populates the index from persisted chunks.
func (ix *Index) Load(ctx context.Context, repo service.ChunkRepository) (int, error) {
	chunks, err := repo.ListChunks(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load corpus chunks: %w", err)
	}
	if err := ix.Add(ctx, chunks); err != nil {
		return 0, err
	}
	slog.Debug("Loaded corpus", "chunks", len(chunks))
	return len(chunks), nil
}

// Add indexes chunks that already carry embeddings. A chunk with an ID already
// present replaces it.
func (ix *Index) Add(ctx context.Context, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	dim := ix.embedder.Dimension()
	docs := make([]chromem.Document, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) != dim {
			return fmt.Errorf("%w: chunk %s has dimension %d but the embedder produces %d; re-ingest the corpus",
				common.ErrConfiguration, c.ID, len(c.Embedding), dim)
		}
		docs = append(docs, chromem.Document{
			ID:      c.ID,
			Content: c.Text,
			Metadata: map[string]string{
				metaDocument: c.DocumentID,
				metaSequence: strconv.Itoa(c.Sequence),
				metaCategory: c.Category,
			},
			Embedding: c.Embedding,
		})
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	// Concurrency of 1 since embeddings are precomputed
	if err := ix.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("failed to index chunks: %w", err)
	}
	for _, c := range chunks {
		ix.chunks[c.ID] = c
		ix.lexical.add(c.ID, c.Text)
	}
	return nil
}

// Count returns the number of indexed chunks.
func (ix *Index) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.chunks)
}

// Dimension returns the embedding size of the index.
func (ix *Index) Dimension() int {
	return ix.embedder.Dimension()
}

// Embed embeds a query with the index's embedder.
func (ix *Index) Embed(ctx context.Context, text string) ([]float32, error) {
	return ix.embedder.Embed(ctx, text)
}

// VectorSearch returns up to limit chunks by cosine similarity, clamped to [0,1].
func (ix *Index) VectorSearch(ctx context.Context, vec []float32, filters model.SearchFilters, limit int) ([]model.ScoredChunk, error) {
	if limit <= 0 {
		return nil, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	// chromem requires nResults <= document count
	n := ix.collection.Count()
	if n == 0 {
		return nil, nil
	}
	if limit < n {
		n = limit
	}

	results, err := ix.collection.QueryEmbedding(ctx, vec, n, whereClause(filters), nil)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	out := make([]model.ScoredChunk, 0, len(results))
	for _, r := range results {
		c, ok := ix.chunks[r.ID]
		if !ok || !filters.Matches(c) {
			continue
		}
		out = append(out, model.ScoredChunk{Chunk: c, Score: clamp01(float64(r.Similarity))})
	}
	return out, nil
}

// LexicalSearch returns up to limit chunks by BM25 score. Scores are raw and
// unbounded; callers normalize them.
func (ix *Index) LexicalSearch(_ context.Context, query string, filters model.SearchFilters, limit int) ([]model.ScoredChunk, error) {
	if limit <= 0 {
		return nil, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.chunks) == 0 {
		return nil, ErrLexicalUnavailable
	}

	scores := ix.lexical.score(query, func(id string) bool {
		return filters.Matches(ix.chunks[id])
	})

	out := make([]model.ScoredChunk, 0, len(scores))
	for id, s := range scores {
		out = append(out, model.ScoredChunk{Chunk: ix.chunks[id], Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Chunk.ID < out[j].Chunk.ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func whereClause(f model.SearchFilters) map[string]string {
	where := make(map[string]string)
	if f.Category != "" {
		where[metaCategory] = f.Category
	}
	if f.DocumentID != "" {
		where[metaDocument] = f.DocumentID
	}
	if len(where) == 0 {
		return nil
	}
	return where
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
