package retrieval

import (
	"sort"

	"github.com/Veraticus/taxflow/internal/model"
)

// normalize divides every score by the list maximum so lists with different
// scales can be merged.
func normalize(chunks []model.ScoredChunk) []model.ScoredChunk {
	var maxScore float64
	for _, c := range chunks {
		if c.Score > maxScore {
			maxScore = c.Score
		}
	}
	out := make([]model.ScoredChunk, 0, len(chunks))
	if maxScore <= 0 {
		return out
	}
	for _, c := range chunks {
		c.Score = clamp01(c.Score / maxScore)
		out = append(out, c)
	}
	return out
}

// merge unions lists keeping the highest score per chunk ID.
func merge(lists ...[]model.ScoredChunk) []model.ScoredChunk {
	var all []model.ScoredChunk
	for _, l := range lists {
		all = append(all, l...)
	}
	return sortChunks(dedupe(all))
}

// dedupe keeps the highest-scoring entry per chunk ID.
func dedupe(chunks []model.ScoredChunk) []model.ScoredChunk {
	best := make(map[string]int, len(chunks))
	out := make([]model.ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		if i, ok := best[c.Chunk.ID]; ok {
			if c.Score > out[i].Score {
				out[i] = c
			}
			continue
		}
		best[c.Chunk.ID] = len(out)
		out = append(out, c)
	}
	return out
}

// sortChunks orders by score descending, then sequence, then chunk ID.
func sortChunks(chunks []model.ScoredChunk) []model.ScoredChunk {
	sort.SliceStable(chunks, func(i, j int) bool {
		a, b := chunks[i], chunks[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.Sequence != b.Chunk.Sequence {
			return a.Chunk.Sequence < b.Chunk.Sequence
		}
		return a.Chunk.ID < b.Chunk.ID
	})
	return chunks
}

func truncate(chunks []model.ScoredChunk, n int) []model.ScoredChunk {
	if n >= 0 && len(chunks) > n {
		return chunks[:n]
	}
	return chunks
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
