package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Veraticus/taxflow/internal/model"
)

type correctiveState int

const (
	stateRetrieve correctiveState = iota
	stateGrade
	stateEscalate
	stateDone
)

// corrective grades basic hits and drops those below RelevanceFloor. When
// fewer than MinRelevant survive it escalates once to query expansion and
// grades again. The escalate state is reachable at most once.
func (e *Engine) corrective(ctx context.Context, query string, filters model.SearchFilters, res *model.RetrievalResult) ([]model.ScoredChunk, error) {
	var (
		candidates []model.ScoredChunk
		kept       []model.ScoredChunk
		escalated  bool
		err        error
	)

	state := stateRetrieve
	for state != stateDone {
		switch state {
		case stateRetrieve:
			if escalated {
				candidates, err = e.expansion(ctx, query, filters, e.opts.RerankCandidates)
			} else {
				candidates, err = e.basic(ctx, query, filters, e.opts.RerankCandidates)
			}
			if err != nil {
				return nil, err
			}
			state = stateGrade

		case stateGrade:
			kept, err = e.grade(ctx, query, candidates)
			if err != nil {
				return nil, err
			}
			if len(kept) < e.opts.MinRelevant && !escalated {
				state = stateEscalate
			} else {
				state = stateDone
			}

		case stateEscalate:
			slog.Debug("Escalating corrective search to query expansion",
				"query", query, "relevant", len(kept), "required", e.opts.MinRelevant)
			escalated = true
			res.Escalated = true
			state = stateRetrieve
		}
	}

	return truncate(sortChunks(kept), e.opts.TopK), nil
}

// grade replaces each candidate's score with its graded relevance and keeps
// those at or above RelevanceFloor.
func (e *Engine) grade(ctx context.Context, query string, candidates []model.ScoredChunk) ([]model.ScoredChunk, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	scores, err := e.grader.Grade(ctx, query, candidates)
	if err != nil {
		return nil, fmt.Errorf("relevance grading failed: %w", err)
	}
	if len(scores) != len(candidates) {
		return nil, fmt.Errorf("relevance grader returned %d scores for %d chunks", len(scores), len(candidates))
	}

	kept := make([]model.ScoredChunk, 0, len(candidates))
	for i, c := range candidates {
		s := clamp01(scores[i])
		if s < e.opts.RelevanceFloor {
			continue
		}
		c.Score = s
		kept = append(kept, c)
	}
	return kept, nil
}
