package engine

import (
	"context"

	"github.com/Veraticus/taxflow/internal/llm"
	"github.com/Veraticus/taxflow/internal/model"
)

// Router decides how a record is analyzed.
type Router interface {
	Route(ctx context.Context, rec model.Record) model.Decision
}

// Searcher retrieves reference context for a query.
type Searcher interface {
	Search(ctx context.Context, query string, strategy model.Strategy, filters model.SearchFilters) (*model.RetrievalResult, error)
}

// Reasoner turns records and their context into outcomes, one call per batch.
type Reasoner interface {
	Reason(ctx context.Context, requests []llm.Request) ([]llm.Outcome, error)
}

// Fingerprints tracks what changed since the last run and commits results.
type Fingerprints interface {
	IsChanged(ctx context.Context, fileID, fileHash string) (bool, error)
	UnresolvedRecords(ctx context.Context, fileID string, records []model.Record) ([]model.Record, error)
	Commit(ctx context.Context, fileID, fileHash string, recordCount int, processed []model.Result, advanceFile bool) error
}
