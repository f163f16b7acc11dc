package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/Veraticus/taxflow/internal/llm"
	"github.com/Veraticus/taxflow/internal/model"
)

// MockRouter routes by vendor and records every call.
type MockRouter struct {
	byVendor map[string]model.Decision
	calls    []string
	mu       sync.Mutex
}

func (m *MockRouter) Route(_ context.Context, rec model.Record) model.Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, rec.ID)
	if d, ok := m.byVendor[rec.Vendor]; ok {
		return d
	}
	return model.Decision{Route: model.RouteRetrieveSimple, Reasons: []string{"default"}}
}

// MockSearcher returns one chunk per query and counts searches.
type MockSearcher struct {
	err        error
	queries    []string
	strategies []model.Strategy
	mu         sync.Mutex
}

func (m *MockSearcher) Search(_ context.Context, query string, strategy model.Strategy, _ model.SearchFilters) (*model.RetrievalResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, query)
	m.strategies = append(m.strategies, strategy)
	if m.err != nil {
		return nil, m.err
	}
	return &model.RetrievalResult{
		Query:    query,
		Strategy: strategy,
		Chunks: []model.ScoredChunk{{
			Chunk: model.Chunk{ID: "doc#0", DocumentID: "doc", Citation: "Sec. 144.030", Text: "excerpt"},
			Score: 0.8,
		}},
	}, nil
}

func (m *MockSearcher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queries)
}

// MockReasoner answers every request with a fixed outcome.
type MockReasoner struct {
	// failBatch makes the given 1-based batch fail with err.
	err        error
	after      func(batch int)
	outcome    string
	batchSizes []int
	requests   []llm.Request
	failBatch  int
	mu         sync.Mutex
}

func (m *MockReasoner) Reason(_ context.Context, requests []llm.Request) ([]llm.Outcome, error) {
	m.mu.Lock()
	m.batchSizes = append(m.batchSizes, len(requests))
	m.requests = append(m.requests, requests...)
	batch := len(m.batchSizes)
	m.mu.Unlock()

	if m.after != nil {
		defer m.after(batch)
	}
	if m.err != nil && (m.failBatch == 0 || m.failBatch == batch) {
		return nil, m.err
	}

	outcome := m.outcome
	if outcome == "" {
		outcome = "exempt"
	}
	out := make([]llm.Outcome, len(requests))
	for i, r := range requests {
		out[i] = llm.Outcome{
			RecordID:    r.Record.ID,
			Outcome:     outcome,
			Confidence:  0.8,
			Explanation: fmt.Sprintf("reasoned about %s", r.Record.Vendor),
		}
	}
	return out, nil
}

func (m *MockReasoner) batches() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.batchSizes...)
}
