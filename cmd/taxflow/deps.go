package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Veraticus/taxflow/internal/corpus"
	"github.com/Veraticus/taxflow/internal/embeddings"
	"github.com/Veraticus/taxflow/internal/engine"
	"github.com/Veraticus/taxflow/internal/fingerprint"
	"github.com/Veraticus/taxflow/internal/llm"
	"github.com/Veraticus/taxflow/internal/metrics"
	"github.com/Veraticus/taxflow/internal/pattern"
	"github.com/Veraticus/taxflow/internal/retrieval"
	"github.com/Veraticus/taxflow/internal/router"
	"github.com/Veraticus/taxflow/internal/rules"
	"github.com/Veraticus/taxflow/internal/storage"
)

// openStorage opens the configured database and brings its schema up to date.
func openStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(appConfig.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// openCorpus builds the in-memory index over every persisted chunk.
func openCorpus(ctx context.Context, store *storage.SQLiteStorage) (*corpus.Index, error) {
	embedder, err := embeddings.New(appConfig.Embedder())
	if err != nil {
		return nil, err
	}
	index, err := corpus.NewIndex(embedder)
	if err != nil {
		return nil, err
	}
	n, err := index.Load(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus: %w", err)
	}
	slog.Debug("Loaded reference corpus", "chunks", n, "dimension", index.Dimension())
	return index, nil
}

func newSearcher(index *corpus.Index, m *metrics.Metrics) (*retrieval.Engine, error) {
	return retrieval.NewEngine(index, appConfig.RetrievalOptions(),
		retrieval.WithExpander(retrieval.NewSynonymExpander(appConfig.Retrieval.Synonyms)),
		retrieval.WithMetrics(m),
	)
}

func loadRules() (*rules.Matcher, error) {
	loaded, err := rules.LoadFile(appConfig.Rules.Path)
	if err != nil {
		return nil, err
	}
	if len(loaded) > 0 {
		slog.Info("Loaded static rules", "count", len(loaded), "path", appConfig.Rules.Path)
	}
	return rules.NewMatcher(loaded)
}

// newProcessor wires the full analysis pipeline over store.
func newProcessor(ctx context.Context, store *storage.SQLiteStorage, dryRun bool, opts ...engine.Option) (*engine.Processor, error) {
	m := metrics.Default()

	index, err := openCorpus(ctx, store)
	if err != nil {
		return nil, err
	}
	if index.Count() == 0 {
		slog.Warn("Reference corpus is empty; reasoning will run without excerpts. Load one with 'taxflow corpus ingest'.")
	}
	searcher, err := newSearcher(index, m)
	if err != nil {
		return nil, err
	}

	matcher, err := loadRules()
	if err != nil {
		return nil, err
	}
	patterns := pattern.NewStore(store, appConfig.PatternOptions())
	rt := router.New(patterns, matcher, appConfig.RouterOptions(), m)

	client, err := llm.NewClient(appConfig.LLMClient())
	if err != nil {
		return nil, err
	}
	reasoner, err := llm.NewReasoner(client, appConfig.LLMClient(), appConfig.LLM.Labels, slog.Default())
	if err != nil {
		return nil, err
	}

	opts = append([]engine.Option{engine.WithMetrics(m)}, opts...)
	return engine.New(fingerprint.NewStore(store), rt, searcher, reasoner, appConfig.EngineConfig(dryRun), opts...)
}
