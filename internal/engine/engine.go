// Package engine implements the change-tracking batch processor that drives a
// file of records through routing, retrieval and reasoning.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/taxflow/internal/common"
	"github.com/Veraticus/taxflow/internal/fingerprint"
	"github.com/Veraticus/taxflow/internal/llm"
	"github.com/Veraticus/taxflow/internal/metrics"
	"github.com/Veraticus/taxflow/internal/model"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Config holds the batch processor settings.
type Config struct {
	SimpleStrategy     model.Strategy
	EnhancedStrategy   model.Strategy
	RefundableOutcomes []string
	Workers            int
	BatchSize          int
	BatchTimeout       time.Duration
	DryRun             bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		SimpleStrategy:     model.StrategyHybrid,
		EnhancedStrategy:   model.StrategyEnhanced,
		RefundableOutcomes: []string{"exempt"},
		Workers:            4,
		BatchSize:          20,
		BatchTimeout:       3 * time.Minute,
	}
}

// Progress is reported as records reach a final state.
type Progress struct {
	Done  int
	Total int
}

// Processor runs files of records through the pipeline.
type Processor struct {
	fingerprints Fingerprints
	router       Router
	searcher     Searcher
	reasoner     Reasoner
	metrics      *metrics.Metrics
	onProgress   func(Progress)
	now          func() time.Time
	estimator    Estimator
	cfg          Config
}

// Option customizes a Processor.
type Option func(*Processor)

// WithMetrics records run metrics on m.
func WithMetrics(m *metrics.Metrics) Option { return func(p *Processor) { p.metrics = m } }

// WithProgress registers a callback invoked from the calling goroutine.
func WithProgress(fn func(Progress)) Option { return func(p *Processor) { p.onProgress = fn } }

// New creates a batch processor.
func New(fingerprints Fingerprints, router Router, searcher Searcher, reasoner Reasoner, cfg Config, opts ...Option) (*Processor, error) {
	if fingerprints == nil || router == nil || searcher == nil || reasoner == nil {
		return nil, fmt.Errorf("%w: processor requires fingerprints, router, searcher and reasoner", common.ErrConfiguration)
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = def.BatchTimeout
	}
	if cfg.SimpleStrategy == "" {
		cfg.SimpleStrategy = def.SimpleStrategy
	}
	if cfg.EnhancedStrategy == "" {
		cfg.EnhancedStrategy = def.EnhancedStrategy
	}
	for _, s := range []model.Strategy{cfg.SimpleStrategy, cfg.EnhancedStrategy} {
		if _, err := model.ParseStrategy(string(s)); err != nil {
			return nil, fmt.Errorf("%w: %w", common.ErrConfiguration, err)
		}
	}

	p := &Processor{
		fingerprints: fingerprints,
		router:       router,
		searcher:     searcher,
		reasoner:     reasoner,
		estimator:    NewEstimator(cfg.RefundableOutcomes),
		now:          time.Now,
		cfg:          cfg,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// item is one unresolved record moving through a run.
type item struct {
	err       error
	retrieval *model.RetrievalResult
	result    *model.Result
	rec       model.Record
	decision  model.Decision
	skipped   bool
}

// Run analyzes the records of one input file that changed since the last
// successful run and commits what succeeded.
func (p *Processor) Run(ctx context.Context, fileID string, records []model.Record) (*RunReport, error) {
	start := p.now()
	report := newRunReport(uuid.NewString(), fileID, start, p.cfg.DryRun)
	report.Total = len(records)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	valid := p.prepare(records, report)
	fileHash := fingerprint.FileHash(valid)

	changed, err := p.fingerprints.IsChanged(ctx, fileID, fileHash)
	if err != nil {
		return nil, err
	}
	if !changed && len(report.Failures) == 0 {
		report.Unchanged = true
		report.Duration = time.Since(start)
		slog.Info("File unchanged since last run", "file_id", fileID, "records", len(valid))
		return report, nil
	}

	unresolved, err := p.fingerprints.UnresolvedRecords(ctx, fileID, valid)
	if err != nil {
		return nil, err
	}
	report.Unresolved = len(unresolved)

	slog.Info("Starting analysis run",
		"run_id", report.RunID,
		"file_id", fileID,
		"records", len(records),
		"unresolved", len(unresolved),
		"dry_run", p.cfg.DryRun)

	items := make([]*item, len(unresolved))
	for i, rec := range unresolved {
		items[i] = &item{rec: rec}
	}

	cache := NewRunCache()
	defer cache.Clear()

	if err := p.resolve(ctx, items, cache); err != nil {
		return nil, err
	}
	report.CacheHits, report.CacheMisses = cache.Stats()
	p.progress(items, report)

	if err := p.reason(ctx, items, report); err != nil {
		return nil, err
	}

	results := p.collect(items, report)

	if !p.cfg.DryRun {
		advance := len(report.Failures) == 0 && report.Skipped == 0
		// Finished work is persisted even when the caller gave up mid-run.
		commitCtx := context.WithoutCancel(ctx)
		if err := p.fingerprints.Commit(commitCtx, fileID, fileHash, len(valid), results, advance); err != nil {
			return nil, fmt.Errorf("failed to commit run %s: %w", report.RunID, err)
		}
		report.FileAdvanced = advance
	}

	report.Results = results
	report.Duration = time.Since(start)
	p.record(report)

	slog.Info("Analysis run complete",
		"run_id", report.RunID,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"cache_hits", report.CacheHits,
		"duration", report.Duration)

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// prepare validates and hashes records. Invalid and duplicate records are
// reported as integrity failures and left out of the run.
func (p *Processor) prepare(records []model.Record, report *RunReport) []model.Record {
	valid := make([]model.Record, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			report.fail(rec.ID, common.NewIntegrityError("invalid record %q: %v", rec.ID, err))
			continue
		}
		if seen[rec.ID] {
			report.fail(rec.ID, common.NewIntegrityError("duplicate record ID %q", rec.ID))
			continue
		}
		seen[rec.ID] = true
		rec.Hash = rec.ComputeHash()
		valid = append(valid, rec)
	}
	return valid
}

// resolve routes every item and fetches retrieval context on a bounded
// worker pool. Only configuration errors abort the run.
func (p *Processor) resolve(ctx context.Context, items []*item, cache *RunCache) error {
	var g errgroup.Group
	g.SetLimit(p.cfg.Workers)

	for _, it := range items {
		if ctx.Err() != nil {
			it.skipped = true
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				it.skipped = true
				return nil
			}
			it.decision = p.router.Route(ctx, it.rec)
			if !it.decision.Route.NeedsRetrieval() {
				return nil
			}

			strategy := p.cfg.SimpleStrategy
			if it.decision.Route == model.RouteRetrieveEnhanced {
				strategy = p.cfg.EnhancedStrategy
			}
			res, err := cache.Get(ctx, CacheKey(strategy, it.rec), func(ctx context.Context) (*model.RetrievalResult, error) {
				return p.searcher.Search(ctx, query(it.rec), strategy, model.SearchFilters{})
			})
			if err != nil {
				if errors.Is(err, common.ErrConfiguration) {
					return err
				}
				if ctx.Err() != nil {
					it.skipped = true
					return nil
				}
				it.err = fmt.Errorf("retrieval failed: %w", err)
				return nil
			}
			it.retrieval = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("aborting run: %w", err)
	}
	return nil
}

// reason answers local routes directly and sends the rest to the reasoner in
// fixed-size batches. Cancellation is honoured between batches only; a
// dispatched batch runs to completion under its own timeout.
func (p *Processor) reason(ctx context.Context, items []*item, report *RunReport) error {
	var pending []*item
	for _, it := range items {
		if it.skipped || it.err != nil {
			continue
		}
		switch it.decision.Route {
		case model.RouteCached, model.RouteRule:
			it.result = p.localResult(it)
		default:
			pending = append(pending, it)
		}
	}

	for startIdx := 0; startIdx < len(pending); startIdx += p.cfg.BatchSize {
		batch := pending[startIdx:min(startIdx+p.cfg.BatchSize, len(pending))]

		if ctx.Err() != nil {
			for _, it := range pending[startIdx:] {
				it.skipped = true
			}
			slog.Warn("Run canceled between batches", "remaining", len(pending)-startIdx)
			break
		}

		if err := p.dispatch(ctx, batch); err != nil {
			return err
		}
		report.Batches++
		p.progress(items, report)
	}
	return nil
}

func (p *Processor) dispatch(ctx context.Context, batch []*item) error {
	requests := make([]llm.Request, len(batch))
	for i, it := range batch {
		requests[i] = llm.Request{
			Record: it.rec,
			Route:  it.decision.Route,
			Hint:   it.decision.Pattern,
		}
		if it.retrieval != nil {
			requests[i].Context = it.retrieval.Chunks
		}
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.BatchTimeout)
	defer cancel()

	start := time.Now()
	outcomes, err := p.reasoner.Reason(callCtx, requests)
	if p.metrics != nil {
		p.metrics.BatchDuration.Observe(time.Since(start).Seconds())
	}
	if err == nil && len(outcomes) != len(batch) {
		err = common.NewIntegrityError("reasoner returned %d outcomes for %d records", len(outcomes), len(batch))
	}
	if err != nil {
		p.countBatch("failed")
		if errors.Is(err, common.ErrConfiguration) {
			return fmt.Errorf("aborting run: %w", err)
		}
		slog.Error("Reasoning batch failed", "records", len(batch), "error", err)
		for _, it := range batch {
			it.err = err
		}
		return nil
	}
	p.countBatch("ok")

	for i, it := range batch {
		o := outcomes[i]
		if o.RecordID != it.rec.ID {
			it.err = common.NewIntegrityError("outcome %d is for record %q, want %q", i, o.RecordID, it.rec.ID)
			continue
		}
		citation := o.Citation
		if citation == "" && it.retrieval != nil {
			if cites := it.retrieval.Citations(); len(cites) > 0 {
				citation = cites[0]
			}
		}
		it.result = &model.Result{
			RecordID:    it.rec.ID,
			Outcome:     o.Outcome,
			Confidence:  o.Confidence,
			Citation:    citation,
			Explanation: o.Explanation,
			Estimate:    p.estimator.Estimate(it.rec, o.Outcome, o.Estimate),
		}
	}
	return nil
}

func (p *Processor) localResult(it *item) *model.Result {
	d := it.decision
	res := &model.Result{
		RecordID:    it.rec.ID,
		Confidence:  d.Confidence,
		Explanation: strings.Join(d.Reasons, "; "),
	}
	switch {
	case d.Rule != nil:
		res.Outcome = d.Rule.Outcome
		res.Citation = d.Rule.Citation
	case d.Pattern != nil:
		res.Outcome = d.Pattern.Outcome
		res.Citation = d.Pattern.Citation
	default:
		it.err = common.NewIntegrityError("route %s for record %q carries no evidence", d.Route, it.rec.ID)
		return nil
	}
	res.Estimate = p.estimator.Estimate(it.rec, res.Outcome, nil)
	return res
}

// collect stamps finished results and tallies the report.
func (p *Processor) collect(items []*item, report *RunReport) []model.Result {
	analyzedAt := p.now()
	results := make([]model.Result, 0, len(items))
	for _, it := range items {
		if it.decision.Route != "" {
			report.Routes[it.decision.Route]++
		}
		switch {
		case it.skipped:
			report.Skipped++
		case it.err != nil:
			report.fail(it.rec.ID, it.err)
		case it.result != nil:
			res := *it.result
			res.FileID = report.FileID
			res.RunID = report.RunID
			res.RecordHash = it.rec.Hash
			res.Strategy = it.decision.Route
			res.AnalyzedAt = analyzedAt
			results = append(results, res)
			report.Succeeded++
		default:
			report.Skipped++
		}
	}
	return results
}

func (p *Processor) progress(items []*item, report *RunReport) {
	if p.onProgress == nil {
		return
	}
	done := 0
	for _, it := range items {
		if it.result != nil || it.err != nil || it.skipped {
			done++
		}
	}
	p.onProgress(Progress{Done: done, Total: report.Unresolved})
}

func (p *Processor) countBatch(status string) {
	if p.metrics != nil {
		p.metrics.BatchesTotal.WithLabelValues(status).Inc()
	}
}

func (p *Processor) record(report *RunReport) {
	if p.metrics == nil {
		return
	}
	p.metrics.RecordsTotal.WithLabelValues("succeeded").Add(float64(report.Succeeded))
	p.metrics.RecordsTotal.WithLabelValues("failed").Add(float64(report.Failed))
	p.metrics.RecordsTotal.WithLabelValues("skipped").Add(float64(report.Skipped))
	p.metrics.RunCacheHits.Add(float64(report.CacheHits))
	p.metrics.RunCacheMisses.Add(float64(report.CacheMisses))
	p.metrics.RunDuration.Observe(report.Duration.Seconds())
}

// query builds the retrieval query from the same fields as the cache key.
func query(rec model.Record) string {
	parts := make([]string, 0, 3)
	for _, s := range []string{rec.ProductType, rec.Category} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
			break
		}
	}
	if len(parts) == 0 && strings.TrimSpace(rec.Description) != "" {
		parts = append(parts, strings.TrimSpace(rec.Description))
	}
	if v := strings.TrimSpace(rec.Vendor); v != "" {
		parts = append(parts, v)
	}
	return strings.Join(parts, " ")
}
