package llm

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/Veraticus/taxflow/internal/common"
	"github.com/Veraticus/taxflow/internal/model"
	"github.com/Veraticus/taxflow/internal/service"
	"golang.org/x/time/rate"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const systemPrompt = "You are a sales and use tax analyst. You classify purchase records using only the reference excerpts provided. You MUST respond with ONLY a valid JSON object. Do not include any explanatory text, markdown formatting, or commentary before or after the JSON."

// Request is one record sent to the reasoning stage with its evidence.
type Request struct {
	Hint    *model.PatternEntry
	Record  model.Record
	Route   model.Route
	Context []model.ScoredChunk
}

// Outcome is the model's verdict for one record.
type Outcome struct {
	Estimate    *float64
	RecordID    string
	Outcome     string
	Citation    string
	Explanation string
	Confidence  float64
}

// Reasoner batches records into single model calls.
type Reasoner struct {
	client    Client
	logger    *slog.Logger
	limiter   *rate.Limiter
	prompt    *template.Template
	labels    map[string]bool
	labelList []string
	retryOpts service.RetryOptions
}

// NewReasoner wraps client with prompt rendering, rate limiting and retries.
// When labels is non-empty, outcomes outside it fail the batch.
func NewReasoner(client Client, cfg Config, labels []string, logger *slog.Logger) (*Reasoner, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: reasoning client is required", common.ErrConfiguration)
	}
	if logger == nil {
		logger = slog.Default()
	}

	funcMap := template.FuncMap{
		"formatAmount": func(v float64) string { return fmt.Sprintf("$%.2f", v) },
		"formatDate":   func(t time.Time) string { return t.Format("2006-01-02") },
		"percent":      func(v float64) string { return fmt.Sprintf("%.0f%%", v*100) },
		"truncate":     truncate,
		"join":         strings.Join,
	}
	tmpl, err := template.New("reason.tmpl").Funcs(funcMap).ParseFS(templateFS, "templates/reason.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse reasoning template: %w", err)
	}

	retryOpts := service.RetryOptions{
		MaxAttempts:  cfg.MaxRetries,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
	if retryOpts.MaxAttempts == 0 {
		retryOpts.MaxAttempts = 3
	}
	if retryOpts.InitialDelay == 0 {
		retryOpts.InitialDelay = time.Second
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}

	set := make(map[string]bool, len(labels))
	for _, l := range labels {
		set[l] = true
	}

	return &Reasoner{
		client:    client,
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		prompt:    tmpl,
		labels:    set,
		labelList: labels,
		retryOpts: retryOpts,
	}, nil
}

// Reason sends every request in one call and returns outcomes in request
// order. Transient failures are retried; a malformed or mismatched response
// is a data integrity failure for the whole batch.
func (r *Reasoner) Reason(ctx context.Context, requests []Request) ([]Outcome, error) {
	if len(requests) == 0 {
		return nil, nil
	}

	prompt, err := r.render(requests)
	if err != nil {
		return nil, err
	}

	var outcomes []Outcome
	err = common.WithRetry(ctx, func() error {
		if err := r.limiter.Wait(ctx); err != nil {
			return common.Permanent(fmt.Errorf("rate limiter error: %w", err))
		}

		content, err := r.client.Complete(ctx, CompletionRequest{System: systemPrompt, Prompt: prompt})
		if err != nil {
			return err
		}

		parsed, err := parseOutcomes(content, requests)
		if err != nil {
			r.logger.Error("Rejected reasoning response",
				"records", len(requests),
				"error", err,
				"response", truncate(content, 2000))
			return common.Permanent(err)
		}
		if err := r.checkLabels(parsed); err != nil {
			return common.Permanent(err)
		}
		outcomes = parsed
		return nil
	}, r.retryOpts)
	if err != nil {
		return nil, fmt.Errorf("reasoning batch of %d records failed: %w", len(requests), err)
	}

	r.logger.Debug("Reasoning batch complete", "records", len(requests))
	return outcomes, nil
}

func (r *Reasoner) render(requests []Request) (string, error) {
	var buf bytes.Buffer
	data := struct {
		Labels   []string
		Requests []Request
	}{Labels: r.labelList, Requests: requests}
	if err := r.prompt.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render reasoning prompt: %w", err)
	}
	return buf.String(), nil
}

func (r *Reasoner) checkLabels(outcomes []Outcome) error {
	if len(r.labels) == 0 {
		return nil
	}
	for _, o := range outcomes {
		if !r.labels[o.Outcome] {
			return common.NewIntegrityError("record %q has unknown outcome %q", o.RecordID, o.Outcome)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
