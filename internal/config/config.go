// Package config loads and validates taxflow settings.
package config

import (
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"

	"github.com/Veraticus/taxflow/internal/common"
	"github.com/Veraticus/taxflow/internal/embeddings"
	"github.com/Veraticus/taxflow/internal/engine"
	"github.com/Veraticus/taxflow/internal/llm"
	"github.com/Veraticus/taxflow/internal/model"
	"github.com/Veraticus/taxflow/internal/pattern"
	"github.com/Veraticus/taxflow/internal/retrieval"
	"github.com/Veraticus/taxflow/internal/router"
)

// Config is the complete taxflow configuration.
type Config struct {
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	Router     RouterConfig     `mapstructure:"router"`
	Processing ProcessingConfig `mapstructure:"processing"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Rules      RulesConfig      `mapstructure:"rules"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Patterns   PatternsConfig   `mapstructure:"patterns"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LLMConfig configures the reasoning provider.
type LLMConfig struct {
	Provider          string        `mapstructure:"provider"`
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	BaseURL           string        `mapstructure:"base_url"`
	ClaudeCodePath    string        `mapstructure:"claude_code_path"`
	Labels            []string      `mapstructure:"labels"`
	MaxRetries        int           `mapstructure:"max_retries"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Temperature       float64       `mapstructure:"temperature"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider          string  `mapstructure:"provider"`
	APIKey            string  `mapstructure:"api_key"`
	Model             string  `mapstructure:"model"`
	BaseURL           string  `mapstructure:"base_url"`
	Dimension         int     `mapstructure:"dimension"`
	Burst             int     `mapstructure:"burst"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// RetrievalConfig tunes the retrieval strategies.
type RetrievalConfig struct {
	Synonyms            map[string][]string `mapstructure:"synonyms"`
	SimpleStrategy      string              `mapstructure:"simple_strategy"`
	EnhancedStrategy    string              `mapstructure:"enhanced_strategy"`
	SimilarityThreshold float64             `mapstructure:"similarity_threshold"`
	RelevanceFloor      float64             `mapstructure:"relevance_floor"`
	TopK                int                 `mapstructure:"top_k"`
	MinRelevant         int                 `mapstructure:"min_relevant"`
	RerankCandidates    int                 `mapstructure:"rerank_candidates"`
	MaxChunkChars       int                 `mapstructure:"max_chunk_chars"`
	EnhancedHybridMerge bool                `mapstructure:"enhanced_hybrid_merge"`
}

// RouterConfig holds the routing thresholds.
type RouterConfig struct {
	AmbiguousTerms  []string `mapstructure:"ambiguous_terms"`
	HighConfidence  float64  `mapstructure:"high_confidence"`
	LowConfidence   float64  `mapstructure:"low_confidence"`
	HintConfidence  float64  `mapstructure:"hint_confidence"`
	HighValueAmount float64  `mapstructure:"high_value_amount"`
	MinSamples      int      `mapstructure:"min_samples"`
}

// PatternsConfig tunes pattern matching.
type PatternsConfig struct {
	MinOverlap    float64 `mapstructure:"min_overlap"`
	MaxCASRetries int     `mapstructure:"max_cas_retries"`
}

// ProcessingConfig tunes the batch processor.
type ProcessingConfig struct {
	RefundableOutcomes []string      `mapstructure:"refundable_outcomes"`
	Workers            int           `mapstructure:"workers"`
	BatchSize          int           `mapstructure:"batch_size"`
	BatchTimeout       time.Duration `mapstructure:"batch_timeout"`
}

// RulesConfig locates the static rules file.
type RulesConfig struct {
	Path string `mapstructure:"path"`
}

// MetricsConfig controls the metrics textfile snapshot.
type MetricsConfig struct {
	File string `mapstructure:"file"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	ret := retrieval.DefaultOptions()
	rt := router.DefaultOptions()
	pt := pattern.DefaultOptions()
	eng := engine.DefaultConfig()

	return &Config{
		Database: DatabaseConfig{Path: "~/.local/share/taxflow/taxflow.db"},
		Logging:  LoggingConfig{Level: "info", Format: "console"},
		LLM: LLMConfig{
			Provider:          "anthropic",
			Labels:            []string{"taxable", "exempt", "partially-exempt"},
			MaxRetries:        3,
			RetryDelay:        2 * time.Second,
			Timeout:           90 * time.Second,
			RequestsPerSecond: 1,
			Temperature:       0.2,
			MaxTokens:         4096,
		},
		Embeddings: EmbeddingsConfig{
			Provider:          "hash",
			Dimension:         embeddings.DefaultHashDimension,
			RequestsPerSecond: 5,
			Burst:             1,
		},
		Retrieval: RetrievalConfig{
			SimpleStrategy:      string(eng.SimpleStrategy),
			EnhancedStrategy:    string(eng.EnhancedStrategy),
			SimilarityThreshold: ret.SimilarityThreshold,
			RelevanceFloor:      ret.RelevanceFloor,
			TopK:                ret.TopK,
			MinRelevant:         ret.MinRelevant,
			RerankCandidates:    ret.RerankCandidates,
			EnhancedHybridMerge: ret.EnhancedHybridMerge,
		},
		Router: RouterConfig{
			AmbiguousTerms:  rt.AmbiguousTerms,
			HighConfidence:  rt.HighConfidence,
			LowConfidence:   rt.LowConfidence,
			HintConfidence:  rt.HintConfidence,
			HighValueAmount: rt.HighValueAmount,
			MinSamples:      rt.MinSamples,
		},
		Patterns: PatternsConfig{
			MinOverlap:    pt.MinOverlap,
			MaxCASRetries: pt.MaxCASRetries,
		},
		Processing: ProcessingConfig{
			RefundableOutcomes: eng.RefundableOutcomes,
			Workers:            eng.Workers,
			BatchSize:          eng.BatchSize,
			BatchTimeout:       eng.BatchTimeout,
		},
		Rules: RulesConfig{Path: "~/.config/taxflow/rules.yaml"},
	}
}

// Load reads v into a copy of the defaults and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to decode config: %w", common.ErrConfiguration, err)
	}
	cfg.Database.Path = ExpandPath(cfg.Database.Path)
	cfg.Rules.Path = ExpandPath(cfg.Rules.Path)
	cfg.Metrics.File = ExpandPath(cfg.Metrics.File)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrConfiguration, err)
	}
	return cfg, nil
}

// RegisterDefaults makes every key known to v so environment variables can
// override values that no config file sets.
func RegisterDefaults(v *viper.Viper) {
	d := Default()
	defaults := map[string]any{
		"database.path":                   d.Database.Path,
		"logging.level":                   d.Logging.Level,
		"logging.format":                  d.Logging.Format,
		"llm.provider":                    d.LLM.Provider,
		"llm.api_key":                     d.LLM.APIKey,
		"llm.model":                       d.LLM.Model,
		"llm.base_url":                    d.LLM.BaseURL,
		"llm.claude_code_path":            d.LLM.ClaudeCodePath,
		"llm.labels":                      d.LLM.Labels,
		"llm.max_retries":                 d.LLM.MaxRetries,
		"llm.max_tokens":                  d.LLM.MaxTokens,
		"llm.retry_delay":                 d.LLM.RetryDelay,
		"llm.timeout":                     d.LLM.Timeout,
		"llm.requests_per_second":         d.LLM.RequestsPerSecond,
		"llm.temperature":                 d.LLM.Temperature,
		"embeddings.provider":             d.Embeddings.Provider,
		"embeddings.api_key":              d.Embeddings.APIKey,
		"embeddings.model":                d.Embeddings.Model,
		"embeddings.base_url":             d.Embeddings.BaseURL,
		"embeddings.dimension":            d.Embeddings.Dimension,
		"embeddings.burst":                d.Embeddings.Burst,
		"embeddings.requests_per_second":  d.Embeddings.RequestsPerSecond,
		"retrieval.simple_strategy":       d.Retrieval.SimpleStrategy,
		"retrieval.enhanced_strategy":     d.Retrieval.EnhancedStrategy,
		"retrieval.similarity_threshold":  d.Retrieval.SimilarityThreshold,
		"retrieval.relevance_floor":       d.Retrieval.RelevanceFloor,
		"retrieval.top_k":                 d.Retrieval.TopK,
		"retrieval.min_relevant":          d.Retrieval.MinRelevant,
		"retrieval.rerank_candidates":     d.Retrieval.RerankCandidates,
		"retrieval.max_chunk_chars":       d.Retrieval.MaxChunkChars,
		"retrieval.enhanced_hybrid_merge": d.Retrieval.EnhancedHybridMerge,
		"router.high_confidence":          d.Router.HighConfidence,
		"router.low_confidence":           d.Router.LowConfidence,
		"router.hint_confidence":          d.Router.HintConfidence,
		"router.high_value_amount":        d.Router.HighValueAmount,
		"router.min_samples":              d.Router.MinSamples,
		"patterns.min_overlap":            d.Patterns.MinOverlap,
		"patterns.max_cas_retries":        d.Patterns.MaxCASRetries,
		"processing.workers":              d.Processing.Workers,
		"processing.batch_size":           d.Processing.BatchSize,
		"processing.batch_timeout":        d.Processing.BatchTimeout,
		"processing.refundable_outcomes":  d.Processing.RefundableOutcomes,
		"rules.path":                      d.Rules.Path,
		"metrics.file":                    d.Metrics.File,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// Provider keys are usually exported under their vendor names
	_ = v.BindEnv("llm.api_key", "TAXFLOW_LLM_API_KEY", "ANTHROPIC_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("embeddings.api_key", "TAXFLOW_EMBEDDINGS_API_KEY", "OPENAI_API_KEY")
}

// Validate checks every section.
func (c *Config) Validate() error {
	fraction := []validation.Rule{validation.Min(0.0), validation.Max(1.0)}
	strategy := validation.By(func(value any) error {
		s, _ := value.(string)
		_, err := model.ParseStrategy(s)
		return err
	})

	return errors.Join(
		validation.ValidateStruct(&c.Database,
			validation.Field(&c.Database.Path, validation.Required),
		),
		validation.ValidateStruct(&c.Logging,
			validation.Field(&c.Logging.Level, validation.Required, validation.In("debug", "info", "warn", "error")),
			validation.Field(&c.Logging.Format, validation.Required, validation.In("console", "json")),
		),
		validation.ValidateStruct(&c.LLM,
			validation.Field(&c.LLM.Provider, validation.Required, validation.In("anthropic", "openai", "claudecode")),
			validation.Field(&c.LLM.MaxRetries, validation.Min(1)),
			validation.Field(&c.LLM.RequestsPerSecond, validation.Min(0.0)),
			validation.Field(&c.LLM.Temperature, validation.Min(0.0), validation.Max(2.0)),
		),
		validation.ValidateStruct(&c.Embeddings,
			validation.Field(&c.Embeddings.Provider, validation.Required, validation.In("hash", "openai")),
			validation.Field(&c.Embeddings.Dimension, validation.Min(0)),
			validation.Field(&c.Embeddings.Burst, validation.Min(0)),
		),
		validation.ValidateStruct(&c.Retrieval,
			validation.Field(&c.Retrieval.SimpleStrategy, validation.Required, strategy),
			validation.Field(&c.Retrieval.EnhancedStrategy, validation.Required, strategy),
			validation.Field(&c.Retrieval.SimilarityThreshold, fraction...),
			validation.Field(&c.Retrieval.RelevanceFloor, fraction...),
			validation.Field(&c.Retrieval.TopK, validation.Required, validation.Min(1)),
			validation.Field(&c.Retrieval.MinRelevant, validation.Min(0)),
			validation.Field(&c.Retrieval.RerankCandidates, validation.Min(0)),
			validation.Field(&c.Retrieval.MaxChunkChars, validation.Min(0)),
		),
		validation.ValidateStruct(&c.Router,
			validation.Field(&c.Router.HighConfidence, append([]validation.Rule{validation.Required}, fraction...)...),
			validation.Field(&c.Router.LowConfidence, fraction...),
			validation.Field(&c.Router.HintConfidence, fraction...),
			validation.Field(&c.Router.HighValueAmount, validation.Min(0.0)),
			validation.Field(&c.Router.MinSamples, validation.Required, validation.Min(1)),
		),
		validation.ValidateStruct(&c.Patterns,
			validation.Field(&c.Patterns.MinOverlap, fraction...),
			validation.Field(&c.Patterns.MaxCASRetries, validation.Required, validation.Min(1)),
		),
		validation.ValidateStruct(&c.Processing,
			validation.Field(&c.Processing.Workers, validation.Required, validation.Min(1)),
			validation.Field(&c.Processing.BatchSize, validation.Required, validation.Min(1)),
			validation.Field(&c.Processing.BatchTimeout, validation.Required),
		),
	)
}

// LLMClient returns the provider settings for llm.NewClient.
func (c *Config) LLMClient() llm.Config {
	return llm.Config{
		Provider:          c.LLM.Provider,
		APIKey:            c.LLM.APIKey,
		Model:             c.LLM.Model,
		BaseURL:           c.LLM.BaseURL,
		ClaudeCodePath:    c.LLM.ClaudeCodePath,
		MaxRetries:        c.LLM.MaxRetries,
		RetryDelay:        c.LLM.RetryDelay,
		Timeout:           c.LLM.Timeout,
		RequestsPerSecond: c.LLM.RequestsPerSecond,
		Temperature:       c.LLM.Temperature,
		MaxTokens:         c.LLM.MaxTokens,
	}
}

// Embedder returns the settings for embeddings.New.
func (c *Config) Embedder() embeddings.Config {
	return embeddings.Config{
		Provider:          c.Embeddings.Provider,
		APIKey:            c.Embeddings.APIKey,
		Model:             c.Embeddings.Model,
		BaseURL:           c.Embeddings.BaseURL,
		Dimension:         c.Embeddings.Dimension,
		RequestsPerSecond: c.Embeddings.RequestsPerSecond,
		Burst:             c.Embeddings.Burst,
	}
}

// RetrievalOptions returns the retrieval engine settings.
func (c *Config) RetrievalOptions() retrieval.Options {
	opts := retrieval.DefaultOptions()
	opts.SimilarityThreshold = c.Retrieval.SimilarityThreshold
	opts.RelevanceFloor = c.Retrieval.RelevanceFloor
	opts.TopK = c.Retrieval.TopK
	opts.MinRelevant = c.Retrieval.MinRelevant
	opts.RerankCandidates = c.Retrieval.RerankCandidates
	opts.EnhancedHybridMerge = c.Retrieval.EnhancedHybridMerge
	return opts
}

// RouterOptions returns the router thresholds.
func (c *Config) RouterOptions() router.Options {
	return router.Options{
		AmbiguousTerms:  c.Router.AmbiguousTerms,
		HighConfidence:  c.Router.HighConfidence,
		LowConfidence:   c.Router.LowConfidence,
		HintConfidence:  c.Router.HintConfidence,
		HighValueAmount: c.Router.HighValueAmount,
		MinSamples:      c.Router.MinSamples,
	}
}

// PatternOptions returns the pattern store settings.
func (c *Config) PatternOptions() pattern.Options {
	return pattern.Options{
		MinOverlap:    c.Patterns.MinOverlap,
		MaxCASRetries: c.Patterns.MaxCASRetries,
	}
}

// EngineConfig returns the batch processor settings.
func (c *Config) EngineConfig(dryRun bool) engine.Config {
	return engine.Config{
		SimpleStrategy:     model.Strategy(c.Retrieval.SimpleStrategy),
		EnhancedStrategy:   model.Strategy(c.Retrieval.EnhancedStrategy),
		RefundableOutcomes: c.Processing.RefundableOutcomes,
		Workers:            c.Processing.Workers,
		BatchSize:          c.Processing.BatchSize,
		BatchTimeout:       c.Processing.BatchTimeout,
		DryRun:             dryRun,
	}
}
