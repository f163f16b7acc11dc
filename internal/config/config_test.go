package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Veraticus/taxflow/internal/common"
	"github.com/Veraticus/taxflow/internal/model"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	const doc = `
database:
  path: /tmp/taxflow-test.db
llm:
  provider: openai
  retry_delay: 250ms
  labels: [taxable, exempt]
router:
  min_samples: 5
  high_confidence: 0.9
retrieval:
  simple_strategy: basic
  synonyms:
    saas: [software as a service, cloud software]
processing:
  batch_size: 10
`
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(doc)))

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/taxflow-test.db", cfg.Database.Path)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 250*time.Millisecond, cfg.LLM.RetryDelay)
	assert.Equal(t, []string{"taxable", "exempt"}, cfg.LLM.Labels)
	assert.Equal(t, 5, cfg.RouterOptions().MinSamples)
	assert.InDelta(t, 0.9, cfg.RouterOptions().HighConfidence, 1e-9)
	assert.Equal(t, []string{"software as a service", "cloud software"}, cfg.Retrieval.Synonyms["saas"])

	ec := cfg.EngineConfig(true)
	assert.Equal(t, model.StrategyBasic, ec.SimpleStrategy)
	assert.Equal(t, model.StrategyEnhanced, ec.EnhancedStrategy)
	assert.Equal(t, 10, ec.BatchSize)
	assert.True(t, ec.DryRun)

	// Untouched sections keep their defaults.
	assert.Equal(t, Default().Processing.Workers, cfg.Processing.Workers)
	assert.Equal(t, Default().Retrieval.TopK, cfg.RetrievalOptions().TopK)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("TAXFLOW_PROCESSING_WORKERS", "9")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	v := viper.New()
	v.SetEnvPrefix("TAXFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	RegisterDefaults(v)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Processing.Workers)
	assert.Equal(t, "sk-test", cfg.LLMClient().APIKey)
}

func TestLoad_ExpandsPaths(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	v := viper.New()
	v.Set("database.path", "~/data/taxflow.db")
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data/taxflow.db"), cfg.Database.Path)
}

func TestValidate_Rejects(t *testing.T) {
	tests := map[string]func(*Config){
		"unknown provider":      func(c *Config) { c.LLM.Provider = "oracle" },
		"unknown strategy":      func(c *Config) { c.Retrieval.SimpleStrategy = "psychic" },
		"confidence above one":  func(c *Config) { c.Router.HighConfidence = 1.5 },
		"zero min samples":      func(c *Config) { c.Router.MinSamples = 0 },
		"zero batch size":       func(c *Config) { c.Processing.BatchSize = 0 },
		"bad log format":        func(c *Config) { c.Logging.Format = "xml" },
		"negative overlap":      func(c *Config) { c.Patterns.MinOverlap = -0.1 },
		"unknown embedder":      func(c *Config) { c.Embeddings.Provider = "word2vec" },
		"missing database path": func(c *Config) { c.Database.Path = "" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_InvalidIsConfigurationError(t *testing.T) {
	v := viper.New()
	v.Set("processing.workers", 0)
	_, err := Load(v)
	assert.ErrorIs(t, err, common.ErrConfiguration)
}

func TestExpandPath(t *testing.T) {
	t.Setenv("TAXFLOW_TEST_DIR", "/srv/tax")
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "~", want: home},
		{in: "~/x.db", want: filepath.Join(home, "x.db")},
		{in: "$TAXFLOW_TEST_DIR/rules.yaml", want: "/srv/tax/rules.yaml"},
		{in: "/abs/path", want: "/abs/path"},
		{in: "~other/x.db", want: "~other/x.db"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExpandPath(tt.in), tt.in)
	}
}
