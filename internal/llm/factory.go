package llm

import (
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/taxflow/internal/common"
)

// Config holds provider and call settings for the reasoning stage.
type Config struct {
	Provider          string
	APIKey            string
	Model             string
	BaseURL           string
	ClaudeCodePath    string
	MaxRetries        int
	RetryDelay        time.Duration
	Timeout           time.Duration
	RequestsPerSecond float64
	Temperature       float64
	MaxTokens         int
}

// NewClient creates a raw LLM client based on the provided configuration.
func NewClient(cfg Config) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return newOpenAIClient(cfg)
	case "anthropic":
		return newAnthropicClient(cfg)
	case "claudecode":
		return newClaudeCodeClient(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported LLM provider: %s", common.ErrConfiguration, cfg.Provider)
	}
}

func defaultTimeout(cfg Config) time.Duration {
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return 90 * time.Second
}

func defaultTemperature(cfg Config) float64 {
	if cfg.Temperature == 0 {
		return 0.2
	}
	return cfg.Temperature
}

func defaultMaxTokens(cfg Config) int {
	if cfg.MaxTokens == 0 {
		return 4096
	}
	return cfg.MaxTokens
}
