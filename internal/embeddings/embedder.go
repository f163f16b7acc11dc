// Package embeddings turns corpus text and queries into fixed-dimension vectors.
package embeddings

import (
	"context"
	"fmt"
	"strings"

	"github.com/Veraticus/taxflow/internal/common"
)

// Embedder produces a vector for a piece of text. Every vector returned by one
// Embedder has the same length.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Config selects and tunes an embedder.
type Config struct {
	Provider          string
	APIKey            string
	Model             string
	BaseURL           string
	Dimension         int
	RequestsPerSecond float64
	Burst             int
}

// New creates the embedder named by cfg.Provider.
func New(cfg Config) (Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case "hash", "":
		return NewHashEmbedder(cfg.Dimension), nil
	case "openai":
		return NewOpenAIEmbedder(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported embedding provider %q", common.ErrConfiguration, cfg.Provider)
	}
}
