package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Veraticus/taxflow/internal/common"
	"github.com/Veraticus/taxflow/internal/service"
	"golang.org/x/time/rate"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "text-embedding-3-small"
	defaultOpenAIDim     = 1536
)

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	apiKey     string
	model      string
	baseURL    string
	retry      service.RetryOptions
	dim        int
}

// NewOpenAIEmbedder creates an HTTP embedder. Requests are rate limited and
// transient failures are retried with backoff.
func NewOpenAIEmbedder(cfg Config) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: OpenAI API key is required for embeddings", common.ErrConfiguration)
	}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	dim := cfg.Dimension
	if dim <= 0 {
		dim = defaultOpenAIDim
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &OpenAIEmbedder{
		apiKey:  cfg.APIKey,
		model:   model,
		baseURL: baseURL,
		dim:     dim,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		retry: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2,
		},
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// Dimension returns the configured vector length.
func (e *OpenAIEmbedder) Dimension() int { return e.dim }

// Embed requests one embedding.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, common.NewIntegrityError("cannot embed empty text")
	}

	var vec []float32
	err := common.WithRetry(ctx, func() error {
		if err := e.limiter.Wait(ctx); err != nil {
			return common.Permanent(fmt.Errorf("rate limiter error: %w", err))
		}
		v, err := e.doRequest(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	}, e.retry)
	if err != nil {
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	return vec, nil
}

type embeddingRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

func (e *OpenAIEmbedder) doRequest(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.model, Input: text, Dimensions: e.dim})
	if err != nil {
		return nil, common.Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, common.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, common.TransportError("embeddings", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, common.TransportError("embeddings", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, common.StatusError("embeddings", resp.StatusCode, respBody)
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, common.Permanent(common.NewIntegrityError("failed to parse embedding response: %v", err))
	}
	if len(parsed.Data) != 1 {
		return nil, common.Permanent(common.NewIntegrityError("expected 1 embedding, got %d", len(parsed.Data)))
	}
	vec := parsed.Data[0].Embedding
	if len(vec) != e.dim {
		return nil, common.Permanent(common.NewIntegrityError("embedding dimension %d, expected %d", len(vec), e.dim))
	}
	return vec, nil
}
