package llm

import (
	"context"
)

// Client sends one completion request to a model provider.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// CompletionRequest is a single system + user prompt exchange.
type CompletionRequest struct {
	System    string
	Prompt    string
	MaxTokens int
}
