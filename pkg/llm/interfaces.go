// Package llm wraps generation model endpoints behind a small client
// interface so the SQL generation adapter can be tested without a model.
package llm

import (
	"context"
)

// GenerateResponseResult holds a chat completion plus usage stats.
// MeanLogProb is the mean token log-probability when the backend reports
// token likelihoods; nil otherwise.
type GenerateResponseResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	MeanLogProb      *float64
}

// Client defines the interface for generation model operations.
// Use this interface for dependency injection to enable mocking in tests.
type Client interface {
	// GenerateResponse generates a chat completion response.
	GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (*GenerateResponseResult, error)

	// GetModel returns the configured model name.
	GetModel() string

	// GetEndpoint returns the configured endpoint.
	GetEndpoint() string
}

// Ensure both backends implement Client at compile time.
var (
	_ Client = (*OpenAIClient)(nil)
	_ Client = (*AnthropicClient)(nil)
)
