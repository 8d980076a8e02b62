package llm

import (
	"fmt"

	"go.uber.org/zap"
)

// NewClient builds the generation backend selected by provider.
// Supported providers: "openai" (any OpenAI-compatible endpoint) and
// "anthropic".
func NewClient(provider string, cfg *Config, logger *zap.Logger) (Client, error) {
	switch provider {
	case "openai":
		return NewOpenAIClient(cfg, logger)
	case "anthropic":
		return NewAnthropicClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown model provider %q", provider)
	}
}
