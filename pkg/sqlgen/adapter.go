// Package sqlgen adapts a generation model endpoint into the pipeline's
// SQL generation step. The adapter owns prompting, bounded retries, output
// extraction and confidence scoring; it never executes anything.
package sqlgen

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ledgerchat/ledgerchat-engine/pkg/llm"
	"github.com/ledgerchat/ledgerchat-engine/pkg/models"
	"github.com/ledgerchat/ledgerchat-engine/pkg/retry"
)

// Generator produces a candidate SQL statement for one sub-request.
// Failures are reported in the result, not as errors: a generation failure
// is a normal pipeline outcome (fallback), not an exceptional condition.
type Generator interface {
	Generate(ctx context.Context, sub models.SubRequest, schema *models.SchemaContext) models.GenerationResult
}

// Config holds generation tuning.
type Config struct {
	MaxAttempts int
	Timeout     time.Duration
}

type adapter struct {
	client llm.Client
	cfg    Config
	logger *zap.Logger
}

// NewAdapter creates a Generator backed by client.
func NewAdapter(client llm.Client, cfg Config, logger *zap.Logger) Generator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &adapter{
		client: client,
		cfg:    cfg,
		logger: logger.Named("sqlgen"),
	}
}

var _ Generator = (*adapter)(nil)

// Generate calls the model with temperature 0 and retries transient
// endpoint failures up to the attempt bound. The returned confidence is a
// deterministic function of the model's token likelihood and the
// statement's structure.
func (a *adapter) Generate(ctx context.Context, sub models.SubRequest, schema *models.SchemaContext) models.GenerationResult {
	prompt := renderPrompt(sub, schema)

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = a.cfg.MaxAttempts - 1

	var response *llm.GenerateResponseResult
	err := retry.DoIfRetryable(ctx, retryCfg, func() error {
		callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()

		var callErr error
		response, callErr = a.client.GenerateResponse(callCtx, prompt, systemPrompt, 0)
		return callErr
	})
	if err != nil {
		a.logger.Warn("generation failed",
			zap.String("model", a.client.GetModel()),
			zap.Error(err))
		return models.GenerationResult{
			Success:       false,
			FailureReason: "model call failed: " + err.Error(),
		}
	}

	sql := extractStatement(response.Content)
	if sql == "" {
		return models.GenerationResult{
			Success:       false,
			FailureReason: "model produced no statement",
		}
	}

	return models.GenerationResult{
		Success:    true,
		SQL:        sql,
		Confidence: scoreConfidence(sql, sub.Intent, response.MeanLogProb),
	}
}

// extractStatement pulls the statement out of the model response, tolerating
// markdown fences the prompt forbids but models still emit.
func extractStatement(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```sql")
		content = strings.TrimPrefix(content, "```")
		if i := strings.Index(content, "```"); i >= 0 {
			content = content[:i]
		}
	}

	return strings.TrimSpace(content)
}
