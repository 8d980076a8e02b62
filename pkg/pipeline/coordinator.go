// Package pipeline coordinates one utterance through orchestration,
// clarification, SQL generation and guardrail enforcement to a terminal
// outcome.
//
// Every run ends in exactly one of three outcomes: executable SQL, a
// clarification prompt, or a fallback. There is no path to executable SQL
// that bypasses the guardrail, and no confidence score overrides a
// guardrail rejection.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerchat/ledgerchat-engine/pkg/clarify"
	"github.com/ledgerchat/ledgerchat-engine/pkg/database"
	"github.com/ledgerchat/ledgerchat-engine/pkg/guardrail"
	"github.com/ledgerchat/ledgerchat-engine/pkg/models"
	"github.com/ledgerchat/ledgerchat-engine/pkg/orchestrator"
	"github.com/ledgerchat/ledgerchat-engine/pkg/repositories"
	"github.com/ledgerchat/ledgerchat-engine/pkg/sqlgen"
)

// Pipeline stages, logged as each run advances.
const (
	stageReceived     = "received"
	stageOrchestrated = "orchestrated"
	stageClarifying   = "awaiting_clarification"
	stageGenerating   = "generating"
	stageGuarded      = "guarded"
	stageTerminal     = "terminal"
)

// Request is one utterance to process.
type Request struct {
	TenantID  uuid.UUID
	SessionID uuid.UUID
	Utterance string
	Language  string
}

// Config holds pipeline tuning.
type Config struct {
	ConfidenceThreshold float64
	// LookupTimeout bounds the schema allow-list read so a slow store
	// degrades the run to a fallback instead of stalling it.
	LookupTimeout time.Duration
}

// ScopeProvider acquires a tenant-scoped context for a request.
// *database.TenantScopeProvider implements it.
type ScopeProvider interface {
	WithTenantScope(ctx context.Context, tenantID uuid.UUID) (context.Context, func(), error)
}

var _ ScopeProvider = (*database.TenantScopeProvider)(nil)

// Coordinator wires the pipeline stages together.
type Coordinator struct {
	scopes    ScopeProvider
	turns     repositories.TurnRepository
	schemas   repositories.SchemaRepository
	orch      orchestrator.Orchestrator
	options   clarify.Provider
	generator sqlgen.Generator
	guard     *guardrail.Enforcer
	cfg       Config
	logger    *zap.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(
	scopes ScopeProvider,
	turns repositories.TurnRepository,
	schemas repositories.SchemaRepository,
	orch orchestrator.Orchestrator,
	options clarify.Provider,
	generator sqlgen.Generator,
	guard *guardrail.Enforcer,
	cfg Config,
	logger *zap.Logger,
) *Coordinator {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.7
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 5 * time.Second
	}
	return &Coordinator{
		scopes:    scopes,
		turns:     turns,
		schemas:   schemas,
		orch:      orch,
		options:   options,
		generator: generator,
		guard:     guard,
		cfg:       cfg,
		logger:    logger.Named("pipeline"),
	}
}

// Handle runs one utterance to a terminal outcome. The turn is recorded
// after the outcome is known; a recording failure is logged but does not
// change the outcome.
func (c *Coordinator) Handle(ctx context.Context, req Request) (*models.PipelineOutcome, error) {
	log := c.logger.With(
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("session_id", req.SessionID.String()))
	log.Info("utterance received", zap.String("stage", stageReceived))

	tenantCtx, cleanup, err := c.scopes.WithTenantScope(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire tenant scope: %w", err)
	}
	defer cleanup()

	result, err := c.orch.Orchestrate(tenantCtx, req.SessionID, req.Utterance, req.Language)
	if err != nil {
		return nil, fmt.Errorf("orchestration failed: %w", err)
	}
	log.Info("utterance orchestrated",
		zap.String("stage", stageOrchestrated),
		zap.String("intent", string(result.Intent)),
		zap.Bool("needs_clarification", result.NeedsClarification),
		zap.Int("sub_requests", len(result.SubRequests)))

	var outcome *models.PipelineOutcome
	if result.NeedsClarification {
		outcome, err = c.clarifyOrDegrade(tenantCtx, req, result, log)
	} else {
		subs := result.SubRequests
		if len(subs) == 0 {
			// Single-question runs carry no sub-requests; the utterance
			// itself is the one request to generate for.
			subs = []models.SubRequest{{
				Utterance: req.Utterance,
				Intent:    result.Intent,
				Entities:  result.Entities,
			}}
		}
		outcome, err = c.generateAll(tenantCtx, req, subs, log)
	}
	if err != nil {
		return nil, err
	}

	c.recordTurn(tenantCtx, req, result, outcome, log)
	log.Info("pipeline finished",
		zap.String("stage", stageTerminal),
		zap.String("kind", string(outcome.Kind)))
	return outcome, nil
}

// clarifyOrDegrade produces a clarification prompt, or degrades to
// generation when no grounded options can be offered. A turn-reference
// clarification carries no entity options; for entity slots an option
// store failure or an empty option set means clarifying would be worse
// than answering, so the pipeline proceeds with what it has.
func (c *Coordinator) clarifyOrDegrade(ctx context.Context, req Request, result *models.OrchestrationResult, log *zap.Logger) (*models.PipelineOutcome, error) {
	if result.ClarifySlot == models.SlotTurnReference {
		log.Info("ambiguous turn reference", zap.String("stage", stageClarifying))
		return &models.PipelineOutcome{
			Kind:        models.OutcomeAskClarification,
			SessionID:   req.SessionID,
			ClarifySlot: result.ClarifySlot,
		}, nil
	}

	hint := result.Entities[result.ClarifySlot]
	opts, err := c.options.Options(ctx, req.TenantID, result.ClarifySlot, hint, result.Intent)
	if err != nil {
		return nil, fmt.Errorf("failed to load clarification options: %w", err)
	}

	if opts.SkipClarification || len(opts.Options) == 0 {
		log.Info("clarification degraded to generation",
			zap.String("stage", stageGenerating),
			zap.String("slot", result.ClarifySlot),
			zap.Bool("store_failure", opts.SkipClarification))
		sub := models.SubRequest{
			Utterance: req.Utterance,
			Intent:    result.Intent,
			Entities:  result.Entities,
		}
		return c.generateAll(ctx, req, []models.SubRequest{sub}, log)
	}

	log.Info("asking clarification",
		zap.String("stage", stageClarifying),
		zap.String("slot", result.ClarifySlot),
		zap.Int("options", len(opts.Options)))
	return &models.PipelineOutcome{
		Kind:        models.OutcomeAskClarification,
		SessionID:   req.SessionID,
		ClarifySlot: result.ClarifySlot,
		Options:     opts.Options,
	}, nil
}

// generateAll runs every sub-request through generation and the guardrail.
// The schema allow-list is loaded once, before the fan-out, so no
// goroutine touches the tenant-scoped connection. Sub-requests run
// concurrently and results are reassembled in utterance order.
func (c *Coordinator) generateAll(ctx context.Context, req Request, subs []models.SubRequest, log *zap.Logger) (*models.PipelineOutcome, error) {
	loadCtx, cancel := context.WithTimeout(ctx, c.cfg.LookupTimeout)
	schema, err := c.schemas.LoadAllowList(loadCtx)
	cancel()
	if err != nil {
		log.Warn("schema allow-list unavailable", zap.Error(err))
		return &models.PipelineOutcome{
			Kind:           models.OutcomeFallback,
			SessionID:      req.SessionID,
			FallbackReason: models.FallbackSchemaUnavailable,
		}, nil
	}

	log.Info("generating", zap.String("stage", stageGenerating), zap.Int("sub_requests", len(subs)))

	results := make([]models.SubOutcome, len(subs))
	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub models.SubRequest) {
			defer wg.Done()
			results[i] = c.runSub(ctx, req, i, sub, schema)
		}(i, sub)
	}
	wg.Wait()

	log.Info("guardrail applied", zap.String("stage", stageGuarded))
	return combine(req.SessionID, results), nil
}

// runSub takes one sub-request to its terminal sub-outcome.
func (c *Coordinator) runSub(ctx context.Context, req Request, index int, sub models.SubRequest, schema *models.SchemaContext) models.SubOutcome {
	outcome := models.SubOutcome{
		Index:     index,
		Utterance: sub.Utterance,
		Intent:    sub.Intent,
	}

	gen := c.generator.Generate(ctx, sub, schema)
	if reason, fellBack := decide(gen, c.cfg.ConfidenceThreshold); fellBack {
		outcome.Kind = models.OutcomeFallback
		outcome.FallbackReason = reason
		return outcome
	}

	guarded := c.guard.Enforce(gen.SQL, req.TenantID, schema)
	if !guarded.Safe {
		outcome.Kind = models.OutcomeFallback
		outcome.FallbackReason = models.FallbackGuardrailReject
		return outcome
	}

	outcome.Kind = models.OutcomeExecuteSQL
	outcome.SQL = guarded.SQL
	return outcome
}

// decide is the single place the generation-side fallback triggers live.
// Guardrail rejection is decided separately: it is not a judgment call and
// must not be folded into a score.
func decide(gen models.GenerationResult, threshold float64) (reason string, fallback bool) {
	if !gen.Success {
		return models.FallbackGenerationFailed, true
	}
	if gen.Confidence < threshold {
		return models.FallbackLowConfidence, true
	}
	return "", false
}

// combine assembles the overall outcome from per-sub results, kept in
// left-to-right utterance order. The run falls back as a whole only when
// every sub-request fell back; a partial answer is still an answer, with
// per-sub fallbacks visible in SubResults.
func combine(sessionID uuid.UUID, results []models.SubOutcome) *models.PipelineOutcome {
	outcome := &models.PipelineOutcome{
		SessionID:  sessionID,
		SubResults: results,
	}

	allFellBack := true
	for _, r := range results {
		if r.Kind != models.OutcomeFallback {
			allFellBack = false
			break
		}
	}

	if allFellBack {
		outcome.Kind = models.OutcomeFallback
		outcome.FallbackReason = results[0].FallbackReason
		return outcome
	}

	outcome.Kind = models.OutcomeExecuteSQL
	if len(results) == 1 {
		outcome.SQL = results[0].SQL
	}
	return outcome
}

// recordTurn appends the processed utterance to the session history so
// later turns can reference it. Recording happens after the outcome is
// known and never changes it.
func (c *Coordinator) recordTurn(ctx context.Context, req Request, result *models.OrchestrationResult, outcome *models.PipelineOutcome, log *zap.Logger) {
	metadata := map[string]string{
		models.MetaIntent:  string(result.Intent),
		models.MetaOutcome: string(outcome.Kind),
	}
	for slot, value := range result.Entities {
		metadata[slot] = value
	}

	turn := &models.ConversationTurn{
		SessionID:       req.SessionID,
		Utterance:       req.Utterance,
		ResponseSummary: summarize(outcome),
		Metadata:        metadata,
	}
	if _, err := c.turns.Append(ctx, turn); err != nil {
		log.Warn("failed to record turn", zap.Error(err))
	}
}

func summarize(outcome *models.PipelineOutcome) string {
	switch outcome.Kind {
	case models.OutcomeExecuteSQL:
		if len(outcome.SubResults) > 1 {
			return fmt.Sprintf("answered with %d queries", len(outcome.SubResults))
		}
		return "answered with a query"
	case models.OutcomeAskClarification:
		return "asked to clarify " + outcome.ClarifySlot
	default:
		return "fell back: " + outcome.FallbackReason
	}
}
