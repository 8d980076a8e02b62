package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ledgerchat/ledgerchat-engine/pkg/apperrors"
	"github.com/ledgerchat/ledgerchat-engine/pkg/clarify"
	"github.com/ledgerchat/ledgerchat-engine/pkg/guardrail"
	"github.com/ledgerchat/ledgerchat-engine/pkg/models"
)

type stubScopes struct{}

func (stubScopes) WithTenantScope(ctx context.Context, tenantID uuid.UUID) (context.Context, func(), error) {
	return ctx, func() {}, nil
}

type stubOrchestrator struct {
	result *models.OrchestrationResult
}

func (s *stubOrchestrator) Orchestrate(ctx context.Context, sessionID uuid.UUID, utterance, language string) (*models.OrchestrationResult, error) {
	return s.result, nil
}

type stubProvider struct {
	result clarify.Result
}

func (s *stubProvider) Options(ctx context.Context, tenantID uuid.UUID, slot, hint string, intent models.Intent) (clarify.Result, error) {
	return s.result, nil
}

type stubGenerator struct {
	generate func(sub models.SubRequest) models.GenerationResult
}

func (s *stubGenerator) Generate(ctx context.Context, sub models.SubRequest, schema *models.SchemaContext) models.GenerationResult {
	return s.generate(sub)
}

// recordingTurnRepo captures appended turns; appends can come from
// concurrent pipeline runs.
type recordingTurnRepo struct {
	mu       sync.Mutex
	appended []*models.ConversationTurn
}

func (r *recordingTurnRepo) Append(ctx context.Context, turn *models.ConversationTurn) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appended = append(r.appended, turn)
	return len(r.appended), nil
}

func (r *recordingTurnRepo) ListRecent(ctx context.Context, sessionID uuid.UUID, limit int, horizon time.Duration) ([]*models.ConversationTurn, error) {
	return nil, nil
}

func (r *recordingTurnRepo) SweepExpired(ctx context.Context, horizon time.Duration) (int64, error) {
	return 0, nil
}

func (r *recordingTurnRepo) last(t *testing.T) *models.ConversationTurn {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.appended, "expected a recorded turn")
	return r.appended[len(r.appended)-1]
}

type stubSchemas struct {
	schema *models.SchemaContext
	err    error
	load   func(ctx context.Context) (*models.SchemaContext, error)
}

func (s *stubSchemas) LoadAllowList(ctx context.Context) (*models.SchemaContext, error) {
	if s.load != nil {
		return s.load(ctx)
	}
	return s.schema, s.err
}

func pipelineSchema() *models.SchemaContext {
	return &models.SchemaContext{
		Tables: []models.TableSchema{
			{Name: "expenses", Columns: []models.ColumnSchema{
				{Name: "id", DataType: "uuid"},
				{Name: "tenant_id", DataType: "uuid"},
				{Name: "amount", DataType: "numeric"},
			}},
			{Name: "cashflow", Columns: []models.ColumnSchema{
				{Name: "id", DataType: "uuid"},
				{Name: "tenant_id", DataType: "uuid"},
				{Name: "amount", DataType: "numeric"},
			}},
		},
	}
}

type fixture struct {
	coordinator *Coordinator
	turns       *recordingTurnRepo
}

func newFixture(orch *stubOrchestrator, provider *stubProvider, gen *stubGenerator, schemas *stubSchemas) *fixture {
	turns := &recordingTurnRepo{}
	coordinator := NewCoordinator(
		stubScopes{},
		turns,
		schemas,
		orch,
		provider,
		gen,
		guardrail.NewEnforcer(100, zap.NewNop()),
		Config{ConfidenceThreshold: 0.7},
		zap.NewNop(),
	)
	return &fixture{coordinator: coordinator, turns: turns}
}

// singleCount mirrors the orchestrator's contract for a single question:
// intent and entities at the top level, no sub-requests.
func singleCount() *models.OrchestrationResult {
	return &models.OrchestrationResult{
		Intent:     models.IntentCount,
		Entities:   map[string]string{models.SlotTable: "expenses"},
		Confidence: 0.9,
	}
}

func testRequest() Request {
	return Request{
		TenantID:  uuid.New(),
		SessionID: uuid.New(),
		Utterance: "how many expenses",
		Language:  "en",
	}
}

func TestHandleExecutableOutcome(t *testing.T) {
	gen := &stubGenerator{generate: func(models.SubRequest) models.GenerationResult {
		return models.GenerationResult{Success: true, SQL: "SELECT count(*) FROM expenses", Confidence: 0.95}
	}}
	f := newFixture(&stubOrchestrator{result: singleCount()}, &stubProvider{}, gen, &stubSchemas{schema: pipelineSchema()})

	req := testRequest()
	outcome, err := f.coordinator.Handle(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeExecuteSQL, outcome.Kind)
	assert.Contains(t, outcome.SQL, fmt.Sprintf("tenant_id = '%s'", req.TenantID))

	turn := f.turns.last(t)
	assert.Equal(t, req.Utterance, turn.Utterance)
	assert.Equal(t, string(models.IntentCount), turn.Metadata[models.MetaIntent])
	assert.Equal(t, string(models.OutcomeExecuteSQL), turn.Metadata[models.MetaOutcome])
	assert.Equal(t, "expenses", turn.Metadata[models.SlotTable])
}

func TestHandleFallbackTriggers(t *testing.T) {
	tests := []struct {
		name     string
		generate func(models.SubRequest) models.GenerationResult
		expected string
	}{
		{
			name: "generation failure",
			generate: func(models.SubRequest) models.GenerationResult {
				return models.GenerationResult{Success: false, FailureReason: "model unreachable"}
			},
			expected: models.FallbackGenerationFailed,
		},
		{
			name: "low confidence",
			generate: func(models.SubRequest) models.GenerationResult {
				return models.GenerationResult{Success: true, SQL: "SELECT count(*) FROM expenses", Confidence: 0.4}
			},
			expected: models.FallbackLowConfidence,
		},
		{
			name: "guardrail rejection",
			generate: func(models.SubRequest) models.GenerationResult {
				return models.GenerationResult{Success: true, SQL: "DROP TABLE expenses", Confidence: 0.99}
			},
			expected: models.FallbackGuardrailReject,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(
				&stubOrchestrator{result: singleCount()},
				&stubProvider{},
				&stubGenerator{generate: tt.generate},
				&stubSchemas{schema: pipelineSchema()},
			)

			outcome, err := f.coordinator.Handle(context.Background(), testRequest())
			require.NoError(t, err)

			assert.Equal(t, models.OutcomeFallback, outcome.Kind)
			assert.Equal(t, tt.expected, outcome.FallbackReason)
			assert.Empty(t, outcome.SQL, "fallback must not carry SQL")
		})
	}
}

// No confidence score overrides the guardrail: a 0.99 statement that fails
// validation still falls back.
func TestHandleGuardrailNotBypassable(t *testing.T) {
	gen := &stubGenerator{generate: func(models.SubRequest) models.GenerationResult {
		return models.GenerationResult{Success: true, SQL: "SELECT secret FROM salaries", Confidence: 0.99}
	}}
	f := newFixture(&stubOrchestrator{result: singleCount()}, &stubProvider{}, gen, &stubSchemas{schema: pipelineSchema()})

	outcome, err := f.coordinator.Handle(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeFallback, outcome.Kind)
	assert.Equal(t, models.FallbackGuardrailReject, outcome.FallbackReason)
}

func TestHandleSchemaUnavailable(t *testing.T) {
	called := false
	gen := &stubGenerator{generate: func(models.SubRequest) models.GenerationResult {
		called = true
		return models.GenerationResult{}
	}}
	f := newFixture(
		&stubOrchestrator{result: singleCount()},
		&stubProvider{},
		gen,
		&stubSchemas{err: fmt.Errorf("%w: allow-list empty", apperrors.ErrStoreUnavailable)},
	)

	outcome, err := f.coordinator.Handle(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeFallback, outcome.Kind)
	assert.Equal(t, models.FallbackSchemaUnavailable, outcome.FallbackReason)
	assert.False(t, called, "nothing may be generated without an allow-list")
}

// A single-question result carries no sub-requests; the coordinator
// builds the one request to generate for from the utterance itself.
func TestHandleSingleRequestSynthesized(t *testing.T) {
	var seen models.SubRequest
	gen := &stubGenerator{generate: func(sub models.SubRequest) models.GenerationResult {
		seen = sub
		return models.GenerationResult{Success: true, SQL: "SELECT count(*) FROM expenses", Confidence: 0.95}
	}}
	f := newFixture(&stubOrchestrator{result: singleCount()}, &stubProvider{}, gen, &stubSchemas{schema: pipelineSchema()})

	req := testRequest()
	outcome, err := f.coordinator.Handle(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeExecuteSQL, outcome.Kind)
	assert.Equal(t, req.Utterance, seen.Utterance)
	assert.Equal(t, models.IntentCount, seen.Intent)
	assert.Equal(t, "expenses", seen.Entities[models.SlotTable])
}

// A hanging schema store is cut off at the lookup timeout and the run
// falls back instead of stalling.
func TestHandleSchemaLookupTimeout(t *testing.T) {
	schemas := &stubSchemas{load: func(ctx context.Context) (*models.SchemaContext, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	turns := &recordingTurnRepo{}
	coordinator := NewCoordinator(
		stubScopes{},
		turns,
		schemas,
		&stubOrchestrator{result: singleCount()},
		&stubProvider{},
		&stubGenerator{generate: func(models.SubRequest) models.GenerationResult { return models.GenerationResult{} }},
		guardrail.NewEnforcer(100, zap.NewNop()),
		Config{ConfidenceThreshold: 0.7, LookupTimeout: 10 * time.Millisecond},
		zap.NewNop(),
	)

	outcome, err := coordinator.Handle(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeFallback, outcome.Kind)
	assert.Equal(t, models.FallbackSchemaUnavailable, outcome.FallbackReason)
}

func TestHandleMultiQuery(t *testing.T) {
	orch := &stubOrchestrator{result: &models.OrchestrationResult{
		Intent: models.IntentMultiQuery,
		SubRequests: []models.SubRequest{
			{Utterance: "how many expenses", Intent: models.IntentCount, Entities: map[string]string{models.SlotTable: "expenses"}},
			{Utterance: "how many payments", Intent: models.IntentCount, Entities: map[string]string{models.SlotTable: "cashflow"}},
		},
	}}
	gen := &stubGenerator{generate: func(sub models.SubRequest) models.GenerationResult {
		if sub.Entities[models.SlotTable] == "cashflow" {
			return models.GenerationResult{Success: false, FailureReason: "model unreachable"}
		}
		return models.GenerationResult{Success: true, SQL: "SELECT count(*) FROM expenses", Confidence: 0.95}
	}}
	f := newFixture(orch, &stubProvider{}, gen, &stubSchemas{schema: pipelineSchema()})

	outcome, err := f.coordinator.Handle(context.Background(), testRequest())
	require.NoError(t, err)

	// One answer out of two still answers; the failed half is visible.
	assert.Equal(t, models.OutcomeExecuteSQL, outcome.Kind)
	require.Len(t, outcome.SubResults, 2)

	assert.Equal(t, 0, outcome.SubResults[0].Index)
	assert.Equal(t, models.OutcomeExecuteSQL, outcome.SubResults[0].Kind)
	assert.Contains(t, outcome.SubResults[0].SQL, "tenant_id")

	assert.Equal(t, 1, outcome.SubResults[1].Index)
	assert.Equal(t, models.OutcomeFallback, outcome.SubResults[1].Kind)
	assert.Equal(t, models.FallbackGenerationFailed, outcome.SubResults[1].FallbackReason)
}

func TestHandleMultiQueryAllFail(t *testing.T) {
	orch := &stubOrchestrator{result: &models.OrchestrationResult{
		Intent: models.IntentMultiQuery,
		SubRequests: []models.SubRequest{
			{Utterance: "q1", Intent: models.IntentCount},
			{Utterance: "q2", Intent: models.IntentCount},
		},
	}}
	gen := &stubGenerator{generate: func(models.SubRequest) models.GenerationResult {
		return models.GenerationResult{Success: false, FailureReason: "model unreachable"}
	}}
	f := newFixture(orch, &stubProvider{}, gen, &stubSchemas{schema: pipelineSchema()})

	outcome, err := f.coordinator.Handle(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeFallback, outcome.Kind)
	assert.Equal(t, models.FallbackGenerationFailed, outcome.FallbackReason)
}

func TestHandleClarification(t *testing.T) {
	clarifying := &models.OrchestrationResult{
		Intent:             models.IntentSum,
		Entities:           map[string]string{},
		NeedsClarification: true,
		ClarifySlot:        models.SlotProject,
	}
	options := []models.ClarificationOption{
		{ID: uuid.New(), Code: "RIV", DisplayName: "Riverside", Category: models.CategoryProject},
	}

	t.Run("options become a prompt", func(t *testing.T) {
		f := newFixture(
			&stubOrchestrator{result: clarifying},
			&stubProvider{result: clarify.Result{Options: options}},
			&stubGenerator{generate: func(models.SubRequest) models.GenerationResult { return models.GenerationResult{} }},
			&stubSchemas{schema: pipelineSchema()},
		)

		outcome, err := f.coordinator.Handle(context.Background(), testRequest())
		require.NoError(t, err)

		assert.Equal(t, models.OutcomeAskClarification, outcome.Kind)
		assert.Equal(t, models.SlotProject, outcome.ClarifySlot)
		assert.Equal(t, options, outcome.Options)

		turn := f.turns.last(t)
		assert.Equal(t, string(models.OutcomeAskClarification), turn.Metadata[models.MetaOutcome])
	})

	t.Run("option store failure degrades to generation", func(t *testing.T) {
		gen := &stubGenerator{generate: func(models.SubRequest) models.GenerationResult {
			return models.GenerationResult{Success: true, SQL: "SELECT sum(amount) FROM expenses", Confidence: 0.9}
		}}
		f := newFixture(
			&stubOrchestrator{result: clarifying},
			&stubProvider{result: clarify.Result{SkipClarification: true}},
			gen,
			&stubSchemas{schema: pipelineSchema()},
		)

		outcome, err := f.coordinator.Handle(context.Background(), testRequest())
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeExecuteSQL, outcome.Kind)
	})

	t.Run("ambiguous turn reference needs no options", func(t *testing.T) {
		f := newFixture(
			&stubOrchestrator{result: &models.OrchestrationResult{
				Intent:             models.IntentLookup,
				NeedsClarification: true,
				ClarifySlot:        models.SlotTurnReference,
			}},
			&stubProvider{},
			&stubGenerator{generate: func(models.SubRequest) models.GenerationResult { return models.GenerationResult{} }},
			&stubSchemas{schema: pipelineSchema()},
		)

		outcome, err := f.coordinator.Handle(context.Background(), testRequest())
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeAskClarification, outcome.Kind)
		assert.Equal(t, models.SlotTurnReference, outcome.ClarifySlot)
		assert.Empty(t, outcome.Options)
	})
}
