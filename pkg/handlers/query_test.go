package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ledgerchat/ledgerchat-engine/pkg/models"
	"github.com/ledgerchat/ledgerchat-engine/pkg/pipeline"
)

type stubPipeline struct {
	outcome *models.PipelineOutcome
	err     error
	last    pipeline.Request
}

func (s *stubPipeline) Handle(ctx context.Context, req pipeline.Request) (*models.PipelineOutcome, error) {
	s.last = req
	return s.outcome, s.err
}

func postQuery(t *testing.T, h *QueryHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Query(rec, req)
	return rec
}

func TestQueryHandler(t *testing.T) {
	tenantID := uuid.New()
	sessionID := uuid.New()

	t.Run("runs the pipeline and returns its outcome", func(t *testing.T) {
		stub := &stubPipeline{outcome: &models.PipelineOutcome{
			Kind:      models.OutcomeExecuteSQL,
			SessionID: sessionID,
			SQL:       "SELECT count(*) FROM expenses WHERE tenant_id = 'x'",
		}}
		h := NewQueryHandler(stub, zap.NewNop())

		body := `{"tenant_id":"` + tenantID.String() + `","session_id":"` + sessionID.String() + `","utterance":"how many expenses"}`
		rec := postQuery(t, h, body)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, tenantID, stub.last.TenantID)
		assert.Equal(t, "how many expenses", stub.last.Utterance)

		var outcome models.PipelineOutcome
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&outcome))
		assert.Equal(t, models.OutcomeExecuteSQL, outcome.Kind)
	})

	t.Run("rejects bad tenant id", func(t *testing.T) {
		h := NewQueryHandler(&stubPipeline{}, zap.NewNop())
		rec := postQuery(t, h, `{"tenant_id":"nope","session_id":"`+sessionID.String()+`","utterance":"q"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects empty utterance", func(t *testing.T) {
		h := NewQueryHandler(&stubPipeline{}, zap.NewNop())
		rec := postQuery(t, h, `{"tenant_id":"`+tenantID.String()+`","session_id":"`+sessionID.String()+`","utterance":""}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects non-post", func(t *testing.T) {
		h := NewQueryHandler(&stubPipeline{}, zap.NewNop())
		req := httptest.NewRequest(http.MethodGet, "/v1/query", nil)
		rec := httptest.NewRecorder()
		h.Query(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("pipeline error maps to 500", func(t *testing.T) {
		h := NewQueryHandler(&stubPipeline{err: errors.New("boom")}, zap.NewNop())
		rec := postQuery(t, h, `{"tenant_id":"`+tenantID.String()+`","session_id":"`+sessionID.String()+`","utterance":"q"}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
