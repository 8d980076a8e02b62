package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerchat/ledgerchat-engine/pkg/models"
	"github.com/ledgerchat/ledgerchat-engine/pkg/pipeline"
)

// QueryRequest is the body of POST /v1/query.
type QueryRequest struct {
	TenantID  string `json:"tenant_id"`
	SessionID string `json:"session_id"`
	Utterance string `json:"utterance"`
	Language  string `json:"language,omitempty"`
}

// QueryPipeline is the part of the pipeline the handler needs.
// *pipeline.Coordinator implements it.
type QueryPipeline interface {
	Handle(ctx context.Context, req pipeline.Request) (*models.PipelineOutcome, error)
}

var _ QueryPipeline = (*pipeline.Coordinator)(nil)

// QueryHandler runs utterances through the pipeline.
type QueryHandler struct {
	coordinator QueryPipeline
	logger      *zap.Logger
}

// NewQueryHandler creates a new QueryHandler.
func NewQueryHandler(coordinator QueryPipeline, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{coordinator: coordinator, logger: logger.Named("query-handler")}
}

// RegisterRoutes registers the query handler's routes on the given mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/query", h.Query)
}

// Query handles POST /v1/query requests.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		_ = ErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON")
		return
	}

	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_tenant_id", "tenant_id must be a UUID")
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_session_id", "session_id must be a UUID")
		return
	}
	if req.Utterance == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "empty_utterance", "utterance is required")
		return
	}

	outcome, err := h.coordinator.Handle(r.Context(), pipeline.Request{
		TenantID:  tenantID,
		SessionID: sessionID,
		Utterance: req.Utterance,
		Language:  req.Language,
	})
	if err != nil {
		h.logger.Error("pipeline run failed", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "pipeline_error", "failed to process utterance")
		return
	}

	if err := WriteJSON(w, http.StatusOK, outcome); err != nil {
		h.logger.Error("Failed to encode query response", zap.Error(err))
	}
}
