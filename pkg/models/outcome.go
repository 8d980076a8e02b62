package models

import "github.com/google/uuid"

// OutcomeKind tags the terminal state of a pipeline run or sub-request.
type OutcomeKind string

const (
	OutcomeExecuteSQL       OutcomeKind = "execute_sql"
	OutcomeAskClarification OutcomeKind = "ask_clarification"
	OutcomeFallback         OutcomeKind = "fallback"
)

// FallbackReason categories surfaced to callers.
const (
	FallbackLowConfidence     = "low_confidence"
	FallbackGenerationFailed  = "generation_failed"
	FallbackGuardrailReject   = "guardrail_rejected"
	FallbackSchemaUnavailable = "schema_unavailable"
)

// SubOutcome is the terminal result of one sub-request, tagged with its
// original position so callers can reassemble left-to-right order.
type SubOutcome struct {
	Index          int         `json:"index"`
	Utterance      string      `json:"utterance"`
	Intent         Intent      `json:"intent"`
	Kind           OutcomeKind `json:"kind"`
	SQL            string      `json:"sql,omitempty"`
	FallbackReason string      `json:"fallback_reason,omitempty"`
}

// PipelineOutcome is the engine's answer for one utterance. Exactly one of
// the three kinds is produced; SubResults is populated for MULTI_QUERY
// utterances (and holds a single element otherwise).
type PipelineOutcome struct {
	Kind           OutcomeKind           `json:"kind"`
	SessionID      uuid.UUID             `json:"session_id"`
	SQL            string                `json:"sql,omitempty"`
	ClarifySlot    string                `json:"clarify_slot,omitempty"`
	Options        []ClarificationOption `json:"options,omitempty"`
	FallbackReason string                `json:"fallback_reason,omitempty"`
	SubResults     []SubOutcome          `json:"sub_results,omitempty"`
}
