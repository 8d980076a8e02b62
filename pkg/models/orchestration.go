package models

// Slot names used across orchestration, clarification and reference
// resolution. Slots backed by database lookups (project, category,
// counterparty) are the only ones eligible for clarification prompts.
const (
	SlotProject       = "project"
	SlotCategory      = "category"
	SlotCounterparty  = "counterparty"
	SlotTable         = "table"
	SlotDateRange     = "date_range"
	SlotReference     = "reference_number"
	SlotTurnReference = "turn-reference"
)

// LookupSlots are the slots whose candidate values can be fetched from the
// tenant's data for a clarification prompt.
var LookupSlots = map[string]bool{
	SlotProject:      true,
	SlotCategory:     true,
	SlotCounterparty: true,
}

// SubRequest is one independent question carved out of a compound
// utterance. Entities include any qualifiers broadcast from the parent
// utterance unless overridden locally.
type SubRequest struct {
	Utterance string            `json:"utterance"`
	Intent    Intent            `json:"intent"`
	Entities  map[string]string `json:"entities"`
}

// OrchestrationResult is the orchestrator's decision for one utterance.
//
// Invariants: SubRequests is non-empty only for IntentMultiQuery, and
// NeedsClarification implies ClarifySlot is set with SubRequests empty;
// clarification and splitting never happen in the same pass.
type OrchestrationResult struct {
	Intent             Intent            `json:"intent"`
	Entities           map[string]string `json:"entities"`
	NeedsClarification bool              `json:"needs_clarification"`
	ClarifySlot        string            `json:"clarify_slot,omitempty"`
	SubRequests        []SubRequest      `json:"sub_requests,omitempty"`
	Confidence         float64           `json:"confidence"`
}
