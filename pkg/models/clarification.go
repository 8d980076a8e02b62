package models

import "github.com/google/uuid"

// Clarification option categories name the entity collection an option was
// read from. CategorySynthetic marks the "all/any" option, which is the
// only option ever constructed rather than read from the data store, and is
// offered for aggregate intents only.
const (
	CategoryProject      = "projects"
	CategoryCategory     = "categories"
	CategoryCounterparty = "counterparties"
	CategorySynthetic    = "synthetic"
)

// SyntheticAllCode is the short code of the synthetic "all/any" option.
const SyntheticAllCode = "ALL"

// ClarificationOption is a single grounded candidate answer for an
// ambiguous slot. Every non-synthetic option must have been read from the
// live data store within the same request.
type ClarificationOption struct {
	ID          uuid.UUID `json:"id"`
	Code        string    `json:"code"`
	DisplayName string    `json:"display_name"`
	Category    string    `json:"category"`
}

// IsSynthetic reports whether the option was constructed by the engine
// rather than read from tenant data.
func (o ClarificationOption) IsSynthetic() bool {
	return o.Category == CategorySynthetic
}
