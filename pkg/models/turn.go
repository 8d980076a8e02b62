package models

import (
	"time"

	"github.com/google/uuid"
)

// ConversationTurn is one stored utterance/response exchange within a session.
// Turns are append-only: they are never mutated after creation and are
// deleted in bulk once older than the retention horizon.
type ConversationTurn struct {
	ID              uuid.UUID         `json:"id"`
	TenantID        uuid.UUID         `json:"tenant_id"`
	SessionID       uuid.UUID         `json:"session_id"`
	TurnNumber      int               `json:"turn_number"` // Monotonic per session, starting at 1
	Utterance       string            `json:"utterance"`
	ResponseSummary string            `json:"response_summary"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Well-known turn metadata keys. Slot names (SlotTable, SlotProject, ...)
// are used as metadata keys directly; these cover the rest.
const (
	MetaIntent  = "intent"
	MetaOutcome = "outcome"
)

// MetadataValue returns the metadata value for key, or "" if absent.
func (t *ConversationTurn) MetadataValue(key string) string {
	if t.Metadata == nil {
		return ""
	}
	return t.Metadata[key]
}
