package models

// GenerationResult is the SQL generation adapter's answer for one
// sub-request. SQL is empty when Success is false. Confidence is in [0,1]
// and deterministic for identical input and model state.
type GenerationResult struct {
	Success       bool    `json:"success"`
	SQL           string  `json:"sql,omitempty"`
	Confidence    float64 `json:"confidence"`
	FailureReason string  `json:"failure_reason,omitempty"`
}
