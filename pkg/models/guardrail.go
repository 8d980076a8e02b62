package models

// RejectionReason names the guardrail rule category a candidate statement
// violated. This is the only detail about a rejection that may be shown to
// the end user; raw identifiers and schema internals stay in audit logs.
type RejectionReason string

const (
	// RejectionForbiddenStatement covers DDL/DML keywords, multiple
	// statements, and data-modifying CTEs.
	RejectionForbiddenStatement RejectionReason = "forbidden_statement"
	RejectionUnknownTable       RejectionReason = "unknown_table"
	RejectionUnknownColumn      RejectionReason = "unknown_column"
	// RejectionTenantMismatch means the statement already carried a tenant
	// predicate bound to a different tenant. Mismatches are rejected, not
	// corrected, since they may indicate a manipulated statement.
	RejectionTenantMismatch RejectionReason = "tenant_scope_violation"
	// RejectionInjectionPattern means a string literal in the statement
	// matched a SQL injection fingerprint.
	RejectionInjectionPattern RejectionReason = "injection_pattern"
)

// Modification labels applied by the guardrail when rewriting a statement.
const (
	ModTenantFilterInjected = "tenant filter injected"
	ModLimitAdded           = "limit clause added"
	ModStatementNormalized  = "statement normalized"
)

// GuardrailResult is the outcome of validating one candidate statement.
// SQL holds the rewritten statement iff Safe; Rejection is set iff unsafe.
type GuardrailResult struct {
	Safe          bool            `json:"safe"`
	SQL           string          `json:"sql,omitempty"`
	Rejection     RejectionReason `json:"rejection,omitempty"`
	Modifications []string        `json:"modifications,omitempty"`
}
