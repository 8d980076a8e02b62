package sqlutil

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult describes an injection fingerprint found in a
// string literal of a candidate statement.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	Literal     string // The literal that failed the check
}

// CheckLiteralsForInjection runs every string literal in the statement
// through libinjection. Literal values originate from the user's utterance
// by way of the generation model, so they are untrusted regardless of any
// confidence score attached to the statement.
//
// Returns nil if no literal matches an injection fingerprint.
func CheckLiteralsForInjection(sqlQuery string) *InjectionCheckResult {
	for _, literal := range ExtractStringLiterals(sqlQuery) {
		isSQLi, fingerprint := libinjection.IsSQLi(literal)
		if isSQLi {
			return &InjectionCheckResult{
				IsSQLi:      true,
				Fingerprint: string(fingerprint),
				Literal:     literal,
			}
		}
	}
	return nil
}
