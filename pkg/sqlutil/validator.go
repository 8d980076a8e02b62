// Package sqlutil provides SQL validation and analysis utilities for the
// guardrail. Everything here treats its input as untrusted text.
package sqlutil

import (
	"errors"
	"strings"
)

var (
	// ErrMultipleStatements indicates the query contains multiple SQL statements.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")
)

// ValidationResult contains the normalized SQL and any validation errors.
type ValidationResult struct {
	NormalizedSQL string
	Error         error
}

// ValidateAndNormalize checks SQL for multiple statements and strips the
// trailing semicolon.
//
// The validation order is:
// 1. Strip trailing semicolon and whitespace (normalize)
// 2. Check for multiple statements (any remaining semicolons outside string literals)
func ValidateAndNormalize(sqlQuery string) ValidationResult {
	sqlQuery = strings.TrimSpace(sqlQuery)

	if sqlQuery == "" {
		return ValidationResult{NormalizedSQL: sqlQuery}
	}

	normalized := stripTrailingSemicolon(sqlQuery)

	if hasSemicolonOutsideStrings(normalized) {
		return ValidationResult{Error: ErrMultipleStatements}
	}

	return ValidationResult{NormalizedSQL: normalized}
}

// hasSemicolonOutsideStrings returns true if the SQL contains any semicolon
// outside of string literals.
func hasSemicolonOutsideStrings(sqlQuery string) bool {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	state := stateNormal
	prevChar := rune(0)

	for _, char := range sqlQuery {
		switch state {
		case stateNormal:
			switch char {
			case ';':
				return true
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			// Handle both backslash escape (\') and SQL standard escape ('').
			// For a doubled quote this exits and immediately re-enters on the
			// next quote, which correctly keeps us in the string.
			if char == '\'' && prevChar != '\\' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if char == '"' && prevChar != '\\' {
				state = stateNormal
			}
		}
		prevChar = char
	}

	return false
}

// stripTrailingSemicolon removes a trailing semicolon and any whitespace after it.
func stripTrailingSemicolon(sqlQuery string) string {
	sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")

	if strings.HasSuffix(sqlQuery, ";") {
		sqlQuery = strings.TrimSuffix(sqlQuery, ";")
		sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	}

	return sqlQuery
}

// StripLiterals replaces the contents of single-quoted string literals with
// a placeholder so keyword and identifier scans cannot be confused by
// user-controlled text. Quote structure is preserved.
func StripLiterals(sqlQuery string) string {
	var b strings.Builder
	b.Grow(len(sqlQuery))

	inString := false
	prevChar := rune(0)

	for _, char := range sqlQuery {
		if inString {
			if char == '\'' && prevChar != '\\' {
				inString = false
				b.WriteRune(char)
			}
			// Literal contents dropped
		} else {
			b.WriteRune(char)
			if char == '\'' {
				inString = true
			}
		}
		prevChar = char
	}

	return b.String()
}

// MaskLiterals replaces every byte inside single-quoted string literals
// with a space, preserving the statement's length so byte offsets computed
// on the masked form apply to the original.
func MaskLiterals(sqlQuery string) string {
	masked := []byte(sqlQuery)

	inString := false
	prev := byte(0)

	for i := 0; i < len(masked); i++ {
		c := masked[i]
		if inString {
			if c == '\'' && prev != '\\' {
				inString = false
			} else {
				masked[i] = ' '
			}
		} else if c == '\'' {
			inString = true
		}
		prev = c
	}

	return string(masked)
}

// ExtractStringLiterals returns the contents of every single-quoted string
// literal in the statement, unescaped doubled quotes included as-is.
func ExtractStringLiterals(sqlQuery string) []string {
	var literals []string
	var current strings.Builder

	inString := false
	prevChar := rune(0)

	for _, char := range sqlQuery {
		if inString {
			if char == '\'' && prevChar != '\\' {
				inString = false
				literals = append(literals, current.String())
				current.Reset()
			} else {
				current.WriteRune(char)
			}
		} else if char == '\'' {
			inString = true
		}
		prevChar = char
	}

	return literals
}
