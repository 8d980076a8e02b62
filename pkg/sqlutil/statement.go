package sqlutil

import (
	"regexp"
	"strings"
)

// forbiddenKeywordPattern matches structural and mutating SQL keywords at
// any position. The guardrail rejects on any match, anywhere in the raw
// candidate text - a keyword hiding inside a literal fails closed.
var forbiddenKeywordPattern = regexp.MustCompile(
	`(?i)\b(create|drop|alter|truncate|delete|update|insert|grant|revoke|merge|call|exec|execute|copy|vacuum)\b`)

// modifyingCTEPattern matches CTEs that contain data-modifying operations.
// Example: WITH deleted AS (DELETE FROM ...) SELECT * FROM deleted
var modifyingCTEPattern = regexp.MustCompile(`(?i)\bAS\s*\(\s*(INSERT|UPDATE|DELETE)\b`)

// aggregateSelectPattern matches a SELECT list made up solely of aggregate
// function calls (COUNT/SUM/AVG/MIN/MAX), optionally aliased.
var aggregateSelectPattern = regexp.MustCompile(
	`(?i)^select\s+((count|sum|avg|min|max)\s*\([^)]*\)\s*(as\s+\w+)?\s*,?\s*)+\s*from\b`)

// limitClausePattern matches a LIMIT clause outside string literals (the
// caller strips literals first).
var limitClausePattern = regexp.MustCompile(`(?i)\blimit\s+\d+\b`)

// ContainsForbiddenKeyword reports whether the raw statement text contains
// any structural or mutating keyword, case-insensitive, at any position.
// This check is deliberately run on the raw text, not the literal-stripped
// form: it must not be bypassable.
func ContainsForbiddenKeyword(sqlQuery string) bool {
	return forbiddenKeywordPattern.MatchString(sqlQuery)
}

// IsReadOnlySelect reports whether the statement is a single read-only
// SELECT (or a pure-SELECT CTE). Data-modifying CTEs fail the check.
func IsReadOnlySelect(sqlQuery string) bool {
	normalized := strings.ToUpper(strings.TrimSpace(sqlQuery))

	if strings.HasPrefix(normalized, "SELECT") {
		return true
	}
	if strings.HasPrefix(normalized, "WITH") {
		return !modifyingCTEPattern.MatchString(sqlQuery)
	}
	return false
}

// HasLimitClause reports whether the statement carries a LIMIT clause.
func HasLimitClause(sqlQuery string) bool {
	return limitClausePattern.MatchString(MaskLiterals(sqlQuery))
}

// IsPureAggregate reports whether the statement is an aggregate without
// GROUP BY - the shape that returns a single row and therefore needs no
// LIMIT bound.
func IsPureAggregate(sqlQuery string) bool {
	masked := MaskLiterals(sqlQuery)
	if groupByPattern.MatchString(masked) {
		return false
	}
	return aggregateSelectPattern.MatchString(strings.TrimSpace(masked))
}

var groupByPattern = regexp.MustCompile(`(?i)\bgroup\s+by\b`)

// clauseStartPattern finds the first clause that must follow WHERE, used to
// locate the insertion point for an injected predicate.
var clauseStartPattern = regexp.MustCompile(`(?i)\b(group\s+by|order\s+by|limit|offset|having)\b`)

var wherePattern = regexp.MustCompile(`(?i)\bwhere\b`)

// WhereInsertionPoint returns the byte offset at which a WHERE clause (or
// an addition to one) must be inserted, and whether the statement already
// has a WHERE clause. Offsets are computed on the literal-masked form,
// which preserves byte positions, so they apply to the original statement.
func WhereInsertionPoint(sqlQuery string) (offset int, hasWhere bool) {
	masked := MaskLiterals(sqlQuery)

	whereLoc := wherePattern.FindStringIndex(masked)
	hasWhere = whereLoc != nil

	clauseLoc := clauseStartPattern.FindStringIndex(masked)
	if clauseLoc == nil {
		return len(masked), hasWhere
	}
	return clauseLoc[0], hasWhere
}

/// WhereClauseSpan returns the byte span of the WHERE clause: start is the
// offset of the WHERE keyword, end the offset of the following clause (or
// end of statement). ok is false when the statement has no WHERE clause.
func WhereClauseSpan(sqlQuery string) (start, end int, ok bool) {
	masked := MaskLiterals(sqlQuery)

	whereLoc := wherePattern.FindStringIndex(masked)
	if whereLoc == nil {
		return 0, 0, false
	}

	clauseLoc := clauseStartPattern.FindStringIndex(masked)
	if clauseLoc == nil {
		return whereLoc[0], len(masked), true
	}
	return whereLoc[0], clauseLoc[0], true
}
