// Package guardrail validates and rewrites candidate SQL before anything
// is allowed to execute it. All input is untrusted: the statement came out
// of a generation model fed with user text, and no confidence score, no
// caller and no configuration can bypass these checks.
package guardrail

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerchat/ledgerchat-engine/pkg/logging"
	"github.com/ledgerchat/ledgerchat-engine/pkg/models"
	"github.com/ledgerchat/ledgerchat-engine/pkg/sqlutil"
)

// tenantPredicatePattern finds tenant_id comparisons outside string
// literals (matched against the literal-masked statement).
var tenantPredicatePattern = regexp.MustCompile(`(?i)\b(?:[a-zA-Z_][a-zA-Z0-9_]*\.)?tenant_id\s*=\s*`)

// Enforcer applies the guardrail checks. Enforce is a pure function of
// (candidate SQL, tenant id, schema allow-list); the logger only records
// rejections for audit.
type Enforcer struct {
	defaultLimit int
	logger       *zap.Logger
}

// NewEnforcer creates an Enforcer that appends LIMIT defaultLimit to
// unbounded non-aggregate statements.
func NewEnforcer(defaultLimit int, logger *zap.Logger) *Enforcer {
	if defaultLimit <= 0 {
		defaultLimit = 100
	}
	return &Enforcer{
		defaultLimit: defaultLimit,
		logger:       logger.Named("guardrail"),
	}
}

// Enforce validates candidateSQL for tenantID against the schema
// allow-list. On success the returned SQL is the rewritten statement with
// tenant scope and result bound guaranteed; on rejection only the rule
// category is reported.
func (e *Enforcer) Enforce(candidateSQL string, tenantID uuid.UUID, schema *models.SchemaContext) models.GuardrailResult {
	var mods []string

	// Forbidden keywords are checked on the raw text before any
	// normalization: this check holds for every input string, at any
	// position, literals included.
	if sqlutil.ContainsForbiddenKeyword(candidateSQL) {
		return e.reject(candidateSQL, tenantID, models.RejectionForbiddenStatement)
	}

	validation := sqlutil.ValidateAndNormalize(candidateSQL)
	if validation.Error != nil {
		return e.reject(candidateSQL, tenantID, models.RejectionForbiddenStatement)
	}
	sql := validation.NormalizedSQL
	if sql == "" {
		return e.reject(candidateSQL, tenantID, models.RejectionForbiddenStatement)
	}
	if sql != strings.TrimSpace(candidateSQL) {
		mods = append(mods, models.ModStatementNormalized)
	}

	if !sqlutil.IsReadOnlySelect(sql) {
		return e.reject(candidateSQL, tenantID, models.RejectionForbiddenStatement)
	}

	if hit := sqlutil.CheckLiteralsForInjection(sql); hit != nil {
		e.logger.Warn("injection fingerprint in candidate statement",
			zap.String("tenant_id", tenantID.String()),
			zap.String("fingerprint", hit.Fingerprint),
			zap.String("sql", logging.SanitizeQuery(candidateSQL)))
		return e.reject(candidateSQL, tenantID, models.RejectionInjectionPattern)
	}

	tables := sqlutil.ExtractTables(sql)
	for _, table := range tables {
		if !schema.HasTable(table) {
			return e.reject(candidateSQL, tenantID, models.RejectionUnknownTable)
		}
	}

	aliases := make(map[string]bool)
	for _, a := range sqlutil.ExtractTableAliases(sql) {
		aliases[a] = true
	}
	for _, column := range sqlutil.ExtractColumns(sql) {
		if schema.HasColumn(column) || schema.HasTable(column) || aliases[column] {
			continue
		}
		return e.reject(candidateSQL, tenantID, models.RejectionUnknownColumn)
	}

	sql, scoped, ok := e.enforceTenantScope(sql, tenantID, tables, schema)
	if !ok {
		return e.reject(candidateSQL, tenantID, models.RejectionTenantMismatch)
	}
	if scoped {
		mods = append(mods, models.ModTenantFilterInjected)
	}

	if !sqlutil.HasLimitClause(sql) && !sqlutil.IsPureAggregate(sql) {
		sql = fmt.Sprintf("%s LIMIT %d", sql, e.defaultLimit)
		mods = append(mods, models.ModLimitAdded)
	}

	return models.GuardrailResult{
		Safe:          true,
		SQL:           sql,
		Modifications: mods,
	}
}

// enforceTenantScope guarantees the statement is bound to tenantID.
// A statement that already carries tenant predicates is accepted verbatim
// only when every predicate binds the calling tenant exactly AND at least
// one is a top-level conjunct of a WHERE clause that contains no top-level
// OR — otherwise the scope could be widened by another branch of the
// condition, so the statement is rejected rather than repaired. Statements
// without a tenant predicate get one injected for every scoped table, with
// the original WHERE body parenthesized under an AND so none of its
// conditions can widen the scope.
func (e *Enforcer) enforceTenantScope(sql string, tenantID uuid.UUID, tables []string, schema *models.SchemaContext) (rewritten string, injected, ok bool) {
	masked := sqlutil.MaskLiterals(sql)

	locs := tenantPredicatePattern.FindAllStringIndex(masked, -1)
	for _, loc := range locs {
		value, valid := parseTenantValue(sql[loc[1]:])
		if !valid || value != tenantID.String() {
			return "", false, false
		}
	}

	if len(locs) > 0 {
		if start, end, hasWhere := sqlutil.WhereClauseSpan(sql); hasWhere {
			conjunct := false
			for _, loc := range locs {
				if loc[0] > start && loc[0] < end && parenDepth(masked[start:loc[0]]) == 0 {
					conjunct = true
					break
				}
			}
			if !conjunct || hasTopLevelOr(masked[start+len("WHERE"):end]) {
				return "", false, false
			}
			return sql, false, true
		}
		// Tenant comparisons outside any WHERE clause (JOIN conditions)
		// do not scope the statement; inject as if they were absent.
	}

	predicate := scopePredicate(sql, tables, schema, tenantID)

	if start, end, hasWhere := sqlutil.WhereClauseSpan(sql); hasWhere {
		condition := strings.TrimSpace(sql[start+len("WHERE") : end])
		rewritten = fmt.Sprintf("%sWHERE %s AND (%s) %s",
			sql[:start], predicate, condition, sql[end:])
		return strings.TrimSpace(rewritten), true, true
	}

	offset, _ := sqlutil.WhereInsertionPoint(sql)
	rewritten = fmt.Sprintf("%s WHERE %s %s",
		strings.TrimRight(sql[:offset], " \t\n"), predicate, sql[offset:])
	return strings.TrimSpace(rewritten), true, true
}

// scopePredicate builds the tenant predicate to inject. Single-table
// statements use the bare column; joins bind every referenced table that
// carries tenant_id, qualified by its alias where one is declared, so no
// joined relation is reachable unscoped.
func scopePredicate(sql string, tables []string, schema *models.SchemaContext, tenantID uuid.UUID) string {
	scoped := make([]string, 0, len(tables))
	for _, table := range tables {
		if schema.TableHasColumn(table, "tenant_id") {
			scoped = append(scoped, table)
		}
	}
	if len(scoped) <= 1 {
		return fmt.Sprintf("tenant_id = '%s'", tenantID)
	}

	aliases := sqlutil.TableAliasMap(sql)
	parts := make([]string, 0, len(scoped))
	for _, table := range scoped {
		qual := table
		if alias, ok := aliases[table]; ok {
			qual = alias
		}
		parts = append(parts, fmt.Sprintf("%s.tenant_id = '%s'", qual, tenantID))
	}
	return strings.Join(parts, " AND ")
}

// parenDepth is the parenthesis nesting depth at the end of s.
func parenDepth(s string) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		}
	}
	return depth
}

// hasTopLevelOr reports whether cond (literal-masked) contains an OR
// outside parentheses.
func hasTopLevelOr(cond string) bool {
	lower := strings.ToLower(cond)
	depth := 0
	for i := 0; i+2 <= len(lower); i++ {
		switch lower[i] {
		case '(':
			depth++
			continue
		case ')':
			depth--
			continue
		}
		if depth != 0 || lower[i] != 'o' || lower[i+1] != 'r' {
			continue
		}
		beforeOK := i == 0 || !isIdentByte(lower[i-1])
		afterOK := i+2 == len(lower) || !isIdentByte(lower[i+2])
		if beforeOK && afterOK {
			return true
		}
	}
	return false
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

// parseTenantValue reads the comparison value following "tenant_id =".
// Only quoted UUID-shaped values can verify; parameters or column
// references on the right-hand side cannot be proven to bind the calling
// tenant and fail verification.
func parseTenantValue(rest string) (string, bool) {
	rest = strings.TrimSpace(rest)
	if !strings.HasPrefix(rest, "'") {
		return "", false
	}
	end := strings.Index(rest[1:], "'")
	if end < 0 {
		return "", false
	}
	return rest[1 : 1+end], true
}

func (e *Enforcer) reject(candidateSQL string, tenantID uuid.UUID, reason models.RejectionReason) models.GuardrailResult {
	e.logger.Warn("candidate statement rejected",
		zap.String("tenant_id", tenantID.String()),
		zap.String("reason", string(reason)),
		zap.String("sql", logging.SanitizeQuery(candidateSQL)))
	return models.GuardrailResult{
		Safe:      false,
		Rejection: reason,
	}
}
