package sqlutil

import (
	"regexp"
	"strings"
)

var (
	// tableRefPattern matches table references after FROM and JOIN.
	tableRefPattern = regexp.MustCompile(`(?i)\b(?:from|join)\s+([a-zA-Z_][a-zA-Z0-9_.]*)`)

	// comparisonColumnPattern matches the left-hand identifier of a
	// comparison in WHERE/HAVING clauses.
	comparisonColumnPattern = regexp.MustCompile(
		`(?i)([a-zA-Z_][a-zA-Z0-9_.]*)\s*(?:=|!=|<>|<=|>=|<|>|\bnot\s+like\b|\blike\b|\bilike\b|\bin\b|\bbetween\b|\bis\b)`)

	// orderGroupColumnPattern matches identifiers in GROUP BY / ORDER BY lists.
	orderGroupColumnPattern = regexp.MustCompile(
		`(?i)\b(?:group\s+by|order\s+by)\s+([a-zA-Z_][a-zA-Z0-9_.,\s]*?)(?:\basc\b|\bdesc\b|\blimit\b|\bhaving\b|$)`)

	// selectListPattern captures the SELECT list up to FROM.
	selectListPattern = regexp.MustCompile(`(?is)\bselect\s+(distinct\s+)?(.*?)\s+from\b`)

	// functionCallPattern strips function wrappers like SUM(amount).
	functionCallPattern = regexp.MustCompile(`(?i)\b([a-zA-Z_][a-zA-Z0-9_]*)\s*\(([^()]*)\)`)

	// aliasPattern matches "AS alias" so aliases are not mistaken for
	// column references.
	aliasPattern = regexp.MustCompile(`(?i)\bas\s+[a-zA-Z_][a-zA-Z0-9_]*`)

	identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)
)

// sqlWords are tokens that look like identifiers but never are.
var sqlWords = map[string]bool{
	"select": true, "from": true, "where": true, "and": true, "or": true,
	"not": true, "in": true, "is": true, "null": true, "like": true,
	"ilike": true, "between": true, "as": true, "on": true, "join": true,
	"inner": true, "left": true, "right": true, "outer": true, "full": true,
	"group": true, "by": true, "order": true, "asc": true, "desc": true,
	"limit": true, "offset": true, "having": true, "distinct": true,
	"count": true, "sum": true, "avg": true, "min": true, "max": true,
	"case": true, "when": true, "then": true, "else": true, "end": true,
	"true": true, "false": true, "interval": true, "now": true,
	"current_date": true, "current_timestamp": true, "date_trunc": true,
	"extract": true, "coalesce": true, "cast": true, "with": true,
	"union": true, "all": true, "exists": true,
}

// ExtractTables returns every table referenced after FROM or JOIN,
// lowercased, schema qualifiers stripped, deduplicated in first-seen order.
func ExtractTables(sqlQuery string) []string {
	masked := MaskLiterals(sqlQuery)

	var tables []string
	seen := make(map[string]bool)

	for _, m := range tableRefPattern.FindAllStringSubmatch(masked, -1) {
		name := strings.ToLower(m[1])
		if i := strings.LastIndex(name, "."); i >= 0 {
			name = name[i+1:]
		}
		if sqlWords[name] || seen[name] {
			continue
		}
		seen[name] = true
		tables = append(tables, name)
	}

	return tables
}

// tableAliasPattern matches "FROM table [AS] alias" and "JOIN table [AS] alias".
var tableAliasPattern = regexp.MustCompile(
	`(?i)\b(?:from|join)\s+[a-zA-Z_][a-zA-Z0-9_.]*\s+(?:as\s+)?([a-zA-Z_][a-zA-Z0-9_]*)\b`)

// TableAliasMap returns table name -> alias for aliased table references,
// lowercased, schema qualifiers stripped. Unaliased tables are absent.
func TableAliasMap(sqlQuery string) map[string]string {
	masked := MaskLiterals(sqlQuery)

	aliases := make(map[string]string)
	for _, m := range tableRefPattern.FindAllStringSubmatchIndex(masked, -1) {
		table := strings.ToLower(masked[m[2]:m[3]])
		if i := strings.LastIndex(table, "."); i >= 0 {
			table = table[i+1:]
		}
		if table == "" || sqlWords[table] {
			continue
		}
		alias := strings.ToLower(nextIdentifier(masked[m[3]:]))
		if alias == "as" {
			alias = strings.ToLower(nextIdentifier(masked[m[3]+trailingOffset(masked[m[3]:], alias):]))
		}
		if alias == "" || sqlWords[alias] {
			continue
		}
		if _, ok := aliases[table]; !ok {
			aliases[table] = alias
		}
	}
	return aliases
}

// nextIdentifier reads the identifier starting at the first
// non-whitespace byte of s, or "" when s starts with anything else.
func nextIdentifier(s string) string {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n') {
		i++
	}
	start := i
	for i < len(s) {
		c := s[i]
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (i > start && c >= '0' && c <= '9') {
			i++
			continue
		}
		break
	}
	return s[start:i]
}

// trailingOffset is the end offset of ident within s, counting the
// whitespace that precedes it.
func trailingOffset(s, ident string) int {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n') {
		i++
	}
	return i + len(ident)
}

// ExtractTableAliases returns the aliases bound to table references,
// lowercased. Clause keywords following an unaliased table are excluded.
func ExtractTableAliases(sqlQuery string) []string {
	masked := MaskLiterals(sqlQuery)

	var aliases []string
	seen := make(map[string]bool)

	for _, m := range tableAliasPattern.FindAllStringSubmatch(masked, -1) {
		alias := strings.ToLower(m[1])
		if sqlWords[alias] || seen[alias] {
			continue
		}
		seen[alias] = true
		aliases = append(aliases, alias)
	}

	return aliases
}

// ExtractColumns returns candidate column identifiers from the SELECT
// list, comparison predicates and GROUP BY / ORDER BY lists, lowercased
// and deduplicated. Table qualifiers and aliases are stripped; "*",
// keywords, function names and numeric tokens are skipped.
//
// This is a regex-based extraction in the same spirit as the SELECT-list
// parser it grew from: it assumes a single well-formed statement (callers
// validate first) and over-approximates rather than missing identifiers,
// which is the safe direction for an allow-list check.
func ExtractColumns(sqlQuery string) []string {
	masked := MaskLiterals(sqlQuery)

	var columns []string
	seen := make(map[string]bool)
	add := func(raw string) {
		for _, token := range splitIdentifierList(raw) {
			name := normalizeColumnToken(token)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			columns = append(columns, name)
		}
	}

	if m := selectListPattern.FindStringSubmatch(masked); m != nil {
		add(m[2])
	}
	for _, m := range comparisonColumnPattern.FindAllStringSubmatch(masked, -1) {
		add(m[1])
	}
	for _, m := range orderGroupColumnPattern.FindAllStringSubmatch(masked, -1) {
		add(m[1])
	}

	return columns
}

// splitIdentifierList splits a comma-separated expression list, unwrapping
// function calls so SUM(amount) contributes "amount".
func splitIdentifierList(list string) []string {
	list = aliasPattern.ReplaceAllString(list, " ")

	// Unwrap nested function calls from the inside out.
	for functionCallPattern.MatchString(list) {
		list = functionCallPattern.ReplaceAllString(list, " $2 ")
	}

	parts := strings.FieldsFunc(list, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	return parts
}

// normalizeColumnToken reduces one token to a bare column name, or ""
// when the token is not a column reference.
func normalizeColumnToken(token string) string {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" || token == "*" {
		return ""
	}
	if !identifierPattern.MatchString(token) {
		return ""
	}
	if i := strings.LastIndex(token, "."); i >= 0 {
		token = token[i+1:]
	}
	if token == "" || token == "*" || sqlWords[token] {
		return ""
	}
	// Numeric tokens (positional ORDER BY) are not columns.
	if token[0] >= '0' && token[0] <= '9' {
		return ""
	}
	return token
}
