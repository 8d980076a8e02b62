package sqlgen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ledgerchat/ledgerchat-engine/pkg/models"
)

const systemPrompt = `You translate bookkeeping questions into a single PostgreSQL SELECT statement.

Rules:
- Output exactly one SELECT statement and nothing else. No explanation, no markdown.
- Use only the tables and columns listed in the schema.
- Never write INSERT, UPDATE, DELETE, DDL, or multiple statements.
- Do not add a tenant_id filter; scoping is applied downstream.`

// renderPrompt builds the user prompt for one sub-request. The schema
// section is rendered from the same SchemaContext the guardrail checks
// against, so the model is never shown an identifier the guardrail would
// reject.
func renderPrompt(sub models.SubRequest, schema *models.SchemaContext) string {
	var b strings.Builder

	b.WriteString("Schema:\n")
	for _, table := range schema.Tables {
		cols := make([]string, 0, len(table.Columns))
		for _, c := range table.Columns {
			cols = append(cols, fmt.Sprintf("%s %s", c.Name, c.DataType))
		}
		fmt.Fprintf(&b, "  %s(%s)\n", table.Name, strings.Join(cols, ", "))
	}

	fmt.Fprintf(&b, "\nQuestion intent: %s\n", sub.Intent)

	if len(sub.Entities) > 0 {
		keys := make([]string, 0, len(sub.Entities))
		for k := range sub.Entities {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString("Known entities:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %s\n", k, sub.Entities[k])
		}
	}

	fmt.Fprintf(&b, "\nQuestion: %s\n", sub.Utterance)
	return b.String()
}
