package sqlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractTables(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		expected []string
	}{
		{
			name:     "single table",
			sql:      "SELECT * FROM expenses",
			expected: []string{"expenses"},
		},
		{
			name:     "join",
			sql:      "SELECT e.amount FROM expenses e JOIN projects p ON e.project_id = p.id",
			expected: []string{"expenses", "projects"},
		},
		{
			name:     "schema qualifier stripped",
			sql:      "SELECT * FROM public.invoices",
			expected: []string{"invoices"},
		},
		{
			name:     "table name inside literal ignored",
			sql:      "SELECT * FROM expenses WHERE note = 'from payroll'",
			expected: []string{"expenses"},
		},
		{
			name:     "deduplicated",
			sql:      "SELECT * FROM expenses JOIN expenses ON true",
			expected: []string{"expenses"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractTables(tt.sql))
		})
	}
}

func TestExtractTableAliases(t *testing.T) {
	assert.Equal(t, []string{"e", "p"},
		ExtractTableAliases("SELECT e.amount FROM expenses e JOIN projects AS p ON e.project_id = p.id"))

	// Clause keywords after an unaliased table are not aliases.
	assert.Empty(t, ExtractTableAliases("SELECT * FROM expenses WHERE amount > 5"))
}

func TestTableAliasMap(t *testing.T) {
	assert.Equal(t, map[string]string{"expenses": "e", "projects": "p"},
		TableAliasMap("SELECT e.amount FROM expenses e JOIN projects AS p ON e.project_id = p.id"))

	// An unaliased table between aliased ones stays absent.
	assert.Equal(t, map[string]string{"projects": "p"},
		TableAliasMap("SELECT * FROM expenses JOIN projects p ON expenses.project_id = p.id"))

	assert.Empty(t, TableAliasMap("SELECT * FROM expenses WHERE amount > 5"))
}

func TestExtractColumns(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		expected []string
	}{
		{
			name:     "select list",
			sql:      "SELECT id, amount FROM expenses",
			expected: []string{"id", "amount"},
		},
		{
			name:     "star yields nothing",
			sql:      "SELECT * FROM expenses",
			expected: nil,
		},
		{
			name:     "aggregate unwrapped and alias skipped",
			sql:      "SELECT SUM(amount) AS total FROM expenses",
			expected: []string{"amount"},
		},
		{
			name:     "where and order by columns",
			sql:      "SELECT id FROM expenses WHERE project_id = 'x' ORDER BY incurred_on",
			expected: []string{"id", "project_id", "incurred_on"},
		},
		{
			name:     "qualified columns stripped",
			sql:      "SELECT e.amount FROM expenses e WHERE e.currency = 'USD'",
			expected: []string{"amount", "currency"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractColumns(tt.sql))
		})
	}
}
