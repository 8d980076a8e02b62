package models

import "strings"

// ColumnSchema describes one allow-listed column.
type ColumnSchema struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
}

// TableSchema describes one allow-listed table.
type TableSchema struct {
	Name    string         `json:"name"`
	Columns []ColumnSchema `json:"columns"`
}

// SchemaContext is the allow-listed subset of the tenant schema. It feeds
// both the generation prompt and the guardrail identifier checks, so the
// two always agree on what exists.
type SchemaContext struct {
	Tables []TableSchema `json:"tables"`
}

// HasTable reports whether name is an allow-listed table.
// Matching is case-insensitive, as SQL identifiers are.
func (s *SchemaContext) HasTable(name string) bool {
	for _, t := range s.Tables {
		if strings.EqualFold(t.Name, name) {
			return true
		}
	}
	return false
}

// HasColumn reports whether column exists on any allow-listed table.
// Column references in generated SQL are frequently unqualified, so the
// check is schema-wide rather than per-table.
func (s *SchemaContext) HasColumn(column string) bool {
	for _, t := range s.Tables {
		for _, c := range t.Columns {
			if strings.EqualFold(c.Name, column) {
				return true
			}
		}
	}
	return false
}

// TableHasColumn reports whether the named allow-listed table carries the
// column.
func (s *SchemaContext) TableHasColumn(table, column string) bool {
	for _, t := range s.Tables {
		if !strings.EqualFold(t.Name, table) {
			continue
		}
		for _, c := range t.Columns {
			if strings.EqualFold(c.Name, column) {
				return true
			}
		}
	}
	return false
}

// TableNames returns the allow-listed table names in declaration order.
func (s *SchemaContext) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		names = append(names, t.Name)
	}
	return names
}
