package repositories

import (
	"context"
	"fmt"

	"github.com/ledgerchat/ledgerchat-engine/pkg/apperrors"
	"github.com/ledgerchat/ledgerchat-engine/pkg/database"
	"github.com/ledgerchat/ledgerchat-engine/pkg/models"
)

// SchemaRepository loads the table/column allow-list. The same context
// feeds the generation prompt and the guardrail identifier checks.
type SchemaRepository interface {
	// LoadAllowList returns the allow-listed schema. A store failure wraps
	// apperrors.ErrStoreUnavailable; without a readable allow-list no
	// statement can be validated, so callers must treat this as fatal for
	// the sub-request.
	LoadAllowList(ctx context.Context) (*models.SchemaContext, error)
}

type schemaRepository struct{}

// NewSchemaRepository creates a new SchemaRepository.
func NewSchemaRepository() SchemaRepository {
	return &schemaRepository{}
}

var _ SchemaRepository = (*schemaRepository)(nil)

func (r *schemaRepository) LoadAllowList(ctx context.Context) (*models.SchemaContext, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}

	query := `
		SELECT table_name, column_name, data_type
		FROM engine_schema_allowlist
		ORDER BY table_name, position`

	rows, err := scope.Conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query allow-list: %v", apperrors.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	schema := &models.SchemaContext{}
	byTable := make(map[string]int)

	for rows.Next() {
		var tableName, columnName, dataType string
		if err := rows.Scan(&tableName, &columnName, &dataType); err != nil {
			return nil, fmt.Errorf("failed to scan allow-list row: %w", err)
		}

		idx, ok := byTable[tableName]
		if !ok {
			schema.Tables = append(schema.Tables, models.TableSchema{Name: tableName})
			idx = len(schema.Tables) - 1
			byTable[tableName] = idx
		}
		schema.Tables[idx].Columns = append(schema.Tables[idx].Columns, models.ColumnSchema{
			Name:     columnName,
			DataType: dataType,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating allow-list: %v", apperrors.ErrStoreUnavailable, err)
	}

	if len(schema.Tables) == 0 {
		return nil, fmt.Errorf("%w: schema allow-list is empty", apperrors.ErrStoreUnavailable)
	}

	return schema, nil
}
