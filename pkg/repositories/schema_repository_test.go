package repositories

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerchat/ledgerchat-engine/pkg/apperrors"
	"github.com/ledgerchat/ledgerchat-engine/pkg/testhelpers"
)

func TestSchemaRepositoryLoadAllowList(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	repo := NewSchemaRepository()

	ctx := testhelpers.TenantContext(t, engineDB.DB, uuid.New())
	schema, err := repo.LoadAllowList(ctx)
	require.NoError(t, err)

	for _, table := range []string{"projects", "categories", "counterparties", "expenses", "cashflow", "invoices"} {
		assert.True(t, schema.HasTable(table), "seeded allow-list must contain %s", table)
	}
	assert.False(t, schema.HasTable("engine_conversation_turns"),
		"internal tables stay out of the allow-list")

	assert.True(t, schema.HasColumn("amount"))
	assert.True(t, schema.HasColumn("tenant_id"),
		"tenant_id must be allow-listed so the injected predicate passes validation")
	assert.False(t, schema.HasColumn("password"))

	for _, table := range schema.Tables {
		assert.NotEmpty(t, table.Columns, "table %s has no columns", table.Name)
		for _, col := range table.Columns {
			assert.NotEmpty(t, col.DataType, "%s.%s has no data type", table.Name, col.Name)
		}
	}
}

func TestSchemaRepositoryRequiresTenantScope(t *testing.T) {
	repo := NewSchemaRepository()
	_, err := repo.LoadAllowList(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNoTenantScope)
}
