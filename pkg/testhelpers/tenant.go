package testhelpers

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/ledgerchat/ledgerchat-engine/pkg/database"
)

// TenantContext returns a context carrying a tenant scope for tenantID.
// The scoped connection is released when the test finishes.
func TenantContext(t *testing.T, db *database.DB, tenantID uuid.UUID) context.Context {
	t.Helper()

	provider := database.NewTenantScopeProvider(db)
	ctx, cleanup, err := provider.WithTenantScope(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("Failed to acquire tenant scope: %v", err)
	}
	t.Cleanup(cleanup)
	return ctx
}
