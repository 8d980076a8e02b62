package repositories

import (
	"context"
	"fmt"

	"github.com/ledgerchat/ledgerchat-engine/pkg/apperrors"
	"github.com/ledgerchat/ledgerchat-engine/pkg/database"
	"github.com/ledgerchat/ledgerchat-engine/pkg/models"
)

// slotTables maps lookup slots to the backing table and option category.
// Only slots listed here can be clarified from tenant data.
var slotTables = map[string]struct {
	table    string
	category string
}{
	models.SlotProject:      {table: "projects", category: models.CategoryProject},
	models.SlotCategory:     {table: "categories", category: models.CategoryCategory},
	models.SlotCounterparty: {table: "counterparties", category: models.CategoryCounterparty},
}

// EntityLookupRepository reads grounded candidate values for ambiguous
// slots from the tenant's live data. It never synthesizes values.
type EntityLookupRepository interface {
	// FindOptions returns up to limit options for the slot, filtered by an
	// optional substring hint, ordered by display name. A store failure is
	// returned as an error wrapping apperrors.ErrStoreUnavailable so
	// callers can distinguish it from zero results.
	FindOptions(ctx context.Context, slot, hint string, limit int) ([]models.ClarificationOption, error)
}

type entityLookupRepository struct{}

// NewEntityLookupRepository creates a new EntityLookupRepository.
func NewEntityLookupRepository() EntityLookupRepository {
	return &entityLookupRepository{}
}

var _ EntityLookupRepository = (*entityLookupRepository)(nil)

func (r *entityLookupRepository) FindOptions(ctx context.Context, slot, hint string, limit int) ([]models.ClarificationOption, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}

	mapping, ok := slotTables[slot]
	if !ok {
		return nil, fmt.Errorf("slot %q is not resolvable by lookup", slot)
	}

	// Table name comes from the fixed slotTables map, never from input.
	query := fmt.Sprintf(`
		SELECT id, code, name
		FROM %s
		WHERE tenant_id = $1 AND ($2 = '' OR name ILIKE '%%' || $2 || '%%')
		ORDER BY name
		LIMIT $3`, mapping.table)

	rows, err := scope.Conn.Query(ctx, query, scope.TenantID, hint, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query %s: %v", apperrors.ErrStoreUnavailable, mapping.table, err)
	}
	defer rows.Close()

	var options []models.ClarificationOption
	for rows.Next() {
		var opt models.ClarificationOption
		if err := rows.Scan(&opt.ID, &opt.Code, &opt.DisplayName); err != nil {
			return nil, fmt.Errorf("%w: failed to scan option from %s: %v", apperrors.ErrStoreUnavailable, mapping.table, err)
		}
		opt.Category = mapping.category
		options = append(options, opt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating %s: %v", apperrors.ErrStoreUnavailable, mapping.table, err)
	}

	return options, nil
}
