package clarify

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ledgerchat/ledgerchat-engine/pkg/apperrors"
	"github.com/ledgerchat/ledgerchat-engine/pkg/models"
)

// mockLookupRepository is a configurable EntityLookupRepository.
type mockLookupRepository struct {
	FindOptionsFunc  func(ctx context.Context, slot, hint string, limit int) ([]models.ClarificationOption, error)
	FindOptionsCalls int
}

func (m *mockLookupRepository) FindOptions(ctx context.Context, slot, hint string, limit int) ([]models.ClarificationOption, error) {
	m.FindOptionsCalls++
	return m.FindOptionsFunc(ctx, slot, hint, limit)
}

// memoryOptionCache is a map-backed OptionCache for tests.
type memoryOptionCache struct {
	entries map[string][]models.ClarificationOption
}

func newMemoryOptionCache() *memoryOptionCache {
	return &memoryOptionCache{entries: make(map[string][]models.ClarificationOption)}
}

func (c *memoryOptionCache) key(tenantID uuid.UUID, slot, hint string) string {
	return fmt.Sprintf("%s/%s/%s", tenantID, slot, hint)
}

func (c *memoryOptionCache) Get(_ context.Context, tenantID uuid.UUID, slot, hint string) ([]models.ClarificationOption, bool) {
	opts, ok := c.entries[c.key(tenantID, slot, hint)]
	return opts, ok
}

func (c *memoryOptionCache) Set(_ context.Context, tenantID uuid.UUID, slot, hint string, options []models.ClarificationOption) {
	c.entries[c.key(tenantID, slot, hint)] = options
}

func (c *memoryOptionCache) Invalidate(_ context.Context, tenantID uuid.UUID, slot string) error {
	for k := range c.entries {
		if len(k) >= len(tenantID.String())+1+len(slot) {
			delete(c.entries, k)
		}
	}
	return nil
}

func projectOptions() []models.ClarificationOption {
	return []models.ClarificationOption{
		{ID: uuid.New(), Code: "RIV", DisplayName: "Riverside", Category: models.CategoryProject},
		{ID: uuid.New(), Code: "HAR", DisplayName: "Harbor", Category: models.CategoryProject},
	}
}

func TestOptionsGrounded(t *testing.T) {
	repo := &mockLookupRepository{
		FindOptionsFunc: func(ctx context.Context, slot, hint string, limit int) ([]models.ClarificationOption, error) {
			return projectOptions(), nil
		},
	}
	p := NewProvider(repo, NewNoopOptionCache(), Config{}, zap.NewNop())

	result, err := p.Options(context.Background(), uuid.New(), models.SlotProject, "", models.IntentLookup)
	require.NoError(t, err)
	require.Len(t, result.Options, 2)

	for _, opt := range result.Options {
		assert.False(t, opt.IsSynthetic(), "non-aggregate intents get only grounded options")
	}
}

func TestOptionsSyntheticAllForAggregatesOnly(t *testing.T) {
	repo := &mockLookupRepository{
		FindOptionsFunc: func(ctx context.Context, slot, hint string, limit int) ([]models.ClarificationOption, error) {
			return projectOptions(), nil
		},
	}
	p := NewProvider(repo, NewNoopOptionCache(), Config{}, zap.NewNop())

	t.Run("aggregate gets all option", func(t *testing.T) {
		result, err := p.Options(context.Background(), uuid.New(), models.SlotProject, "", models.IntentSum)
		require.NoError(t, err)
		require.Len(t, result.Options, 3)

		last := result.Options[len(result.Options)-1]
		assert.True(t, last.IsSynthetic())
		assert.Equal(t, models.SyntheticAllCode, last.Code)
	})

	t.Run("lookup does not", func(t *testing.T) {
		result, err := p.Options(context.Background(), uuid.New(), models.SlotProject, "", models.IntentLookup)
		require.NoError(t, err)
		assert.Len(t, result.Options, 2)
	})
}

// A store failure is not the same as zero matching entities: it must not
// produce an empty clarification prompt.
func TestOptionsStoreFailureSkipsClarification(t *testing.T) {
	repo := &mockLookupRepository{
		FindOptionsFunc: func(ctx context.Context, slot, hint string, limit int) ([]models.ClarificationOption, error) {
			return nil, fmt.Errorf("%w: connection refused", apperrors.ErrStoreUnavailable)
		},
	}
	p := NewProvider(repo, NewNoopOptionCache(), Config{}, zap.NewNop())

	result, err := p.Options(context.Background(), uuid.New(), models.SlotProject, "", models.IntentSum)
	require.NoError(t, err)
	assert.True(t, result.SkipClarification)
	assert.Empty(t, result.Options)
}

// Mid-read failures count as store failures too: a row that cannot be
// decoded degrades to generation, not to a 500.
func TestOptionsRowDecodeFailureSkipsClarification(t *testing.T) {
	repo := &mockLookupRepository{
		FindOptionsFunc: func(ctx context.Context, slot, hint string, limit int) ([]models.ClarificationOption, error) {
			return nil, fmt.Errorf("%w: failed to scan option from projects: invalid uuid", apperrors.ErrStoreUnavailable)
		},
	}
	p := NewProvider(repo, NewNoopOptionCache(), Config{}, zap.NewNop())

	result, err := p.Options(context.Background(), uuid.New(), models.SlotProject, "", models.IntentSum)
	require.NoError(t, err)
	assert.True(t, result.SkipClarification)
}

func TestOptionsZeroResults(t *testing.T) {
	repo := &mockLookupRepository{
		FindOptionsFunc: func(ctx context.Context, slot, hint string, limit int) ([]models.ClarificationOption, error) {
			return nil, nil
		},
	}
	p := NewProvider(repo, NewNoopOptionCache(), Config{}, zap.NewNop())

	result, err := p.Options(context.Background(), uuid.New(), models.SlotProject, "nomatch", models.IntentSum)
	require.NoError(t, err)
	assert.False(t, result.SkipClarification)
	assert.Empty(t, result.Options, "no synthetic option without grounded options")
}

func TestOptionsCached(t *testing.T) {
	repo := &mockLookupRepository{
		FindOptionsFunc: func(ctx context.Context, slot, hint string, limit int) ([]models.ClarificationOption, error) {
			return projectOptions(), nil
		},
	}
	cache := newMemoryOptionCache()
	p := NewProvider(repo, cache, Config{}, zap.NewNop())

	tenantID := uuid.New()
	_, err := p.Options(context.Background(), tenantID, models.SlotProject, "riv", models.IntentLookup)
	require.NoError(t, err)
	_, err = p.Options(context.Background(), tenantID, models.SlotProject, "riv", models.IntentLookup)
	require.NoError(t, err)

	assert.Equal(t, 1, repo.FindOptionsCalls, "second read must hit the cache")
}
