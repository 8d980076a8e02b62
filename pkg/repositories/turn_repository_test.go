package repositories

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerchat/ledgerchat-engine/pkg/apperrors"
	"github.com/ledgerchat/ledgerchat-engine/pkg/models"
	"github.com/ledgerchat/ledgerchat-engine/pkg/testhelpers"
)

const testHorizon = 24 * time.Hour

func TestTurnRepositoryAppend(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	repo := NewTurnRepository(engineDB.DB)

	tenantID := uuid.New()
	sessionID := uuid.New()
	ctx := testhelpers.TenantContext(t, engineDB.DB, tenantID)

	for want := 1; want <= 3; want++ {
		n, err := repo.Append(ctx, &models.ConversationTurn{
			SessionID: sessionID,
			Utterance: "question",
			Metadata:  map[string]string{models.MetaIntent: "COUNT"},
		})
		require.NoError(t, err)
		assert.Equal(t, want, n, "turn numbers are gapless from 1")
	}

	turns, err := repo.ListRecent(ctx, sessionID, 10, testHorizon)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	for i, turn := range turns {
		assert.Equal(t, i+1, turn.TurnNumber, "ListRecent returns chronological order")
		assert.Equal(t, "COUNT", turn.MetadataValue(models.MetaIntent))
	}
}

func TestTurnRepositoryAppendConcurrent(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	repo := NewTurnRepository(engineDB.DB)

	tenantID := uuid.New()
	sessionID := uuid.New()

	// Each goroutine needs its own scoped connection.
	const writers = 4
	ctxs := make([]context.Context, writers)
	for i := range ctxs {
		ctxs[i] = testhelpers.TenantContext(t, engineDB.DB, tenantID)
	}

	var wg sync.WaitGroup
	numbers := make([]int, writers)
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			numbers[i], errs[i] = repo.Append(ctxs[i], &models.ConversationTurn{
				SessionID: sessionID,
				Utterance: "concurrent question",
			})
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for i := 0; i < writers; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[numbers[i]], "turn number %d assigned twice", numbers[i])
		seen[numbers[i]] = true
	}
	for want := 1; want <= writers; want++ {
		assert.True(t, seen[want], "sequence has a gap at %d", want)
	}
}

func TestTurnRepositoryTenantIsolation(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	repo := NewTurnRepository(engineDB.DB)

	sessionID := uuid.New()
	ctxA := testhelpers.TenantContext(t, engineDB.DB, uuid.New())
	ctxB := testhelpers.TenantContext(t, engineDB.DB, uuid.New())

	_, err := repo.Append(ctxA, &models.ConversationTurn{SessionID: sessionID, Utterance: "tenant a question"})
	require.NoError(t, err)

	turns, err := repo.ListRecent(ctxB, sessionID, 10, testHorizon)
	require.NoError(t, err)
	assert.Empty(t, turns, "another tenant must not see the session")
}

func TestTurnRepositoryHorizon(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	repo := NewTurnRepository(engineDB.DB)

	tenantID := uuid.New()
	sessionID := uuid.New()
	ctx := testhelpers.TenantContext(t, engineDB.DB, tenantID)

	turn := &models.ConversationTurn{SessionID: sessionID, Utterance: "old question"}
	_, err := repo.Append(ctx, turn)
	require.NoError(t, err)

	// Age the turn past the horizon.
	_, err = engineDB.DB.Exec(context.Background(),
		`UPDATE engine_conversation_turns SET created_at = now() - interval '25 hours' WHERE id = $1`, turn.ID)
	require.NoError(t, err)

	turns, err := repo.ListRecent(ctx, sessionID, 10, testHorizon)
	require.NoError(t, err)
	assert.Empty(t, turns, "expired turns are invisible even before the sweeper runs")
}

func TestTurnRepositorySweepExpired(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	repo := NewTurnRepository(engineDB.DB)

	tenantID := uuid.New()
	sessionID := uuid.New()
	ctx := testhelpers.TenantContext(t, engineDB.DB, tenantID)

	old := &models.ConversationTurn{SessionID: sessionID, Utterance: "old"}
	_, err := repo.Append(ctx, old)
	require.NoError(t, err)
	_, err = repo.Append(ctx, &models.ConversationTurn{SessionID: sessionID, Utterance: "fresh"})
	require.NoError(t, err)

	_, err = engineDB.DB.Exec(context.Background(),
		`UPDATE engine_conversation_turns SET created_at = now() - interval '25 hours' WHERE id = $1`, old.ID)
	require.NoError(t, err)

	removed, err := repo.SweepExpired(context.Background(), testHorizon)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, removed, int64(1))

	turns, err := repo.ListRecent(ctx, sessionID, 10, testHorizon)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "fresh", turns[0].Utterance)
}

func TestTurnRepositoryRequiresTenantScope(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	repo := NewTurnRepository(engineDB.DB)

	_, err := repo.Append(context.Background(), &models.ConversationTurn{SessionID: uuid.New(), Utterance: "q"})
	assert.ErrorIs(t, err, apperrors.ErrNoTenantScope)

	_, err = repo.ListRecent(context.Background(), uuid.New(), 10, testHorizon)
	assert.ErrorIs(t, err, apperrors.ErrNoTenantScope)
}
