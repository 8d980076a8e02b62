package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ledgerchat/ledgerchat-engine/pkg/apperrors"
	"github.com/ledgerchat/ledgerchat-engine/pkg/database"
	"github.com/ledgerchat/ledgerchat-engine/pkg/models"
)

// maxAppendAttempts bounds retries when two appends race for the same
// session and collide on the (session_id, turn_number) unique constraint.
const maxAppendAttempts = 5

// TurnRepository provides data access for conversation turns.
//
// Append serializes turn-number allocation per session: concurrent appends
// to one session produce a gapless increasing sequence starting at 1.
// Sessions never contend with each other.
type TurnRepository interface {
	Append(ctx context.Context, turn *models.ConversationTurn) (int, error)
	ListRecent(ctx context.Context, sessionID uuid.UUID, limit int, horizon time.Duration) ([]*models.ConversationTurn, error)
	SweepExpired(ctx context.Context, horizon time.Duration) (int64, error)
}

type turnRepository struct {
	db *database.DB
}

// NewTurnRepository creates a new TurnRepository.
// The db handle is used only by SweepExpired, which runs outside any
// tenant scope as a maintenance task.
func NewTurnRepository(db *database.DB) TurnRepository {
	return &turnRepository{db: db}
}

var _ TurnRepository = (*turnRepository)(nil)

// Append stores a new turn and returns its assigned turn number.
// The turn number is allocated inside the INSERT as max(existing)+1; a
// concurrent append to the same session hits the unique constraint and is
// retried with a fresh allocation.
func (r *turnRepository) Append(ctx context.Context, turn *models.ConversationTurn) (int, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return 0, apperrors.ErrNoTenantScope
	}

	var metadataJSON []byte
	var err error
	if turn.Metadata != nil {
		metadataJSON, err = json.Marshal(turn.Metadata)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	if turn.ID == uuid.Nil {
		turn.ID = uuid.New()
	}
	turn.CreatedAt = time.Now()

	query := `
		INSERT INTO engine_conversation_turns (
			id, tenant_id, session_id, turn_number,
			utterance, response_summary, metadata, created_at
		)
		SELECT $1, $2, $3, COALESCE(MAX(turn_number), 0) + 1, $4, $5, $6, $7
		FROM engine_conversation_turns
		WHERE tenant_id = $2 AND session_id = $3
		RETURNING turn_number`

	var lastErr error
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		var turnNumber int
		err = scope.Conn.QueryRow(ctx, query,
			turn.ID, scope.TenantID, turn.SessionID,
			turn.Utterance, turn.ResponseSummary, metadataJSON, turn.CreatedAt,
		).Scan(&turnNumber)
		if err == nil {
			turn.TenantID = scope.TenantID
			turn.TurnNumber = turnNumber
			return turnNumber, nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Lost the allocation race; re-read max and try again.
			lastErr = apperrors.ErrTurnConflict
			continue
		}
		return 0, fmt.Errorf("failed to append turn: %w", err)
	}

	return 0, fmt.Errorf("failed to append turn after %d attempts: %w", maxAppendAttempts, lastErr)
}

// ListRecent returns up to limit turns for the session, oldest first,
// restricted to turns within the retention horizon. An idle session past
// the horizon yields an empty slice, not an error.
func (r *turnRepository) ListRecent(ctx context.Context, sessionID uuid.UUID, limit int, horizon time.Duration) ([]*models.ConversationTurn, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}

	query := `
		SELECT id, tenant_id, session_id, turn_number,
		       utterance, response_summary, metadata, created_at
		FROM engine_conversation_turns
		WHERE tenant_id = $1 AND session_id = $2 AND created_at > $3
		ORDER BY turn_number DESC
		LIMIT $4`

	cutoff := time.Now().Add(-horizon)
	rows, err := scope.Conn.Query(ctx, query, scope.TenantID, sessionID, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	turns, err := scanTurnRows(rows)
	if err != nil {
		return nil, err
	}

	// Query returned newest-first to apply the limit; callers want
	// chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// SweepExpired deletes all turns older than the horizon, across every
// tenant and session. Returns the number of turns removed.
func (r *turnRepository) SweepExpired(ctx context.Context, horizon time.Duration) (int64, error) {
	cutoff := time.Now().Add(-horizon)
	tag, err := r.db.Exec(ctx, `DELETE FROM engine_conversation_turns WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired turns: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanTurnRows(rows pgx.Rows) ([]*models.ConversationTurn, error) {
	var turns []*models.ConversationTurn

	for rows.Next() {
		var turn models.ConversationTurn
		var metadataJSON []byte

		err := rows.Scan(
			&turn.ID, &turn.TenantID, &turn.SessionID, &turn.TurnNumber,
			&turn.Utterance, &turn.ResponseSummary, &metadataJSON, &turn.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &turn.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}

		turns = append(turns, &turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return turns, nil
}
