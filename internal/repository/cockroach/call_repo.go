package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"realtime-core/internal/domain"
	"realtime-core/internal/repository"
)

const callColumns = `
	call_id, conversation_id, caller_id, receiver_id, media_kind, status,
	started_at, answered_at, ended_at, duration, end_reason`

// CallRepository handles call data operations
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

// Create inserts a ringing call. The partial unique index on pair_key makes
// the "no active call for this pair" check and the insert one atomic step.
func (r *CallRepository) Create(ctx context.Context, call *domain.Call) error {
	query := `
		INSERT INTO calls (
			call_id, conversation_id, caller_id, receiver_id, pair_key,
			media_kind, status, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		call.CallID,
		call.ConversationID,
		call.CallerID,
		call.ReceiverID,
		call.PairKey(),
		call.MediaKind,
		call.Status,
		call.StartedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "uq_calls_active_pair") {
			return repository.ErrActiveCallExists
		}
		return fmt.Errorf("failed to create call: %w", err)
	}

	return nil
}

// GetByID retrieves a call by ID
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	query := `SELECT` + callColumns + ` FROM calls WHERE call_id = $1`

	call, err := scanCall(r.pool.QueryRow(ctx, query, callID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}
	return call, nil
}

// Transition performs a compare-and-swap on status
func (r *CallRepository) Transition(ctx context.Context, t *domain.CallTransition) (*domain.Call, error) {
	query := `
		UPDATE calls
		SET status = $3,
		    answered_at = COALESCE($4, answered_at),
		    ended_at = COALESCE($5, ended_at),
		    duration = COALESCE($6, duration),
		    end_reason = CASE WHEN $7 = '' THEN end_reason ELSE $7 END
		WHERE call_id = $1 AND status = $2
		RETURNING` + callColumns

	call, err := scanCall(r.pool.QueryRow(ctx, query,
		t.CallID, t.From, t.To, t.AnsweredAt, t.EndedAt, t.Duration, t.EndReason,
	))
	if err == nil {
		return call, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update call status: %w", err)
	}

	// No row matched: either the call is gone or another writer moved it first
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM calls WHERE call_id = $1)`, t.CallID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check call: %w", err)
	}
	if !exists {
		return nil, repository.ErrNotFound
	}
	return nil, repository.ErrStaleState
}

// ListRingingBefore returns ringing calls started before cutoff, oldest first
func (r *CallRepository) ListRingingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Call, error) {
	query := `SELECT` + callColumns + `
		FROM calls
		WHERE status = 'ringing' AND started_at < $1
		ORDER BY started_at ASC
		LIMIT $2`

	return r.queryCalls(ctx, "list stale calls", query, cutoff, limit)
}

// GetUserCalls retrieves call history for a user, newest first
func (r *CallRepository) GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	query := `SELECT` + callColumns + `
		FROM calls
		WHERE caller_id = $1 OR receiver_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3`

	return r.queryCalls(ctx, "get user calls", query, userID, limit, offset)
}

// GetActiveForUser returns the user's most recent ringing or answered call
func (r *CallRepository) GetActiveForUser(ctx context.Context, userID uuid.UUID) (*domain.Call, error) {
	query := `SELECT` + callColumns + `
		FROM calls
		WHERE (caller_id = $1 OR receiver_id = $1) AND status IN ('ringing', 'answered')
		ORDER BY started_at DESC
		LIMIT 1`

	call, err := scanCall(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get active call: %w", err)
	}
	return call, nil
}

// GetStatistics aggregates a user's call history. A missed call is an incoming
// call that ended without ever being answered.
func (r *CallRepository) GetStatistics(ctx context.Context, userID uuid.UUID) (*domain.CallStatistics, error) {
	query := `
		SELECT
			count(*),
			count(*) FILTER (WHERE caller_id = $1),
			count(*) FILTER (WHERE receiver_id = $1),
			count(*) FILTER (WHERE answered_at IS NOT NULL),
			count(*) FILTER (WHERE receiver_id = $1 AND status = 'ended' AND answered_at IS NULL),
			count(*) FILTER (WHERE status = 'declined'),
			count(*) FILTER (WHERE media_kind = 'audio'),
			count(*) FILTER (WHERE media_kind = 'video'),
			COALESCE(sum(duration), 0)
		FROM calls
		WHERE caller_id = $1 OR receiver_id = $1
	`

	stats := &domain.CallStatistics{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&stats.TotalCalls,
		&stats.OutgoingCalls,
		&stats.IncomingCalls,
		&stats.AnsweredCalls,
		&stats.MissedCalls,
		&stats.DeclinedCalls,
		&stats.AudioCalls,
		&stats.VideoCalls,
		&stats.TotalDurationS,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get call statistics: %w", err)
	}
	if stats.AnsweredCalls > 0 {
		stats.AverageDuration = stats.TotalDurationS / int64(stats.AnsweredCalls)
	}
	return stats, nil
}

func (r *CallRepository) queryCalls(ctx context.Context, op, query string, args ...any) ([]*domain.Call, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	var calls []*domain.Call
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, call)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	return calls, nil
}

func scanCall(row pgx.Row) (*domain.Call, error) {
	call := &domain.Call{}
	err := row.Scan(
		&call.CallID,
		&call.ConversationID,
		&call.CallerID,
		&call.ReceiverID,
		&call.MediaKind,
		&call.Status,
		&call.StartedAt,
		&call.AnsweredAt,
		&call.EndedAt,
		&call.Duration,
		&call.EndReason,
	)
	if err != nil {
		return nil, err
	}
	return call, nil
}
