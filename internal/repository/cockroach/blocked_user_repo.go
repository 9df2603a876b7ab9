package cockroach

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BlockedUserRepository handles blocked user data operations in CockroachDB
type BlockedUserRepository struct {
	pool *pgxpool.Pool
}

// NewBlockedUserRepository creates a new BlockedUserRepository
func NewBlockedUserRepository(pool *pgxpool.Pool) *BlockedUserRepository {
	return &BlockedUserRepository{pool: pool}
}

// IsBlocked checks if blockerID has blocked blockedID
func (r *BlockedUserRepository) IsBlocked(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM blocked_users WHERE blocker_id = $1 AND blocked_id = $2)`

	var blocked bool
	if err := r.pool.QueryRow(ctx, query, blockerID, blockedID).Scan(&blocked); err != nil {
		return false, fmt.Errorf("failed to check if user is blocked: %w", err)
	}

	return blocked, nil
}
