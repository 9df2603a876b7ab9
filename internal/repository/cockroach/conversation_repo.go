package cockroach

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"realtime-core/internal/domain"
	"realtime-core/internal/repository"
)

// ConversationRepository handles conversation membership
type ConversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

// ResolveOrCreatePrivateConversation returns the private conversation of a and b,
// creating it with both participants on first use. Concurrent callers converge on one row.
func (r *ConversationRepository) ResolveOrCreatePrivateConversation(ctx context.Context, a, b uuid.UUID) (uuid.UUID, error) {
	pairKey := domain.PairKey(a, b)

	var conversationID uuid.UUID
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		candidate := uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO conversations (conversation_id, type, pair_key, created_at, updated_at)
			VALUES ($1, 'private', $2, NOW(), NOW())
			ON CONFLICT (pair_key) DO NOTHING
		`, candidate, pairKey)
		if err != nil {
			return err
		}

		if err := tx.QueryRow(ctx,
			`SELECT conversation_id FROM conversations WHERE pair_key = $1`, pairKey,
		).Scan(&conversationID); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id, role, joined_at)
			VALUES ($1, $2, 'member', NOW()), ($1, $3, 'member', NOW())
			ON CONFLICT (conversation_id, user_id) DO NOTHING
		`, conversationID, a, b)
		return err
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to resolve private conversation: %w", err)
	}

	return conversationID, nil
}

// GetByID retrieves conversation metadata
func (r *ConversationRepository) GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT conversation_id, type, pair_key, last_message_id, created_at, updated_at
		FROM conversations
		WHERE conversation_id = $1
	`

	conv := &domain.Conversation{}
	err := r.pool.QueryRow(ctx, query, conversationID).Scan(
		&conv.ConversationID,
		&conv.Type,
		&conv.PairKey,
		&conv.LastMessageID,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

// ParticipantsOf retrieves all participants in a conversation
func (r *ConversationRepository) ParticipantsOf(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	query := `SELECT user_id FROM conversation_participants WHERE conversation_id = $1`

	rows, err := r.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	var participants []uuid.UUID
	for rows.Next() {
		var userID uuid.UUID
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}

	// a conversation always has members, so an empty set means it does not exist
	if len(participants) == 0 {
		return nil, repository.ErrNotFound
	}
	return participants, nil
}

// RoleOf returns the user's role in a conversation, and false when they are not a participant
func (r *ConversationRepository) RoleOf(ctx context.Context, conversationID, userID uuid.UUID) (domain.ParticipantRole, bool, error) {
	query := `
		SELECT c.conversation_id, p.role
		FROM conversations c
		LEFT JOIN conversation_participants p
		  ON p.conversation_id = c.conversation_id AND p.user_id = $2
		WHERE c.conversation_id = $1
	`

	var (
		id   uuid.UUID
		role *string
	)
	err := r.pool.QueryRow(ctx, query, conversationID, userID).Scan(&id, &role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, repository.ErrNotFound
		}
		return "", false, fmt.Errorf("failed to get participant role: %w", err)
	}
	if role == nil {
		return "", false, nil
	}
	return domain.ParticipantRole(*role), true, nil
}
