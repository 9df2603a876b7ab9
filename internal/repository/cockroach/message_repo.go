package cockroach

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"realtime-core/internal/domain"
	"realtime-core/internal/repository"
)

const messageColumns = `
	id, conversation_id, sender_id, kind, content, media_key,
	status, created_at, edited_at, read_at`

// statusRank computes domain.MessageStatus.Rank in SQL so forward-only updates happen in one statement
var statusRank = fmt.Sprintf(`CASE status WHEN 'sent' THEN %d WHEN 'delivered' THEN %d WHEN 'read' THEN %d ELSE 0 END`,
	domain.MessageStatusSent.Rank(),
	domain.MessageStatusDelivered.Rank(),
	domain.MessageStatusRead.Rank(),
)

// MessageRepository handles message and read cursor persistence in CockroachDB
type MessageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// Create inserts the message and moves the conversation's last-message pointer in one transaction
func (r *MessageRepository) Create(ctx context.Context, msg *domain.Message) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO messages (conversation_id, sender_id, kind, content, media_key, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`,
			msg.ConversationID,
			msg.SenderID,
			string(msg.Kind),
			msg.Content,
			msg.MediaKey,
			string(msg.Status),
			msg.CreatedAt,
		).Scan(&msg.ID)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE conversations
			SET last_message_id = GREATEST(COALESCE(last_message_id, 0), $2), updated_at = $3
			WHERE conversation_id = $1
		`, msg.ConversationID, msg.ID, msg.CreatedAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// GetByID retrieves a message by ID
func (r *MessageRepository) GetByID(ctx context.Context, messageID int64) (*domain.Message, error) {
	msg, err := scanMessage(r.pool.QueryRow(ctx,
		`SELECT`+messageColumns+` FROM messages WHERE id = $1`, messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// AdvanceStatus moves status forward only. A message already at or past status is
// returned unchanged with false.
func (r *MessageRepository) AdvanceStatus(ctx context.Context, messageID int64, status domain.MessageStatus, at time.Time) (*domain.Message, bool, error) {
	query := `
		UPDATE messages
		SET status = $2,
		    read_at = CASE WHEN $2 = 'read' THEN $3 ELSE read_at END
		WHERE id = $1 AND ` + statusRank + ` < $4
		RETURNING` + messageColumns

	msg, err := scanMessage(r.pool.QueryRow(ctx, query, messageID, string(status), at, status.Rank()))
	if err == nil {
		return msg, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to advance message status: %w", err)
	}

	current, err := r.GetByID(ctx, messageID)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// MarkReadUpTo marks every unread message up to upTo that reader did not send, returning them in id order
func (r *MessageRepository) MarkReadUpTo(ctx context.Context, conversationID, readerID uuid.UUID, upTo int64, at time.Time) ([]*domain.Message, error) {
	query := `
		UPDATE messages
		SET status = 'read', read_at = $4
		WHERE conversation_id = $1 AND sender_id <> $2 AND id <= $3 AND status <> 'read'
		RETURNING` + messageColumns

	rows, err := r.pool.Query(ctx, query, conversationID, readerID, upTo, at)
	if err != nil {
		return nil, fmt.Errorf("failed to mark messages read: %w", err)
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to mark messages read: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateContent replaces the text of a message
func (r *MessageRepository) UpdateContent(ctx context.Context, messageID int64, content string, editedAt time.Time) (*domain.Message, error) {
	msg, err := scanMessage(r.pool.QueryRow(ctx, `
		UPDATE messages SET content = $2, edited_at = $3
		WHERE id = $1
		RETURNING`+messageColumns, messageID, content, editedAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to update message: %w", err)
	}
	return msg, nil
}

// Delete removes a message, reporting whether it existed
func (r *MessageRepository) Delete(ctx context.Context, messageID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, messageID)
	if err != nil {
		return false, fmt.Errorf("failed to delete message: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// AdvanceReadCursor sets the cursor to max(current, messageID)
func (r *MessageRepository) AdvanceReadCursor(ctx context.Context, conversationID, userID uuid.UUID, messageID int64, at time.Time) (*domain.ReadCursor, error) {
	query := `
		INSERT INTO read_cursors (conversation_id, user_id, last_read_message_id, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (conversation_id, user_id) DO UPDATE SET
			last_read_message_id = GREATEST(read_cursors.last_read_message_id, excluded.last_read_message_id),
			updated_at = CASE
				WHEN excluded.last_read_message_id > read_cursors.last_read_message_id THEN excluded.updated_at
				ELSE read_cursors.updated_at
			END
		RETURNING conversation_id, user_id, last_read_message_id, updated_at
	`

	cur := &domain.ReadCursor{}
	err := r.pool.QueryRow(ctx, query, conversationID, userID, messageID, at).Scan(
		&cur.ConversationID,
		&cur.UserID,
		&cur.LastReadMessageID,
		&cur.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to advance read cursor: %w", err)
	}
	return cur, nil
}

// GetReadCursor returns the cursor, or a zero cursor when the user has read nothing
func (r *MessageRepository) GetReadCursor(ctx context.Context, conversationID, userID uuid.UUID) (*domain.ReadCursor, error) {
	cur := &domain.ReadCursor{ConversationID: conversationID, UserID: userID}
	err := r.pool.QueryRow(ctx, `
		SELECT last_read_message_id, updated_at FROM read_cursors
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID).Scan(&cur.LastReadMessageID, &cur.UpdatedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to get read cursor: %w", err)
	}
	return cur, nil
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var (
		msg    domain.Message
		kind   string
		status string
	)
	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&kind,
		&msg.Content,
		&msg.MediaKey,
		&status,
		&msg.CreatedAt,
		&msg.EditedAt,
		&msg.ReadAt,
	)
	if err != nil {
		return nil, err
	}
	msg.Kind = domain.MessageKind(kind)
	msg.Status = domain.MessageStatus(status)
	return &msg, nil
}
