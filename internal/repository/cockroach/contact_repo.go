package cockroach

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ContactRepository reads contact lists. Together with BlockedUserRepository it
// resolves the audience of status posts.
type ContactRepository struct {
	*BlockedUserRepository
	pool *pgxpool.Pool
}

// NewContactRepository creates a new contact repository
func NewContactRepository(pool *pgxpool.Pool) *ContactRepository {
	return &ContactRepository{
		BlockedUserRepository: NewBlockedUserRepository(pool),
		pool:                  pool,
	}
}

// ContactsOf returns everyone in owner's contact list
func (r *ContactRepository) ContactsOf(ctx context.Context, ownerID uuid.UUID) ([]uuid.UUID, error) {
	return r.ids(ctx, "get contacts",
		`SELECT contact_id FROM contacts WHERE owner_id = $1`, ownerID)
}

// CloseFriendsOf returns owner's close friends
func (r *ContactRepository) CloseFriendsOf(ctx context.Context, ownerID uuid.UUID) ([]uuid.UUID, error) {
	return r.ids(ctx, "get close friends",
		`SELECT contact_id FROM contacts WHERE owner_id = $1 AND is_close_friend`, ownerID)
}

// ContactOwnersOf returns the users whose contact list includes contactID
func (r *ContactRepository) ContactOwnersOf(ctx context.Context, contactID uuid.UUID) ([]uuid.UUID, error) {
	return r.ids(ctx, "get contact owners",
		`SELECT owner_id FROM contacts WHERE contact_id = $1`, contactID)
}

// IsContact reports whether other is in owner's contact list
func (r *ContactRepository) IsContact(ctx context.Context, ownerID, otherID uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM contacts WHERE owner_id = $1 AND contact_id = $2)`,
		ownerID, otherID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check contact: %w", err)
	}
	return ok, nil
}

// IsCloseFriend reports whether other is one of owner's close friends
func (r *ContactRepository) IsCloseFriend(ctx context.Context, ownerID, otherID uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM contacts WHERE owner_id = $1 AND contact_id = $2 AND is_close_friend)`,
		ownerID, otherID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check close friend: %w", err)
	}
	return ok, nil
}

func (r *ContactRepository) ids(ctx context.Context, op, query string, arg uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	return out, nil
}
