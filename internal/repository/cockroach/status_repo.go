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

const statusColumns = `
	status_id, author_id, kind, payload, privacy, created_at, expires_at`

// StatusRepository handles status posts and views in CockroachDB
type StatusRepository struct {
	pool *pgxpool.Pool
}

// NewStatusRepository creates a new status repository
func NewStatusRepository(pool *pgxpool.Pool) *StatusRepository {
	return &StatusRepository{pool: pool}
}

// Create inserts a status post
func (r *StatusRepository) Create(ctx context.Context, post *domain.StatusPost) error {
	query := `
		INSERT INTO status_posts (status_id, author_id, kind, payload, privacy, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query,
		post.StatusID,
		post.AuthorID,
		string(post.Kind),
		post.Payload,
		string(post.Privacy),
		post.CreatedAt,
		post.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create status: %w", err)
	}
	return nil
}

// GetByID retrieves a post whether or not it has expired
func (r *StatusRepository) GetByID(ctx context.Context, statusID uuid.UUID) (*domain.StatusPost, error) {
	post, err := scanStatus(r.pool.QueryRow(ctx,
		`SELECT`+statusColumns+` FROM status_posts WHERE status_id = $1`, statusID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get status: %w", err)
	}
	return post, nil
}

// ListActiveByAuthors returns active posts of the given authors, oldest first
func (r *StatusRepository) ListActiveByAuthors(ctx context.Context, authorIDs []uuid.UUID, now time.Time) ([]*domain.StatusPost, error) {
	if len(authorIDs) == 0 {
		return nil, nil
	}
	return r.queryStatuses(ctx, `
		SELECT`+statusColumns+` FROM status_posts
		WHERE author_id = ANY($1::UUID[]) AND expires_at > $2
		ORDER BY created_at ASC
	`, authorIDs, now)
}

// ListPublicFeed returns up to limit active public posts, newest first, leaving out
// the viewer's own posts and authors blocked in either direction
func (r *StatusRepository) ListPublicFeed(ctx context.Context, viewerID uuid.UUID, now time.Time, limit int) ([]*domain.StatusPost, error) {
	return r.queryStatuses(ctx, `
		SELECT`+statusColumns+` FROM status_posts s
		WHERE s.privacy = 'everyone'
		  AND s.expires_at > $2
		  AND s.author_id <> $1
		  AND NOT EXISTS (
			SELECT 1 FROM blocked_users b
			WHERE (b.blocker_id = $1 AND b.blocked_id = s.author_id)
			   OR (b.blocker_id = s.author_id AND b.blocked_id = $1)
		  )
		ORDER BY s.created_at DESC
		LIMIT $3
	`, viewerID, now, limit)
}

// ListExpired returns up to limit posts with expires_at <= now that sort after
// the cursor, ordered by (expires_at, status_id)
func (r *StatusRepository) ListExpired(ctx context.Context, now time.Time, after domain.ExpiryCursor, limit int) ([]*domain.StatusPost, error) {
	return r.queryStatuses(ctx, `
		SELECT`+statusColumns+` FROM status_posts
		WHERE expires_at <= $1
		  AND (expires_at, status_id) > ($2::TIMESTAMPTZ, $3::UUID)
		ORDER BY expires_at ASC, status_id ASC
		LIMIT $4
	`, now, after.ExpiresAt, after.StatusID, limit)
}

// RecordView stores the view once; it reports false when the viewer had already seen the post
func (r *StatusRepository) RecordView(ctx context.Context, view *domain.StatusView) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO status_views (status_id, viewer_id, viewed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (status_id, viewer_id) DO NOTHING
	`, view.StatusID, view.ViewerID, view.ViewedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return false, repository.ErrNotFound
		}
		return false, fmt.Errorf("failed to record status view: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ViewedBy reports which of statusIDs viewer has seen
func (r *StatusRepository) ViewedBy(ctx context.Context, viewerID uuid.UUID, statusIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := make(map[uuid.UUID]bool, len(statusIDs))
	if len(statusIDs) == 0 {
		return out, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT status_id FROM status_views
		WHERE viewer_id = $1 AND status_id = ANY($2::UUID[])
	`, viewerID, statusIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get viewed statuses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan status view: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

// GetViews returns views of a post, newest first
func (r *StatusRepository) GetViews(ctx context.Context, statusID uuid.UUID) ([]*domain.StatusView, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status_id, viewer_id, viewed_at FROM status_views
		WHERE status_id = $1
		ORDER BY viewed_at DESC
	`, statusID)
	if err != nil {
		return nil, fmt.Errorf("failed to get status views: %w", err)
	}
	defer rows.Close()

	var views []*domain.StatusView
	for rows.Next() {
		v := &domain.StatusView{}
		if err := rows.Scan(&v.StatusID, &v.ViewerID, &v.ViewedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status view: %w", err)
		}
		views = append(views, v)
	}
	return views, rows.Err()
}

// CountViews returns the number of views per post
func (r *StatusRepository) CountViews(ctx context.Context, statusIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	out := make(map[uuid.UUID]int, len(statusIDs))
	if len(statusIDs) == 0 {
		return out, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT status_id, count(*) FROM status_views
		WHERE status_id = ANY($1::UUID[])
		GROUP BY status_id
	`, statusIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to count status views: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    uuid.UUID
			count int
		)
		if err := rows.Scan(&id, &count); err != nil {
			return nil, fmt.Errorf("failed to scan view count: %w", err)
		}
		out[id] = count
	}
	return out, rows.Err()
}

// Delete removes a post and its views, reporting whether the post existed
func (r *StatusRepository) Delete(ctx context.Context, statusID uuid.UUID) (bool, error) {
	var existed bool
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM status_views WHERE status_id = $1`, statusID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM status_posts WHERE status_id = $1`, statusID)
		if err != nil {
			return err
		}
		existed = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete status: %w", err)
	}
	return existed, nil
}

func (r *StatusRepository) queryStatuses(ctx context.Context, query string, args ...interface{}) ([]*domain.StatusPost, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query statuses: %w", err)
	}
	defer rows.Close()

	var posts []*domain.StatusPost
	for rows.Next() {
		post, err := scanStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan status: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query statuses: %w", err)
	}
	return posts, nil
}

func scanStatus(row pgx.Row) (*domain.StatusPost, error) {
	var (
		post    domain.StatusPost
		kind    string
		privacy string
	)
	err := row.Scan(
		&post.StatusID,
		&post.AuthorID,
		&kind,
		&post.Payload,
		&privacy,
		&post.CreatedAt,
		&post.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	post.Kind = domain.StatusKind(kind)
	post.Privacy = domain.Privacy(privacy)
	return &post, nil
}
