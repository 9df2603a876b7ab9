package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"realtime-core/internal/domain"
	"realtime-core/internal/repository"
)

// StatusRepository stores status posts and their views in memory.
// Block lists are read from the directory.
type StatusRepository struct {
	mu    sync.RWMutex
	dir   *Directory
	posts map[uuid.UUID]*domain.StatusPost
	views map[uuid.UUID]map[uuid.UUID]time.Time // status -> viewer -> viewed at
}

func NewStatusRepository(dir *Directory) *StatusRepository {
	return &StatusRepository{
		dir:   dir,
		posts: make(map[uuid.UUID]*domain.StatusPost),
		views: make(map[uuid.UUID]map[uuid.UUID]time.Time),
	}
}

func (r *StatusRepository) Create(_ context.Context, post *domain.StatusPost) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *post
	r.posts[post.StatusID] = &cp
	return nil
}

func (r *StatusRepository) GetByID(_ context.Context, statusID uuid.UUID) (*domain.StatusPost, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	post, ok := r.posts[statusID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *post
	return &cp, nil
}

// ListActiveByAuthors returns active posts of the given authors, oldest first
func (r *StatusRepository) ListActiveByAuthors(_ context.Context, authorIDs []uuid.UUID, now time.Time) ([]*domain.StatusPost, error) {
	wanted := make(map[uuid.UUID]struct{}, len(authorIDs))
	for _, id := range authorIDs {
		wanted[id] = struct{}{}
	}
	return r.filter(func(p *domain.StatusPost) bool {
		_, ok := wanted[p.AuthorID]
		return ok && p.IsActive(now)
	}), nil
}

// ListPublicFeed returns up to limit active public posts, newest first, leaving out
// the viewer's own posts and authors blocked in either direction
func (r *StatusRepository) ListPublicFeed(_ context.Context, viewerID uuid.UUID, now time.Time, limit int) ([]*domain.StatusPost, error) {
	out := r.filter(func(p *domain.StatusPost) bool {
		return p.Privacy == domain.PrivacyEveryone &&
			p.IsActive(now) &&
			p.AuthorID != viewerID &&
			!r.dir.blockedEither(p.AuthorID, viewerID)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListExpired returns up to limit posts with expires_at <= now that sort after
// the cursor, ordered by (expires_at, status_id)
func (r *StatusRepository) ListExpired(_ context.Context, now time.Time, after domain.ExpiryCursor, limit int) ([]*domain.StatusPost, error) {
	out := r.filter(func(p *domain.StatusPost) bool { return !p.IsActive(now) && after.After(p) })
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(out[j].ExpiresAt)
		}
		return out[i].StatusID.String() < out[j].StatusID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecordView stores a view once; it reports false when the viewer had already seen the post
func (r *StatusRepository) RecordView(_ context.Context, view *domain.StatusView) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.posts[view.StatusID]; !ok {
		return false, repository.ErrNotFound
	}
	if r.views[view.StatusID] == nil {
		r.views[view.StatusID] = make(map[uuid.UUID]time.Time)
	}
	if _, seen := r.views[view.StatusID][view.ViewerID]; seen {
		return false, nil
	}
	r.views[view.StatusID][view.ViewerID] = view.ViewedAt
	return true, nil
}

// ViewedBy reports which of statusIDs viewer has seen
func (r *StatusRepository) ViewedBy(_ context.Context, viewerID uuid.UUID, statusIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[uuid.UUID]bool, len(statusIDs))
	for _, id := range statusIDs {
		if _, ok := r.views[id][viewerID]; ok {
			out[id] = true
		}
	}
	return out, nil
}

// GetViews returns views of a post, newest first
func (r *StatusRepository) GetViews(_ context.Context, statusID uuid.UUID) ([]*domain.StatusView, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.StatusView, 0, len(r.views[statusID]))
	for viewer, at := range r.views[statusID] {
		out = append(out, &domain.StatusView{StatusID: statusID, ViewerID: viewer, ViewedAt: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ViewedAt.After(out[j].ViewedAt) })
	return out, nil
}

func (r *StatusRepository) CountViews(_ context.Context, statusIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[uuid.UUID]int, len(statusIDs))
	for _, id := range statusIDs {
		out[id] = len(r.views[id])
	}
	return out, nil
}

// Delete removes a post and its views, reporting whether the post existed
func (r *StatusRepository) Delete(_ context.Context, statusID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.posts[statusID]
	delete(r.posts, statusID)
	delete(r.views, statusID)
	return ok, nil
}

func (r *StatusRepository) filter(keep func(*domain.StatusPost) bool) []*domain.StatusPost {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.StatusPost
	for _, p := range r.posts {
		if keep(p) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
