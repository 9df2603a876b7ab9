package status

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"realtime-core/internal/domain"
	"realtime-core/internal/events"
	"realtime-core/internal/repository"
	"realtime-core/pkg/clock"
	"realtime-core/pkg/constants"
	apperrors "realtime-core/pkg/errors"
	"realtime-core/pkg/logger"
	"realtime-core/pkg/metrics"
	"realtime-core/pkg/sanitize"
)

// StatusRepository interface for status post persistence
type StatusRepository interface {
	Create(ctx context.Context, post *domain.StatusPost) error
	GetByID(ctx context.Context, statusID uuid.UUID) (*domain.StatusPost, error)
	ListActiveByAuthors(ctx context.Context, authorIDs []uuid.UUID, now time.Time) ([]*domain.StatusPost, error)
	// ListPublicFeed returns up to limit active public posts, newest first, excluding
	// the viewer's own posts and authors blocked in either direction
	ListPublicFeed(ctx context.Context, viewerID uuid.UUID, now time.Time, limit int) ([]*domain.StatusPost, error)
	// ListExpired returns up to limit posts with expires_at <= now that sort after the cursor
	ListExpired(ctx context.Context, now time.Time, after domain.ExpiryCursor, limit int) ([]*domain.StatusPost, error)
	// RecordView stores the view at most once; the bool reports whether it was new
	RecordView(ctx context.Context, view *domain.StatusView) (bool, error)
	ViewedBy(ctx context.Context, viewerID uuid.UUID, statusIDs []uuid.UUID) (map[uuid.UUID]bool, error)
	GetViews(ctx context.Context, statusID uuid.UUID) ([]*domain.StatusView, error)
	CountViews(ctx context.Context, statusIDs []uuid.UUID) (map[uuid.UUID]int, error)
	// Delete removes the post with its views; the bool reports whether it existed
	Delete(ctx context.Context, statusID uuid.UUID) (bool, error)
}

// Audience interface for the contacts and block list collaborator
type Audience interface {
	IsBlocked(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error)
	ContactsOf(ctx context.Context, ownerID uuid.UUID) ([]uuid.UUID, error)
	CloseFriendsOf(ctx context.Context, ownerID uuid.UUID) ([]uuid.UUID, error)
	ContactOwnersOf(ctx context.Context, contactID uuid.UUID) ([]uuid.UUID, error)
	IsContact(ctx context.Context, ownerID, otherID uuid.UUID) (bool, error)
	IsCloseFriend(ctx context.Context, ownerID, otherID uuid.UUID) (bool, error)
}

// MediaStore interface for removing attached media objects
type MediaStore interface {
	Delete(ctx context.Context, key string) error
}

// Service handles the ephemeral status lifecycle
type Service struct {
	statusRepo StatusRepository
	audience   Audience
	media      MediaStore
	emitter    events.Emitter
	clock      clock.Clock
	ttl        time.Duration
	purgeBatch int
	feedLimit  int
}

// NewService creates a new status service
func NewService(
	statusRepo StatusRepository,
	audience Audience,
	media MediaStore,
	emitter events.Emitter,
	clk clock.Clock,
) *Service {
	return &Service{
		statusRepo: statusRepo,
		audience:   audience,
		media:      media,
		emitter:    emitter,
		clock:      clk,
		ttl:        constants.StatusTTL,
		purgeBatch: constants.StatusPurgeBatchSize,
		feedLimit:  constants.StatusFeedPublicLimit,
	}
}

// WithTTL overrides how long new posts stay visible
func (s *Service) WithTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

// WithPurgeBatch overrides how many expired posts Purge loads per query
func (s *Service) WithPurgeBatch(n int) *Service {
	if n > 0 {
		s.purgeBatch = n
	}
	return s
}

// WithFeedLimit overrides how many public posts of other authors a feed loads
func (s *Service) WithFeedLimit(n int) *Service {
	if n > 0 {
		s.feedLimit = n
	}
	return s
}

// CreateInput contains data for posting a status
type CreateInput struct {
	AuthorID uuid.UUID
	Kind     domain.StatusKind
	Payload  string
	Privacy  domain.Privacy
}

// Create posts a status that expires after the fixed window and notifies its audience
func (s *Service) Create(ctx context.Context, input *CreateInput) (*domain.StatusPost, error) {
	in := *input
	if err := validateCreate(&in); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	post := &domain.StatusPost{
		StatusID:  uuid.New(),
		AuthorID:  in.AuthorID,
		Kind:      in.Kind,
		Payload:   in.Payload,
		Privacy:   in.Privacy,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.statusRepo.Create(ctx, post); err != nil {
		return nil, fmt.Errorf("failed to create status: %w", err)
	}

	metrics.StatusPostsCreatedTotal.WithLabelValues(string(post.Kind), string(post.Privacy)).Inc()

	audience, err := s.audienceOf(ctx, post)
	if err != nil {
		// the post is stored; only the notification fanout is lost
		logger.Warn("Failed to resolve status audience",
			zap.String("status_id", post.StatusID.String()),
			zap.Error(err))
		return post, nil
	}

	s.emitter.Emit(ctx, events.ToUsers(events.StatusUploaded, events.StatusUploadedPayload{
		StatusID:  post.StatusID,
		AuthorID:  post.AuthorID,
		Kind:      string(post.Kind),
		CreatedAt: post.CreatedAt,
		ExpiresAt: post.ExpiresAt,
	}, audience...)...)

	return post, nil
}

// View records that viewer has seen a post. Replays are no-ops.
func (s *Service) View(ctx context.Context, statusID, viewerID uuid.UUID) error {
	post, err := s.getPost(ctx, statusID)
	if err != nil {
		return err
	}
	if post.AuthorID == viewerID {
		return apperrors.ValidationError("authors cannot view their own status")
	}

	now := s.clock.Now()
	if !post.IsActive(now) {
		return apperrors.GoneError("Status")
	}

	visible, err := newAccessCache(s.audience, viewerID).canSee(ctx, post)
	if err != nil {
		return err
	}
	if !visible {
		return apperrors.ForbiddenError("status is not shared with this user")
	}

	created, err := s.statusRepo.RecordView(ctx, &domain.StatusView{
		StatusID: statusID,
		ViewerID: viewerID,
		ViewedAt: now,
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFoundError("Status")
		}
		return fmt.Errorf("failed to record view: %w", err)
	}
	if created {
		metrics.StatusViewsTotal.Inc()
	}
	return nil
}

// GetFeed returns the active posts visible to viewer grouped by author.
// Groups are ordered by their latest post, newest first; posts within a group oldest first.
func (s *Service) GetFeed(ctx context.Context, viewerID uuid.UUID) ([]*domain.FeedGroup, error) {
	now := s.clock.Now()

	public, err := s.statusRepo.ListPublicFeed(ctx, viewerID, now, s.feedLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list public statuses: %w", err)
	}
	owners, err := s.audience.ContactOwnersOf(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get contact owners: %w", err)
	}
	var scoped []*domain.StatusPost
	if len(owners) > 0 {
		scoped, err = s.statusRepo.ListActiveByAuthors(ctx, owners, now)
		if err != nil {
			return nil, fmt.Errorf("failed to list contact statuses: %w", err)
		}
	}

	access := newAccessCache(s.audience, viewerID)
	seen := make(map[uuid.UUID]struct{})
	var visible []*domain.StatusPost
	for _, post := range append(public, scoped...) {
		if _, dup := seen[post.StatusID]; dup || post.AuthorID == viewerID {
			continue
		}
		seen[post.StatusID] = struct{}{}

		ok, err := access.canSee(ctx, post)
		if err != nil {
			return nil, err
		}
		if ok {
			visible = append(visible, post)
		}
	}

	ids := make([]uuid.UUID, len(visible))
	for i, p := range visible {
		ids[i] = p.StatusID
	}
	viewed, err := s.statusRepo.ViewedBy(ctx, viewerID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load views: %w", err)
	}

	return groupFeed(visible, viewed), nil
}

// GetViewers lists who has seen a post, newest first. Only the author may ask,
// and only while the post is active.
func (s *Service) GetViewers(ctx context.Context, statusID, actorID uuid.UUID) ([]*domain.StatusView, error) {
	post, err := s.getPost(ctx, statusID)
	if err != nil {
		return nil, err
	}
	if post.AuthorID != actorID {
		return nil, apperrors.UnauthorizedError("only the author can list viewers")
	}
	if !post.IsActive(s.clock.Now()) {
		return nil, apperrors.GoneError("Status")
	}

	views, err := s.statusRepo.GetViews(ctx, statusID)
	if err != nil {
		return nil, fmt.Errorf("failed to get views: %w", err)
	}
	return views, nil
}

// GetMine returns the author's active posts with their view counts, oldest first
func (s *Service) GetMine(ctx context.Context, authorID uuid.UUID) ([]*domain.OwnStatus, error) {
	posts, err := s.statusRepo.ListActiveByAuthors(ctx, []uuid.UUID{authorID}, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to list statuses: %w", err)
	}

	ids := make([]uuid.UUID, len(posts))
	for i, p := range posts {
		ids[i] = p.StatusID
	}
	counts, err := s.statusRepo.CountViews(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to count views: %w", err)
	}

	out := make([]*domain.OwnStatus, len(posts))
	for i, p := range posts {
		out[i] = &domain.OwnStatus{StatusPost: p, ViewCount: counts[p.StatusID]}
	}
	return out, nil
}

// Delete removes the author's post together with its views and media.
// Deleting a post that is already gone succeeds.
func (s *Service) Delete(ctx context.Context, statusID, actorID uuid.UUID) error {
	post, err := s.statusRepo.GetByID(ctx, statusID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to get status: %w", err)
	}
	if post.AuthorID != actorID {
		return apperrors.UnauthorizedError("only the author can delete this status")
	}
	return s.remove(ctx, post)
}

// Purge deletes every post that expired at or before now, loading them in
// batches. A post that fails is logged and left for the next run; the cursor
// moves past it so it cannot hold up the rest.
func (s *Service) Purge(ctx context.Context, now time.Time) (int, error) {
	var (
		cursor domain.ExpiryCursor
		purged int
		failed int
	)
	defer func() {
		if purged > 0 {
			metrics.StatusPostsPurgedTotal.Add(float64(purged))
			logger.Info("Purged expired statuses",
				zap.Int("count", purged),
				zap.Int("failed", failed))
		}
	}()

	for {
		batch, err := s.statusRepo.ListExpired(ctx, now, cursor, s.purgeBatch)
		if err != nil {
			return purged, fmt.Errorf("failed to list expired statuses: %w", err)
		}

		for _, post := range batch {
			if ctx.Err() != nil {
				return purged, ctx.Err()
			}
			if err := s.remove(ctx, post); err != nil {
				failed++
				metrics.StatusPurgeFailuresTotal.Inc()
				logger.Warn("Failed to purge expired status",
					zap.String("status_id", post.StatusID.String()),
					zap.Error(err))
				continue
			}
			purged++
		}

		if len(batch) < s.purgeBatch {
			return purged, nil
		}
		last := batch[len(batch)-1]
		cursor = domain.ExpiryCursor{ExpiresAt: last.ExpiresAt, StatusID: last.StatusID}
	}
}

// remove deletes media before the row so a failure leaves the row for a retry
func (s *Service) remove(ctx context.Context, post *domain.StatusPost) error {
	if key, ok := post.MediaKey(); ok {
		if err := s.media.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to delete status media: %w", err)
		}
	}
	if _, err := s.statusRepo.Delete(ctx, post.StatusID); err != nil {
		return fmt.Errorf("failed to delete status: %w", err)
	}
	return nil
}

func (s *Service) getPost(ctx context.Context, statusID uuid.UUID) (*domain.StatusPost, error) {
	post, err := s.statusRepo.GetByID(ctx, statusID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFoundError("Status")
		}
		return nil, fmt.Errorf("failed to get status: %w", err)
	}
	return post, nil
}

// audienceOf resolves who is notified of a new post.
// Public posts are announced to the author's contacts.
func (s *Service) audienceOf(ctx context.Context, post *domain.StatusPost) ([]uuid.UUID, error) {
	var (
		candidates []uuid.UUID
		err        error
	)
	if post.Privacy == domain.PrivacyCloseFriends {
		candidates, err = s.audience.CloseFriendsOf(ctx, post.AuthorID)
	} else {
		candidates, err = s.audience.ContactsOf(ctx, post.AuthorID)
	}
	if err != nil {
		return nil, err
	}

	out := make([]uuid.UUID, 0, len(candidates))
	for _, id := range candidates {
		if id == post.AuthorID {
			continue
		}
		blocked, err := blockedEitherWay(ctx, s.audience, post.AuthorID, id)
		if err != nil {
			return nil, err
		}
		if !blocked {
			out = append(out, id)
		}
	}
	return out, nil
}

func blockedEitherWay(ctx context.Context, audience Audience, a, b uuid.UUID) (bool, error) {
	blocked, err := audience.IsBlocked(ctx, a, b)
	if err != nil || blocked {
		return blocked, err
	}
	return audience.IsBlocked(ctx, b, a)
}

type authorAccess struct {
	blocked     bool
	contact     bool
	closeFriend bool
}

// accessCache memoizes per-author visibility lookups for one viewer
type accessCache struct {
	audience Audience
	viewerID uuid.UUID
	byAuthor map[uuid.UUID]*authorAccess
}

func newAccessCache(audience Audience, viewerID uuid.UUID) *accessCache {
	return &accessCache{audience: audience, viewerID: viewerID, byAuthor: make(map[uuid.UUID]*authorAccess)}
}

func (c *accessCache) canSee(ctx context.Context, post *domain.StatusPost) (bool, error) {
	acc, err := c.lookup(ctx, post.AuthorID)
	if err != nil {
		return false, err
	}
	if acc.blocked {
		return false, nil
	}
	switch post.Privacy {
	case domain.PrivacyEveryone:
		return true, nil
	case domain.PrivacyContacts:
		return acc.contact, nil
	case domain.PrivacyCloseFriends:
		return acc.closeFriend, nil
	default:
		return false, nil
	}
}

func (c *accessCache) lookup(ctx context.Context, authorID uuid.UUID) (*authorAccess, error) {
	if acc, ok := c.byAuthor[authorID]; ok {
		return acc, nil
	}

	acc := &authorAccess{}
	var err error
	if acc.blocked, err = blockedEitherWay(ctx, c.audience, authorID, c.viewerID); err != nil {
		return nil, fmt.Errorf("failed to check block list: %w", err)
	}
	if !acc.blocked {
		if acc.contact, err = c.audience.IsContact(ctx, authorID, c.viewerID); err != nil {
			return nil, fmt.Errorf("failed to check contacts: %w", err)
		}
		if acc.contact {
			if acc.closeFriend, err = c.audience.IsCloseFriend(ctx, authorID, c.viewerID); err != nil {
				return nil, fmt.Errorf("failed to check close friends: %w", err)
			}
		}
	}
	c.byAuthor[authorID] = acc
	return acc, nil
}

func groupFeed(posts []*domain.StatusPost, viewed map[uuid.UUID]bool) []*domain.FeedGroup {
	groups := make(map[uuid.UUID]*domain.FeedGroup)
	for _, p := range posts {
		g, ok := groups[p.AuthorID]
		if !ok {
			g = &domain.FeedGroup{AuthorID: p.AuthorID, AllViewed: true}
			groups[p.AuthorID] = g
		}
		isViewed := viewed[p.StatusID]
		g.Posts = append(g.Posts, &domain.FeedPost{StatusPost: p, IsViewed: isViewed})
		g.AllViewed = g.AllViewed && isViewed
		if p.CreatedAt.After(g.LatestPostAt) {
			g.LatestPostAt = p.CreatedAt
		}
	}

	out := make([]*domain.FeedGroup, 0, len(groups))
	for _, g := range groups {
		sort.Slice(g.Posts, func(i, j int) bool { return g.Posts[i].CreatedAt.Before(g.Posts[j].CreatedAt) })
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LatestPostAt.Equal(out[j].LatestPostAt) {
			return out[i].LatestPostAt.After(out[j].LatestPostAt)
		}
		return out[i].AuthorID.String() < out[j].AuthorID.String()
	})
	return out
}

// validateCreate checks input and normalizes its payload in place
func validateCreate(input *CreateInput) error {
	if input.AuthorID == uuid.Nil {
		return apperrors.ValidationError("author is required")
	}
	if !input.Kind.Valid() {
		return apperrors.ValidationError("status kind must be text, image or video")
	}
	if !input.Privacy.Valid() {
		return apperrors.ValidationError("privacy must be everyone, contacts or close_friends")
	}
	if strings.TrimSpace(input.Payload) == "" {
		return apperrors.ValidationError("status payload is required")
	}
	if input.Kind != domain.StatusKindText {
		key, ok := sanitize.ObjectKey(input.Payload)
		if !ok {
			return apperrors.ValidationError("invalid media key")
		}
		input.Payload = key
		return nil
	}

	input.Payload = sanitize.Text(input.Payload)
	if strings.TrimSpace(input.Payload) == "" {
		return apperrors.ValidationError("status payload is required")
	}
	if utf8.RuneCountInString(input.Payload) > constants.MaxStatusTextLength {
		return apperrors.ValidationError("status text is too long")
	}
	return nil
}
