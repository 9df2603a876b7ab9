package domain

import (
	"time"

	"github.com/google/uuid"
)

// StatusKind is the content type of a status post
type StatusKind string

const (
	StatusKindText  StatusKind = "text"
	StatusKindImage StatusKind = "image"
	StatusKindVideo StatusKind = "video"
)

// Valid reports whether k is a known status kind
func (k StatusKind) Valid() bool {
	return k == StatusKindText || k == StatusKindImage || k == StatusKindVideo
}

// HasMedia reports whether the payload of this kind is a media object key
func (k StatusKind) HasMedia() bool {
	return k == StatusKindImage || k == StatusKindVideo
}

// Privacy is the audience scope of a status post
type Privacy string

const (
	PrivacyEveryone     Privacy = "everyone"
	PrivacyContacts     Privacy = "contacts"
	PrivacyCloseFriends Privacy = "close_friends"
)

// Valid reports whether p is a known scope
func (p Privacy) Valid() bool {
	return p == PrivacyEveryone || p == PrivacyContacts || p == PrivacyCloseFriends
}

// StatusPost is ephemeral content visible until ExpiresAt.
// Expiry is always computed against the current time and never stored as a flag.
type StatusPost struct {
	StatusID  uuid.UUID  `json:"status_id" db:"status_id"`
	AuthorID  uuid.UUID  `json:"author_id" db:"author_id"`
	Kind      StatusKind `json:"kind" db:"kind"`
	Payload   string     `json:"payload" db:"payload"` // text body, or media object key for image/video
	Privacy   Privacy    `json:"privacy" db:"privacy"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	ExpiresAt time.Time  `json:"expires_at" db:"expires_at"`
}

// IsActive reports whether the post is visible at now
func (s *StatusPost) IsActive(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// MediaKey returns the media object key attached to the post, if any
func (s *StatusPost) MediaKey() (string, bool) {
	if s.Kind.HasMedia() && s.Payload != "" {
		return s.Payload, true
	}
	return "", false
}

// ExpiryCursor is a position in the (expires_at, status_id) order of expired posts.
// The zero value starts before the first post.
type ExpiryCursor struct {
	ExpiresAt time.Time
	StatusID  uuid.UUID
}

// After reports whether post sorts strictly after the cursor
func (c ExpiryCursor) After(post *StatusPost) bool {
	if !post.ExpiresAt.Equal(c.ExpiresAt) {
		return post.ExpiresAt.After(c.ExpiresAt)
	}
	return post.StatusID.String() > c.StatusID.String()
}

// StatusView marks that a viewer has seen a post
type StatusView struct {
	StatusID uuid.UUID `json:"status_id" db:"status_id"`
	ViewerID uuid.UUID `json:"viewer_id" db:"viewer_id"`
	ViewedAt time.Time `json:"viewed_at" db:"viewed_at"`
}

// FeedPost is a post as seen by one viewer
type FeedPost struct {
	*StatusPost
	IsViewed bool `json:"is_viewed"`
}

// FeedGroup is one author's active posts in a viewer's feed
type FeedGroup struct {
	AuthorID     uuid.UUID   `json:"author_id"`
	LatestPostAt time.Time   `json:"latest_post_at"`
	Posts        []*FeedPost `json:"posts"`
	AllViewed    bool        `json:"all_viewed"`
}

// OwnStatus is an author's post together with its view count
type OwnStatus struct {
	*StatusPost
	ViewCount int `json:"view_count"`
}
