package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CallStatus is a state of the call state machine
type CallStatus string

const (
	CallStatusRinging  CallStatus = "ringing"
	CallStatusAnswered CallStatus = "answered"
	CallStatusDeclined CallStatus = "declined"
	CallStatusEnded    CallStatus = "ended"
)

// IsActive reports whether the call still occupies the caller/receiver pair
func (s CallStatus) IsActive() bool {
	return s == CallStatusRinging || s == CallStatusAnswered
}

// IsTerminal reports whether no further transition is possible
func (s CallStatus) IsTerminal() bool {
	return s == CallStatusEnded || s == CallStatusDeclined
}

// CanTransitionTo reports whether from -> to is an edge of the call state machine
func (s CallStatus) CanTransitionTo(to CallStatus) bool {
	switch s {
	case CallStatusRinging:
		return to == CallStatusAnswered || to == CallStatusDeclined || to == CallStatusEnded
	case CallStatusAnswered:
		return to == CallStatusEnded
	default:
		return false
	}
}

// MediaKind is the kind of media carried by a call
type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

// ParseMediaKind normalizes client input to a MediaKind. "voice" is accepted as an alias for audio.
func ParseMediaKind(s string) (MediaKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "audio", "voice":
		return MediaKindAudio, nil
	case "video":
		return MediaKindVideo, nil
	default:
		return "", fmt.Errorf("unknown media kind %q", s)
	}
}

// Valid reports whether k is a canonical media kind
func (k MediaKind) Valid() bool {
	return k == MediaKindAudio || k == MediaKindVideo
}

// Call represents one audio/video call attempt between two users
type Call struct {
	CallID         uuid.UUID  `json:"call_id" db:"call_id"`
	ConversationID uuid.UUID  `json:"conversation_id" db:"conversation_id"`
	CallerID       uuid.UUID  `json:"caller_id" db:"caller_id"`
	ReceiverID     uuid.UUID  `json:"receiver_id" db:"receiver_id"`
	MediaKind      MediaKind  `json:"media_kind" db:"media_kind"`
	Status         CallStatus `json:"status" db:"status"`
	StartedAt      time.Time  `json:"started_at" db:"started_at"`
	AnsweredAt     *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	Duration       *int       `json:"duration,omitempty" db:"duration"` // seconds, set only for answered calls
	EndReason      string     `json:"end_reason,omitempty" db:"end_reason"`
}

// PairKey returns the normalized key of the unordered (caller, receiver) pair
func (c *Call) PairKey() string {
	return PairKey(c.CallerID, c.ReceiverID)
}

// IsParty reports whether userID is the caller or the receiver
func (c *Call) IsParty(userID uuid.UUID) bool {
	return userID == c.CallerID || userID == c.ReceiverID
}

// OtherParty returns the counterpart of userID
func (c *Call) OtherParty(userID uuid.UUID) uuid.UUID {
	if userID == c.CallerID {
		return c.ReceiverID
	}
	return c.CallerID
}

// PairKey builds an order-independent key for two users
func PairKey(a, b uuid.UUID) string {
	as, bs := a.String(), b.String()
	if as > bs {
		as, bs = bs, as
	}
	return as + ":" + bs
}

// CallTransition describes a conditional status write: it only applies if the
// stored status still equals From.
type CallTransition struct {
	CallID     uuid.UUID
	From       CallStatus
	To         CallStatus
	AnsweredAt *time.Time
	EndedAt    *time.Time
	Duration   *int
	EndReason  string
}

// CallStatistics summarizes a user's call history
type CallStatistics struct {
	TotalCalls      int   `json:"total_calls"`
	OutgoingCalls   int   `json:"outgoing_calls"`
	IncomingCalls   int   `json:"incoming_calls"`
	AnsweredCalls   int   `json:"answered_calls"`
	MissedCalls     int   `json:"missed_calls"`
	DeclinedCalls   int   `json:"declined_calls"`
	AudioCalls      int   `json:"audio_calls"`
	VideoCalls      int   `json:"video_calls"`
	TotalDurationS  int64 `json:"total_duration_seconds"`
	AverageDuration int64 `json:"average_duration_seconds"`
}

// IsMissedBy reports whether the call counts as missed for userID: an incoming
// call that ended without ever being answered. Declined calls are not missed.
func (c *Call) IsMissedBy(userID uuid.UUID) bool {
	return c.ReceiverID == userID && c.Status == CallStatusEnded && c.AnsweredAt == nil
}

// Add folds one call into the statistics of userID
func (s *CallStatistics) Add(c *Call, userID uuid.UUID) {
	s.TotalCalls++
	if c.CallerID == userID {
		s.OutgoingCalls++
	} else {
		s.IncomingCalls++
	}
	if c.AnsweredAt != nil {
		s.AnsweredCalls++
	}
	if c.IsMissedBy(userID) {
		s.MissedCalls++
	}
	if c.Status == CallStatusDeclined {
		s.DeclinedCalls++
	}
	if c.MediaKind == MediaKindVideo {
		s.VideoCalls++
	} else {
		s.AudioCalls++
	}
	if c.Duration != nil {
		s.TotalDurationS += int64(*c.Duration)
	}
	if s.AnsweredCalls > 0 {
		s.AverageDuration = s.TotalDurationS / int64(s.AnsweredCalls)
	}
}
