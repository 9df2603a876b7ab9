package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConversationType distinguishes one-to-one threads from groups
type ConversationType string

const (
	ConversationTypePrivate ConversationType = "private"
	ConversationTypeGroup   ConversationType = "group"
)

// ParticipantRole is a member's role in a conversation
type ParticipantRole string

const (
	RoleAdmin  ParticipantRole = "admin"
	RoleMember ParticipantRole = "member"
)

// Conversation represents conversation metadata
type Conversation struct {
	ConversationID uuid.UUID        `json:"conversation_id" db:"conversation_id"`
	Type           ConversationType `json:"type" db:"type"`
	PairKey        *string          `json:"-" db:"pair_key"` // set for private conversations
	LastMessageID  *int64           `json:"last_message_id,omitempty" db:"last_message_id"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at" db:"updated_at"`
}

// ConversationParticipant represents a user in a conversation
type ConversationParticipant struct {
	ConversationID uuid.UUID       `json:"conversation_id" db:"conversation_id"`
	UserID         uuid.UUID       `json:"user_id" db:"user_id"`
	Role           ParticipantRole `json:"role" db:"role"`
	JoinedAt       time.Time       `json:"joined_at" db:"joined_at"`
}
