package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageStatus is the delivery state of a message
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// Rank orders statuses so that sent < delivered < read
func (s MessageStatus) Rank() int {
	switch s {
	case MessageStatusSent:
		return 1
	case MessageStatusDelivered:
		return 2
	case MessageStatusRead:
		return 3
	default:
		return 0
	}
}

// MessageKind is the content type of a message
type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindImage MessageKind = "image"
	MessageKindVideo MessageKind = "video"
	MessageKindAudio MessageKind = "audio"
	MessageKindFile  MessageKind = "file"
)

// Valid reports whether k is a known message kind
func (k MessageKind) Valid() bool {
	switch k {
	case MessageKindText, MessageKindImage, MessageKindVideo, MessageKindAudio, MessageKindFile:
		return true
	}
	return false
}

// Message represents one unit of conversation content.
// ID is a monotonically increasing sequence so read cursors can be compared.
type Message struct {
	ID             int64         `json:"id" db:"id"`
	ConversationID uuid.UUID     `json:"conversation_id" db:"conversation_id"`
	SenderID       uuid.UUID     `json:"sender_id" db:"sender_id"`
	Kind           MessageKind   `json:"kind" db:"kind"`
	Content        string        `json:"content" db:"content"`
	MediaKey       *string       `json:"media_key,omitempty" db:"media_key"` // object key in media storage
	Status         MessageStatus `json:"status" db:"status"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	EditedAt       *time.Time    `json:"edited_at,omitempty" db:"edited_at"`
	ReadAt         *time.Time    `json:"read_at,omitempty" db:"read_at"`
}

// MessageContent is the payload supplied by a sender
type MessageContent struct {
	Kind     MessageKind
	Body     string
	MediaKey *string
}

// ReadCursor is the last message a participant has read in a conversation
type ReadCursor struct {
	ConversationID    uuid.UUID `json:"conversation_id" db:"conversation_id"`
	UserID            uuid.UUID `json:"user_id" db:"user_id"`
	LastReadMessageID int64     `json:"last_read_message_id" db:"last_read_message_id"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}
