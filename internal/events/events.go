// Package events defines the realtime event contract and the emitters that
// hand events to a pub/sub transport after a state change has been committed.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event names
const (
	CallInitiated  = "call-initiated"
	CallAccepted   = "call-accepted"
	CallRejected   = "call-rejected"
	CallEnded      = "call-ended"
	MessageSent    = "message-sent"
	MessageRead    = "message-read"
	StatusUploaded = "status-uploaded"
)

// UserChannel is the private channel of a single user
func UserChannel(userID uuid.UUID) string {
	return fmt.Sprintf("user.%s", userID)
}

// ConversationChannel is the shared channel of a conversation
func ConversationChannel(conversationID uuid.UUID) string {
	return fmt.Sprintf("conversation.%s", conversationID)
}

// Event is an immutable value addressed to one channel
type Event struct {
	Channel string
	Name    string
	Payload any
}

// New creates an event for a channel
func New(channel, name string, payload any) Event {
	return Event{Channel: channel, Name: name, Payload: payload}
}

// ToUsers fans one payload out to the private channel of every user
func ToUsers(name string, payload any, userIDs ...uuid.UUID) []Event {
	out := make([]Event, 0, len(userIDs))
	for _, id := range userIDs {
		out = append(out, New(UserChannel(id), name, payload))
	}
	return out
}

// Envelope is the wire form published to a channel
type Envelope struct {
	Event       string          `json:"event"`
	Data        json.RawMessage `json:"data"`
	PublishedAt time.Time       `json:"published_at"`
}

// Encode serializes an event into its wire envelope
func Encode(e Event, publishedAt time.Time) ([]byte, error) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", e.Name, err)
	}
	return json.Marshal(Envelope{
		Event:       e.Name,
		Data:        data,
		PublishedAt: publishedAt,
	})
}

// Decode parses a wire envelope
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event envelope: %w", err)
	}
	return &env, nil
}

// CallInitiatedPayload is sent to the receiver when a call starts ringing
type CallInitiatedPayload struct {
	CallID         uuid.UUID `json:"callId"`
	ConversationID uuid.UUID `json:"conversationId"`
	CallerID       uuid.UUID `json:"callerId"`
	ReceiverID     uuid.UUID `json:"receiverId"`
	MediaKind      string    `json:"mediaKind"`
	StartedAt      time.Time `json:"startedAt"`
}

type CallAcceptedPayload struct {
	CallID     uuid.UUID `json:"callId"`
	AnsweredAt time.Time `json:"answeredAt"`
}

type CallRejectedPayload struct {
	CallID uuid.UUID `json:"callId"`
}

// CallEndedPayload carries DurationSeconds 0 for calls that were never answered
type CallEndedPayload struct {
	CallID          uuid.UUID `json:"callId"`
	EndedAt         time.Time `json:"endedAt"`
	DurationSeconds int       `json:"durationSeconds"`
	Reason          string    `json:"reason,omitempty"`
}

type MessageSentPayload struct {
	MessageID      int64     `json:"messageId"`
	ConversationID uuid.UUID `json:"conversationId"`
	SenderID       uuid.UUID `json:"senderId"`
	ContentSummary string    `json:"contentSummary"`
	CreatedAt      time.Time `json:"createdAt"`
}

type MessageReadPayload struct {
	MessageID      int64     `json:"messageId"`
	ConversationID uuid.UUID `json:"conversationId"`
	ReaderID       uuid.UUID `json:"readerId"`
	ReadAt         time.Time `json:"readAt"`
}

type StatusUploadedPayload struct {
	StatusID  uuid.UUID `json:"statusId"`
	AuthorID  uuid.UUID `json:"authorId"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}
