package message

import (
	"context"
	"errors"
	"fmt"
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

// MessageRepository interface for message and read cursor persistence
type MessageRepository interface {
	// Create assigns msg.ID and advances the conversation's last-message pointer atomically
	Create(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, messageID int64) (*domain.Message, error)
	// AdvanceStatus moves status forward only; the bool reports whether it changed
	AdvanceStatus(ctx context.Context, messageID int64, status domain.MessageStatus, at time.Time) (*domain.Message, bool, error)
	MarkReadUpTo(ctx context.Context, conversationID, readerID uuid.UUID, upTo int64, at time.Time) ([]*domain.Message, error)
	UpdateContent(ctx context.Context, messageID int64, content string, editedAt time.Time) (*domain.Message, error)
	Delete(ctx context.Context, messageID int64) (bool, error)
	AdvanceReadCursor(ctx context.Context, conversationID, userID uuid.UUID, messageID int64, at time.Time) (*domain.ReadCursor, error)
	GetReadCursor(ctx context.Context, conversationID, userID uuid.UUID) (*domain.ReadCursor, error)
}

// ConversationDirectory interface for conversation membership
type ConversationDirectory interface {
	ParticipantsOf(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error)
	RoleOf(ctx context.Context, conversationID, userID uuid.UUID) (domain.ParticipantRole, bool, error)
}

// MediaStore interface for removing attached media objects
type MediaStore interface {
	Delete(ctx context.Context, key string) error
}

// Service handles message delivery and read receipts
type Service struct {
	messageRepo   MessageRepository
	conversations ConversationDirectory
	media         MediaStore
	emitter       events.Emitter
	clock         clock.Clock
}

// NewService creates a new message service
func NewService(
	messageRepo MessageRepository,
	conversations ConversationDirectory,
	media MediaStore,
	emitter events.Emitter,
	clk clock.Clock,
) *Service {
	return &Service{
		messageRepo:   messageRepo,
		conversations: conversations,
		media:         media,
		emitter:       emitter,
		clock:         clk,
	}
}

// SendInput contains data for sending a message
type SendInput struct {
	SenderID       uuid.UUID
	ConversationID uuid.UUID
	Content        domain.MessageContent
}

// Send stores a message and notifies every other participant
func (s *Service) Send(ctx context.Context, input *SendInput) (*domain.Message, error) {
	content := input.Content
	if err := validateContent(&content); err != nil {
		return nil, err
	}

	participants, err := s.participants(ctx, input.ConversationID)
	if err != nil {
		return nil, err
	}
	if !contains(participants, input.SenderID) {
		return nil, apperrors.UnauthorizedError("sender is not a participant of this conversation")
	}

	msg := &domain.Message{
		ConversationID: input.ConversationID,
		SenderID:       input.SenderID,
		Kind:           content.Kind,
		Content:        content.Body,
		MediaKey:       content.MediaKey,
		Status:         domain.MessageStatusSent,
		CreatedAt:      s.clock.Now(),
	}
	if err := s.messageRepo.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	metrics.MessagesSentTotal.WithLabelValues(string(msg.Kind)).Inc()

	payload := events.MessageSentPayload{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		ContentSummary: summarize(msg),
		CreatedAt:      msg.CreatedAt,
	}
	recipients := make([]uuid.UUID, 0, len(participants))
	for _, id := range participants {
		if id != msg.SenderID {
			recipients = append(recipients, id)
		}
	}
	s.emitter.Emit(ctx, events.ToUsers(events.MessageSent, payload, recipients...)...)

	return msg, nil
}

// MarkDelivered advances a message from sent to delivered. Later statuses are left untouched.
func (s *Service) MarkDelivered(ctx context.Context, messageID int64) (*domain.Message, error) {
	msg, advanced, err := s.messageRepo.AdvanceStatus(ctx, messageID, domain.MessageStatusDelivered, s.clock.Now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFoundError("Message")
		}
		return nil, fmt.Errorf("failed to mark message delivered: %w", err)
	}
	if advanced {
		metrics.MessageStatusTransitionsTotal.WithLabelValues(string(domain.MessageStatusDelivered)).Inc()
	}
	return msg, nil
}

// MarkDeliveredBy acknowledges receipt on behalf of a recipient client
func (s *Service) MarkDeliveredBy(ctx context.Context, messageID int64, recipientID uuid.UUID) (*domain.Message, error) {
	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.requireRecipient(ctx, msg, recipientID); err != nil {
		return nil, err
	}
	return s.MarkDelivered(ctx, messageID)
}

// MarkRead marks a message read by a recipient and advances their read cursor.
// Repeated calls are no-ops and emit nothing.
func (s *Service) MarkRead(ctx context.Context, messageID int64, readerID uuid.UUID) (*domain.Message, error) {
	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.requireRecipient(ctx, msg, readerID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	updated, advanced, err := s.messageRepo.AdvanceStatus(ctx, messageID, domain.MessageStatusRead, now)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFoundError("Message")
		}
		return nil, fmt.Errorf("failed to mark message read: %w", err)
	}

	if _, err := s.messageRepo.AdvanceReadCursor(ctx, msg.ConversationID, readerID, messageID, now); err != nil {
		return nil, fmt.Errorf("failed to advance read cursor: %w", err)
	}

	if advanced {
		metrics.MessageStatusTransitionsTotal.WithLabelValues(string(domain.MessageStatusRead)).Inc()
		s.emitter.Emit(ctx, readEvent(updated, readerID, now))
	}
	return updated, nil
}

// MarkConversationRead marks every message up to upTo as read by reader and
// moves the cursor there. upTo must name an existing message of the conversation.
// One message-read event is emitted per message that changed.
func (s *Service) MarkConversationRead(ctx context.Context, conversationID, readerID uuid.UUID, upTo int64) (*domain.ReadCursor, error) {
	if upTo <= 0 {
		return nil, apperrors.ValidationError("message id must be positive")
	}
	if err := s.requireParticipant(ctx, conversationID, readerID); err != nil {
		return nil, err
	}
	target, err := s.getMessage(ctx, upTo)
	if err != nil {
		return nil, err
	}
	if target.ConversationID != conversationID {
		return nil, apperrors.ValidationError("message does not belong to this conversation")
	}

	now := s.clock.Now()
	changed, err := s.messageRepo.MarkReadUpTo(ctx, conversationID, readerID, upTo, now)
	if err != nil {
		return nil, fmt.Errorf("failed to mark conversation read: %w", err)
	}

	cursor, err := s.messageRepo.AdvanceReadCursor(ctx, conversationID, readerID, upTo, now)
	if err != nil {
		return nil, fmt.Errorf("failed to advance read cursor: %w", err)
	}

	if len(changed) > 0 {
		metrics.MessageStatusTransitionsTotal.WithLabelValues(string(domain.MessageStatusRead)).Add(float64(len(changed)))
		evs := make([]events.Event, 0, len(changed))
		for _, msg := range changed {
			evs = append(evs, readEvent(msg, readerID, now))
		}
		s.emitter.Emit(ctx, evs...)
	}
	return cursor, nil
}

// GetReadCursor returns how far reader has read in a conversation
func (s *Service) GetReadCursor(ctx context.Context, conversationID, readerID uuid.UUID) (*domain.ReadCursor, error) {
	if err := s.requireParticipant(ctx, conversationID, readerID); err != nil {
		return nil, err
	}
	cursor, err := s.messageRepo.GetReadCursor(ctx, conversationID, readerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get read cursor: %w", err)
	}
	return cursor, nil
}

// Edit replaces the body of a text message. Delivery status is unchanged.
func (s *Service) Edit(ctx context.Context, messageID int64, actorID uuid.UUID, newContent string) (*domain.Message, error) {
	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != actorID {
		return nil, apperrors.UnauthorizedError("only the sender can edit this message")
	}
	if msg.Kind != domain.MessageKindText {
		return nil, apperrors.ValidationError("only text messages can be edited")
	}
	newContent = sanitize.Text(newContent)
	if err := validateBody(newContent); err != nil {
		return nil, err
	}

	updated, err := s.messageRepo.UpdateContent(ctx, messageID, newContent, s.clock.Now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFoundError("Message")
		}
		return nil, fmt.Errorf("failed to edit message: %w", err)
	}
	return updated, nil
}

// Delete removes a message and its media. The sender or a conversation admin may delete.
// Deleting a message that no longer exists succeeds.
func (s *Service) Delete(ctx context.Context, messageID int64, actorID uuid.UUID) error {
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to get message: %w", err)
	}

	if msg.SenderID != actorID {
		role, member, err := s.conversations.RoleOf(ctx, msg.ConversationID, actorID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("failed to check role: %w", err)
		}
		if !member || role != domain.RoleAdmin {
			return apperrors.UnauthorizedError("only the sender or a conversation admin can delete this message")
		}
	}

	if msg.MediaKey != nil && *msg.MediaKey != "" {
		if err := s.media.Delete(ctx, *msg.MediaKey); err != nil {
			return fmt.Errorf("failed to delete message media: %w", err)
		}
	}

	deleted, err := s.messageRepo.Delete(ctx, messageID)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if deleted {
		metrics.MessagesDeletedTotal.Inc()
		logger.Debug("Message deleted",
			zap.Int64("message_id", messageID),
			zap.String("actor_id", actorID.String()))
	}
	return nil
}

func (s *Service) getMessage(ctx context.Context, messageID int64) (*domain.Message, error) {
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFoundError("Message")
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// requireRecipient checks that userID is a participant other than the sender
func (s *Service) requireRecipient(ctx context.Context, msg *domain.Message, userID uuid.UUID) error {
	if msg.SenderID == userID {
		return apperrors.UnauthorizedError("senders cannot acknowledge their own messages")
	}
	return s.requireParticipant(ctx, msg.ConversationID, userID)
}

func (s *Service) requireParticipant(ctx context.Context, conversationID, userID uuid.UUID) error {
	_, member, err := s.conversations.RoleOf(ctx, conversationID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFoundError("Conversation")
		}
		return fmt.Errorf("failed to check membership: %w", err)
	}
	if !member {
		return apperrors.UnauthorizedError("not a participant of this conversation")
	}
	return nil
}

func (s *Service) participants(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	participants, err := s.conversations.ParticipantsOf(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFoundError("Conversation")
		}
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	return participants, nil
}

func readEvent(msg *domain.Message, readerID uuid.UUID, at time.Time) events.Event {
	return events.New(events.UserChannel(msg.SenderID), events.MessageRead, events.MessageReadPayload{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		ReaderID:       readerID,
		ReadAt:         at,
	})
}

// validateContent checks c and normalizes its body and media key in place
func validateContent(c *domain.MessageContent) error {
	if !c.Kind.Valid() {
		return apperrors.ValidationError("unknown message kind")
	}
	c.Body = sanitize.Text(c.Body)
	if c.Kind == domain.MessageKindText {
		c.MediaKey = nil
		return validateBody(c.Body)
	}
	if c.MediaKey == nil || strings.TrimSpace(*c.MediaKey) == "" {
		return apperrors.ValidationError("media messages require a media key")
	}
	key, ok := sanitize.ObjectKey(*c.MediaKey)
	if !ok {
		return apperrors.ValidationError("invalid media key")
	}
	c.MediaKey = &key
	if utf8.RuneCountInString(c.Body) > constants.MaxMessageLength {
		return apperrors.ValidationError("caption is too long")
	}
	return nil
}

func validateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return apperrors.ValidationError("message content is required")
	}
	if utf8.RuneCountInString(body) > constants.MaxMessageLength {
		return apperrors.ValidationError("message content is too long")
	}
	return nil
}

// summarize builds the preview shown in notifications
func summarize(msg *domain.Message) string {
	if msg.Kind != domain.MessageKindText {
		if msg.Content != "" {
			return truncate("["+string(msg.Kind)+"] "+msg.Content, constants.ContentSummaryLength)
		}
		return "[" + string(msg.Kind) + "]"
	}
	return truncate(msg.Content, constants.ContentSummaryLength)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}

func contains(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
