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

type cursorKey struct {
	conversationID uuid.UUID
	userID         uuid.UUID
}

// MessageRepository stores messages and read cursors in memory
type MessageRepository struct {
	mu       sync.RWMutex
	dir      *Directory
	nextID   int64
	messages map[int64]*domain.Message
	cursors  map[cursorKey]*domain.ReadCursor
}

// NewMessageRepository creates a repository that keeps dir's last-message pointers current
func NewMessageRepository(dir *Directory) *MessageRepository {
	return &MessageRepository{
		dir:      dir,
		messages: make(map[int64]*domain.Message),
		cursors:  make(map[cursorKey]*domain.ReadCursor),
	}
}

// Create assigns the next id and advances the conversation pointer under one lock
func (r *MessageRepository) Create(_ context.Context, msg *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	msg.ID = r.nextID
	r.messages[msg.ID] = copyMessage(msg)
	if r.dir != nil {
		r.dir.setLastMessage(msg.ConversationID, msg.ID, msg.CreatedAt)
	}
	return nil
}

func (r *MessageRepository) GetByID(_ context.Context, messageID int64) (*domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msg, ok := r.messages[messageID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyMessage(msg), nil
}

// AdvanceStatus moves the message forward to status; it reports false when the
// message was already at or past it
func (r *MessageRepository) AdvanceStatus(_ context.Context, messageID int64, status domain.MessageStatus, at time.Time) (*domain.Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, ok := r.messages[messageID]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	if msg.Status.Rank() >= status.Rank() {
		return copyMessage(msg), false, nil
	}
	msg.Status = status
	if status == domain.MessageStatusRead {
		readAt := at
		msg.ReadAt = &readAt
	}
	return copyMessage(msg), true, nil
}

// MarkReadUpTo marks unread messages up to upTo not sent by reader as read, returning them in id order
func (r *MessageRepository) MarkReadUpTo(_ context.Context, conversationID, readerID uuid.UUID, upTo int64, at time.Time) ([]*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.Message
	for _, msg := range r.messages {
		if msg.ConversationID != conversationID || msg.ID > upTo || msg.SenderID == readerID {
			continue
		}
		if msg.Status == domain.MessageStatusRead {
			continue
		}
		msg.Status = domain.MessageStatusRead
		readAt := at
		msg.ReadAt = &readAt
		out = append(out, copyMessage(msg))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MessageRepository) UpdateContent(_ context.Context, messageID int64, content string, editedAt time.Time) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, ok := r.messages[messageID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	msg.Content = content
	at := editedAt
	msg.EditedAt = &at
	return copyMessage(msg), nil
}

// Delete removes a message, reporting whether it existed
func (r *MessageRepository) Delete(_ context.Context, messageID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.messages[messageID]; !ok {
		return false, nil
	}
	delete(r.messages, messageID)
	return true, nil
}

// AdvanceReadCursor sets the cursor to max(current, messageID)
func (r *MessageRepository) AdvanceReadCursor(_ context.Context, conversationID, userID uuid.UUID, messageID int64, at time.Time) (*domain.ReadCursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := cursorKey{conversationID, userID}
	cur, ok := r.cursors[key]
	if !ok {
		cur = &domain.ReadCursor{ConversationID: conversationID, UserID: userID}
		r.cursors[key] = cur
	}
	if messageID > cur.LastReadMessageID {
		cur.LastReadMessageID = messageID
		cur.UpdatedAt = at
	}
	cp := *cur
	return &cp, nil
}

// GetReadCursor returns the cursor, or a zero cursor when the user has read nothing
func (r *MessageRepository) GetReadCursor(_ context.Context, conversationID, userID uuid.UUID) (*domain.ReadCursor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cur, ok := r.cursors[cursorKey{conversationID, userID}]; ok {
		cp := *cur
		return &cp, nil
	}
	return &domain.ReadCursor{ConversationID: conversationID, UserID: userID}, nil
}

func copyMessage(m *domain.Message) *domain.Message {
	cp := *m
	cp.EditedAt = copyTime(m.EditedAt)
	cp.ReadAt = copyTime(m.ReadAt)
	if m.MediaKey != nil {
		k := *m.MediaKey
		cp.MediaKey = &k
	}
	return &cp
}
