package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"realtime-core/internal/domain"
	"realtime-core/internal/repository"
)

type contactEntry struct {
	closeFriend bool
}

// Directory holds conversation membership, block lists and contact lists
type Directory struct {
	mu            sync.RWMutex
	conversations map[uuid.UUID]*domain.Conversation
	participants  map[uuid.UUID]map[uuid.UUID]domain.ParticipantRole
	privateByPair map[string]uuid.UUID
	blocks        map[uuid.UUID]map[uuid.UUID]struct{}
	contacts      map[uuid.UUID]map[uuid.UUID]contactEntry
}

func NewDirectory() *Directory {
	return &Directory{
		conversations: make(map[uuid.UUID]*domain.Conversation),
		participants:  make(map[uuid.UUID]map[uuid.UUID]domain.ParticipantRole),
		privateByPair: make(map[string]uuid.UUID),
		blocks:        make(map[uuid.UUID]map[uuid.UUID]struct{}),
		contacts:      make(map[uuid.UUID]map[uuid.UUID]contactEntry),
	}
}

// CreateGroup creates a group conversation with admin as its first admin
func (d *Directory) CreateGroup(admin uuid.UUID, members ...uuid.UUID) uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := uuid.New()
	now := time.Now().UTC()
	d.conversations[id] = &domain.Conversation{
		ConversationID: id,
		Type:           domain.ConversationTypeGroup,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	d.participants[id] = map[uuid.UUID]domain.ParticipantRole{admin: domain.RoleAdmin}
	for _, m := range members {
		if m != admin {
			d.participants[id][m] = domain.RoleMember
		}
	}
	return id
}

// ResolveOrCreatePrivateConversation returns the private thread of a and b, creating it once
func (d *Directory) ResolveOrCreatePrivateConversation(_ context.Context, a, b uuid.UUID) (uuid.UUID, error) {
	key := domain.PairKey(a, b)

	d.mu.Lock()
	defer d.mu.Unlock()

	if id, ok := d.privateByPair[key]; ok {
		return id, nil
	}

	id := uuid.New()
	now := time.Now().UTC()
	d.conversations[id] = &domain.Conversation{
		ConversationID: id,
		Type:           domain.ConversationTypePrivate,
		PairKey:        &key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	d.participants[id] = map[uuid.UUID]domain.ParticipantRole{a: domain.RoleMember, b: domain.RoleMember}
	d.privateByPair[key] = id
	return id, nil
}

func (d *Directory) ParticipantsOf(_ context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	members, ok := d.participants[conversationID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := make([]uuid.UUID, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out, nil
}

// RoleOf returns the user's role, and false when the user is not a participant
func (d *Directory) RoleOf(_ context.Context, conversationID, userID uuid.UUID) (domain.ParticipantRole, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	members, ok := d.participants[conversationID]
	if !ok {
		return "", false, repository.ErrNotFound
	}
	role, ok := members[userID]
	return role, ok, nil
}

// Block records that blocker blocked blocked
func (d *Directory) Block(blocker, blocked uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.blocks[blocker] == nil {
		d.blocks[blocker] = make(map[uuid.UUID]struct{})
	}
	d.blocks[blocker][blocked] = struct{}{}
}

func (d *Directory) IsBlocked(_ context.Context, blockerID, blockedID uuid.UUID) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.blocks[blockerID][blockedID]
	return ok, nil
}

// blockedEither reports whether a blocked b or b blocked a
func (d *Directory) blockedEither(a, b uuid.UUID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.blocks[a][b]; ok {
		return true
	}
	_, ok := d.blocks[b][a]
	return ok
}

// AddContact adds contact to owner's contact list
func (d *Directory) AddContact(owner, contact uuid.UUID, closeFriend bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.contacts[owner] == nil {
		d.contacts[owner] = make(map[uuid.UUID]contactEntry)
	}
	d.contacts[owner][contact] = contactEntry{closeFriend: closeFriend}
}

func (d *Directory) ContactsOf(_ context.Context, owner uuid.UUID) ([]uuid.UUID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(d.contacts[owner]))
	for id := range d.contacts[owner] {
		out = append(out, id)
	}
	return out, nil
}

func (d *Directory) CloseFriendsOf(_ context.Context, owner uuid.UUID) ([]uuid.UUID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []uuid.UUID
	for id, entry := range d.contacts[owner] {
		if entry.closeFriend {
			out = append(out, id)
		}
	}
	return out, nil
}

// ContactOwnersOf returns the users whose contact list includes contact
func (d *Directory) ContactOwnersOf(_ context.Context, contact uuid.UUID) ([]uuid.UUID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []uuid.UUID
	for owner, list := range d.contacts {
		if _, ok := list[contact]; ok {
			out = append(out, owner)
		}
	}
	return out, nil
}

func (d *Directory) IsContact(_ context.Context, owner, other uuid.UUID) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.contacts[owner][other]
	return ok, nil
}

func (d *Directory) IsCloseFriend(_ context.Context, owner, other uuid.UUID) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.contacts[owner][other].closeFriend, nil
}

// setLastMessage advances the conversation's last-message pointer
func (d *Directory) setLastMessage(conversationID uuid.UUID, messageID int64, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if conv, ok := d.conversations[conversationID]; ok {
		id := messageID
		conv.LastMessageID = &id
		conv.UpdatedAt = at
	}
}

// GetConversation returns conversation metadata
func (d *Directory) GetConversation(_ context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	conv, ok := d.conversations[conversationID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *conv
	return &cp, nil
}
