// Package memory provides in-process repositories with the same atomicity
// guarantees as the SQL backends. They back the service tests and single-node
// runs without a database.
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

// CallRepository stores calls in memory
type CallRepository struct {
	mu     sync.RWMutex
	calls  map[uuid.UUID]*domain.Call
	active map[string]uuid.UUID // pair key -> ringing/answered call
}

func NewCallRepository() *CallRepository {
	return &CallRepository{
		calls:  make(map[uuid.UUID]*domain.Call),
		active: make(map[string]uuid.UUID),
	}
}

// Create inserts a call, enforcing one active call per pair
func (r *CallRepository) Create(_ context.Context, call *domain.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := call.PairKey()
	if call.Status.IsActive() {
		if _, exists := r.active[key]; exists {
			return repository.ErrActiveCallExists
		}
		r.active[key] = call.CallID
	}
	r.calls[call.CallID] = copyCall(call)
	return nil
}

func (r *CallRepository) GetByID(_ context.Context, callID uuid.UUID) (*domain.Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	call, ok := r.calls[callID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyCall(call), nil
}

// Transition applies t only if the stored status equals t.From
func (r *CallRepository) Transition(_ context.Context, t *domain.CallTransition) (*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	call, ok := r.calls[t.CallID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if call.Status != t.From {
		return nil, repository.ErrStaleState
	}

	call.Status = t.To
	if t.AnsweredAt != nil {
		call.AnsweredAt = copyTime(t.AnsweredAt)
	}
	if t.EndedAt != nil {
		call.EndedAt = copyTime(t.EndedAt)
	}
	if t.Duration != nil {
		d := *t.Duration
		call.Duration = &d
	}
	if t.EndReason != "" {
		call.EndReason = t.EndReason
	}
	if !call.Status.IsActive() {
		delete(r.active, call.PairKey())
	}
	return copyCall(call), nil
}

// ListRingingBefore returns ringing calls started before cutoff, oldest first
func (r *CallRepository) ListRingingBefore(_ context.Context, cutoff time.Time, limit int) ([]*domain.Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Call
	for _, call := range r.calls {
		if call.Status == domain.CallStatusRinging && call.StartedAt.Before(cutoff) {
			out = append(out, copyCall(call))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetUserCalls returns calls involving userID, newest first
func (r *CallRepository) GetUserCalls(_ context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	all := r.userCalls(userID)
	sort.Slice(all, func(i, j int) bool { return all[i].StartedAt.After(all[j].StartedAt) })

	if offset >= len(all) {
		return []*domain.Call{}, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *CallRepository) GetActiveForUser(_ context.Context, userID uuid.UUID) (*domain.Call, error) {
	var latest *domain.Call
	for _, call := range r.userCalls(userID) {
		if call.Status.IsActive() && (latest == nil || call.StartedAt.After(latest.StartedAt)) {
			latest = call
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	return latest, nil
}

func (r *CallRepository) GetStatistics(_ context.Context, userID uuid.UUID) (*domain.CallStatistics, error) {
	stats := &domain.CallStatistics{}
	for _, call := range r.userCalls(userID) {
		stats.Add(call, userID)
	}
	return stats, nil
}

func (r *CallRepository) userCalls(userID uuid.UUID) []*domain.Call {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Call
	for _, call := range r.calls {
		if call.IsParty(userID) {
			out = append(out, copyCall(call))
		}
	}
	return out
}

func copyCall(c *domain.Call) *domain.Call {
	cp := *c
	cp.AnsweredAt = copyTime(c.AnsweredAt)
	cp.EndedAt = copyTime(c.EndedAt)
	if c.Duration != nil {
		d := *c.Duration
		cp.Duration = &d
	}
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
