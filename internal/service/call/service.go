package call

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

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
	"realtime-core/pkg/pagination"
)

// CallRepository interface for call persistence
type CallRepository interface {
	// Create inserts a ringing call. It returns repository.ErrActiveCallExists
	// when the pair already has a ringing or answered call.
	Create(ctx context.Context, call *domain.Call) error
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	// Transition applies t only if the stored status still equals t.From,
	// returning repository.ErrStaleState otherwise.
	Transition(ctx context.Context, t *domain.CallTransition) (*domain.Call, error)
	ListRingingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Call, error)
	GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error)
	GetActiveForUser(ctx context.Context, userID uuid.UUID) (*domain.Call, error)
	GetStatistics(ctx context.Context, userID uuid.UUID) (*domain.CallStatistics, error)
}

// BlockChecker interface for the block list collaborator
type BlockChecker interface {
	IsBlocked(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error)
}

// ConversationResolver interface for finding the private thread of two users
type ConversationResolver interface {
	ResolveOrCreatePrivateConversation(ctx context.Context, userA, userB uuid.UUID) (uuid.UUID, error)
}

// Service handles call signaling business logic
type Service struct {
	callRepo      CallRepository
	blocks        BlockChecker
	conversations ConversationResolver
	emitter       events.Emitter
	clock         clock.Clock
	sweepBatch    int
}

// NewService creates a new call service
func NewService(
	callRepo CallRepository,
	blocks BlockChecker,
	conversations ConversationResolver,
	emitter events.Emitter,
	clk clock.Clock,
) *Service {
	return &Service{
		callRepo:      callRepo,
		blocks:        blocks,
		conversations: conversations,
		emitter:       emitter,
		clock:         clk,
		sweepBatch:    constants.CallSweepBatchSize,
	}
}

// InitiateInput contains data for starting a call
type InitiateInput struct {
	CallerID   uuid.UUID
	ReceiverID uuid.UUID
	MediaKind  domain.MediaKind
}

// Initiate starts a ringing call from caller to receiver
func (s *Service) Initiate(ctx context.Context, input *InitiateInput) (*domain.Call, error) {
	if input.CallerID == uuid.Nil || input.ReceiverID == uuid.Nil {
		return nil, apperrors.ValidationError("caller and receiver are required")
	}
	if input.CallerID == input.ReceiverID {
		return nil, apperrors.ValidationError("cannot call yourself")
	}
	if !input.MediaKind.Valid() {
		return nil, apperrors.ValidationError("media kind must be audio or video")
	}

	blocked, err := s.blocks.IsBlocked(ctx, input.ReceiverID, input.CallerID)
	if err != nil {
		return nil, fmt.Errorf("failed to check block list: %w", err)
	}
	if blocked {
		return nil, apperrors.ForbiddenError("receiver is not accepting calls from this user")
	}

	conversationID, err := s.conversations.ResolveOrCreatePrivateConversation(ctx, input.CallerID, input.ReceiverID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve conversation: %w", err)
	}

	call := &domain.Call{
		CallID:         uuid.New(),
		ConversationID: conversationID,
		CallerID:       input.CallerID,
		ReceiverID:     input.ReceiverID,
		MediaKind:      input.MediaKind,
		Status:         domain.CallStatusRinging,
		StartedAt:      s.clock.Now(),
	}

	if err := s.callRepo.Create(ctx, call); err != nil {
		if errors.Is(err, repository.ErrActiveCallExists) {
			metrics.CallConflictsTotal.WithLabelValues("initiate").Inc()
			return nil, apperrors.ConflictError("a call between these users is already in progress")
		}
		return nil, fmt.Errorf("failed to create call: %w", err)
	}

	metrics.CallTransitionsTotal.WithLabelValues(string(call.MediaKind), string(call.Status)).Inc()

	s.emitter.Emit(ctx, events.New(events.UserChannel(call.ReceiverID), events.CallInitiated, events.CallInitiatedPayload{
		CallID:         call.CallID,
		ConversationID: call.ConversationID,
		CallerID:       call.CallerID,
		ReceiverID:     call.ReceiverID,
		MediaKind:      string(call.MediaKind),
		StartedAt:      call.StartedAt,
	}))

	return call, nil
}

// Answer accepts a ringing call. Only the receiver may answer.
func (s *Service) Answer(ctx context.Context, callID, actorID uuid.UUID) (*domain.Call, error) {
	call, err := s.getCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.ReceiverID != actorID {
		return nil, apperrors.UnauthorizedError("only the receiver can answer this call")
	}
	if call.Status != domain.CallStatusRinging {
		return nil, invalidTransition(call, domain.CallStatusAnswered)
	}

	now := s.clock.Now()
	updated, err := s.transition(ctx, "answer", &domain.CallTransition{
		CallID:     call.CallID,
		From:       domain.CallStatusRinging,
		To:         domain.CallStatusAnswered,
		AnsweredAt: &now,
	})
	if err != nil {
		return nil, err
	}

	s.emitter.Emit(ctx, events.ToUsers(events.CallAccepted, events.CallAcceptedPayload{
		CallID:     updated.CallID,
		AnsweredAt: now,
	}, updated.CallerID, updated.ReceiverID)...)

	return updated, nil
}

// Decline rejects a ringing call. Only the receiver may decline.
func (s *Service) Decline(ctx context.Context, callID, actorID uuid.UUID) (*domain.Call, error) {
	call, err := s.getCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.ReceiverID != actorID {
		return nil, apperrors.UnauthorizedError("only the receiver can decline this call")
	}
	if call.Status != domain.CallStatusRinging {
		return nil, invalidTransition(call, domain.CallStatusDeclined)
	}

	now := s.clock.Now()
	updated, err := s.transition(ctx, "decline", &domain.CallTransition{
		CallID:  call.CallID,
		From:    domain.CallStatusRinging,
		To:      domain.CallStatusDeclined,
		EndedAt: &now,
	})
	if err != nil {
		return nil, err
	}

	s.emitter.Emit(ctx, events.ToUsers(events.CallRejected, events.CallRejectedPayload{
		CallID: updated.CallID,
	}, updated.CallerID, updated.ReceiverID)...)

	return updated, nil
}

// End hangs up a ringing or answered call. Either party may end it.
func (s *Service) End(ctx context.Context, callID, actorID uuid.UUID) (*domain.Call, error) {
	call, err := s.getCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !call.IsParty(actorID) {
		return nil, apperrors.UnauthorizedError("only call participants can end this call")
	}
	if !call.Status.IsActive() {
		return nil, invalidTransition(call, domain.CallStatusEnded)
	}

	reason := constants.CallEndReasonHangup
	if call.Status == domain.CallStatusRinging {
		reason = constants.CallEndReasonCancelled
	}

	return s.end(ctx, call, reason, "end")
}

// SweepStale force-ends every call that has been ringing longer than threshold.
// Failures on individual calls are logged and the sweep continues.
func (s *Service) SweepStale(ctx context.Context, threshold time.Duration) (int, error) {
	cutoff := s.clock.Now().Add(-threshold)

	stale, err := s.callRepo.ListRingingBefore(ctx, cutoff, s.sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale calls: %w", err)
	}

	swept := 0
	for _, call := range stale {
		if ctx.Err() != nil {
			return swept, ctx.Err()
		}
		if _, err := s.end(ctx, call, constants.CallEndReasonTimeout, "sweep"); err != nil {
			if apperrors.HasCode(err, apperrors.ErrCodeConflict) {
				// answered or ended by a party since the listing
				continue
			}
			logger.Warn("Failed to sweep stale call",
				zap.String("call_id", call.CallID.String()),
				zap.Error(err))
			continue
		}
		swept++
	}

	if swept > 0 {
		metrics.CallsSweptTotal.Add(float64(swept))
		logger.Info("Swept stale ringing calls", zap.Int("count", swept))
	}
	return swept, nil
}

// Get returns a call visible to one of its parties
func (s *Service) Get(ctx context.Context, callID, actorID uuid.UUID) (*domain.Call, error) {
	call, err := s.getCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !call.IsParty(actorID) {
		return nil, apperrors.UnauthorizedError("not a participant of this call")
	}
	return call, nil
}

// GetHistory returns the user's calls, newest first
func (s *Service) GetHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	limit = pagination.Clamp(limit)
	if offset < 0 {
		offset = 0
	}

	calls, err := s.callRepo.GetUserCalls(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get call history: %w", err)
	}
	return calls, nil
}

// GetActive returns the user's ringing or answered call, if any
func (s *Service) GetActive(ctx context.Context, userID uuid.UUID) (*domain.Call, error) {
	call, err := s.callRepo.GetActiveForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFoundError("Active call")
		}
		return nil, fmt.Errorf("failed to get active call: %w", err)
	}
	return call, nil
}

// GetStatistics summarizes the user's call history
func (s *Service) GetStatistics(ctx context.Context, userID uuid.UUID) (*domain.CallStatistics, error) {
	stats, err := s.callRepo.GetStatistics(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get call statistics: %w", err)
	}
	return stats, nil
}

func (s *Service) end(ctx context.Context, call *domain.Call, reason, op string) (*domain.Call, error) {
	now := s.clock.Now()
	t := &domain.CallTransition{
		CallID:    call.CallID,
		From:      call.Status,
		To:        domain.CallStatusEnded,
		EndedAt:   &now,
		EndReason: reason,
	}
	if call.AnsweredAt != nil {
		d := durationSeconds(*call.AnsweredAt, now)
		t.Duration = &d
	}

	updated, err := s.transition(ctx, op, t)
	if err != nil {
		return nil, err
	}

	durationS := 0
	if updated.Duration != nil {
		durationS = *updated.Duration
		metrics.CallDurationSeconds.WithLabelValues(string(updated.MediaKind)).Observe(float64(durationS))
	}

	s.emitter.Emit(ctx, events.ToUsers(events.CallEnded, events.CallEndedPayload{
		CallID:          updated.CallID,
		EndedAt:         now,
		DurationSeconds: durationS,
		Reason:          reason,
	}, updated.CallerID, updated.ReceiverID)...)

	return updated, nil
}

func (s *Service) transition(ctx context.Context, op string, t *domain.CallTransition) (*domain.Call, error) {
	updated, err := s.callRepo.Transition(ctx, t)
	if err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			metrics.CallConflictsTotal.WithLabelValues(op).Inc()
			return nil, apperrors.ConflictError("call was updated by another request")
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFoundError("Call")
		}
		return nil, fmt.Errorf("failed to update call: %w", err)
	}
	metrics.CallTransitionsTotal.WithLabelValues(string(updated.MediaKind), string(updated.Status)).Inc()
	return updated, nil
}

func (s *Service) getCall(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFoundError("Call")
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}
	return call, nil
}

func invalidTransition(call *domain.Call, to domain.CallStatus) *apperrors.AppError {
	return apperrors.InvalidTransitionError(string(call.Status), string(to)).WithDetails(call)
}

// durationSeconds floors the elapsed time to whole seconds, never negative
func durationSeconds(from, to time.Time) int {
	d := to.Sub(from).Seconds()
	if d < 0 {
		return 0
	}
	return int(math.Floor(d))
}
