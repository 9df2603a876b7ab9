package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"realtime-core/internal/domain"
	"realtime-core/internal/events"
	"realtime-core/internal/repository/memory"
	"realtime-core/pkg/clock"
	"realtime-core/pkg/constants"
	apperrors "realtime-core/pkg/errors"
)

// MockBlockChecker is a mock implementation of BlockChecker
type MockBlockChecker struct {
	mock.Mock
}

func (m *MockBlockChecker) IsBlocked(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error) {
	args := m.Called(ctx, blockerID, blockedID)
	return args.Bool(0), args.Error(1)
}

// recordingEmitter captures emitted events in order
type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(_ context.Context, evs ...events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evs...)
}

func (r *recordingEmitter) named(name string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	svc     *Service
	repo    *memory.CallRepository
	dir     *memory.Directory
	emitter *recordingEmitter
	clock   *clock.Manual
	caller  uuid.UUID
	callee  uuid.UUID
}

func newFixture() *fixture {
	f := &fixture{
		repo:    memory.NewCallRepository(),
		dir:     memory.NewDirectory(),
		emitter: &recordingEmitter{},
		clock:   clock.NewManual(time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)),
		caller:  uuid.New(),
		callee:  uuid.New(),
	}
	f.svc = NewService(f.repo, f.dir, f.dir, f.emitter, f.clock)
	return f
}

func (f *fixture) initiate(t *testing.T) *domain.Call {
	t.Helper()
	call, err := f.svc.Initiate(context.Background(), &InitiateInput{
		CallerID:   f.caller,
		ReceiverID: f.callee,
		MediaKind:  domain.MediaKindAudio,
	})
	require.NoError(t, err)
	return call
}

func TestInitiate(t *testing.T) {
	f := newFixture()

	call := f.initiate(t)

	assert.Equal(t, domain.CallStatusRinging, call.Status)
	assert.Equal(t, f.clock.Now(), call.StartedAt)
	assert.NotEqual(t, uuid.Nil, call.ConversationID)

	initiated := f.emitter.named(events.CallInitiated)
	require.Len(t, initiated, 1)
	assert.Equal(t, events.UserChannel(f.callee), initiated[0].Channel)
	payload := initiated[0].Payload.(events.CallInitiatedPayload)
	assert.Equal(t, call.CallID, payload.CallID)
	assert.Equal(t, "audio", payload.MediaKind)
}

func TestInitiate_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.Initiate(ctx, &InitiateInput{CallerID: f.caller, ReceiverID: f.caller, MediaKind: domain.MediaKindAudio})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))

	_, err = f.svc.Initiate(ctx, &InitiateInput{CallerID: f.caller, ReceiverID: f.callee, MediaKind: "voice"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))

	assert.Empty(t, f.emitter.named(events.CallInitiated))
}

func TestInitiate_ReceiverBlockedCaller(t *testing.T) {
	blocks := new(MockBlockChecker)
	f := newFixture()
	f.svc = NewService(f.repo, blocks, f.dir, f.emitter, f.clock)

	blocks.On("IsBlocked", mock.Anything, f.callee, f.caller).Return(true, nil)

	_, err := f.svc.Initiate(context.Background(), &InitiateInput{
		CallerID: f.caller, ReceiverID: f.callee, MediaKind: domain.MediaKindVideo,
	})

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
	blocks.AssertExpectations(t)
}

func TestInitiate_BlockCheckFailure(t *testing.T) {
	blocks := new(MockBlockChecker)
	f := newFixture()
	f.svc = NewService(f.repo, blocks, f.dir, f.emitter, f.clock)

	blocks.On("IsBlocked", mock.Anything, f.callee, f.caller).Return(false, errors.New("db down"))

	_, err := f.svc.Initiate(context.Background(), &InitiateInput{
		CallerID: f.caller, ReceiverID: f.callee, MediaKind: domain.MediaKindVideo,
	})
	assert.Error(t, err)
	assert.False(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
}

func TestInitiate_PairAlreadyActive(t *testing.T) {
	f := newFixture()
	f.initiate(t)

	_, err := f.svc.Initiate(context.Background(), &InitiateInput{
		CallerID: f.callee, ReceiverID: f.caller, MediaKind: domain.MediaKindAudio,
	})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
}

func TestInitiate_ConcurrentSamePair(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	const attempts = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			input := &InitiateInput{CallerID: f.caller, ReceiverID: f.callee, MediaKind: domain.MediaKindAudio}
			if i%2 == 1 {
				input.CallerID, input.ReceiverID = f.callee, f.caller
			}
			_, err := f.svc.Initiate(ctx, input)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case apperrors.HasCode(err, apperrors.ErrCodeConflict):
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, conflicts)
	assert.Len(t, f.emitter.named(events.CallInitiated), 1)
}

func TestAnswerThenEnd_Duration(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	call := f.initiate(t)

	f.clock.Advance(3 * time.Second)
	answered, err := f.svc.Answer(ctx, call.CallID, f.callee)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusAnswered, answered.Status)
	require.NotNil(t, answered.AnsweredAt)
	assert.Equal(t, f.clock.Now(), *answered.AnsweredAt)

	accepted := f.emitter.named(events.CallAccepted)
	require.Len(t, accepted, 2)
	assert.ElementsMatch(t,
		[]string{events.UserChannel(f.caller), events.UserChannel(f.callee)},
		[]string{accepted[0].Channel, accepted[1].Channel})

	f.clock.Advance(300*time.Second + 700*time.Millisecond)
	ended, err := f.svc.End(ctx, call.CallID, f.caller)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, ended.Status)
	require.NotNil(t, ended.Duration)
	assert.Equal(t, 300, *ended.Duration)
	assert.Equal(t, constants.CallEndReasonHangup, ended.EndReason)

	endedEvents := f.emitter.named(events.CallEnded)
	require.Len(t, endedEvents, 2)
	payload := endedEvents[0].Payload.(events.CallEndedPayload)
	assert.Equal(t, 300, payload.DurationSeconds)
}

func TestEndBeforeAnswer_ThenAnswerIsInvalid(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	call := f.initiate(t)

	ended, err := f.svc.End(ctx, call.CallID, f.caller)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, ended.Status)
	assert.Nil(t, ended.Duration)
	assert.Nil(t, ended.AnsweredAt)
	assert.Equal(t, constants.CallEndReasonCancelled, ended.EndReason)

	payload := f.emitter.named(events.CallEnded)[0].Payload.(events.CallEndedPayload)
	assert.Equal(t, 0, payload.DurationSeconds)

	_, err = f.svc.Answer(ctx, call.CallID, f.callee)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidTransition))
	assert.Empty(t, f.emitter.named(events.CallAccepted))
}

func TestDecline(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	call := f.initiate(t)

	declined, err := f.svc.Decline(ctx, call.CallID, f.callee)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusDeclined, declined.Status)
	assert.NotNil(t, declined.EndedAt)
	assert.Nil(t, declined.Duration)
	assert.Len(t, f.emitter.named(events.CallRejected), 2)

	_, err = f.svc.Decline(ctx, call.CallID, f.callee)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidTransition))
	assert.Len(t, f.emitter.named(events.CallRejected), 2)

	_, err = f.svc.End(ctx, call.CallID, f.caller)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidTransition))
}

func TestAnswerDecline_WrongActor(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	call := f.initiate(t)

	_, err := f.svc.Answer(ctx, call.CallID, f.caller)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnauthorized))

	_, err = f.svc.Decline(ctx, call.CallID, uuid.New())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnauthorized))

	_, err = f.svc.End(ctx, call.CallID, uuid.New())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnauthorized))
}

func TestAnswer_NotFound(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Answer(context.Background(), uuid.New(), f.callee)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func TestAnswerAndDecline_RaceHasOneWinner(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	call := f.initiate(t)

	const attempts = 10
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, results[i] = f.svc.Answer(ctx, call.CallID, f.callee)
			} else {
				_, results[i] = f.svc.Decline(ctx, call.CallID, f.callee)
			}
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.True(t,
			apperrors.HasCode(err, apperrors.ErrCodeConflict) || apperrors.HasCode(err, apperrors.ErrCodeInvalidTransition),
			"unexpected error: %v", err)
	}
	assert.Equal(t, 1, wins)
	assert.Len(t, append(f.emitter.named(events.CallAccepted), f.emitter.named(events.CallRejected)...), 2)
}

func TestSweepStale(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	stale := f.initiate(t)

	f.clock.Advance(90 * time.Second)
	other, err := f.svc.Initiate(ctx, &InitiateInput{CallerID: uuid.New(), ReceiverID: f.callee, MediaKind: domain.MediaKindVideo})
	require.NoError(t, err)

	f.clock.Advance(45 * time.Second)
	swept, err := f.svc.SweepStale(ctx, constants.StaleRingingThreshold)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	got, err := f.repo.GetByID(ctx, stale.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, got.Status)
	assert.Equal(t, constants.CallEndReasonTimeout, got.EndReason)
	assert.Nil(t, got.Duration)

	stillRinging, err := f.repo.GetByID(ctx, other.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRinging, stillRinging.Status)

	ended := f.emitter.named(events.CallEnded)
	require.Len(t, ended, 2)
	assert.Equal(t, "timeout", ended[0].Payload.(events.CallEndedPayload).Reason)

	// the pair is free again
	_, err = f.svc.Initiate(ctx, &InitiateInput{CallerID: f.caller, ReceiverID: f.callee, MediaKind: domain.MediaKindAudio})
	assert.NoError(t, err)
}

func TestSweepStale_IgnoresAnsweredCalls(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	call := f.initiate(t)
	_, err := f.svc.Answer(ctx, call.CallID, f.callee)
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	swept, err := f.svc.SweepStale(ctx, constants.StaleRingingThreshold)
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func TestGet(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	call := f.initiate(t)

	got, err := f.svc.Get(ctx, call.CallID, f.callee)
	require.NoError(t, err)
	assert.Equal(t, call.CallID, got.CallID)

	_, err = f.svc.Get(ctx, call.CallID, uuid.New())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnauthorized))
}

func TestHistoryActiveAndStatistics(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// missed: ended without answer
	missed := f.initiate(t)
	_, err := f.svc.End(ctx, missed.CallID, f.caller)
	require.NoError(t, err)

	// declined
	f.clock.Advance(time.Minute)
	declined := f.initiate(t)
	_, err = f.svc.Decline(ctx, declined.CallID, f.callee)
	require.NoError(t, err)

	// answered for 60s
	f.clock.Advance(time.Minute)
	answered := f.initiate(t)
	_, err = f.svc.Answer(ctx, answered.CallID, f.callee)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.svc.End(ctx, answered.CallID, f.callee)
	require.NoError(t, err)

	// active
	f.clock.Advance(time.Minute)
	active := f.initiate(t)

	history, err := f.svc.GetHistory(ctx, f.callee, 0, 0)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, active.CallID, history[0].CallID)
	assert.Equal(t, missed.CallID, history[3].CallID)

	page, err := f.svc.GetHistory(ctx, f.callee, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, answered.CallID, page[0].CallID)

	got, err := f.svc.GetActive(ctx, f.caller)
	require.NoError(t, err)
	assert.Equal(t, active.CallID, got.CallID)

	_, err = f.svc.GetActive(ctx, uuid.New())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))

	stats, err := f.svc.GetStatistics(ctx, f.callee)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalCalls)
	assert.Equal(t, 4, stats.IncomingCalls)
	assert.Equal(t, 1, stats.MissedCalls)
	assert.Equal(t, 1, stats.DeclinedCalls)
	assert.Equal(t, 1, stats.AnsweredCalls)
	assert.Equal(t, int64(60), stats.TotalDurationS)
}
