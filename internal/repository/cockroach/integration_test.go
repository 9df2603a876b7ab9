package cockroach

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtime-core/internal/database"
	"realtime-core/internal/domain"
	"realtime-core/internal/repository"
	"realtime-core/migrations"
	"realtime-core/pkg/env"
)

// testPool connects to TEST_DATABASE_URL and applies the schema. Tests that
// need a live CockroachDB are skipped when it is unset.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := env.GetString("TEST_DATABASE_URL", "")
	if url == "" || testing.Short() {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	cfg := database.DefaultDBConfig()
	cfg.ConnectMaxWait = 5 * time.Second
	db, err := database.NewDB(ctx, url, cfg)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, migrations.Apply(ctx, db.Pool))
	return db.Pool
}

func dbNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func TestCallRepository_TransitionIsCompareAndSwap(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	calls := NewCallRepository(pool)
	caller, receiver := uuid.New(), uuid.New()

	conv, err := NewConversationRepository(pool).ResolveOrCreatePrivateConversation(ctx, caller, receiver)
	require.NoError(t, err)

	started := dbNow()
	call := &domain.Call{
		CallID:         uuid.New(),
		ConversationID: conv,
		CallerID:       caller,
		ReceiverID:     receiver,
		MediaKind:      domain.MediaKindVideo,
		Status:         domain.CallStatusRinging,
		StartedAt:      started,
	}
	require.NoError(t, calls.Create(ctx, call))

	// same pair, either direction, while the first call is active
	err = calls.Create(ctx, &domain.Call{
		CallID: uuid.New(), ConversationID: conv, CallerID: receiver, ReceiverID: caller,
		MediaKind: domain.MediaKindAudio, Status: domain.CallStatusRinging, StartedAt: started,
	})
	assert.ErrorIs(t, err, repository.ErrActiveCallExists)

	answeredAt := started.Add(3 * time.Second)
	answered, err := calls.Transition(ctx, &domain.CallTransition{
		CallID: call.CallID, From: domain.CallStatusRinging, To: domain.CallStatusAnswered, AnsweredAt: &answeredAt,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusAnswered, answered.Status)
	require.NotNil(t, answered.AnsweredAt)
	assert.True(t, answered.AnsweredAt.Equal(answeredAt))
	assert.Nil(t, answered.EndedAt)
	assert.Empty(t, answered.EndReason)

	// a second writer still expecting ringing loses
	_, err = calls.Transition(ctx, &domain.CallTransition{
		CallID: call.CallID, From: domain.CallStatusRinging, To: domain.CallStatusDeclined, EndReason: "declined",
	})
	assert.ErrorIs(t, err, repository.ErrStaleState)

	endedAt := answeredAt.Add(42 * time.Second)
	duration := 42
	ended, err := calls.Transition(ctx, &domain.CallTransition{
		CallID: call.CallID, From: domain.CallStatusAnswered, To: domain.CallStatusEnded,
		EndedAt: &endedAt, Duration: &duration, EndReason: "hangup",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, ended.Status)
	assert.True(t, ended.AnsweredAt.Equal(answeredAt), "answered_at is kept when not supplied")
	require.NotNil(t, ended.Duration)
	assert.Equal(t, 42, *ended.Duration)
	assert.Equal(t, "hangup", ended.EndReason)

	_, err = calls.Transition(ctx, &domain.CallTransition{
		CallID: uuid.New(), From: domain.CallStatusRinging, To: domain.CallStatusEnded,
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)

	// the pair is free again once the call is terminal
	require.NoError(t, calls.Create(ctx, &domain.Call{
		CallID: uuid.New(), ConversationID: conv, CallerID: receiver, ReceiverID: caller,
		MediaKind: domain.MediaKindAudio, Status: domain.CallStatusRinging, StartedAt: endedAt,
	}))
}

func TestCallRepository_EmptyEndReasonKeepsStoredValue(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	calls := NewCallRepository(pool)
	caller, receiver := uuid.New(), uuid.New()

	conv, err := NewConversationRepository(pool).ResolveOrCreatePrivateConversation(ctx, caller, receiver)
	require.NoError(t, err)

	call := &domain.Call{
		CallID: uuid.New(), ConversationID: conv, CallerID: caller, ReceiverID: receiver,
		MediaKind: domain.MediaKindAudio, Status: domain.CallStatusRinging, StartedAt: dbNow(),
	}
	require.NoError(t, calls.Create(ctx, call))
	_, err = pool.Exec(ctx, `UPDATE calls SET end_reason = 'busy' WHERE call_id = $1`, call.CallID)
	require.NoError(t, err)

	endedAt := dbNow()
	ended, err := calls.Transition(ctx, &domain.CallTransition{
		CallID: call.CallID, From: domain.CallStatusRinging, To: domain.CallStatusEnded, EndedAt: &endedAt,
	})
	require.NoError(t, err)
	assert.Equal(t, "busy", ended.EndReason)
	assert.Nil(t, ended.Duration)
}

func TestMessageRepository_AdvanceStatusNeverRegresses(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	messages := NewMessageRepository(pool)
	sender, reader := uuid.New(), uuid.New()

	conv, err := NewConversationRepository(pool).ResolveOrCreatePrivateConversation(ctx, sender, reader)
	require.NoError(t, err)

	sentAt := dbNow()
	msg := &domain.Message{
		ConversationID: conv, SenderID: sender, Kind: domain.MessageKindText,
		Content: "hi", Status: domain.MessageStatusSent, CreatedAt: sentAt,
	}
	require.NoError(t, messages.Create(ctx, msg))
	require.NotZero(t, msg.ID)

	delivered, advanced, err := messages.AdvanceStatus(ctx, msg.ID, domain.MessageStatusDelivered, sentAt.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, advanced)
	assert.Equal(t, domain.MessageStatusDelivered, delivered.Status)
	assert.Nil(t, delivered.ReadAt)

	_, advanced, err = messages.AdvanceStatus(ctx, msg.ID, domain.MessageStatusDelivered, sentAt.Add(2*time.Second))
	require.NoError(t, err)
	assert.False(t, advanced, "same status is not an advance")

	readAt := sentAt.Add(3 * time.Second)
	read, advanced, err := messages.AdvanceStatus(ctx, msg.ID, domain.MessageStatusRead, readAt)
	require.NoError(t, err)
	assert.True(t, advanced)
	require.NotNil(t, read.ReadAt)
	assert.True(t, read.ReadAt.Equal(readAt))

	again, advanced, err := messages.AdvanceStatus(ctx, msg.ID, domain.MessageStatusRead, readAt.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.True(t, again.ReadAt.Equal(readAt), "read_at is stamped once")

	back, advanced, err := messages.AdvanceStatus(ctx, msg.ID, domain.MessageStatusDelivered, readAt.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.Equal(t, domain.MessageStatusRead, back.Status)

	_, _, err = messages.AdvanceStatus(ctx, msg.ID+1_000_000_000, domain.MessageStatusRead, readAt)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMessageRepository_ReadCursorOnlyMovesForward(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	messages := NewMessageRepository(pool)
	conv, user := uuid.New(), uuid.New()
	t0 := dbNow()

	cur, err := messages.AdvanceReadCursor(ctx, conv, user, 10, t0)
	require.NoError(t, err)
	assert.Equal(t, int64(10), cur.LastReadMessageID)

	cur, err = messages.AdvanceReadCursor(ctx, conv, user, 4, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(10), cur.LastReadMessageID)
	assert.True(t, cur.UpdatedAt.Equal(t0), "a lower id does not touch updated_at")
}

func TestStatusRepository_ListExpiredPagesPastEveryRow(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	statuses := NewStatusRepository(pool)

	// a fixed window in the past keeps these rows apart from live data
	now := time.Date(2001, 3, 1, 12, 0, 0, 0, time.UTC)
	var want []uuid.UUID
	for i := 3; i >= 1; i-- {
		post := &domain.StatusPost{
			StatusID: uuid.New(), AuthorID: uuid.New(), Kind: domain.StatusKindText, Payload: "x",
			Privacy: domain.PrivacyEveryone, CreatedAt: now.Add(-24 * time.Hour), ExpiresAt: now.Add(-time.Duration(i) * time.Minute),
		}
		require.NoError(t, statuses.Create(ctx, post))
		want = append(want, post.StatusID)
		t.Cleanup(func() { _, _ = statuses.Delete(context.Background(), post.StatusID) })
	}

	mine := make(map[uuid.UUID]bool, len(want))
	for _, id := range want {
		mine[id] = true
	}

	var (
		cursor domain.ExpiryCursor
		got    []uuid.UUID
	)
	for pages := 0; ; pages++ {
		require.Less(t, pages, 1000, "paging must terminate")
		batch, err := statuses.ListExpired(ctx, now, cursor, 2)
		require.NoError(t, err)
		for _, p := range batch {
			if mine[p.StatusID] {
				got = append(got, p.StatusID)
			}
		}
		if len(batch) < 2 {
			break
		}
		last := batch[len(batch)-1]
		cursor = domain.ExpiryCursor{ExpiresAt: last.ExpiresAt, StatusID: last.StatusID}
	}
	assert.Equal(t, want, got)
}

func TestStatusRepository_ListPublicFeedFiltersInQuery(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	statuses := NewStatusRepository(pool)
	viewer, blockedByViewer, blockingViewer, author := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	_, err := pool.Exec(ctx, `
		INSERT INTO blocked_users (blocker_id, blocked_id) VALUES ($1, $2), ($3, $1)
	`, viewer, blockedByViewer, blockingViewer)
	require.NoError(t, err)

	now := dbNow()
	post := func(authorID uuid.UUID, privacy domain.Privacy, age time.Duration) *domain.StatusPost {
		p := &domain.StatusPost{
			StatusID: uuid.New(), AuthorID: authorID, Kind: domain.StatusKindText, Payload: "x",
			Privacy: privacy, CreatedAt: now.Add(-age), ExpiresAt: now.Add(24*time.Hour - age),
		}
		require.NoError(t, statuses.Create(ctx, p))
		t.Cleanup(func() { _, _ = statuses.Delete(context.Background(), p.StatusID) })
		return p
	}

	post(viewer, domain.PrivacyEveryone, time.Minute)
	post(blockedByViewer, domain.PrivacyEveryone, time.Minute)
	post(blockingViewer, domain.PrivacyEveryone, time.Minute)
	post(author, domain.PrivacyContacts, time.Minute)
	older := post(author, domain.PrivacyEveryone, 2*time.Minute)
	newer := post(author, domain.PrivacyEveryone, time.Minute)

	feed, err := statuses.ListPublicFeed(ctx, viewer, now, 1000)
	require.NoError(t, err)

	var got []uuid.UUID
	for _, p := range feed {
		switch p.AuthorID {
		case viewer, blockedByViewer, blockingViewer:
			t.Fatalf("unexpected author %s in feed", p.AuthorID)
		case author:
			got = append(got, p.StatusID)
		}
	}
	assert.Equal(t, []uuid.UUID{newer.StatusID, older.StatusID}, got)

	bounded, err := statuses.ListPublicFeed(ctx, viewer, now, 1)
	require.NoError(t, err)
	assert.Len(t, bounded, 1)
}
