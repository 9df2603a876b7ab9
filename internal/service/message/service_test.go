package message

import (
	"context"
	"errors"
	"math"
	"strings"
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
	apperrors "realtime-core/pkg/errors"
)

// MockMediaStore is a mock implementation of MediaStore
type MockMediaStore struct {
	mock.Mock
}

func (m *MockMediaStore) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

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
	repo    *memory.MessageRepository
	dir     *memory.Directory
	media   *MockMediaStore
	emitter *recordingEmitter
	clock   *clock.Manual
	admin   uuid.UUID
	x       uuid.UUID
	y       uuid.UUID
	conv    uuid.UUID
}

func newFixture() *fixture {
	f := &fixture{
		dir:     memory.NewDirectory(),
		media:   new(MockMediaStore),
		emitter: &recordingEmitter{},
		clock:   clock.NewManual(time.Date(2026, 2, 14, 18, 0, 0, 0, time.UTC)),
		admin:   uuid.New(),
		x:       uuid.New(),
		y:       uuid.New(),
	}
	f.repo = memory.NewMessageRepository(f.dir)
	f.conv = f.dir.CreateGroup(f.admin, f.x, f.y)
	f.svc = NewService(f.repo, f.dir, f.media, f.emitter, f.clock)
	return f
}

func (f *fixture) sendText(t *testing.T, from uuid.UUID, body string) *domain.Message {
	t.Helper()
	msg, err := f.svc.Send(context.Background(), &SendInput{
		SenderID:       from,
		ConversationID: f.conv,
		Content:        domain.MessageContent{Kind: domain.MessageKindText, Body: body},
	})
	require.NoError(t, err)
	return msg
}

func TestSend(t *testing.T) {
	f := newFixture()

	msg := f.sendText(t, f.x, "hello there")

	assert.Equal(t, domain.MessageStatusSent, msg.Status)
	assert.NotZero(t, msg.ID)

	sent := f.emitter.named(events.MessageSent)
	require.Len(t, sent, 2)
	assert.ElementsMatch(t,
		[]string{events.UserChannel(f.admin), events.UserChannel(f.y)},
		[]string{sent[0].Channel, sent[1].Channel})
	payload := sent[0].Payload.(events.MessageSentPayload)
	assert.Equal(t, "hello there", payload.ContentSummary)
	assert.Equal(t, msg.ID, payload.MessageID)

	conv, err := f.dir.GetConversation(context.Background(), f.conv)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, *conv.LastMessageID)
}

func TestSend_NonParticipant(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Send(context.Background(), &SendInput{
		SenderID:       uuid.New(),
		ConversationID: f.conv,
		Content:        domain.MessageContent{Kind: domain.MessageKindText, Body: "hi"},
	})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnauthorized))
	assert.Empty(t, f.emitter.named(events.MessageSent))
}

func TestSend_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	tests := []struct {
		name    string
		content domain.MessageContent
	}{
		{"empty text", domain.MessageContent{Kind: domain.MessageKindText, Body: "   "}},
		{"too long", domain.MessageContent{Kind: domain.MessageKindText, Body: strings.Repeat("a", 10001)}},
		{"unknown kind", domain.MessageContent{Kind: "sticker", Body: "x"}},
		{"image without key", domain.MessageContent{Kind: domain.MessageKindImage}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Send(ctx, &SendInput{SenderID: f.x, ConversationID: f.conv, Content: tt.content})
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
		})
	}
}

func TestSend_UnknownConversation(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Send(context.Background(), &SendInput{
		SenderID:       f.x,
		ConversationID: uuid.New(),
		Content:        domain.MessageContent{Kind: domain.MessageKindText, Body: "hi"},
	})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func TestSend_MediaSummary(t *testing.T) {
	f := newFixture()
	key := "messages/abc.jpg"
	_, err := f.svc.Send(context.Background(), &SendInput{
		SenderID:       f.x,
		ConversationID: f.conv,
		Content:        domain.MessageContent{Kind: domain.MessageKindImage, MediaKey: &key},
	})
	require.NoError(t, err)
	assert.Equal(t, "[image]", f.emitter.named(events.MessageSent)[0].Payload.(events.MessageSentPayload).ContentSummary)
}

func TestSend_NormalizesContent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	msg, err := f.svc.Send(ctx, &SendInput{
		SenderID:       f.x,
		ConversationID: f.conv,
		Content:        domain.MessageContent{Kind: domain.MessageKindText, Body: "hi\x00 there\n"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there\n", msg.Content)

	key := "/messages//abc.jpg"
	msg, err = f.svc.Send(ctx, &SendInput{
		SenderID:       f.x,
		ConversationID: f.conv,
		Content:        domain.MessageContent{Kind: domain.MessageKindImage, MediaKey: &key},
	})
	require.NoError(t, err)
	require.NotNil(t, msg.MediaKey)
	assert.Equal(t, "messages/abc.jpg", *msg.MediaKey)

	bad := "messages/../../etc/passwd"
	_, err = f.svc.Send(ctx, &SendInput{
		SenderID:       f.x,
		ConversationID: f.conv,
		Content:        domain.MessageContent{Kind: domain.MessageKindFile, MediaKey: &bad},
	})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
}

func TestMarkRead(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	msg := f.sendText(t, f.x, "read me")

	read, err := f.svc.MarkRead(ctx, msg.ID, f.y)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusRead, read.Status)
	require.NotNil(t, read.ReadAt)
	assert.Equal(t, f.clock.Now(), *read.ReadAt)

	cursor, err := f.svc.GetReadCursor(ctx, f.conv, f.y)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, cursor.LastReadMessageID)

	readEvents := f.emitter.named(events.MessageRead)
	require.Len(t, readEvents, 1)
	assert.Equal(t, events.UserChannel(f.x), readEvents[0].Channel)
	assert.Equal(t, f.y, readEvents[0].Payload.(events.MessageReadPayload).ReaderID)

	// second read is a no-op
	again, err := f.svc.MarkRead(ctx, msg.ID, f.y)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusRead, again.Status)
	assert.Len(t, f.emitter.named(events.MessageRead), 1)
}

func TestMarkRead_OwnMessageRejected(t *testing.T) {
	f := newFixture()
	msg := f.sendText(t, f.x, "mine")

	_, err := f.svc.MarkRead(context.Background(), msg.ID, f.x)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnauthorized))

	got, err := f.repo.GetByID(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusSent, got.Status)
}

func TestMarkRead_NonParticipantRejected(t *testing.T) {
	f := newFixture()
	msg := f.sendText(t, f.x, "private")

	_, err := f.svc.MarkRead(context.Background(), msg.ID, uuid.New())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnauthorized))
}

func TestMarkRead_CursorNeverMovesBack(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	older := f.sendText(t, f.x, "one")
	newer := f.sendText(t, f.x, "two")

	_, err := f.svc.MarkRead(ctx, newer.ID, f.y)
	require.NoError(t, err)
	_, err = f.svc.MarkRead(ctx, older.ID, f.y)
	require.NoError(t, err)

	cursor, err := f.svc.GetReadCursor(ctx, f.conv, f.y)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, cursor.LastReadMessageID)
}

func TestMarkDelivered_Monotonic(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	msg := f.sendText(t, f.x, "ping")

	delivered, err := f.svc.MarkDelivered(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusDelivered, delivered.Status)
	assert.Nil(t, delivered.ReadAt)

	_, err = f.svc.MarkRead(ctx, msg.ID, f.y)
	require.NoError(t, err)

	// late delivery ack after read does not regress
	after, err := f.svc.MarkDelivered(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusRead, after.Status)

	_, err = f.svc.MarkDelivered(ctx, 9999)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func TestMarkDeliveredBy_SenderRejected(t *testing.T) {
	f := newFixture()
	msg := f.sendText(t, f.x, "ping")

	_, err := f.svc.MarkDeliveredBy(context.Background(), msg.ID, f.x)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnauthorized))

	got, err := f.svc.MarkDeliveredBy(context.Background(), msg.ID, f.y)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusDelivered, got.Status)
}

func TestMarkConversationRead(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	first := f.sendText(t, f.x, "one")
	own := f.sendText(t, f.y, "mine")
	second := f.sendText(t, f.admin, "two")
	later := f.sendText(t, f.x, "three")

	cursor, err := f.svc.MarkConversationRead(ctx, f.conv, f.y, second.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, cursor.LastReadMessageID)

	readEvents := f.emitter.named(events.MessageRead)
	require.Len(t, readEvents, 2)
	assert.Equal(t, first.ID, readEvents[0].Payload.(events.MessageReadPayload).MessageID)
	assert.Equal(t, events.UserChannel(f.x), readEvents[0].Channel)
	assert.Equal(t, second.ID, readEvents[1].Payload.(events.MessageReadPayload).MessageID)
	assert.Equal(t, events.UserChannel(f.admin), readEvents[1].Channel)

	ownMsg, _ := f.repo.GetByID(ctx, own.ID)
	assert.Equal(t, domain.MessageStatusSent, ownMsg.Status)
	laterMsg, _ := f.repo.GetByID(ctx, later.ID)
	assert.Equal(t, domain.MessageStatusSent, laterMsg.Status)

	// replay emits nothing
	_, err = f.svc.MarkConversationRead(ctx, f.conv, f.y, second.ID)
	require.NoError(t, err)
	assert.Len(t, f.emitter.named(events.MessageRead), 2)
}

func TestMarkConversationRead_RejectsForeignOrUnknownTarget(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	msg := f.sendText(t, f.x, "hello")

	other := f.dir.CreateGroup(f.admin, f.y)
	foreign, err := f.svc.Send(ctx, &SendInput{
		SenderID:       f.admin,
		ConversationID: other,
		Content:        domain.MessageContent{Kind: domain.MessageKindText, Body: "elsewhere"},
	})
	require.NoError(t, err)

	_, err = f.svc.MarkConversationRead(ctx, f.conv, f.y, math.MaxInt64)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))

	_, err = f.svc.MarkConversationRead(ctx, f.conv, f.y, foreign.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))

	cursor, err := f.svc.GetReadCursor(ctx, f.conv, f.y)
	require.NoError(t, err)
	assert.Zero(t, cursor.LastReadMessageID)
	assert.Empty(t, f.emitter.named(events.MessageRead))

	// the cursor still advances to a real message afterwards
	cursor, err = f.svc.MarkConversationRead(ctx, f.conv, f.y, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, cursor.LastReadMessageID)
}

func TestEdit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	msg := f.sendText(t, f.x, "typo")
	_, err := f.svc.MarkDelivered(ctx, msg.ID)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	edited, err := f.svc.Edit(ctx, msg.ID, f.x, "fixed")
	require.NoError(t, err)
	assert.Equal(t, "fixed", edited.Content)
	require.NotNil(t, edited.EditedAt)
	assert.Equal(t, f.clock.Now(), *edited.EditedAt)
	assert.Equal(t, domain.MessageStatusDelivered, edited.Status)

	_, err = f.svc.Edit(ctx, msg.ID, f.y, "hijack")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnauthorized))
}

func TestEdit_MediaMessageRejected(t *testing.T) {
	f := newFixture()
	key := "messages/v.mp4"
	msg, err := f.svc.Send(context.Background(), &SendInput{
		SenderID:       f.x,
		ConversationID: f.conv,
		Content:        domain.MessageContent{Kind: domain.MessageKindVideo, MediaKey: &key},
	})
	require.NoError(t, err)

	_, err = f.svc.Edit(context.Background(), msg.ID, f.x, "caption")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
}

func TestDelete_BySenderRemovesMedia(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	key := "messages/doc.pdf"
	msg, err := f.svc.Send(ctx, &SendInput{
		SenderID:       f.x,
		ConversationID: f.conv,
		Content:        domain.MessageContent{Kind: domain.MessageKindFile, MediaKey: &key},
	})
	require.NoError(t, err)

	f.media.On("Delete", mock.Anything, key).Return(nil).Once()

	require.NoError(t, f.svc.Delete(ctx, msg.ID, f.x))
	_, err = f.repo.GetByID(ctx, msg.ID)
	assert.Error(t, err)

	// idempotent
	require.NoError(t, f.svc.Delete(ctx, msg.ID, f.x))
	f.media.AssertExpectations(t)
}

func TestDelete_ByAdmin(t *testing.T) {
	f := newFixture()
	msg := f.sendText(t, f.x, "moderate me")

	require.NoError(t, f.svc.Delete(context.Background(), msg.ID, f.admin))
	f.media.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestDelete_ByOtherMemberRejected(t *testing.T) {
	f := newFixture()
	msg := f.sendText(t, f.x, "keep")

	err := f.svc.Delete(context.Background(), msg.ID, f.y)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnauthorized))
}

func TestDelete_MediaFailureKeepsRow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	key := "messages/a.ogg"
	msg, err := f.svc.Send(ctx, &SendInput{
		SenderID:       f.x,
		ConversationID: f.conv,
		Content:        domain.MessageContent{Kind: domain.MessageKindAudio, MediaKey: &key},
	})
	require.NoError(t, err)

	f.media.On("Delete", mock.Anything, key).Return(errors.New("storage offline"))

	assert.Error(t, f.svc.Delete(ctx, msg.ID, f.x))
	_, err = f.repo.GetByID(ctx, msg.ID)
	assert.NoError(t, err)
}

func TestSummarize_Truncates(t *testing.T) {
	long := strings.Repeat("é", 150)
	got := summarize(&domain.Message{Kind: domain.MessageKindText, Content: long})
	assert.Equal(t, 100, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))
}
