package message

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtime-core/internal/events"
	"realtime-core/internal/media"
	"realtime-core/internal/middleware"
	"realtime-core/internal/repository/memory"
	"realtime-core/internal/service/message"
	"realtime-core/pkg/clock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

type testServer struct {
	router *gin.Engine
	dir    *memory.Directory
}

func newTestServer() *testServer {
	clk := clock.NewManual(time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC))
	dir := memory.NewDirectory()
	emitter := events.NewSyncEmitter(events.NewLocalHub(8), clk, time.Second)
	svc := message.NewService(memory.NewMessageRepository(dir), dir, media.NopStore{}, emitter, clk)

	router := gin.New()
	v1 := router.Group("/v1", func(c *gin.Context) {
		if id, err := uuid.Parse(c.GetHeader("X-Test-User")); err == nil {
			c.Set(middleware.ContextUserID, id)
		}
		c.Next()
	})
	NewHandler(svc).RegisterRoutes(v1)
	return &testServer{router: router, dir: dir}
}

func (s *testServer) do(t *testing.T, method, path string, user uuid.UUID, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", user.String())
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w.Code, env
}

type messageView struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

func (s *testServer) send(t *testing.T, conversationID, sender uuid.UUID, body string) messageView {
	t.Helper()
	code, env := s.do(t, http.MethodPost, "/v1/conversations/"+conversationID.String()+"/messages", sender, gin.H{
		"kind": "text",
		"body": body,
	})
	require.Equal(t, http.StatusCreated, code)
	var msg messageView
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	return msg
}

func TestMessageDeliveryFlow(t *testing.T) {
	s := newTestServer()
	alice, bob := uuid.New(), uuid.New()
	conv := s.dir.CreateGroup(alice, bob)

	msg := s.send(t, conv, alice, "hello")
	assert.Equal(t, "sent", msg.Status)
	path := "/v1/messages/" + strconv.FormatInt(msg.ID, 10)

	code, env := s.do(t, http.MethodPost, path+"/delivered", bob, nil)
	require.Equal(t, http.StatusOK, code)
	var delivered messageView
	require.NoError(t, json.Unmarshal(env.Data, &delivered))
	assert.Equal(t, "delivered", delivered.Status)

	code, env = s.do(t, http.MethodPost, path+"/read", alice, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	code, env = s.do(t, http.MethodPost, path+"/read", bob, nil)
	require.Equal(t, http.StatusOK, code)
	var read messageView
	require.NoError(t, json.Unmarshal(env.Data, &read))
	assert.Equal(t, "read", read.Status)

	// delivery after read never regresses
	code, env = s.do(t, http.MethodPost, path+"/delivered", bob, nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &read))
	assert.Equal(t, "read", read.Status)
}

func TestMarkConversationRead(t *testing.T) {
	s := newTestServer()
	alice, bob := uuid.New(), uuid.New()
	conv := s.dir.CreateGroup(alice, bob)

	s.send(t, conv, alice, "one")
	last := s.send(t, conv, alice, "two")
	readPath := "/v1/conversations/" + conv.String() + "/read"

	code, env := s.do(t, http.MethodPost, readPath, bob, gin.H{"up_to_message_id": last.ID})
	require.Equal(t, http.StatusOK, code)
	var cursor struct {
		LastReadMessageID int64 `json:"last_read_message_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &cursor))
	assert.Equal(t, last.ID, cursor.LastReadMessageID)

	code, env = s.do(t, http.MethodGet, readPath, bob, nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &cursor))
	assert.Equal(t, last.ID, cursor.LastReadMessageID)

	code, _ = s.do(t, http.MethodPost, readPath, bob, gin.H{"up_to_message_id": 0})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSendMessage_Rejections(t *testing.T) {
	s := newTestServer()
	alice, bob := uuid.New(), uuid.New()
	conv := s.dir.CreateGroup(alice, bob)

	code, _ := s.do(t, http.MethodPost, "/v1/conversations/"+conv.String()+"/messages", uuid.New(), gin.H{
		"kind": "text",
		"body": "intruder",
	})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(t, http.MethodPost, "/v1/conversations/"+conv.String()+"/messages", alice, gin.H{
		"kind": "sticker",
		"body": "?",
	})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodPost, "/v1/conversations/"+uuid.New().String()+"/messages", alice, gin.H{
		"kind": "text",
		"body": "nobody home",
	})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestEditAndDeleteMessage(t *testing.T) {
	s := newTestServer()
	alice, bob := uuid.New(), uuid.New()
	conv := s.dir.CreateGroup(alice, bob)
	msg := s.send(t, conv, alice, "typo")
	path := "/v1/messages/" + strconv.FormatInt(msg.ID, 10)

	code, _ := s.do(t, http.MethodPut, path, bob, gin.H{"content": "hijack"})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(t, http.MethodPut, path, alice, gin.H{"content": "fixed"})
	assert.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, http.MethodDelete, path, alice, nil)
	assert.Equal(t, http.StatusOK, code)

	// deleting again is a no-op
	code, _ = s.do(t, http.MethodDelete, path, alice, nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, http.MethodPost, "/v1/messages/abc/read", bob, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}
