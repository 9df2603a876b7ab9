package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"realtime-core/internal/domain"
	"realtime-core/internal/events"
	"realtime-core/internal/middleware"
	"realtime-core/internal/repository"
	"realtime-core/pkg/constants"
	apperrors "realtime-core/pkg/errors"
	"realtime-core/pkg/logger"
	"realtime-core/pkg/metrics"
	"realtime-core/pkg/response"
)

const (
	writeWait      = constants.WebSocketWriteWait
	pongWait       = constants.WebSocketPongWait
	pingPeriod     = constants.WebSocketPingInterval
	maxMessageSize = 512
)

// MembershipChecker interface for conversation membership
type MembershipChecker interface {
	RoleOf(ctx context.Context, conversationID, userID uuid.UUID) (domain.ParticipantRole, bool, error)
}

// EventGateway streams a user's events over a WebSocket. The client always
// receives its user.{id} channel and may add conversation channels it belongs to.
type EventGateway struct {
	subscriber events.Subscriber
	members    MembershipChecker
	metrics    *metrics.Metrics
	upgrader   websocket.Upgrader
}

// NewEventGateway creates a gateway. An empty allowedOrigins accepts any origin.
func NewEventGateway(subscriber events.Subscriber, members MembershipChecker, m *metrics.Metrics, allowedOrigins []string) *EventGateway {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}

	return &EventGateway{
		subscriber: subscriber,
		members:    members,
		metrics:    m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(origins) == 0 || origin == "" || origins[origin]
			},
		},
	}
}

// ServeWS handles WebSocket requests
// GET /v1/ws/events?conversation_id=...
func (g *EventGateway) ServeWS(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	ctx := c.Request.Context()

	channels := []string{events.UserChannel(userID)}
	for _, raw := range c.QueryArray("conversation_id") {
		conversationID, err := uuid.Parse(raw)
		if err != nil {
			response.ValidationError(c, "Invalid conversation ID")
			return
		}
		if err := g.requireMember(ctx, conversationID, userID); err != nil {
			response.FromError(c, err)
			return
		}
		channels = append(channels, events.ConversationChannel(conversationID))
	}

	sub, err := g.subscriber.Subscribe(ctx, channels...)
	if err != nil {
		logger.Warn("Event subscription failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		response.Error(c, http.StatusServiceUnavailable, "UNAVAILABLE", "Event stream temporarily unavailable")
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		_ = sub.Close()
		g.recordError("upgrade")
		logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	if g.metrics != nil {
		g.metrics.IncWebSocketConnections()
		defer g.metrics.DecWebSocketConnections()
	}

	client := &client{gateway: g, conn: conn, sub: sub, userID: userID}
	done := make(chan struct{})
	go func() {
		defer close(done)
		client.writePump()
	}()

	// readPump blocks until the peer goes away; closing the subscription then stops writePump
	client.readPump()
	_ = sub.Close()
	<-done
	_ = conn.Close()
}

func (g *EventGateway) requireMember(ctx context.Context, conversationID, userID uuid.UUID) error {
	_, member, err := g.members.RoleOf(ctx, conversationID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFoundError("Conversation")
	}
	if err != nil {
		return err
	}
	if !member {
		return apperrors.UnauthorizedError("Not a member of this conversation")
	}
	return nil
}

func (g *EventGateway) recordError(kind string) {
	if g.metrics != nil {
		g.metrics.RecordWebSocketError(kind)
	}
}

type client struct {
	gateway *EventGateway
	conn    *websocket.Conn
	sub     events.Subscription
	userID  uuid.UUID
}

// readPump only services control frames; clients do not send events
func (c *client) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.gateway.recordError("read")
				logger.Debug("WebSocket closed unexpectedly",
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			return
		}
	}
}

// writePump is the only writer on the connection
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case raw, ok := <-c.sub.Messages():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				c.gateway.recordError("write")
				_ = c.conn.Close()
				c.drain()
				return
			}
			if c.gateway.metrics != nil {
				c.gateway.metrics.RecordWebSocketMessage("event", "out")
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				c.drain()
				return
			}
		}
	}
}

// drain discards events until the subscription is closed
func (c *client) drain() {
	for range c.sub.Messages() {
	}
}
