package message

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"realtime-core/internal/domain"
	"realtime-core/internal/middleware"
	"realtime-core/internal/service/message"
	"realtime-core/pkg/response"
)

// Handler handles message delivery HTTP requests
type Handler struct {
	messageService *message.Service
}

// NewHandler creates a new message handler
func NewHandler(messageService *message.Service) *Handler {
	return &Handler{
		messageService: messageService,
	}
}

// RegisterRoutes mounts the message routes on an authenticated group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	conversations := rg.Group("/conversations/:id")
	conversations.POST("/messages", h.SendMessage)
	conversations.POST("/read", h.MarkConversationRead)
	conversations.GET("/read", h.GetReadCursor)

	messages := rg.Group("/messages/:id")
	messages.POST("/delivered", h.MarkDelivered)
	messages.POST("/read", h.MarkRead)
	messages.PUT("", h.EditMessage)
	messages.DELETE("", h.DeleteMessage)
}

// SendMessageRequest represents a message send request
type SendMessageRequest struct {
	Kind     string  `json:"kind" binding:"required,oneof=text image video audio file"`
	Body     string  `json:"body"`
	MediaKey *string `json:"media_key"`
}

// SendMessage posts a message to a conversation
// POST /v1/conversations/:id/messages
func (h *Handler) SendMessage(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid conversation ID")
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	senderID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	msg, err := h.messageService.Send(c.Request.Context(), &message.SendInput{
		SenderID:       senderID,
		ConversationID: conversationID,
		Content: domain.MessageContent{
			Kind:     domain.MessageKind(req.Kind),
			Body:     req.Body,
			MediaKey: req.MediaKey,
		},
	})
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusCreated, msg)
}

// MarkDelivered acknowledges receipt by the caller's client
// POST /v1/messages/:id/delivered
func (h *Handler) MarkDelivered(c *gin.Context) {
	messageID, userID, ok := messageAndUser(c)
	if !ok {
		return
	}

	msg, err := h.messageService.MarkDeliveredBy(c.Request.Context(), messageID, userID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, msg)
}

// MarkRead marks one message read
// POST /v1/messages/:id/read
func (h *Handler) MarkRead(c *gin.Context) {
	messageID, userID, ok := messageAndUser(c)
	if !ok {
		return
	}

	msg, err := h.messageService.MarkRead(c.Request.Context(), messageID, userID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, msg)
}

// MarkConversationReadRequest represents a bulk read request
type MarkConversationReadRequest struct {
	UpToMessageID int64 `json:"up_to_message_id" binding:"required,min=1"`
}

// MarkConversationRead marks everything up to a message read
// POST /v1/conversations/:id/read
func (h *Handler) MarkConversationRead(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid conversation ID")
		return
	}

	var req MarkConversationReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	cursor, err := h.messageService.MarkConversationRead(c.Request.Context(), conversationID, userID, req.UpToMessageID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, cursor)
}

// GetReadCursor returns the caller's read position in a conversation
// GET /v1/conversations/:id/read
func (h *Handler) GetReadCursor(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid conversation ID")
		return
	}

	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	cursor, err := h.messageService.GetReadCursor(c.Request.Context(), conversationID, userID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, cursor)
}

// EditMessageRequest represents a message edit request
type EditMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// EditMessage replaces the text of the caller's message
// PUT /v1/messages/:id
func (h *Handler) EditMessage(c *gin.Context) {
	messageID, userID, ok := messageAndUser(c)
	if !ok {
		return
	}

	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	msg, err := h.messageService.Edit(c.Request.Context(), messageID, userID, req.Content)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, msg)
}

// DeleteMessage removes a message
// DELETE /v1/messages/:id
func (h *Handler) DeleteMessage(c *gin.Context) {
	messageID, userID, ok := messageAndUser(c)
	if !ok {
		return
	}

	if err := h.messageService.Delete(c.Request.Context(), messageID, userID); err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message":    "Message deleted",
		"message_id": messageID,
	})
}

func messageAndUser(c *gin.Context) (int64, uuid.UUID, bool) {
	messageID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || messageID <= 0 {
		response.ValidationError(c, "Invalid message ID")
		return 0, uuid.Nil, false
	}

	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return 0, uuid.Nil, false
	}
	return messageID, userID, true
}

func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	response.FromError(c, err)
}
