package call

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"realtime-core/internal/domain"
	"realtime-core/internal/middleware"
	"realtime-core/internal/service/call"
	"realtime-core/pkg/pagination"
	"realtime-core/pkg/response"
)

// Handler handles call HTTP requests
type Handler struct {
	callService *call.Service
}

// NewHandler creates a new call handler
func NewHandler(callService *call.Service) *Handler {
	return &Handler{
		callService: callService,
	}
}

// RegisterRoutes mounts the call routes on an authenticated group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	calls := rg.Group("/calls")
	calls.POST("", h.InitiateCall)
	calls.GET("", h.GetHistory)
	calls.GET("/active", h.GetActive)
	calls.GET("/statistics", h.GetStatistics)
	calls.GET("/:id", h.GetCall)
	calls.POST("/:id/answer", h.AnswerCall)
	calls.POST("/:id/decline", h.DeclineCall)
	calls.POST("/:id/end", h.EndCall)
}

// InitiateCallRequest represents call initiation request
type InitiateCallRequest struct {
	ReceiverID string `json:"receiver_id" binding:"required,uuid"`
	MediaKind  string `json:"media_kind" binding:"required"` // audio, video or the voice alias
}

// InitiateCall starts a new call
// POST /v1/calls
func (h *Handler) InitiateCall(c *gin.Context) {
	var req InitiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	callerID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	receiverID, err := uuid.Parse(req.ReceiverID)
	if err != nil {
		response.ValidationError(c, "Invalid receiver ID")
		return
	}

	mediaKind, err := domain.ParseMediaKind(req.MediaKind)
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	result, err := h.callService.Initiate(c.Request.Context(), &call.InitiateInput{
		CallerID:   callerID,
		ReceiverID: receiverID,
		MediaKind:  mediaKind,
	})
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusCreated, result)
}

// AnswerCall accepts a ringing call
// POST /v1/calls/:id/answer
func (h *Handler) AnswerCall(c *gin.Context) {
	h.act(c, h.callService.Answer)
}

// DeclineCall rejects a ringing call
// POST /v1/calls/:id/decline
func (h *Handler) DeclineCall(c *gin.Context) {
	h.act(c, h.callService.Decline)
}

// EndCall cancels a ringing call or hangs up an answered one
// POST /v1/calls/:id/end
func (h *Handler) EndCall(c *gin.Context) {
	h.act(c, h.callService.End)
}

// GetCall returns one call
// GET /v1/calls/:id
func (h *Handler) GetCall(c *gin.Context) {
	h.act(c, h.callService.Get)
}

// GetHistory lists the caller's calls, newest first
// GET /v1/calls?limit=20&offset=0
func (h *Handler) GetHistory(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	page, err := pagination.Parse(c.Query("limit"), c.Query("offset"))
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	calls, err := h.callService.GetHistory(c.Request.Context(), userID, page.Limit, page.Offset)
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"calls":      calls,
		"pagination": page.Page(len(calls)),
	})
}

// GetActive returns the caller's ringing or answered call
// GET /v1/calls/active
func (h *Handler) GetActive(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	active, err := h.callService.GetActive(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, active)
}

// GetStatistics summarizes the caller's call history
// GET /v1/calls/statistics
func (h *Handler) GetStatistics(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	stats, err := h.callService.GetStatistics(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

type callAction func(ctx context.Context, callID, actorID uuid.UUID) (*domain.Call, error)

func (h *Handler) act(c *gin.Context, action callAction) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return
	}

	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	result, err := action(c.Request.Context(), callID, userID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	response.FromError(c, err)
}
