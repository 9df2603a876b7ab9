package status

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"realtime-core/internal/domain"
	"realtime-core/internal/middleware"
	"realtime-core/internal/service/status"
	"realtime-core/pkg/response"
)

// Handler handles status (story) HTTP requests
type Handler struct {
	statusService *status.Service
}

// NewHandler creates a new status handler
func NewHandler(statusService *status.Service) *Handler {
	return &Handler{
		statusService: statusService,
	}
}

// RegisterRoutes mounts the status routes on an authenticated group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	statuses := rg.Group("/statuses")
	statuses.POST("", h.CreateStatus)
	statuses.GET("/feed", h.GetFeed)
	statuses.GET("/mine", h.GetMine)
	statuses.POST("/:id/view", h.ViewStatus)
	statuses.GET("/:id/viewers", h.GetViewers)
	statuses.DELETE("/:id", h.DeleteStatus)
}

// CreateStatusRequest represents a status post request
type CreateStatusRequest struct {
	Kind    string `json:"kind" binding:"required,oneof=text image video"`
	Payload string `json:"payload" binding:"required"`
	Privacy string `json:"privacy" binding:"required,oneof=everyone contacts close_friends"`
}

// CreateStatus posts a status
// POST /v1/statuses
func (h *Handler) CreateStatus(c *gin.Context) {
	var req CreateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	authorID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	post, err := h.statusService.Create(c.Request.Context(), &status.CreateInput{
		AuthorID: authorID,
		Kind:     domain.StatusKind(req.Kind),
		Payload:  req.Payload,
		Privacy:  domain.Privacy(req.Privacy),
	})
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusCreated, post)
}

// GetFeed returns the statuses visible to the caller grouped by author
// GET /v1/statuses/feed
func (h *Handler) GetFeed(c *gin.Context) {
	viewerID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	feed, err := h.statusService.GetFeed(c.Request.Context(), viewerID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"groups": feed})
}

// GetMine returns the caller's active statuses with view counts
// GET /v1/statuses/mine
func (h *Handler) GetMine(c *gin.Context) {
	authorID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	posts, err := h.statusService.GetMine(c.Request.Context(), authorID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"statuses": posts})
}

// ViewStatus records that the caller viewed a status
// POST /v1/statuses/:id/view
func (h *Handler) ViewStatus(c *gin.Context) {
	statusID, viewerID, ok := statusAndUser(c)
	if !ok {
		return
	}

	if err := h.statusService.View(c.Request.Context(), statusID, viewerID); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status_id": statusID, "viewed": true})
}

// GetViewers lists who viewed the caller's status
// GET /v1/statuses/:id/viewers
func (h *Handler) GetViewers(c *gin.Context) {
	statusID, authorID, ok := statusAndUser(c)
	if !ok {
		return
	}

	views, err := h.statusService.GetViewers(c.Request.Context(), statusID, authorID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"viewers": views})
}

// DeleteStatus removes the caller's status before it expires
// DELETE /v1/statuses/:id
func (h *Handler) DeleteStatus(c *gin.Context) {
	statusID, authorID, ok := statusAndUser(c)
	if !ok {
		return
	}

	if err := h.statusService.Delete(c.Request.Context(), statusID, authorID); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "Status deleted", "status_id": statusID})
}

func statusAndUser(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	statusID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid status ID")
		return uuid.Nil, uuid.Nil, false
	}

	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, uuid.Nil, false
	}
	return statusID, userID, true
}

func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	response.FromError(c, err)
}
