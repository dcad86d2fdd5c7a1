package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/service"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/response"
)

type conflictResolver interface {
	List(ctx context.Context, query dto.ConflictQuery) ([]models.Conflict, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.Conflict, error)
	Resolve(ctx context.Context, conflictID, actorID string) (*dto.RegenerationReport, error)
	Dismiss(ctx context.Context, conflictID string, req dto.DismissConflictRequest, actorID string) (*models.Conflict, error)
	ManualAdjust(ctx context.Context, itemID string, req dto.ManualAdjustRequest, actorID string) (*dto.ManualAdjustResult, error)
	SuggestRooms(ctx context.Context, itemID string) (*dto.RoomSuggestions, error)
}

// ConflictHandler exposes the conflict dashboard and room reassignment endpoints.
type ConflictHandler struct {
	service conflictResolver
}

// NewConflictHandler constructs the handler.
func NewConflictHandler(svc *service.RegenerationService) *ConflictHandler {
	return &ConflictHandler{service: svc}
}

// List godoc
// @Summary List room conflicts
// @Tags Conflicts
// @Produce json
// @Param status query string false "active, resolved or dismissed"
// @Param roomId query string false "Room ID"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /conflicts [get]
func (h *ConflictHandler) List(c *gin.Context) {
	var query dto.ConflictQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	conflicts, pagination, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, conflicts, pagination)
}

// Get godoc
// @Summary Get a conflict with its affected entries
// @Tags Conflicts
// @Produce json
// @Param id path string true "Conflict ID"
// @Success 200 {object} response.Envelope
// @Router /conflicts/{id} [get]
func (h *ConflictHandler) Get(c *gin.Context) {
	conflict, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, conflict, nil)
}

// Resolve godoc
// @Summary Re-home the pending entries of a conflict
// @Description Runs auto-regeneration; entries without a valid room are left for manual assignment.
// @Tags Conflicts
// @Produce json
// @Param id path string true "Conflict ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 423 {object} response.Envelope
// @Router /conflicts/{id}/resolve [post]
func (h *ConflictHandler) Resolve(c *gin.Context) {
	report, err := h.service.Resolve(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Dismiss godoc
// @Summary Dismiss a conflict without resolving it
// @Tags Conflicts
// @Accept json
// @Produce json
// @Param id path string true "Conflict ID"
// @Param payload body dto.DismissConflictRequest true "Dismiss payload"
// @Success 200 {object} response.Envelope
// @Router /conflicts/{id}/dismiss [post]
func (h *ConflictHandler) Dismiss(c *gin.Context) {
	var req dto.DismissConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	conflict, err := h.service.Dismiss(c.Request.Context(), c.Param("id"), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, conflict, nil)
}

// Suggestions godoc
// @Summary Rank alternative rooms for a schedule item
// @Tags Conflicts
// @Produce json
// @Param id path string true "Schedule item ID"
// @Success 200 {object} response.Envelope
// @Router /schedule-items/{id}/room-suggestions [get]
func (h *ConflictHandler) Suggestions(c *gin.Context) {
	suggestions, err := h.service.SuggestRooms(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, suggestions, nil)
}

// AdjustRoom godoc
// @Summary Move a schedule item to another room
// @Description Rejects rooms that fail hard checks unless force is set, in which case the overridden warnings are audited.
// @Tags Conflicts
// @Accept json
// @Produce json
// @Param id path string true "Schedule item ID"
// @Param payload body dto.ManualAdjustRequest true "Adjustment payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /schedule-items/{id}/room [post]
func (h *ConflictHandler) AdjustRoom(c *gin.Context) {
	var req dto.ManualAdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.service.ManualAdjust(c.Request.Context(), c.Param("id"), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
