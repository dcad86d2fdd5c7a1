package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/service"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/response"
)

type roomStatusUpdater interface {
	UpdateStatus(ctx context.Context, roomID string, req dto.UpdateRoomStatusRequest, actorID string) (*dto.RoomStatusChangeResult, error)
}

// RoomHandler exposes room availability endpoints.
type RoomHandler struct {
	service roomStatusUpdater
}

// NewRoomHandler constructs the handler.
func NewRoomHandler(svc *service.RoomStatusService) *RoomHandler {
	return &RoomHandler{service: svc}
}

// UpdateStatus godoc
// @Summary Change a room's operational status
// @Description Taking a room out of service opens a conflict for every live class it hosts.
// @Tags Rooms
// @Accept json
// @Produce json
// @Param id path string true "Room ID"
// @Param payload body dto.UpdateRoomStatusRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Router /rooms/{id}/status [patch]
func (h *RoomHandler) UpdateStatus(c *gin.Context) {
	var req dto.UpdateRoomStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.service.UpdateStatus(c.Request.Context(), c.Param("id"), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
