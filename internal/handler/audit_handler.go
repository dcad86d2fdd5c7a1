package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/service"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/response"
)

type auditTrail interface {
	Query(ctx context.Context, query dto.AuditLogQuery) ([]models.RoomAuditLog, *models.Pagination, error)
	EntryHistory(ctx context.Context, itemID string) ([]models.RoomAuditLog, error)
	Purge(ctx context.Context, req dto.PurgeAuditRequest) (*dto.PurgeResult, error)
	Export(ctx context.Context, req dto.AuditExportRequest) (*dto.AuditExport, error)
}

// AuditHandler exposes the room reassignment audit trail.
type AuditHandler struct {
	service auditTrail
}

// NewAuditHandler constructs the handler.
func NewAuditHandler(svc *service.AuditTrailService) *AuditHandler {
	return &AuditHandler{service: svc}
}

// List godoc
// @Summary Query the room audit trail
// @Tags Audit
// @Produce json
// @Param from query string false "Start date (YYYY-MM-DD)"
// @Param to query string false "End date, inclusive (YYYY-MM-DD)"
// @Param actorId query string false "Actor"
// @Param changeType query string false "auto_regeneration, manual_adjustment or forced_update"
// @Param roomId query string false "Old or new room"
// @Param conflictId query string false "Conflict ID"
// @Success 200 {object} response.Envelope
// @Router /audit-logs [get]
func (h *AuditHandler) List(c *gin.Context) {
	var query dto.AuditLogQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	logs, pagination, err := h.service.Query(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, pagination)
}

// EntryHistory godoc
// @Summary Room history of one schedule slot
// @Tags Audit
// @Produce json
// @Param id path string true "Schedule item ID"
// @Success 200 {object} response.Envelope
// @Router /audit-logs/entries/{id} [get]
func (h *AuditHandler) EntryHistory(c *gin.Context) {
	logs, err := h.service.EntryHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, nil)
}

// Export godoc
// @Summary Download the filtered audit trail
// @Tags Audit
// @Produce text/csv
// @Produce application/pdf
// @Param format query string true "csv or pdf"
// @Success 200 {file} file
// @Router /audit-logs/export [get]
func (h *AuditHandler) Export(c *gin.Context) {
	var req dto.AuditExportRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	out, err := h.service.Export(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", out.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, out.ContentType, out.Data)
}

// Purge godoc
// @Summary Delete audit rows created before a date
// @Tags Audit
// @Produce json
// @Param before query string true "Cutoff date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /audit-logs [delete]
func (h *AuditHandler) Purge(c *gin.Context) {
	var req dto.PurgeAuditRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	result, err := h.service.Purge(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
