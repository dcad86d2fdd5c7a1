package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/export"
)

const (
	auditDateLayout    = "2006-01-02"
	auditExportPageCap = 500
)

type auditStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, entry *models.RoomAuditLog) error
	Query(ctx context.Context, filter models.RoomAuditFilter) ([]models.RoomAuditLog, int, error)
	ListBySlot(ctx context.Context, sectionID string, day models.Weekday, period int) ([]models.RoomAuditLog, error)
	PurgeBefore(ctx context.Context, before time.Time) (int64, error)
}

type itemFinder interface {
	FindItem(ctx context.Context, id string) (*models.ScheduleItem, error)
}

// AuditTrailService exposes the append-only room change history.
type AuditTrailService struct {
	store     auditStore
	items     itemFinder
	retention time.Duration
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewAuditTrailService wires audit dependencies. A zero retention disables PurgeExpired.
func NewAuditTrailService(store auditStore, items itemFinder, retention time.Duration, validate *validator.Validate, logger *zap.Logger) *AuditTrailService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditTrailService{store: store, items: items, retention: retention, validator: validate, logger: logger, now: time.Now}
}

// Record appends one audit row. A non-nil exec writes it inside the caller's
// transaction so the row commits or rolls back with the room change it describes.
func (s *AuditTrailService) Record(ctx context.Context, exec sqlx.ExtContext, entry *models.RoomAuditLog) error {
	if entry == nil || !entry.ChangeType.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "audit entry requires a valid change type")
	}
	if entry.ScheduleItemID == "" || entry.NewRoomID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "audit entry requires schedule item and new room")
	}
	entry.ActorID = actorOrSystem(entry.ActorID)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	if err := s.store.Create(ctx, exec, entry); err != nil {
		return appErrors.Internal(err, "failed to write room audit log")
	}
	return nil
}

// Query returns a page of audit rows, newest first.
func (s *AuditTrailService) Query(ctx context.Context, query dto.AuditLogQuery) ([]models.RoomAuditLog, *models.Pagination, error) {
	filter, err := s.filter(query)
	if err != nil {
		return nil, nil, err
	}
	logs, total, err := s.store.Query(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to query room audit logs")
	}
	return logs, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// EntryHistory lists every room change recorded for the item's slot, across timetable versions.
func (s *AuditTrailService) EntryHistory(ctx context.Context, itemID string) ([]models.RoomAuditLog, error) {
	if itemID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "schedule item id is required")
	}
	item, err := s.items.FindItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule item not found")
		}
		return nil, appErrors.Internal(err, "failed to load schedule item")
	}
	logs, err := s.store.ListBySlot(ctx, item.SectionID, item.Day, item.Period)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load schedule item history")
	}
	return logs, nil
}

// Purge deletes audit rows created before the given day.
func (s *AuditTrailService) Purge(ctx context.Context, req dto.PurgeAuditRequest) (*dto.PurgeResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "before must be a YYYY-MM-DD date")
	}
	before, err := time.Parse(auditDateLayout, req.Before)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "before must be a YYYY-MM-DD date")
	}
	if before.After(s.now().UTC()) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "before must not be in the future")
	}
	return s.purge(ctx, before)
}

// PurgeExpired applies the configured retention window.
func (s *AuditTrailService) PurgeExpired(ctx context.Context) (*dto.PurgeResult, error) {
	if s.retention <= 0 {
		return &dto.PurgeResult{}, nil
	}
	return s.purge(ctx, s.now().UTC().Add(-s.retention))
}

func (s *AuditTrailService) purge(ctx context.Context, before time.Time) (*dto.PurgeResult, error) {
	deleted, err := s.store.PurgeBefore(ctx, before)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to purge room audit logs")
	}
	s.logger.Info("room audit logs purged", zap.Time("before", before), zap.Int64("deleted", deleted))
	return &dto.PurgeResult{Deleted: deleted}, nil
}

// Export renders every row matching the filter as CSV or PDF.
func (s *AuditTrailService) Export(ctx context.Context, req dto.AuditExportRequest) (*dto.AuditExport, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid audit export request")
	}
	renderer, err := export.ForFormat(req.Format)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	filter, err := s.filter(req.AuditLogQuery)
	if err != nil {
		return nil, err
	}
	filter.PageSize = auditExportPageCap

	var logs []models.RoomAuditLog
	for page := 1; ; page++ {
		filter.Page = page
		batch, total, err := s.store.Query(ctx, filter)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to query room audit logs")
		}
		logs = append(logs, batch...)
		if len(batch) == 0 || len(logs) >= total {
			break
		}
	}

	body, err := renderer.Render(auditDataset(logs))
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render audit export")
	}
	return &dto.AuditExport{
		Filename:    fmt.Sprintf("room-audit-%s.%s", s.now().UTC().Format("20060102-150405"), renderer.Extension()),
		ContentType: renderer.ContentType(),
		Data:        body,
	}, nil
}

func (s *AuditTrailService) filter(query dto.AuditLogQuery) (models.RoomAuditFilter, error) {
	if err := s.validator.Struct(query); err != nil {
		return models.RoomAuditFilter{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid audit query")
	}
	page, size := normalizePage(query.Page, query.PageSize, 50)
	filter := models.RoomAuditFilter{
		ActorID:    query.ActorID,
		ChangeType: models.RoomChangeType(query.ChangeType),
		RoomID:     query.RoomID,
		ConflictID: query.ConflictID,
		Page:       page,
		PageSize:   size,
	}
	if query.From != "" {
		from, _ := time.Parse(auditDateLayout, query.From)
		filter.From = &from
	}
	if query.To != "" {
		to, _ := time.Parse(auditDateLayout, query.To)
		to = to.AddDate(0, 0, 1)
		filter.To = &to
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return models.RoomAuditFilter{}, appErrors.Clone(appErrors.ErrValidation, "from must not be after to")
	}
	return filter, nil
}

func auditDataset(logs []models.RoomAuditLog) export.Dataset {
	data := export.Dataset{
		Title: "Room change audit trail",
		Columns: []export.Column{
			{Key: "created_at", Title: "Timestamp", Width: 1.6},
			{Key: "actor", Title: "Actor"},
			{Key: "change_type", Title: "Change", Width: 1.3},
			{Key: "slot", Title: "Day / Period", Width: 1.2},
			{Key: "section", Title: "Section"},
			{Key: "old_room", Title: "From"},
			{Key: "new_room", Title: "To"},
			{Key: "conflict", Title: "Conflict"},
			{Key: "reason", Title: "Reason", Width: 2},
			{Key: "overridden", Title: "Overridden", Width: 1.5},
		},
		Rows: make([]map[string]string, 0, len(logs)),
	}
	for _, entry := range logs {
		conflict := ""
		if entry.ConflictID != nil {
			conflict = *entry.ConflictID
		}
		data.Rows = append(data.Rows, map[string]string{
			"created_at":  entry.CreatedAt.UTC().Format(time.RFC3339),
			"actor":       entry.ActorID,
			"change_type": string(entry.ChangeType),
			"slot":        entry.Day.String() + " / " + strconv.Itoa(entry.Period),
			"section":     entry.SectionID,
			"old_room":    entry.OldRoomCode,
			"new_room":    entry.NewRoomCode,
			"conflict":    conflict,
			"reason":      entry.Reason,
			"overridden":  strings.Join(entry.ValidationWarningsOverridden, ", "),
		})
	}
	return data
}
