package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/events"
)

type affectedItemStore interface {
	ListLiveItemsByRoom(ctx context.Context, exec sqlx.ExtContext, roomID string) ([]models.ScheduleItemDetail, error)
	MarkAffected(ctx context.Context, exec sqlx.ExtContext, ids []string, conflictID, roomID, reason string) error
	ClearAffectedByRoom(ctx context.Context, exec sqlx.ExtContext, roomID string) (int64, error)
}

type conflictCreator interface {
	Create(ctx context.Context, exec sqlx.ExtContext, conflict *models.Conflict) error
}

// Detection is the outcome of reacting to one room status change.
type Detection struct {
	Room           models.Room
	PreviousStatus models.RoomStatus
	Actor          string
	Conflict       *models.Conflict
	ClearedItems   int64
	Changed        bool
}

// ConflictDetector opens conflicts for published items hosted by a room that became unavailable.
type ConflictDetector struct {
	items     affectedItemStore
	conflicts conflictCreator
	events    eventEmitter
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

// NewConflictDetector wires detector dependencies.
func NewConflictDetector(items affectedItemStore, conflicts conflictCreator, emitter eventEmitter, metrics *MetricsService, logger *zap.Logger) *ConflictDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = noopEmitter{}
	}
	return &ConflictDetector{
		items:     items,
		conflicts: conflicts,
		events:    emitter,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// OnRoomStatusChanged reacts to room moving from previous to its current status inside exec.
// Re-sending the same status is a no-op. Call Announce once exec has committed.
func (d *ConflictDetector) OnRoomStatusChanged(ctx context.Context, exec sqlx.ExtContext, room models.Room, previous models.RoomStatus, actorID string) (*Detection, error) {
	result := &Detection{Room: room, PreviousStatus: previous, Actor: actorOrSystem(actorID)}
	if room.Status == previous {
		return result, nil
	}
	result.Changed = true

	if room.Status.Available() {
		cleared, err := d.items.ClearAffectedByRoom(ctx, exec, room.ID)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to restore schedule items")
		}
		result.ClearedItems = cleared
		return result, nil
	}

	live, err := d.items.ListLiveItemsByRoom(ctx, exec, room.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load schedule items for room")
	}
	if len(live) == 0 {
		return result, nil
	}

	now := d.now().UTC()
	conflict := &models.Conflict{
		ID:             uuid.NewString(),
		RoomID:         room.ID,
		RoomCode:       room.Code,
		OriginalStatus: previous,
		NewStatus:      room.Status,
		Status:         models.ConflictStatusActive,
		DetectedBy:     result.Actor,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	ids := make([]string, 0, len(live))
	for _, item := range live {
		ids = append(ids, item.ID)
		conflict.AffectedEntries = append(conflict.AffectedEntries, models.AffectedEntry{
			ID:             uuid.NewString(),
			ConflictID:     conflict.ID,
			ScheduleItemID: item.ID,
			TimetableID:    item.TimetableID,
			SectionID:      item.SectionID,
			SectionName:    item.SectionName,
			SubjectID:      item.SubjectID,
			SubjectName:    item.SubjectName,
			FacultyID:      item.FacultyID,
			FacultyName:    item.FacultyName,
			Day:            item.Day,
			Period:         item.Period,
			StartTime:      item.StartTime,
			EndTime:        item.EndTime,
			Status:         models.EntryStatusPending,
			CreatedAt:      now,
		})
	}
	conflict.ApplySummary(models.Summarize(conflict.AffectedEntries))

	if err := d.conflicts.Create(ctx, exec, conflict); err != nil {
		return nil, appErrors.Internal(err, "failed to record conflict")
	}
	reason := fmt.Sprintf("room %s is %s", room.Code, room.Status)
	if err := d.items.MarkAffected(ctx, exec, ids, conflict.ID, room.ID, reason); err != nil {
		return nil, appErrors.Internal(err, "failed to flag affected schedule items")
	}
	result.Conflict = conflict
	return result, nil
}

// Announce emits the domain events for a committed detection.
func (d *ConflictDetector) Announce(ctx context.Context, detection *Detection) {
	if detection == nil || !detection.Changed {
		return
	}
	payload := map[string]any{
		"roomId":         detection.Room.ID,
		"roomCode":       detection.Room.Code,
		"previousStatus": detection.PreviousStatus,
		"newStatus":      detection.Room.Status,
		"actorId":        detection.Actor,
		"clearedItems":   detection.ClearedItems,
	}
	if detection.Conflict != nil {
		payload["conflictId"] = detection.Conflict.ID
	}
	d.events.Emit(ctx, events.TypeRoomChanged, payload)

	if detection.Conflict == nil {
		return
	}
	conflict := detection.Conflict
	d.metrics.ConflictOpened()
	entries := make([]map[string]any, 0, len(conflict.AffectedEntries))
	for _, entry := range conflict.AffectedEntries {
		entries = append(entries, map[string]any{
			"scheduleItemId": entry.ScheduleItemID,
			"sectionName":    entry.SectionName,
			"subjectName":    entry.SubjectName,
			"facultyName":    entry.FacultyName,
			"day":            entry.Day,
			"period":         entry.Period,
		})
	}
	d.events.Emit(ctx, events.TypeConflictDetected, map[string]any{
		"conflictId":    conflict.ID,
		"roomId":        conflict.RoomID,
		"roomCode":      conflict.RoomCode,
		"newStatus":     conflict.NewStatus,
		"totalAffected": conflict.TotalAffected,
		"entries":       entries,
	})
	d.logger.Warn("room conflict detected",
		zap.String("conflict_id", conflict.ID),
		zap.String("room_id", conflict.RoomID),
		zap.String("status", string(conflict.NewStatus)),
		zap.Int("affected", conflict.TotalAffected),
	)
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, string, interface{}) {}
