package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/scheduler"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/events"
	"github.com/noah-isme/sma-timetable-api/pkg/lock"
)

// WarnDoubleBooked marks a target room that already hosts another class in the slot.
const WarnDoubleBooked = "room_double_booked"

type conflictStore interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Conflict, error)
	List(ctx context.Context, filter models.ConflictFilter) ([]models.Conflict, int, error)
	ListEntries(ctx context.Context, exec sqlx.ExtContext, conflictID string) ([]models.AffectedEntry, error)
	FindEntryByItem(ctx context.Context, exec sqlx.ExtContext, conflictID, itemID string) (*models.AffectedEntry, error)
	UpdateEntry(ctx context.Context, exec sqlx.ExtContext, entry *models.AffectedEntry) error
	UpdateState(ctx context.Context, exec sqlx.ExtContext, conflict *models.Conflict) error
}

type scheduleItemStore interface {
	FindItem(ctx context.Context, id string) (*models.ScheduleItem, error)
	FindItemForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.ScheduleItem, error)
	SaveItemState(ctx context.Context, exec sqlx.ExtContext, item *models.ScheduleItem) error
	MarkRequiresManual(ctx context.Context, exec sqlx.ExtContext, id string) error
	RoomOccupied(ctx context.Context, exec sqlx.ExtContext, roomID string, day models.Weekday, period int, excludeItemID string) (bool, error)
	ListPublished(ctx context.Context, exec sqlx.ExtContext) ([]models.Timetable, error)
}

type repairCatalog interface {
	FindSection(ctx context.Context, id string) (*models.Section, error)
	FindSubject(ctx context.Context, id string) (*models.Subject, error)
}

type roomDirectory interface {
	List(ctx context.Context) ([]models.Room, error)
	LockForUpdate(ctx context.Context, exec sqlx.ExtContext, ids []string) ([]models.Room, error)
}

type auditRecorder interface {
	Record(ctx context.Context, exec sqlx.ExtContext, entry *models.RoomAuditLog) error
}

// RegenerationService re-homes schedule items displaced by an unavailable room and
// handles the manual side of the conflict lifecycle.
type RegenerationService struct {
	conflicts conflictStore
	items     scheduleItemStore
	catalog   repairCatalog
	rooms     roomDirectory
	audit     auditRecorder
	locker    lock.Locker
	tx        txProvider
	events    eventEmitter
	metrics   *MetricsService
	grid      scheduler.Grid
	limit     int
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// RegenerationConfig tunes the regeneration engine.
type RegenerationConfig struct {
	Grid            scheduler.GridConfig
	SuggestionLimit int
}

// NewRegenerationService wires regeneration dependencies.
func NewRegenerationService(
	conflicts conflictStore,
	items scheduleItemStore,
	catalog repairCatalog,
	rooms roomDirectory,
	audit auditRecorder,
	locker lock.Locker,
	tx txProvider,
	emitter eventEmitter,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg RegenerationConfig,
) (*RegenerationService, error) {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = noopEmitter{}
	}
	if locker == nil {
		locker = lock.NewLocalLocker(0)
	}
	if cfg.SuggestionLimit <= 0 {
		cfg.SuggestionLimit = 10
	}
	grid, err := scheduler.NewGrid(cfg.Grid)
	if err != nil {
		return nil, err
	}
	return &RegenerationService{
		conflicts: conflicts,
		items:     items,
		catalog:   catalog,
		rooms:     rooms,
		audit:     audit,
		locker:    locker,
		tx:        tx,
		events:    emitter,
		metrics:   metrics,
		grid:      grid,
		limit:     cfg.SuggestionLimit,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// List returns conflicts for the dashboard, newest first.
func (s *RegenerationService) List(ctx context.Context, query dto.ConflictQuery) ([]models.Conflict, *models.Pagination, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid conflict query")
	}
	page, size := normalizePage(query.Page, query.PageSize, 20)
	list, total, err := s.conflicts.List(ctx, models.ConflictFilter{
		Status: models.ConflictStatus(query.Status),
		RoomID: query.RoomID,
		Limit:  size,
		Offset: (page - 1) * size,
	})
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list conflicts")
	}
	return list, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one conflict with its affected entries.
func (s *RegenerationService) Get(ctx context.Context, id string) (*models.Conflict, error) {
	return s.loadConflict(ctx, nil, id)
}

// Resolve runs auto-regeneration over every pending entry of an active conflict.
// Entries are processed one at a time, each in its own transaction.
func (s *RegenerationService) Resolve(ctx context.Context, conflictID, actorID string) (*dto.RegenerationReport, error) {
	release, err := acquireLock(ctx, s.locker, s.metrics, lock.ConflictKey(conflictID), "conflict")
	if err != nil {
		return nil, err
	}
	defer release()

	conflict, err := s.loadConflict(ctx, nil, conflictID)
	if err != nil {
		return nil, err
	}
	if conflict.Status != models.ConflictStatusActive {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("conflict is %s", conflict.Status))
	}

	rooms, err := s.rooms.List(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load rooms")
	}
	tracker, err := s.occupancy(ctx)
	if err != nil {
		return nil, err
	}

	run := &repairRun{
		conflict: conflict,
		actor:    actorOrSystem(actorID),
		rooms:    rooms,
		original: lo.FindOrElse(rooms, models.Room{ID: conflict.RoomID, Code: conflict.RoomCode}, func(r models.Room) bool { return r.ID == conflict.RoomID }),
		tracker:  tracker,
		sections: make(map[string]*models.Section),
		subjects: make(map[string]*models.Subject),
	}
	report := &dto.RegenerationReport{
		ConflictID:    conflict.ID,
		RoomCode:      conflict.RoomCode,
		TotalAffected: len(conflict.AffectedEntries),
		Assignments:   []dto.RoomAssignment{},
		FailedEntries: []dto.FailedEntry{},
	}

	for i := range conflict.AffectedEntries {
		entry := conflict.AffectedEntries[i]
		if entry.Status != models.EntryStatusPending {
			continue
		}
		outcome, err := s.resolveEntry(ctx, run, &entry)
		if err != nil {
			s.settleCommitted(ctx, conflict)
			return nil, err
		}
		conflict.AffectedEntries[i] = entry
		s.metrics.RegenerationEntry(outcome.kind)
		switch outcome.kind {
		case outcomeAssigned:
			report.Assignments = append(report.Assignments, outcome.assignment)
		case outcomeManual:
			report.FailedEntries = append(report.FailedEntries, dto.FailedEntry{EntryID: entry.ID, ScheduleItemID: entry.ScheduleItemID, Reason: outcome.reason})
		}
	}

	entries, err := s.conflicts.ListEntries(ctx, nil, conflict.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to reload affected entries")
	}
	conflict.AffectedEntries = entries
	if err := s.settle(ctx, nil, conflict); err != nil {
		return nil, err
	}

	summary := conflict.ResolutionSummary()
	report.Resolved = summary.AutoResolved + summary.ManuallyResolved + summary.Restored
	report.Failed = len(report.FailedEntries)
	report.Status = conflict.Status
	report.Summary = summary

	s.emitSummary(ctx, conflict)
	s.logger.Info("conflict regeneration finished",
		zap.String("conflict_id", conflict.ID),
		zap.Int("assigned", len(report.Assignments)),
		zap.Int("requires_manual", report.Failed),
		zap.String("status", string(conflict.Status)),
	)
	return report, nil
}

type repairRun struct {
	conflict *models.Conflict
	actor    string
	rooms    []models.Room
	original models.Room
	tracker  *scheduler.Tracker
	sections map[string]*models.Section
	subjects map[string]*models.Subject
}

const (
	outcomeAssigned = "assigned"
	outcomeManual   = "requires_manual"
	outcomeRestored = "restored"
)

type entryOutcome struct {
	kind       string
	assignment dto.RoomAssignment
	reason     string
}

func (s *RegenerationService) resolveEntry(ctx context.Context, run *repairRun, entry *models.AffectedEntry) (outcome entryOutcome, err error) {
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return outcome, appErrors.Internal(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.now().UTC()
	item, err := s.items.FindItemForUpdate(ctx, tx, entry.ScheduleItemID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			err = appErrors.Internal(err, "failed to load schedule item")
			return outcome, err
		}
		outcome, err = s.commitManual(ctx, tx, "", entry, "schedule item no longer exists")
		return outcome, err
	}

	if !item.IsAffected || item.ConflictID == nil || *item.ConflictID != run.conflict.ID {
		outcome = entryOutcome{kind: outcomeRestored}
		markEntryResolved(entry, models.ResolutionRestored, item.RoomRef(), run.actor, now)
		if err = s.conflicts.UpdateEntry(ctx, tx, entry); err != nil {
			err = appErrors.Internal(err, "failed to update affected entry")
			return outcome, err
		}
		if err = tx.Commit(); err != nil {
			err = appErrors.Internal(err, "failed to commit regeneration step")
		}
		return outcome, err
	}

	section, subject, missing, err := s.repairInputs(ctx, run, item)
	if err != nil {
		return outcome, err
	}
	if missing != "" {
		outcome, err = s.commitManual(ctx, tx, item.ID, entry, missing)
		return outcome, err
	}

	for _, candidate := range s.candidates(run, item, *section, *subject) {
		var locked []models.Room
		locked, err = s.rooms.LockForUpdate(ctx, tx, []string{candidate.RoomID})
		if err != nil {
			err = appErrors.Internal(err, "failed to lock candidate room")
			return outcome, err
		}
		if len(locked) == 0 || !locked[0].IsAvailable() {
			continue
		}
		var occupied bool
		occupied, err = s.items.RoomOccupied(ctx, tx, candidate.RoomID, item.Day, item.Period, item.ID)
		if err != nil {
			err = appErrors.Internal(err, "failed to check room occupancy")
			return outcome, err
		}
		if occupied {
			run.tracker.MoveRoom("", candidate.RoomID, item.Day, item.Period)
			continue
		}

		oldRoom := item.RoomRef()
		newRoom := candidate.RoomID
		item.RoomID = &newRoom
		item.ClearAffected()
		item.UpdatedAt = now
		if err = s.items.SaveItemState(ctx, tx, item); err != nil {
			err = appErrors.Internal(err, "failed to reassign schedule item")
			return outcome, err
		}
		markEntryResolved(entry, models.ResolutionAuto, newRoom, run.actor, now)
		if err = s.conflicts.UpdateEntry(ctx, tx, entry); err != nil {
			err = appErrors.Internal(err, "failed to update affected entry")
			return outcome, err
		}
		logEntry := &models.RoomAuditLog{
			ID:             uuid.NewString(),
			ActorID:        run.actor,
			ChangeType:     models.ChangeTypeAutoRegeneration,
			TimetableID:    item.TimetableID,
			ScheduleItemID: item.ID,
			SectionID:      item.SectionID,
			Day:            item.Day,
			Period:         item.Period,
			ConflictID:     &run.conflict.ID,
			OldRoomCode:    run.original.Code,
			NewRoomID:      newRoom,
			NewRoomCode:    candidate.RoomCode,
			Reason:         fmt.Sprintf("room %s is %s", run.conflict.RoomCode, run.conflict.NewStatus),
			CreatedAt:      now,
		}
		if oldRoom != "" {
			logEntry.OldRoomID = &oldRoom
		}
		if logEntry.Metadata, err = encodeJSON(map[string]any{
			"score":     candidate.Score,
			"breakdown": candidate.Breakdown,
			"warnings":  candidate.Warnings,
		}); err != nil {
			err = appErrors.Internal(err, "failed to encode audit metadata")
			return outcome, err
		}
		if err = s.audit.Record(ctx, tx, logEntry); err != nil {
			return outcome, err
		}
		if err = tx.Commit(); err != nil {
			err = appErrors.Internal(err, "failed to commit regeneration step")
			return outcome, err
		}
		run.tracker.MoveRoom(oldRoom, newRoom, item.Day, item.Period)
		s.metrics.RoomReassigned(string(models.ChangeTypeAutoRegeneration))
		return entryOutcome{kind: outcomeAssigned, assignment: dto.RoomAssignment{
			EntryID:        entry.ID,
			ScheduleItemID: item.ID,
			OldRoomID:      oldRoom,
			OldRoomCode:    run.original.Code,
			NewRoomID:      newRoom,
			NewRoomCode:    candidate.RoomCode,
			Score:          candidate.Score,
		}}, nil
	}

	outcome, err = s.commitManual(ctx, tx, item.ID, entry, "no suitable room available for this slot")
	return outcome, err
}

// commitManual flags the entry, and the item when it still exists, for manual
// assignment and commits the step. The caller rolls back on error.
func (s *RegenerationService) commitManual(ctx context.Context, tx *sqlx.Tx, itemID string, entry *models.AffectedEntry, reason string) (entryOutcome, error) {
	outcome := entryOutcome{kind: outcomeManual, reason: reason}
	if itemID != "" {
		if err := s.items.MarkRequiresManual(ctx, tx, itemID); err != nil {
			return outcome, appErrors.Internal(err, "failed to flag schedule item for manual assignment")
		}
	}
	markEntryManual(entry, reason)
	if err := s.conflicts.UpdateEntry(ctx, tx, entry); err != nil {
		return outcome, appErrors.Internal(err, "failed to update affected entry")
	}
	if err := tx.Commit(); err != nil {
		return outcome, appErrors.Internal(err, "failed to commit regeneration step")
	}
	return outcome, nil
}

// candidates returns valid, currently free rooms ranked best first.
func (s *RegenerationService) candidates(run *repairRun, item *models.ScheduleItem, section models.Section, subject models.Subject) []scheduler.RoomScore {
	scores := make([]scheduler.RoomScore, 0, len(run.rooms))
	for _, room := range run.rooms {
		if room.ID == run.conflict.RoomID || !room.IsAvailable() {
			continue
		}
		if !run.tracker.RoomFree(room.ID, item.Day, item.Period, 1) {
			continue
		}
		score := scheduler.Score(room, subject, section, scheduler.ScoreOptions{
			UtilizationPercent: run.tracker.RoomUtilization(room.ID, s.grid),
			Repair:             true,
			OriginalBuilding:   run.original.Building,
		})
		if score.Valid {
			scores = append(scores, score)
		}
	}
	scheduler.Rank(scores)
	return scores
}

// repairInputs loads the catalog rows an item is scored against. A non-empty
// reason means a row is gone from the catalog and the entry needs a person.
func (s *RegenerationService) repairInputs(ctx context.Context, run *repairRun, item *models.ScheduleItem) (*models.Section, *models.Subject, string, error) {
	section, ok := run.sections[item.SectionID]
	if !ok {
		found, err := s.catalog.FindSection(ctx, item.SectionID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil, fmt.Sprintf("section %s no longer exists", item.SectionID), nil
			}
			return nil, nil, "", appErrors.Internal(err, "failed to load section")
		}
		section = found
		run.sections[item.SectionID] = found
	}
	subject, ok := run.subjects[item.SubjectID]
	if !ok {
		found, err := s.catalog.FindSubject(ctx, item.SubjectID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil, fmt.Sprintf("subject %s no longer exists", item.SubjectID), nil
			}
			return nil, nil, "", appErrors.Internal(err, "failed to load subject")
		}
		subject = found
		run.subjects[item.SubjectID] = found
	}
	return section, subject, "", nil
}

// ManualAdjust moves one schedule item to a chosen room. Hard validation failures
// require Force and are then logged as a forced update.
func (s *RegenerationService) ManualAdjust(ctx context.Context, itemID string, req dto.ManualAdjustRequest, actorID string) (*dto.ManualAdjustResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid manual adjustment payload")
	}
	item, err := s.findItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	key, scope := lock.TimetableKey(item.SectionID), "timetable"
	if item.ConflictID != nil {
		key, scope = lock.ConflictKey(*item.ConflictID), "conflict"
	}
	release, err := acquireLock(ctx, s.locker, s.metrics, key, scope)
	if err != nil {
		return nil, err
	}
	defer release()

	rooms, err := s.rooms.List(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load rooms")
	}
	target, ok := lo.Find(rooms, func(r models.Room) bool { return r.ID == req.RoomID })
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "room not found")
	}
	current, _ := lo.Find(rooms, func(r models.Room) bool { return r.ID == item.RoomRef() })
	if target.ID == item.RoomRef() && !item.IsAffected {
		return nil, appErrors.Clone(appErrors.ErrValidation, "schedule item already uses this room")
	}

	section, err := s.catalog.FindSection(ctx, item.SectionID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load section")
	}
	subject, err := s.catalog.FindSubject(ctx, item.SubjectID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load subject")
	}
	tracker, err := s.occupancy(ctx)
	if err != nil {
		return nil, err
	}
	score := scheduler.Score(target, *subject, *section, scheduler.ScoreOptions{
		UtilizationPercent: tracker.RoomUtilization(target.ID, s.grid),
		Repair:             true,
		OriginalBuilding:   current.Building,
	})
	occupied, err := s.items.RoomOccupied(ctx, nil, target.ID, item.Day, item.Period, item.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to check room occupancy")
	}
	warnings := append([]string{}, score.Warnings...)
	if occupied {
		warnings = append(warnings, WarnDoubleBooked)
	}
	hardFailure := !score.Valid || occupied
	if hardFailure && !req.Force {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "room is not suitable for this class; set force to override", map[string]any{
			"warnings": warnings,
			"score":    score,
		})
	}

	changeType := models.ChangeTypeManualAdjustment
	var overridden pq.StringArray
	if hardFailure {
		changeType = models.ChangeTypeForcedUpdate
		overridden = pq.StringArray(warnings)
	}

	now := s.now().UTC()
	actor := actorOrSystem(actorID)
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	item, err = s.items.FindItemForUpdate(ctx, tx, itemID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = appErrors.Clone(appErrors.ErrNotFound, "schedule item not found")
			return nil, err
		}
		err = appErrors.Internal(err, "failed to load schedule item")
		return nil, err
	}
	if _, err = s.rooms.LockForUpdate(ctx, tx, []string{target.ID}); err != nil {
		err = appErrors.Internal(err, "failed to lock target room")
		return nil, err
	}
	if !hardFailure {
		var taken bool
		taken, err = s.items.RoomOccupied(ctx, tx, target.ID, item.Day, item.Period, item.ID)
		if err != nil {
			err = appErrors.Internal(err, "failed to check room occupancy")
			return nil, err
		}
		if taken {
			err = appErrors.WithDetails(appErrors.ErrValidation, "room was booked for this slot; set force to override", map[string]any{
				"warnings": append(warnings, WarnDoubleBooked),
				"score":    score,
			})
			return nil, err
		}
	}

	oldRoom := item.RoomRef()
	conflictID := item.ConflictID
	newRoom := target.ID
	item.RoomID = &newRoom
	item.ClearAffected()
	item.UpdatedAt = now
	if err = s.items.SaveItemState(ctx, tx, item); err != nil {
		err = appErrors.Internal(err, "failed to reassign schedule item")
		return nil, err
	}

	logEntry := models.RoomAuditLog{
		ID:                           uuid.NewString(),
		ActorID:                      actor,
		ChangeType:                   changeType,
		TimetableID:                  item.TimetableID,
		ScheduleItemID:               item.ID,
		SectionID:                    item.SectionID,
		Day:                          item.Day,
		Period:                       item.Period,
		ConflictID:                   conflictID,
		OldRoomCode:                  current.Code,
		NewRoomID:                    target.ID,
		NewRoomCode:                  target.Code,
		Reason:                       req.Reason,
		ValidationWarningsOverridden: overridden,
		CreatedAt:                    now,
	}
	if oldRoom != "" {
		logEntry.OldRoomID = &oldRoom
	}
	if logEntry.Metadata, err = encodeJSON(map[string]any{"score": score.Score, "warnings": warnings}); err != nil {
		err = appErrors.Internal(err, "failed to encode audit metadata")
		return nil, err
	}
	if err = s.audit.Record(ctx, tx, &logEntry); err != nil {
		return nil, err
	}

	var conflict *models.Conflict
	if conflictID != nil {
		conflict, err = s.recordManualResolution(ctx, tx, *conflictID, item.ID, newRoom, actor, now)
		if err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Internal(err, "failed to commit manual adjustment")
		return nil, err
	}

	s.metrics.RoomReassigned(string(changeType))
	result := &dto.ManualAdjustResult{Item: *item, AuditLog: logEntry, Warnings: warnings}
	if conflict != nil {
		result.ConflictStatus = conflict.Status
		s.emitSummary(ctx, conflict)
	}
	s.logger.Info("schedule item room adjusted",
		zap.String("schedule_item_id", item.ID),
		zap.String("change_type", string(changeType)),
		zap.String("new_room_id", newRoom),
	)
	return result, nil
}

// recordManualResolution marks the item's entry as manually resolved unless the conflict was dismissed.
func (s *RegenerationService) recordManualResolution(ctx context.Context, exec sqlx.ExtContext, conflictID, itemID, roomID, actor string, now time.Time) (*models.Conflict, error) {
	conflict, err := s.conflicts.FindByID(ctx, exec, conflictID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Internal(err, "failed to load conflict")
	}
	if conflict.Status == models.ConflictStatusDismissed {
		return nil, nil
	}
	entry, err := s.conflicts.FindEntryByItem(ctx, exec, conflictID, itemID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Internal(err, "failed to load affected entry")
	}
	if entry != nil && entry.Status != models.EntryStatusResolved {
		markEntryResolved(entry, models.ResolutionManual, roomID, actor, now)
		if err := s.conflicts.UpdateEntry(ctx, exec, entry); err != nil {
			return nil, appErrors.Internal(err, "failed to update affected entry")
		}
		for i := range conflict.AffectedEntries {
			if conflict.AffectedEntries[i].ID == entry.ID {
				conflict.AffectedEntries[i] = *entry
			}
		}
	}
	if err := s.settle(ctx, exec, conflict); err != nil {
		return nil, err
	}
	return conflict, nil
}

// Dismiss closes an active conflict without touching its entries.
func (s *RegenerationService) Dismiss(ctx context.Context, conflictID string, req dto.DismissConflictRequest, actorID string) (*models.Conflict, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "dismiss reason is required")
	}
	release, err := acquireLock(ctx, s.locker, s.metrics, lock.ConflictKey(conflictID), "conflict")
	if err != nil {
		return nil, err
	}
	defer release()

	conflict, err := s.loadConflict(ctx, nil, conflictID)
	if err != nil {
		return nil, err
	}
	if conflict.Status != models.ConflictStatusActive {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("conflict is %s", conflict.Status))
	}
	actor := actorOrSystem(actorID)
	reason := req.Reason
	conflict.Status = models.ConflictStatusDismissed
	conflict.DismissedBy = &actor
	conflict.DismissReason = &reason
	conflict.UpdatedAt = s.now().UTC()
	if err := s.conflicts.UpdateState(ctx, nil, conflict); err != nil {
		return nil, appErrors.Internal(err, "failed to dismiss conflict")
	}
	s.emitSummary(ctx, conflict)
	return conflict, nil
}

// SuggestRooms ranks every other room for one schedule item without changing anything.
func (s *RegenerationService) SuggestRooms(ctx context.Context, itemID string) (*dto.RoomSuggestions, error) {
	item, err := s.findItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	rooms, err := s.rooms.List(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load rooms")
	}
	section, err := s.catalog.FindSection(ctx, item.SectionID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load section")
	}
	subject, err := s.catalog.FindSubject(ctx, item.SubjectID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load subject")
	}
	tracker, err := s.occupancy(ctx)
	if err != nil {
		return nil, err
	}
	current, _ := lo.Find(rooms, func(r models.Room) bool { return r.ID == item.RoomRef() })

	candidates := make([]scheduler.RoomScore, 0, len(rooms))
	for _, room := range rooms {
		if room.ID == item.RoomRef() {
			continue
		}
		score := scheduler.Score(room, *subject, *section, scheduler.ScoreOptions{
			UtilizationPercent: tracker.RoomUtilization(room.ID, s.grid),
			Repair:             true,
			OriginalBuilding:   current.Building,
		})
		if !tracker.RoomFree(room.ID, item.Day, item.Period, 1) {
			score.Valid = false
			score.Warnings = append(score.Warnings, WarnDoubleBooked)
		}
		candidates = append(candidates, score)
	}
	scheduler.Rank(candidates)
	if len(candidates) > s.limit {
		candidates = candidates[:s.limit]
	}
	return &dto.RoomSuggestions{ScheduleItemID: item.ID, CurrentRoomID: item.RoomRef(), Candidates: candidates}, nil
}

// settle recomputes the summary from entry states and resolves an active conflict with nothing pending.
func (s *RegenerationService) settle(ctx context.Context, exec sqlx.ExtContext, conflict *models.Conflict) error {
	conflict.ApplySummary(models.Summarize(conflict.AffectedEntries))
	now := s.now().UTC()
	if conflict.Status == models.ConflictStatusActive && models.PendingCount(conflict.AffectedEntries) == 0 {
		conflict.Status = models.ConflictStatusResolved
		conflict.ResolvedAt = &now
	}
	conflict.UpdatedAt = now
	if err := s.conflicts.UpdateState(ctx, exec, conflict); err != nil {
		return appErrors.Internal(err, "failed to update conflict state")
	}
	return nil
}

// settleCommitted brings the root counters in line with the entries already
// committed when a run stops early. Failures are logged since the caller is
// already returning the error that stopped the run.
func (s *RegenerationService) settleCommitted(ctx context.Context, conflict *models.Conflict) {
	entries, err := s.conflicts.ListEntries(ctx, nil, conflict.ID)
	if err != nil {
		s.logger.Error("reload affected entries after failed regeneration", zap.String("conflict_id", conflict.ID), zap.Error(err))
		return
	}
	conflict.AffectedEntries = entries
	if err := s.settle(ctx, nil, conflict); err != nil {
		s.logger.Error("settle conflict after failed regeneration", zap.String("conflict_id", conflict.ID), zap.Error(err))
	}
}

func (s *RegenerationService) emitSummary(ctx context.Context, conflict *models.Conflict) {
	s.events.Emit(ctx, events.TypeResolutionSummary, map[string]any{
		"conflictId":        conflict.ID,
		"roomId":            conflict.RoomID,
		"roomCode":          conflict.RoomCode,
		"status":            conflict.Status,
		"resolutionSummary": conflict.ResolutionSummary(),
	})
}

func (s *RegenerationService) occupancy(ctx context.Context) (*scheduler.Tracker, error) {
	published, err := s.items.ListPublished(ctx, nil)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load published timetables")
	}
	tracker := scheduler.NewTracker()
	tracker.Seed(published)
	return tracker, nil
}

func (s *RegenerationService) loadConflict(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Conflict, error) {
	if id == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "conflict id is required")
	}
	conflict, err := s.conflicts.FindByID(ctx, exec, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "conflict not found")
		}
		return nil, appErrors.Internal(err, "failed to load conflict")
	}
	return conflict, nil
}

func (s *RegenerationService) findItem(ctx context.Context, id string) (*models.ScheduleItem, error) {
	if id == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "schedule item id is required")
	}
	item, err := s.items.FindItem(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule item not found")
		}
		return nil, appErrors.Internal(err, "failed to load schedule item")
	}
	return item, nil
}

func markEntryResolved(entry *models.AffectedEntry, method models.ResolutionMethod, roomID, actor string, at time.Time) {
	entry.Status = models.EntryStatusResolved
	entry.ResolutionMethod = &method
	if roomID != "" {
		entry.NewRoomID = &roomID
	}
	entry.ResolvedAt = &at
	entry.ResolvedBy = &actor
	entry.FailureReason = nil
}

func markEntryManual(entry *models.AffectedEntry, reason string) {
	entry.Status = models.EntryStatusRequiresManual
	entry.FailureReason = &reason
}

func normalizePage(page, size, fallback int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = fallback
	}
	return page, size
}
