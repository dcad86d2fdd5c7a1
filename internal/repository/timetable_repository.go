package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

const timetableColumns = `id, section_id, version, is_published, previous_version_id, revision_history, meta, created_by, created_at, updated_at, published_at`

var scheduleItemFields = []string{
	"id", "timetable_id", "section_id", "day", "period", "start_time", "end_time", "subject_id", "faculty_id", "room_id", "note",
	"is_affected", "conflict_id", "original_room_id", "affected_reason", "requires_manual_assignment", "created_at", "updated_at",
}

func scheduleItemColumns(alias string) string {
	if alias == "" {
		return strings.Join(scheduleItemFields, ", ")
	}
	cols := make([]string, len(scheduleItemFields))
	for i, f := range scheduleItemFields {
		cols[i] = alias + "." + f
	}
	return strings.Join(cols, ", ")
}

// TimetableRepository persists versioned timetables and their schedule items.
type TimetableRepository struct {
	db *sqlx.DB
}

// NewTimetableRepository constructs a timetable repository.
func NewTimetableRepository(db *sqlx.DB) *TimetableRepository {
	return &TimetableRepository{db: db}
}

func (r *TimetableRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// NextVersion returns the version number the next timetable of the section should use.
func (r *TimetableRepository) NextVersion(ctx context.Context, exec sqlx.ExtContext, sectionID string) (int, error) {
	const query = `SELECT COALESCE(MAX(version), 0) + 1 FROM timetables WHERE section_id = $1`
	var version int
	if err := sqlx.GetContext(ctx, r.exec(exec), &version, query, sectionID); err != nil {
		return 0, fmt.Errorf("compute next timetable version: %w", err)
	}
	return version, nil
}

// Latest returns the highest version of a section's timetable.
func (r *TimetableRepository) Latest(ctx context.Context, exec sqlx.ExtContext, sectionID string) (*models.Timetable, error) {
	query := `SELECT ` + timetableColumns + ` FROM timetables WHERE section_id = $1 ORDER BY version DESC LIMIT 1`
	var tt models.Timetable
	if err := sqlx.GetContext(ctx, r.exec(exec), &tt, query, sectionID); err != nil {
		return nil, err
	}
	return &tt, nil
}

// Create inserts a timetable header.
func (r *TimetableRepository) Create(ctx context.Context, exec sqlx.ExtContext, tt *models.Timetable) error {
	if tt == nil {
		return fmt.Errorf("timetable payload is nil")
	}
	if tt.SectionID == "" || tt.Version <= 0 {
		return fmt.Errorf("section_id and version are required")
	}
	if tt.ID == "" {
		tt.ID = uuid.NewString()
	}
	if len(tt.Meta) == 0 {
		tt.Meta = types.JSONText(`{}`)
	}
	if len(tt.RevisionHistory) == 0 {
		tt.RevisionHistory = types.JSONText(`[]`)
	}
	now := time.Now().UTC()
	if tt.CreatedAt.IsZero() {
		tt.CreatedAt = now
	}
	tt.UpdatedAt = now

	const query = `
INSERT INTO timetables (id, section_id, version, is_published, previous_version_id, revision_history, meta, created_by, created_at, updated_at, published_at)
VALUES (:id, :section_id, :version, :is_published, :previous_version_id, :revision_history, :meta, :created_by, :created_at, :updated_at, :published_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, tt); err != nil {
		return fmt.Errorf("insert timetable: %w", err)
	}
	return nil
}

// InsertItems stores the schedule items of a timetable.
func (r *TimetableRepository) InsertItems(ctx context.Context, exec sqlx.ExtContext, items []models.ScheduleItem) error {
	if len(items) == 0 {
		return nil
	}
	target := r.exec(exec)
	now := time.Now().UTC()
	query := `INSERT INTO schedule_items (` + scheduleItemColumns("") + `)
VALUES (:id, :timetable_id, :section_id, :day, :period, :start_time, :end_time, :subject_id, :faculty_id, :room_id, :note,
:is_affected, :conflict_id, :original_room_id, :affected_reason, :requires_manual_assignment, :created_at, :updated_at)`

	for i := range items {
		item := &items[i]
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = now
		}
		item.UpdatedAt = now
		if _, err := sqlx.NamedExecContext(ctx, target, query, item); err != nil {
			return fmt.Errorf("insert schedule item: %w", err)
		}
	}
	return nil
}

// FindByID loads a timetable with its schedule.
func (r *TimetableRepository) FindByID(ctx context.Context, id string) (*models.Timetable, error) {
	query := `SELECT ` + timetableColumns + ` FROM timetables WHERE id = $1`
	var tt models.Timetable
	if err := r.db.GetContext(ctx, &tt, query, id); err != nil {
		return nil, err
	}
	items, err := r.ListItems(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	tt.Schedule = items
	return &tt, nil
}

// ListBySection returns every version of a section's timetable, newest first.
func (r *TimetableRepository) ListBySection(ctx context.Context, sectionID string) ([]models.Timetable, error) {
	query := `SELECT ` + timetableColumns + ` FROM timetables WHERE section_id = $1 ORDER BY version DESC`
	var timetables []models.Timetable
	if err := r.db.SelectContext(ctx, &timetables, query, sectionID); err != nil {
		return nil, fmt.Errorf("list timetables: %w", err)
	}
	return timetables, nil
}

// ListItems returns the schedule of one timetable.
func (r *TimetableRepository) ListItems(ctx context.Context, exec sqlx.ExtContext, timetableID string) ([]models.ScheduleItem, error) {
	query := `SELECT ` + scheduleItemColumns("") + ` FROM schedule_items WHERE timetable_id = $1 ORDER BY day ASC, period ASC`
	var items []models.ScheduleItem
	if err := sqlx.SelectContext(ctx, r.exec(exec), &items, query, timetableID); err != nil {
		return nil, fmt.Errorf("list schedule items: %w", err)
	}
	return items, nil
}

// ListPublished returns every published timetable with its schedule.
func (r *TimetableRepository) ListPublished(ctx context.Context, exec sqlx.ExtContext) ([]models.Timetable, error) {
	target := r.exec(exec)
	headerQuery := `SELECT ` + timetableColumns + ` FROM timetables WHERE is_published = TRUE ORDER BY section_id ASC`
	var timetables []models.Timetable
	if err := sqlx.SelectContext(ctx, target, &timetables, headerQuery); err != nil {
		return nil, fmt.Errorf("list published timetables: %w", err)
	}
	if len(timetables) == 0 {
		return nil, nil
	}

	itemQuery := `SELECT ` + scheduleItemColumns("si") + ` FROM schedule_items si
JOIN timetables t ON t.id = si.timetable_id
WHERE t.is_published = TRUE ORDER BY si.timetable_id ASC, si.day ASC, si.period ASC`
	var items []models.ScheduleItem
	if err := sqlx.SelectContext(ctx, target, &items, itemQuery); err != nil {
		return nil, fmt.Errorf("list published schedule items: %w", err)
	}

	byTimetable := make(map[string][]models.ScheduleItem, len(timetables))
	for _, item := range items {
		byTimetable[item.TimetableID] = append(byTimetable[item.TimetableID], item)
	}
	for i := range timetables {
		timetables[i].Schedule = byTimetable[timetables[i].ID]
	}
	return timetables, nil
}

// LockPublication serialises publishing across sections for the rest of the transaction.
func (r *TimetableRepository) LockPublication(ctx context.Context, exec sqlx.ExtContext) error {
	const query = `SELECT pg_advisory_xact_lock(hashtext('timetable_publication'))`
	if _, err := r.exec(exec).ExecContext(ctx, query); err != nil {
		return fmt.Errorf("lock timetable publication: %w", err)
	}
	return nil
}

// Publish marks a timetable as the live version of its section and retires any other published version.
func (r *TimetableRepository) Publish(ctx context.Context, exec sqlx.ExtContext, id, sectionID string) error {
	target := r.exec(exec)
	now := time.Now().UTC()

	const retire = `UPDATE timetables SET is_published = FALSE, updated_at = $1 WHERE section_id = $2 AND id <> $3 AND is_published = TRUE`
	if _, err := target.ExecContext(ctx, retire, now, sectionID, id); err != nil {
		return fmt.Errorf("retire published timetables: %w", err)
	}

	const publish = `UPDATE timetables SET is_published = TRUE, published_at = $1, updated_at = $1 WHERE id = $2`
	result, err := target.ExecContext(ctx, publish, now, id)
	if err != nil {
		return fmt.Errorf("publish timetable: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("publish timetable rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListLiveItemsByRoom returns unaffected items of published timetables that use the room,
// joined with the names copied into conflict snapshots.
func (r *TimetableRepository) ListLiveItemsByRoom(ctx context.Context, exec sqlx.ExtContext, roomID string) ([]models.ScheduleItemDetail, error) {
	query := `SELECT ` + scheduleItemColumns("si") + `, s.name AS section_name, sub.name AS subject_name, f.name AS faculty_name
FROM schedule_items si
JOIN timetables t ON t.id = si.timetable_id
JOIN sections s ON s.id = si.section_id
JOIN subjects sub ON sub.id = si.subject_id
JOIN faculty f ON f.id = si.faculty_id
WHERE t.is_published = TRUE AND si.room_id = $1 AND si.is_affected = FALSE
ORDER BY si.day ASC, si.period ASC`
	var items []models.ScheduleItemDetail
	if err := sqlx.SelectContext(ctx, r.exec(exec), &items, query, roomID); err != nil {
		return nil, fmt.Errorf("list live items by room: %w", err)
	}
	return items, nil
}

// MarkAffected flags items as invalidated by the conflict.
func (r *TimetableRepository) MarkAffected(ctx context.Context, exec sqlx.ExtContext, ids []string, conflictID, roomID, reason string) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `UPDATE schedule_items SET is_affected = TRUE, conflict_id = $1, original_room_id = $2, affected_reason = $3, updated_at = $4 WHERE id = ANY($5)`
	if _, err := r.exec(exec).ExecContext(ctx, query, conflictID, roomID, reason, time.Now().UTC(), pq.Array(ids)); err != nil {
		return fmt.Errorf("mark schedule items affected: %w", err)
	}
	return nil
}

// ClearAffectedByRoom resets the conflict fields of items that still sit in the restored room.
func (r *TimetableRepository) ClearAffectedByRoom(ctx context.Context, exec sqlx.ExtContext, roomID string) (int64, error) {
	const query = `UPDATE schedule_items
SET is_affected = FALSE, conflict_id = NULL, original_room_id = NULL, affected_reason = NULL, requires_manual_assignment = FALSE, updated_at = $1
WHERE is_affected = TRUE AND original_room_id = $2 AND room_id = $2`
	result, err := r.exec(exec).ExecContext(ctx, query, time.Now().UTC(), roomID)
	if err != nil {
		return 0, fmt.Errorf("clear affected schedule items: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear affected rows affected: %w", err)
	}
	return affected, nil
}

// FindItem loads a schedule item.
func (r *TimetableRepository) FindItem(ctx context.Context, id string) (*models.ScheduleItem, error) {
	query := `SELECT ` + scheduleItemColumns("") + ` FROM schedule_items WHERE id = $1`
	var item models.ScheduleItem
	if err := r.db.GetContext(ctx, &item, query, id); err != nil {
		return nil, err
	}
	return &item, nil
}

// FindItemForUpdate loads a schedule item and locks its row.
func (r *TimetableRepository) FindItemForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.ScheduleItem, error) {
	query := `SELECT ` + scheduleItemColumns("") + ` FROM schedule_items WHERE id = $1 FOR UPDATE`
	var item models.ScheduleItem
	if err := sqlx.GetContext(ctx, r.exec(exec), &item, query, id); err != nil {
		return nil, err
	}
	return &item, nil
}

// SaveItemState persists the room and conflict fields of an item.
func (r *TimetableRepository) SaveItemState(ctx context.Context, exec sqlx.ExtContext, item *models.ScheduleItem) error {
	item.UpdatedAt = time.Now().UTC()
	const query = `UPDATE schedule_items SET room_id = :room_id, is_affected = :is_affected, conflict_id = :conflict_id,
original_room_id = :original_room_id, affected_reason = :affected_reason, requires_manual_assignment = :requires_manual_assignment,
updated_at = :updated_at WHERE id = :id`
	result, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, item)
	if err != nil {
		return fmt.Errorf("update schedule item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("schedule item rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkRequiresManual flags an item that could not be re-homed automatically.
func (r *TimetableRepository) MarkRequiresManual(ctx context.Context, exec sqlx.ExtContext, id string) error {
	const query = `UPDATE schedule_items SET requires_manual_assignment = TRUE, updated_at = $1 WHERE id = $2`
	if _, err := r.exec(exec).ExecContext(ctx, query, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("mark schedule item manual: %w", err)
	}
	return nil
}

// RoomOccupied reports whether any other published item already uses the room at the slot.
func (r *TimetableRepository) RoomOccupied(ctx context.Context, exec sqlx.ExtContext, roomID string, day models.Weekday, period int, excludeItemID string) (bool, error) {
	const query = `SELECT EXISTS (
SELECT 1 FROM schedule_items si JOIN timetables t ON t.id = si.timetable_id
WHERE t.is_published = TRUE AND si.room_id = $1 AND si.day = $2 AND si.period = $3 AND si.id <> $4)`
	var occupied bool
	if err := sqlx.GetContext(ctx, r.exec(exec), &occupied, query, roomID, day, period, excludeItemID); err != nil {
		return false, fmt.Errorf("check room occupancy: %w", err)
	}
	return occupied, nil
}
