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

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

const (
	conflictColumns = `id, room_id, room_code, original_status, new_status, status, total_affected, auto_resolved, manually_resolved,
restored, unresolved, detected_by, dismissed_by, dismiss_reason, meta, created_at, updated_at, resolved_at`
	conflictEntryColumns = `id, conflict_id, schedule_item_id, timetable_id, section_id, section_name, subject_id, subject_name, faculty_id,
faculty_name, day, period, start_time, end_time, status, resolution_method, new_room_id, resolved_at, resolved_by, failure_reason, created_at`
)

// ConflictRepository persists conflicts and their affected entries.
type ConflictRepository struct {
	db *sqlx.DB
}

// NewConflictRepository constructs a conflict repository.
func NewConflictRepository(db *sqlx.DB) *ConflictRepository {
	return &ConflictRepository{db: db}
}

func (r *ConflictRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts the conflict root and every affected entry.
func (r *ConflictRepository) Create(ctx context.Context, exec sqlx.ExtContext, conflict *models.Conflict) error {
	if conflict == nil {
		return fmt.Errorf("conflict payload is nil")
	}
	if conflict.ID == "" {
		conflict.ID = uuid.NewString()
	}
	if conflict.Status == "" {
		conflict.Status = models.ConflictStatusActive
	}
	if len(conflict.Meta) == 0 {
		conflict.Meta = types.JSONText(`{}`)
	}
	now := time.Now().UTC()
	if conflict.CreatedAt.IsZero() {
		conflict.CreatedAt = now
	}
	conflict.UpdatedAt = now
	target := r.exec(exec)

	const query = `
INSERT INTO conflicts (id, room_id, room_code, original_status, new_status, status, total_affected, auto_resolved, manually_resolved,
restored, unresolved, detected_by, dismissed_by, dismiss_reason, meta, created_at, updated_at, resolved_at)
VALUES (:id, :room_id, :room_code, :original_status, :new_status, :status, :total_affected, :auto_resolved, :manually_resolved,
:restored, :unresolved, :detected_by, :dismissed_by, :dismiss_reason, :meta, :created_at, :updated_at, :resolved_at)`
	if _, err := sqlx.NamedExecContext(ctx, target, query, conflict); err != nil {
		return fmt.Errorf("insert conflict: %w", err)
	}

	const entryQuery = `
INSERT INTO conflict_entries (id, conflict_id, schedule_item_id, timetable_id, section_id, section_name, subject_id, subject_name, faculty_id,
faculty_name, day, period, start_time, end_time, status, resolution_method, new_room_id, resolved_at, resolved_by, failure_reason, created_at)
VALUES (:id, :conflict_id, :schedule_item_id, :timetable_id, :section_id, :section_name, :subject_id, :subject_name, :faculty_id,
:faculty_name, :day, :period, :start_time, :end_time, :status, :resolution_method, :new_room_id, :resolved_at, :resolved_by, :failure_reason, :created_at)`
	for i := range conflict.AffectedEntries {
		entry := &conflict.AffectedEntries[i]
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		entry.ConflictID = conflict.ID
		if entry.Status == "" {
			entry.Status = models.EntryStatusPending
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = now
		}
		if _, err := sqlx.NamedExecContext(ctx, target, entryQuery, entry); err != nil {
			return fmt.Errorf("insert conflict entry: %w", err)
		}
	}
	return nil
}

// FindByID loads a conflict with its entries.
func (r *ConflictRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Conflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflicts WHERE id = $1`
	var conflict models.Conflict
	if err := sqlx.GetContext(ctx, r.exec(exec), &conflict, query, id); err != nil {
		return nil, err
	}
	entries, err := r.ListEntries(ctx, exec, id)
	if err != nil {
		return nil, err
	}
	conflict.AffectedEntries = entries
	summary := conflict.ResolutionSummary()
	conflict.Summary = &summary
	return &conflict, nil
}

// ListEntries returns a conflict's entries ordered by slot.
func (r *ConflictRepository) ListEntries(ctx context.Context, exec sqlx.ExtContext, conflictID string) ([]models.AffectedEntry, error) {
	query := `SELECT ` + conflictEntryColumns + ` FROM conflict_entries WHERE conflict_id = $1 ORDER BY day ASC, period ASC, id ASC`
	var entries []models.AffectedEntry
	if err := sqlx.SelectContext(ctx, r.exec(exec), &entries, query, conflictID); err != nil {
		return nil, fmt.Errorf("list conflict entries: %w", err)
	}
	return entries, nil
}

// FindEntryByItem returns the entry tracking a schedule item within a conflict.
func (r *ConflictRepository) FindEntryByItem(ctx context.Context, exec sqlx.ExtContext, conflictID, itemID string) (*models.AffectedEntry, error) {
	query := `SELECT ` + conflictEntryColumns + ` FROM conflict_entries WHERE conflict_id = $1 AND schedule_item_id = $2`
	var entry models.AffectedEntry
	if err := sqlx.GetContext(ctx, r.exec(exec), &entry, query, conflictID, itemID); err != nil {
		return nil, err
	}
	return &entry, nil
}

// UpdateEntry persists an entry's resolution state.
func (r *ConflictRepository) UpdateEntry(ctx context.Context, exec sqlx.ExtContext, entry *models.AffectedEntry) error {
	const query = `UPDATE conflict_entries SET status = :status, resolution_method = :resolution_method, new_room_id = :new_room_id,
resolved_at = :resolved_at, resolved_by = :resolved_by, failure_reason = :failure_reason WHERE id = :id`
	result, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, entry)
	if err != nil {
		return fmt.Errorf("update conflict entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("conflict entry rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateState persists the root status, counters and dismissal fields.
func (r *ConflictRepository) UpdateState(ctx context.Context, exec sqlx.ExtContext, conflict *models.Conflict) error {
	conflict.UpdatedAt = time.Now().UTC()
	const query = `UPDATE conflicts SET status = :status, total_affected = :total_affected, auto_resolved = :auto_resolved,
manually_resolved = :manually_resolved, restored = :restored, unresolved = :unresolved, dismissed_by = :dismissed_by, dismiss_reason = :dismiss_reason,
updated_at = :updated_at, resolved_at = :resolved_at WHERE id = :id`
	result, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, conflict)
	if err != nil {
		return fmt.Errorf("update conflict: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("conflict rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// List returns conflicts matching the filter together with the total count.
func (r *ConflictRepository) List(ctx context.Context, filter models.ConflictFilter) ([]models.Conflict, int, error) {
	args := []interface{}{}
	conditions := []string{"1=1"}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.RoomID != "" {
		conditions = append(conditions, fmt.Sprintf("room_id = $%d", len(args)+1))
		args = append(args, filter.RoomID)
	}
	where := strings.Join(conditions, " AND ")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`SELECT %s FROM conflicts WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`, conflictColumns, where, limit, offset)
	var conflicts []models.Conflict
	if err := r.db.SelectContext(ctx, &conflicts, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list conflicts: %w", err)
	}
	for i := range conflicts {
		summary := conflicts[i].ResolutionSummary()
		conflicts[i].Summary = &summary
	}

	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf(`SELECT COUNT(*) FROM conflicts WHERE %s`, where), args...); err != nil {
		return nil, 0, fmt.Errorf("count conflicts: %w", err)
	}
	return conflicts, total, nil
}
