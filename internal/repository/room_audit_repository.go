package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

const roomAuditColumns = `id, actor_id, change_type, timetable_id, schedule_item_id, section_id, day, period, conflict_id, old_room_id,
old_room_code, new_room_id, new_room_code, reason, validation_warnings_overridden, metadata, created_at`

// RoomAuditRepository is the append-only store for room reassignments.
type RoomAuditRepository struct {
	db *sqlx.DB
}

// NewRoomAuditRepository constructs the audit repository.
func NewRoomAuditRepository(db *sqlx.DB) *RoomAuditRepository {
	return &RoomAuditRepository{db: db}
}

func (r *RoomAuditRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create appends an audit entry.
func (r *RoomAuditRepository) Create(ctx context.Context, exec sqlx.ExtContext, entry *models.RoomAuditLog) error {
	if entry == nil {
		return fmt.Errorf("audit payload is nil")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.ValidationWarningsOverridden == nil {
		entry.ValidationWarningsOverridden = pq.StringArray{}
	}
	if len(entry.Metadata) == 0 {
		entry.Metadata = types.JSONText(`{}`)
	}

	const query = `
INSERT INTO room_audit_logs (id, actor_id, change_type, timetable_id, schedule_item_id, section_id, day, period, conflict_id, old_room_id,
old_room_code, new_room_id, new_room_code, reason, validation_warnings_overridden, metadata, created_at)
VALUES (:id, :actor_id, :change_type, :timetable_id, :schedule_item_id, :section_id, :day, :period, :conflict_id, :old_room_id,
:old_room_code, :new_room_id, :new_room_code, :reason, :validation_warnings_overridden, :metadata, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, entry); err != nil {
		return fmt.Errorf("insert room audit log: %w", err)
	}
	return nil
}

// Query returns audit rows matching the filter, newest first, with the total count.
func (r *RoomAuditRepository) Query(ctx context.Context, filter models.RoomAuditFilter) ([]models.RoomAuditLog, int, error) {
	args := []interface{}{}
	conditions := []string{"1=1"}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", len(args)+1))
		args = append(args, *filter.To)
	}
	if filter.ActorID != "" {
		conditions = append(conditions, fmt.Sprintf("actor_id = $%d", len(args)+1))
		args = append(args, filter.ActorID)
	}
	if filter.ChangeType != "" {
		conditions = append(conditions, fmt.Sprintf("change_type = $%d", len(args)+1))
		args = append(args, filter.ChangeType)
	}
	if filter.RoomID != "" {
		conditions = append(conditions, fmt.Sprintf("(old_room_id = $%d OR new_room_id = $%d)", len(args)+1, len(args)+1))
		args = append(args, filter.RoomID)
	}
	if filter.ConflictID != "" {
		conditions = append(conditions, fmt.Sprintf("conflict_id = $%d", len(args)+1))
		args = append(args, filter.ConflictID)
	}
	where := strings.Join(conditions, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 500 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM room_audit_logs WHERE %s ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`, roomAuditColumns, where, size, offset)
	var logs []models.RoomAuditLog
	if err := r.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("query room audit logs: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf(`SELECT COUNT(*) FROM room_audit_logs WHERE %s`, where), args...); err != nil {
		return nil, 0, fmt.Errorf("count room audit logs: %w", err)
	}
	return logs, total, nil
}

// ListBySlot returns every change applied to the logical slot (section, day, period), newest first.
// The slot key survives timetable re-versioning, unlike item ids.
func (r *RoomAuditRepository) ListBySlot(ctx context.Context, sectionID string, day models.Weekday, period int) ([]models.RoomAuditLog, error) {
	query := `SELECT ` + roomAuditColumns + ` FROM room_audit_logs WHERE section_id = $1 AND day = $2 AND period = $3 ORDER BY created_at DESC, id DESC`
	var logs []models.RoomAuditLog
	if err := r.db.SelectContext(ctx, &logs, query, sectionID, day, period); err != nil {
		return nil, fmt.Errorf("list room audit logs by slot: %w", err)
	}
	return logs, nil
}

// PurgeBefore deletes audit rows older than the cutoff. It is the only delete path.
func (r *RoomAuditRepository) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM room_audit_logs WHERE created_at < $1`
	result, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("purge room audit logs: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected: %w", err)
	}
	return deleted, nil
}
