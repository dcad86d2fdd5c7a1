package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// ConflictStatus is the lifecycle state of a conflict root record.
type ConflictStatus string

const (
	ConflictStatusActive    ConflictStatus = "active"
	ConflictStatusResolved  ConflictStatus = "resolved"
	ConflictStatusDismissed ConflictStatus = "dismissed"
)

// AffectedEntryStatus is the lifecycle state of one affected schedule item.
type AffectedEntryStatus string

const (
	EntryStatusPending        AffectedEntryStatus = "pending"
	EntryStatusResolved       AffectedEntryStatus = "resolved"
	EntryStatusRequiresManual AffectedEntryStatus = "requires_manual"
)

// ResolutionMethod records how an affected entry left the pending state.
type ResolutionMethod string

const (
	ResolutionAuto     ResolutionMethod = "auto"
	ResolutionManual   ResolutionMethod = "manual"
	ResolutionRestored ResolutionMethod = "restored"
)

// ResolutionSummary aggregates entry outcomes for dashboards.
type ResolutionSummary struct {
	TotalAffected    int `json:"total_affected"`
	AutoResolved     int `json:"auto_resolved"`
	ManuallyResolved int `json:"manually_resolved"`
	Restored         int `json:"restored"`
	Unresolved       int `json:"unresolved"`
}

// Conflict is opened when a room hosting published classes becomes unavailable.
type Conflict struct {
	ID              string             `db:"id" json:"id"`
	RoomID          string             `db:"room_id" json:"room_id"`
	RoomCode        string             `db:"room_code" json:"room_code"`
	OriginalStatus  RoomStatus         `db:"original_status" json:"original_status"`
	NewStatus       RoomStatus         `db:"new_status" json:"new_status"`
	Status          ConflictStatus     `db:"status" json:"status"`
	TotalAffected   int                `db:"total_affected" json:"-"`
	AutoResolved    int                `db:"auto_resolved" json:"-"`
	ManualResolved  int                `db:"manually_resolved" json:"-"`
	Restored        int                `db:"restored" json:"-"`
	Unresolved      int                `db:"unresolved" json:"-"`
	DetectedBy      string             `db:"detected_by" json:"detected_by"`
	DismissedBy     *string            `db:"dismissed_by" json:"dismissed_by,omitempty"`
	DismissReason   *string            `db:"dismiss_reason" json:"dismiss_reason,omitempty"`
	Meta            types.JSONText     `db:"meta" json:"meta,omitempty"`
	CreatedAt       time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time          `db:"updated_at" json:"updated_at"`
	ResolvedAt      *time.Time         `db:"resolved_at" json:"resolved_at,omitempty"`
	AffectedEntries []AffectedEntry    `db:"-" json:"affected_entries"`
	Summary         *ResolutionSummary `db:"-" json:"resolution_summary,omitempty"`
}

// ResolutionSummary returns the stored counters as a summary value.
func (c Conflict) ResolutionSummary() ResolutionSummary {
	return ResolutionSummary{
		TotalAffected:    c.TotalAffected,
		AutoResolved:     c.AutoResolved,
		ManuallyResolved: c.ManualResolved,
		Restored:         c.Restored,
		Unresolved:       c.Unresolved,
	}
}

// ApplySummary copies summary counters onto the stored columns.
func (c *Conflict) ApplySummary(summary ResolutionSummary) {
	c.TotalAffected = summary.TotalAffected
	c.AutoResolved = summary.AutoResolved
	c.ManualResolved = summary.ManuallyResolved
	c.Restored = summary.Restored
	c.Unresolved = summary.Unresolved
	c.Summary = &summary
}

// Summarize recomputes the resolution summary from entry states. Entries whose
// original room came back are counted as restored, not as repairs.
func Summarize(entries []AffectedEntry) ResolutionSummary {
	summary := ResolutionSummary{TotalAffected: len(entries)}
	for _, entry := range entries {
		switch entry.Status {
		case EntryStatusResolved:
			method := ResolutionAuto
			if entry.ResolutionMethod != nil {
				method = *entry.ResolutionMethod
			}
			switch method {
			case ResolutionManual:
				summary.ManuallyResolved++
			case ResolutionRestored:
				summary.Restored++
			default:
				summary.AutoResolved++
			}
		default:
			summary.Unresolved++
		}
	}
	return summary
}

// PendingCount returns the number of entries still awaiting a decision.
func PendingCount(entries []AffectedEntry) int {
	count := 0
	for _, entry := range entries {
		if entry.Status == EntryStatusPending {
			count++
		}
	}
	return count
}

// AffectedEntry is a denormalised snapshot of one schedule item hit by a conflict.
// Names are copied so the record stays readable after the referenced entities change.
type AffectedEntry struct {
	ID               string              `db:"id" json:"id"`
	ConflictID       string              `db:"conflict_id" json:"conflict_id"`
	ScheduleItemID   string              `db:"schedule_item_id" json:"schedule_item_id"`
	TimetableID      string              `db:"timetable_id" json:"timetable_id"`
	SectionID        string              `db:"section_id" json:"section_id"`
	SectionName      string              `db:"section_name" json:"section_name"`
	SubjectID        string              `db:"subject_id" json:"subject_id"`
	SubjectName      string              `db:"subject_name" json:"subject_name"`
	FacultyID        string              `db:"faculty_id" json:"faculty_id"`
	FacultyName      string              `db:"faculty_name" json:"faculty_name"`
	Day              Weekday             `db:"day" json:"day"`
	Period           int                 `db:"period" json:"period"`
	StartTime        string              `db:"start_time" json:"start_time"`
	EndTime          string              `db:"end_time" json:"end_time"`
	Status           AffectedEntryStatus `db:"status" json:"status"`
	ResolutionMethod *ResolutionMethod   `db:"resolution_method" json:"resolution_method,omitempty"`
	NewRoomID        *string             `db:"new_room_id" json:"new_room_id,omitempty"`
	ResolvedAt       *time.Time          `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolvedBy       *string             `db:"resolved_by" json:"resolved_by,omitempty"`
	FailureReason    *string             `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt        time.Time           `db:"created_at" json:"created_at"`
}

// ConflictFilter constrains conflict listing queries.
type ConflictFilter struct {
	Status ConflictStatus
	RoomID string
	Limit  int
	Offset int
}
