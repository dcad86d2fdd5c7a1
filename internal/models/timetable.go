package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Weekday follows the 0=Sunday convention used for faculty availability.
type Weekday int

const (
	Sunday Weekday = iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

var weekdayNames = [...]string{"SUNDAY", "MONDAY", "TUESDAY", "WEDNESDAY", "THURSDAY", "FRIDAY", "SATURDAY"}

// String returns the upper-case day name.
func (d Weekday) String() string {
	if d < Sunday || d > Saturday {
		return "UNKNOWN"
	}
	return weekdayNames[d]
}

// Timetable is one version of a section's weekly schedule.
type Timetable struct {
	ID                string         `db:"id" json:"id"`
	SectionID         string         `db:"section_id" json:"section_id"`
	Version           int            `db:"version" json:"version"`
	IsPublished       bool           `db:"is_published" json:"is_published"`
	PreviousVersionID *string        `db:"previous_version_id" json:"previous_version_id,omitempty"`
	RevisionHistory   types.JSONText `db:"revision_history" json:"revision_history"`
	Meta              types.JSONText `db:"meta" json:"meta"`
	CreatedBy         string         `db:"created_by" json:"created_by"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
	PublishedAt       *time.Time     `db:"published_at" json:"published_at,omitempty"`
	Schedule          []ScheduleItem `db:"-" json:"schedule,omitempty"`
}

// Revision is one entry of a timetable's carried-forward revision history.
type Revision struct {
	Version     int       `json:"version"`
	TimetableID string    `json:"timetable_id"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	Placed      int       `json:"placed"`
	Conflicts   int       `json:"conflicts"`
}

// ScheduleItem is one concrete (day, period, room) placement of a subject for a section.
type ScheduleItem struct {
	ID                       string    `db:"id" json:"id"`
	TimetableID              string    `db:"timetable_id" json:"timetable_id"`
	SectionID                string    `db:"section_id" json:"section_id"`
	Day                      Weekday   `db:"day" json:"day"`
	Period                   int       `db:"period" json:"period"`
	StartTime                string    `db:"start_time" json:"start_time"`
	EndTime                  string    `db:"end_time" json:"end_time"`
	SubjectID                string    `db:"subject_id" json:"subject_id"`
	FacultyID                string    `db:"faculty_id" json:"faculty_id"`
	RoomID                   *string   `db:"room_id" json:"room_id,omitempty"`
	Note                     string    `db:"note" json:"note"`
	IsAffected               bool      `db:"is_affected" json:"is_affected"`
	ConflictID               *string   `db:"conflict_id" json:"conflict_id,omitempty"`
	OriginalRoomID           *string   `db:"original_room_id" json:"original_room_id,omitempty"`
	AffectedReason           *string   `db:"affected_reason" json:"affected_reason,omitempty"`
	RequiresManualAssignment bool      `db:"requires_manual_assignment" json:"requires_manual_assignment"`
	CreatedAt                time.Time `db:"created_at" json:"created_at"`
	UpdatedAt                time.Time `db:"updated_at" json:"updated_at"`
}

// RoomRef returns the assigned room id or an empty string.
func (s ScheduleItem) RoomRef() string {
	if s.RoomID == nil {
		return ""
	}
	return *s.RoomID
}

// MarkAffected flags the item as invalidated by an unavailable room.
func (s *ScheduleItem) MarkAffected(conflictID, roomID, reason string) {
	s.IsAffected = true
	s.ConflictID = &conflictID
	s.OriginalRoomID = &roomID
	s.AffectedReason = &reason
}

// ClearAffected resets the conflict lifecycle fields. An unaffected item never
// keeps a conflict or original room reference.
func (s *ScheduleItem) ClearAffected() {
	s.IsAffected = false
	s.ConflictID = nil
	s.OriginalRoomID = nil
	s.AffectedReason = nil
	s.RequiresManualAssignment = false
}

// ScheduleItemDetail joins a schedule item with the display names copied into conflicts.
type ScheduleItemDetail struct {
	ScheduleItem
	SectionName string `db:"section_name" json:"section_name"`
	SubjectName string `db:"subject_name" json:"subject_name"`
	FacultyName string `db:"faculty_name" json:"faculty_name"`
}
