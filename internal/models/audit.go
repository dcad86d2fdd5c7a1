package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
)

// RoomChangeType classifies room reassignments in the audit trail.
type RoomChangeType string

const (
	ChangeTypeAutoRegeneration RoomChangeType = "auto_regeneration"
	ChangeTypeManualAdjustment RoomChangeType = "manual_adjustment"
	ChangeTypeForcedUpdate     RoomChangeType = "forced_update"
)

// Valid reports whether the change type is known.
func (t RoomChangeType) Valid() bool {
	switch t {
	case ChangeTypeAutoRegeneration, ChangeTypeManualAdjustment, ChangeTypeForcedUpdate:
		return true
	}
	return false
}

// RoomAuditLog is an immutable record of one room reassignment.
type RoomAuditLog struct {
	ID                           string         `db:"id" json:"id"`
	ActorID                      string         `db:"actor_id" json:"actor_id"`
	ChangeType                   RoomChangeType `db:"change_type" json:"change_type"`
	TimetableID                  string         `db:"timetable_id" json:"timetable_id"`
	ScheduleItemID               string         `db:"schedule_item_id" json:"schedule_item_id"`
	SectionID                    string         `db:"section_id" json:"section_id"`
	Day                          Weekday        `db:"day" json:"day"`
	Period                       int            `db:"period" json:"period"`
	ConflictID                   *string        `db:"conflict_id" json:"conflict_id,omitempty"`
	OldRoomID                    *string        `db:"old_room_id" json:"old_room_id,omitempty"`
	OldRoomCode                  string         `db:"old_room_code" json:"old_room_code"`
	NewRoomID                    string         `db:"new_room_id" json:"new_room_id"`
	NewRoomCode                  string         `db:"new_room_code" json:"new_room_code"`
	Reason                       string         `db:"reason" json:"reason"`
	ValidationWarningsOverridden pq.StringArray `db:"validation_warnings_overridden" json:"validation_warnings_overridden"`
	Metadata                     types.JSONText `db:"metadata" json:"metadata,omitempty"`
	CreatedAt                    time.Time      `db:"created_at" json:"created_at"`
}

// RoomAuditFilter supports reporting queries over the audit trail.
type RoomAuditFilter struct {
	From       *time.Time
	To         *time.Time
	ActorID    string
	ChangeType RoomChangeType
	RoomID     string
	ConflictID string
	Page       int
	PageSize   int
}
