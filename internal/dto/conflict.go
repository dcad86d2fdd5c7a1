package dto

import (
	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/scheduler"
)

// UpdateRoomStatusRequest changes a room's operational status.
type UpdateRoomStatusRequest struct {
	Status models.RoomStatus `json:"status" validate:"required,oneof=active in_maintenance reserved closed offline"`
	Reason string            `json:"reason" validate:"omitempty,max=500"`
}

// RoomStatusChangeResult reports what the status change triggered.
type RoomStatusChangeResult struct {
	Room           models.Room       `json:"room"`
	PreviousStatus models.RoomStatus `json:"previousStatus"`
	Conflict       *models.Conflict  `json:"conflict,omitempty"`
	ClearedItems   int               `json:"clearedItems"`
}

// ConflictQuery filters the conflict dashboard listing.
type ConflictQuery struct {
	Status   string `form:"status" validate:"omitempty,oneof=active resolved dismissed"`
	RoomID   string `form:"roomId"`
	Page     int    `form:"page" validate:"omitempty,min=1"`
	PageSize int    `form:"pageSize" validate:"omitempty,min=1,max=200"`
}

// RoomAssignment records one successful re-homing.
type RoomAssignment struct {
	EntryID        string  `json:"entryId"`
	ScheduleItemID string  `json:"scheduleItemId"`
	OldRoomID      string  `json:"oldRoomId"`
	OldRoomCode    string  `json:"oldRoomCode"`
	NewRoomID      string  `json:"newRoomId"`
	NewRoomCode    string  `json:"newRoomCode"`
	Score          float64 `json:"score"`
}

// FailedEntry records an entry left for manual assignment.
type FailedEntry struct {
	EntryID        string `json:"entryId"`
	ScheduleItemID string `json:"scheduleItemId"`
	Reason         string `json:"reason"`
}

// RegenerationReport is returned after auto-regeneration of a conflict.
type RegenerationReport struct {
	ConflictID    string                   `json:"conflictId"`
	RoomCode      string                   `json:"roomCode"`
	TotalAffected int                      `json:"totalAffected"`
	Resolved      int                      `json:"resolved"`
	Failed        int                      `json:"failed"`
	Assignments   []RoomAssignment         `json:"assignments"`
	FailedEntries []FailedEntry            `json:"failedEntries"`
	Status        models.ConflictStatus    `json:"status"`
	Summary       models.ResolutionSummary `json:"resolutionSummary"`
}

// DismissConflictRequest closes a conflict without resolving its entries.
type DismissConflictRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// ManualAdjustRequest moves one schedule item to another room.
type ManualAdjustRequest struct {
	RoomID string `json:"roomId" validate:"required"`
	Reason string `json:"reason" validate:"required,max=500"`
	Force  bool   `json:"force"`
}

// ManualAdjustResult reports the applied manual change.
type ManualAdjustResult struct {
	Item           models.ScheduleItem   `json:"item"`
	AuditLog       models.RoomAuditLog   `json:"auditLog"`
	Warnings       []string              `json:"warnings,omitempty"`
	ConflictStatus models.ConflictStatus `json:"conflictStatus,omitempty"`
}

// RoomSuggestions ranks candidate rooms for one schedule item.
type RoomSuggestions struct {
	ScheduleItemID string                `json:"scheduleItemId"`
	CurrentRoomID  string                `json:"currentRoomId"`
	Candidates     []scheduler.RoomScore `json:"candidates"`
}
