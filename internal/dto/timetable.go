package dto

import (
	"time"

	"github.com/noah-isme/sma-timetable-api/internal/scheduler"
)

// GenerateTimetableRequest asks the generator to build a proposal for one section.
type GenerateTimetableRequest struct {
	SectionID string `json:"sectionId" validate:"required"`
}

// TimetableProposal is the preview returned by Generate and cached until saved.
type TimetableProposal struct {
	ProposalID  string                        `json:"proposalId"`
	SectionID   string                        `json:"sectionId"`
	Score       float64                       `json:"score"`
	Required    int                           `json:"required"`
	Placed      int                           `json:"placed"`
	Schedule    []scheduler.Placement         `json:"schedule"`
	Conflicts   []scheduler.PlacementConflict `json:"conflicts"`
	GeneratedBy string                        `json:"generatedBy"`
	GeneratedAt time.Time                     `json:"generatedAt"`
	ExpiresAt   time.Time                     `json:"expiresAt"`
}

// SaveTimetableRequest persists a cached proposal as a new timetable version.
type SaveTimetableRequest struct {
	ProposalID string `json:"proposalId" validate:"required"`
	Publish    bool   `json:"publish"`
}

// TimetableQuery filters timetable versions.
type TimetableQuery struct {
	SectionID string `form:"sectionId" json:"sectionId" validate:"required"`
}

// ScheduleCollision describes an item that would double-book a live resource.
type ScheduleCollision struct {
	Dimension         string `json:"dimension"`
	Day               int    `json:"day"`
	Period            int    `json:"period"`
	ResourceID        string `json:"resourceId"`
	ConflictingItemID string `json:"conflictingItemId"`
	ConflictingTTID   string `json:"conflictingTimetableId"`
}

// Collision dimensions.
const (
	CollisionSection         = "SECTION"
	CollisionFaculty         = "FACULTY"
	CollisionRoom            = "ROOM"
	CollisionRoomUnavailable = "ROOM_UNAVAILABLE"
)

// ScheduleCollisionError is attached to conflict responses when publishing would collide.
type ScheduleCollisionError struct {
	Message    string              `json:"message"`
	Collisions []ScheduleCollision `json:"collisions"`
}

func (e *ScheduleCollisionError) Error() string {
	return e.Message
}
