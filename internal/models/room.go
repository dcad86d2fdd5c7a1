package models

import (
	"time"

	"github.com/lib/pq"
)

// RoomType distinguishes ordinary classrooms from laboratories.
type RoomType string

const (
	RoomTypeClassroom RoomType = "Classroom"
	RoomTypeLab       RoomType = "Lab"
)

// RoomStatus is the operational state of a room. Only active rooms can host classes.
type RoomStatus string

const (
	RoomStatusActive        RoomStatus = "active"
	RoomStatusInMaintenance RoomStatus = "in_maintenance"
	RoomStatusReserved      RoomStatus = "reserved"
	RoomStatusClosed        RoomStatus = "closed"
	RoomStatusOffline       RoomStatus = "offline"
)

// Valid reports whether the status is one of the known values.
func (s RoomStatus) Valid() bool {
	switch s {
	case RoomStatusActive, RoomStatusInMaintenance, RoomStatusReserved, RoomStatusClosed, RoomStatusOffline:
		return true
	}
	return false
}

// Available reports whether a room in this status can be booked.
func (s RoomStatus) Available() bool {
	return s == RoomStatusActive
}

// Room is a bookable teaching space.
type Room struct {
	ID               string         `db:"id" json:"id"`
	Code             string         `db:"code" json:"code"`
	Name             string         `db:"name" json:"name"`
	Building         string         `db:"building" json:"building"`
	Floor            int            `db:"floor" json:"floor"`
	Type             RoomType       `db:"type" json:"type"`
	Capacity         int            `db:"capacity" json:"capacity"`
	Equipment        pq.StringArray `db:"equipment" json:"equipment"`
	Status           RoomStatus     `db:"status" json:"status"`
	AllowTheoryClass bool           `db:"allow_theory_class" json:"allow_theory_class"`
	AllowLabClass    bool           `db:"allow_lab_class" json:"allow_lab_class"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}

// IsAvailable reports whether the room can currently host classes.
func (r Room) IsAvailable() bool {
	return r.Status.Available()
}
