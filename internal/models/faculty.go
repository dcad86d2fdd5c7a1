package models

import (
	"time"

	"github.com/lib/pq"
)

// Faculty is a teaching staff member.
type Faculty struct {
	ID              string        `db:"id" json:"id"`
	Name            string        `db:"name" json:"name"`
	Email           string        `db:"email" json:"email"`
	MaxHoursPerWeek int           `db:"max_hours_per_week" json:"max_hours_per_week"`
	AvailableDays   pq.Int64Array `db:"available_days" json:"available_days"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

// AvailableOn reports whether the faculty member teaches on the given day.
// An empty availability list means every day.
func (f Faculty) AvailableOn(day Weekday) bool {
	if len(f.AvailableDays) == 0 {
		return true
	}
	for _, d := range f.AvailableDays {
		if Weekday(d) == day {
			return true
		}
	}
	return false
}
