package models

import (
	"time"

	"github.com/lib/pq"
)

// Section is a cohort of students that shares one timetable.
type Section struct {
	ID                  string         `db:"id" json:"id"`
	Name                string         `db:"name" json:"name"`
	Strength            int            `db:"strength" json:"strength"`
	PreferredBuildings  pq.StringArray `db:"preferred_buildings" json:"preferred_buildings"`
	TotalPeriodsPerWeek int            `db:"total_periods_per_week" json:"total_periods_per_week"`
	CreatedAt           time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at" json:"updated_at"`
}

// Mapping is the (section, subject, faculty) demand unit the generator must satisfy.
type Mapping struct {
	ID        string    `db:"id" json:"id"`
	SectionID string    `db:"section_id" json:"section_id"`
	SubjectID string    `db:"subject_id" json:"subject_id"`
	FacultyID string    `db:"faculty_id" json:"faculty_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
