package models

import (
	"time"

	"github.com/lib/pq"
)

// SubjectType classifies how a subject is taught.
type SubjectType string

const (
	SubjectTypeTheory  SubjectType = "Theory"
	SubjectTypeLab     SubjectType = "Lab"
	SubjectTypeProject SubjectType = "Project"
)

// Subject represents an academic subject.
type Subject struct {
	ID                string         `db:"id" json:"id"`
	Code              string         `db:"code" json:"code"`
	Name              string         `db:"name" json:"name"`
	Type              SubjectType    `db:"type" json:"type"`
	WeeklyPeriods     int            `db:"weekly_periods" json:"weekly_periods"`
	RequiredEquipment pq.StringArray `db:"required_equipment" json:"required_equipment"`
	RequiresLab       bool           `db:"requires_lab" json:"requires_lab"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

// NeedsLab reports whether the subject should be hosted in a laboratory.
func (s Subject) NeedsLab() bool {
	return s.RequiresLab || s.Type == SubjectTypeLab
}

// BlockSize is the number of consecutive periods placed per session.
func (s Subject) BlockSize() int {
	if s.Type == SubjectTypeLab {
		return 2
	}
	return 1
}
