package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

const (
	sectionColumns = `id, name, strength, preferred_buildings, total_periods_per_week, created_at, updated_at`
	subjectColumns = `id, code, name, type, weekly_periods, required_equipment, requires_lab, created_at, updated_at`
	facultyColumns = `id, name, email, max_hours_per_week, available_days, created_at, updated_at`
)

// CatalogRepository reads the sections, subjects, faculty and mappings a generation run needs.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository constructs a catalog repository.
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// FindSection loads a section by id.
func (r *CatalogRepository) FindSection(ctx context.Context, id string) (*models.Section, error) {
	query := `SELECT ` + sectionColumns + ` FROM sections WHERE id = $1`
	var section models.Section
	if err := r.db.GetContext(ctx, &section, query, id); err != nil {
		return nil, err
	}
	return &section, nil
}

// ListMappingsBySection returns the teaching demand for a section.
func (r *CatalogRepository) ListMappingsBySection(ctx context.Context, sectionID string) ([]models.Mapping, error) {
	const query = `SELECT id, section_id, subject_id, faculty_id, created_at FROM mappings WHERE section_id = $1 ORDER BY created_at ASC, id ASC`
	var mappings []models.Mapping
	if err := r.db.SelectContext(ctx, &mappings, query, sectionID); err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	return mappings, nil
}

// ListSubjectsByIDs loads the subjects with the given ids.
func (r *CatalogRepository) ListSubjectsByIDs(ctx context.Context, ids []string) ([]models.Subject, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + subjectColumns + ` FROM subjects WHERE id = ANY($1)`
	var subjects []models.Subject
	if err := r.db.SelectContext(ctx, &subjects, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	return subjects, nil
}

// ListFacultyByIDs loads the faculty members with the given ids.
func (r *CatalogRepository) ListFacultyByIDs(ctx context.Context, ids []string) ([]models.Faculty, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + facultyColumns + ` FROM faculty WHERE id = ANY($1)`
	var faculty []models.Faculty
	if err := r.db.SelectContext(ctx, &faculty, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list faculty: %w", err)
	}
	return faculty, nil
}

// FindSubject loads a subject by id.
func (r *CatalogRepository) FindSubject(ctx context.Context, id string) (*models.Subject, error) {
	query := `SELECT ` + subjectColumns + ` FROM subjects WHERE id = $1`
	var subject models.Subject
	if err := r.db.GetContext(ctx, &subject, query, id); err != nil {
		return nil, err
	}
	return &subject, nil
}
