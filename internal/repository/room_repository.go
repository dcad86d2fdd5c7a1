package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

const roomColumns = `id, code, name, building, floor, type, capacity, equipment, status, allow_theory_class, allow_lab_class, created_at, updated_at`

// RoomRepository persists rooms and their operational status.
type RoomRepository struct {
	db *sqlx.DB
}

// NewRoomRepository constructs a room repository.
func NewRoomRepository(db *sqlx.DB) *RoomRepository {
	return &RoomRepository{db: db}
}

func (r *RoomRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// FindByID loads a room.
func (r *RoomRepository) FindByID(ctx context.Context, id string) (*models.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE id = $1`
	var room models.Room
	if err := r.db.GetContext(ctx, &room, query, id); err != nil {
		return nil, err
	}
	return &room, nil
}

// FindForUpdate loads a room and locks its row for the surrounding transaction.
func (r *RoomRepository) FindForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE id = $1 FOR UPDATE`
	var room models.Room
	if err := sqlx.GetContext(ctx, r.exec(exec), &room, query, id); err != nil {
		return nil, err
	}
	return &room, nil
}

// List returns every room ordered by code.
func (r *RoomRepository) List(ctx context.Context) ([]models.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms ORDER BY code ASC`
	var rooms []models.Room
	if err := r.db.SelectContext(ctx, &rooms, query); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

// LockForUpdate locks the given room rows in id order and returns their current state.
// Rows stay locked until the surrounding transaction ends, so exec must be a transaction.
func (r *RoomRepository) LockForUpdate(ctx context.Context, exec sqlx.ExtContext, ids []string) ([]models.Room, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE id = ANY($1) ORDER BY id FOR UPDATE`
	var rooms []models.Room
	if err := sqlx.SelectContext(ctx, r.exec(exec), &rooms, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("lock rooms: %w", err)
	}
	return rooms, nil
}

// UpdateStatus persists a new status for the room.
func (r *RoomRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.RoomStatus) error {
	const query = `UPDATE rooms SET status = $1, updated_at = $2 WHERE id = $3`
	result, err := r.exec(exec).ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update room status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("room status rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
