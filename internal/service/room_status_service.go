package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
)

type roomStatusStore interface {
	FindForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Room, error)
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.RoomStatus) error
}

type roomChangeDetector interface {
	OnRoomStatusChanged(ctx context.Context, exec sqlx.ExtContext, room models.Room, previous models.RoomStatus, actorID string) (*Detection, error)
	Announce(ctx context.Context, detection *Detection)
}

// RoomStatusService changes room status and runs conflict detection in the same transaction.
type RoomStatusService struct {
	rooms     roomStatusStore
	detector  roomChangeDetector
	tx        txProvider
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRoomStatusService wires the room status workflow.
func NewRoomStatusService(rooms roomStatusStore, detector roomChangeDetector, tx txProvider, validate *validator.Validate, logger *zap.Logger) *RoomStatusService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoomStatusService{rooms: rooms, detector: detector, tx: tx, validator: validate, logger: logger}
}

// UpdateStatus persists the new status. Setting the current status again changes nothing.
func (s *RoomStatusService) UpdateStatus(ctx context.Context, roomID string, req dto.UpdateRoomStatusRequest, actorID string) (*dto.RoomStatusChangeResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid room status payload")
	}
	if roomID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "room id is required")
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	room, err := s.rooms.FindForUpdate(ctx, tx, roomID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = appErrors.Clone(appErrors.ErrNotFound, "room not found")
			return nil, err
		}
		err = appErrors.Internal(err, "failed to load room")
		return nil, err
	}
	previous := room.Status
	if previous != req.Status {
		if err = s.rooms.UpdateStatus(ctx, tx, roomID, req.Status); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				err = appErrors.Clone(appErrors.ErrNotFound, "room not found")
				return nil, err
			}
			err = appErrors.Internal(err, "failed to update room status")
			return nil, err
		}
		room.Status = req.Status
	}

	var detection *Detection
	detection, err = s.detector.OnRoomStatusChanged(ctx, tx, *room, previous, actorID)
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Internal(err, "failed to commit room status change")
		return nil, err
	}
	s.detector.Announce(ctx, detection)

	if detection.Changed {
		s.logger.Info("room status changed",
			zap.String("room_id", room.ID),
			zap.String("from", string(previous)),
			zap.String("to", string(room.Status)),
			zap.String("reason", req.Reason),
		)
	}
	return &dto.RoomStatusChangeResult{
		Room:           *room,
		PreviousStatus: previous,
		Conflict:       detection.Conflict,
		ClearedItems:   int(detection.ClearedItems),
	}, nil
}
