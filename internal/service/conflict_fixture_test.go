package service

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/scheduler"
	"github.com/noah-isme/sma-timetable-api/pkg/lock"
)

// conflictFixture models one published Monday period-1 Math class for section S1 in room R1.
type conflictFixture struct {
	catalog    *fakeCatalog
	rooms      *fakeRooms
	timetables *fakeTimetables
	conflicts  *fakeConflicts
	audit      *fakeAudit
	events     *recordingEmitter
	locker     *lock.LocalLocker
	mock       sqlmock.Sqlmock

	roomStatus *RoomStatusService
	regen      *RegenerationService
}

func fixtureRoom(id string, capacity int) models.Room {
	return models.Room{
		ID:               id,
		Code:             id,
		Building:         "Main",
		Type:             models.RoomTypeClassroom,
		Capacity:         capacity,
		Status:           models.RoomStatusActive,
		AllowTheoryClass: true,
	}
}

func newConflictFixture(t *testing.T, r2Capacity int) *conflictFixture {
	t.Helper()
	catalog := newFakeCatalog()
	catalog.sections["S1"] = models.Section{ID: "S1", Name: "Grade 10 A", Strength: 40}
	catalog.subjects["MATH"] = models.Subject{ID: "MATH", Code: "MATH", Name: "Math", Type: models.SubjectTypeTheory, WeeklyPeriods: 1}
	catalog.faculty["F1"] = models.Faculty{ID: "F1", Name: "Ada", MaxHoursPerWeek: 20}

	rooms := &fakeRooms{rooms: []models.Room{fixtureRoom("R1", 50)}}
	if r2Capacity > 0 {
		rooms.rooms = append(rooms.rooms, fixtureRoom("R2", r2Capacity))
	}

	timetables := newFakeTimetables()
	timetables.names = map[string]string{"S1": "Grade 10 A", "MATH": "Math", "F1": "Ada"}
	timetables.addPublished("TT1", "S1", models.ScheduleItem{
		ID:        "I1",
		Day:       models.Monday,
		Period:    1,
		StartTime: "08:00",
		EndTime:   "08:50",
		SubjectID: "MATH",
		FacultyID: "F1",
		RoomID:    strPtr("R1"),
	})

	conflicts := newFakeConflicts()
	audit := &fakeAudit{}
	emitter := &recordingEmitter{}
	locker := lock.NewLocalLocker(10 * time.Millisecond)
	tx, mock := newTxProviderMock(t)

	detector := NewConflictDetector(timetables, conflicts, emitter, nil, nil)
	trail := NewAuditTrailService(audit, timetables, 0, nil, nil)
	regen, err := NewRegenerationService(conflicts, timetables, catalog, rooms, trail, locker, tx, emitter, nil, nil, nil,
		RegenerationConfig{Grid: scheduler.DefaultGridConfig()})
	require.NoError(t, err)

	return &conflictFixture{
		catalog:    catalog,
		rooms:      rooms,
		timetables: timetables,
		conflicts:  conflicts,
		audit:      audit,
		events:     emitter,
		locker:     locker,
		mock:       mock,
		roomStatus: NewRoomStatusService(rooms, detector, tx, nil, nil),
		regen:      regen,
	}
}
