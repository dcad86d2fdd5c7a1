package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/scheduler"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/events"
	"github.com/noah-isme/sma-timetable-api/pkg/lock"
)

func openConflict(t *testing.T, fx *conflictFixture) *models.Conflict {
	t.Helper()
	expectCommits(fx.mock, 1)
	result, err := fx.roomStatus.UpdateStatus(context.Background(), "R1", setStatus(models.RoomStatusInMaintenance), "admin-1")
	require.NoError(t, err)
	require.NotNil(t, result.Conflict)
	return result.Conflict
}

func errCode(err error) string {
	return appErrors.FromError(err).Code
}

func TestResolveReassignsToSuitableRoom(t *testing.T) {
	fx := newConflictFixture(t, 55)
	conflict := openConflict(t, fx)
	expectCommits(fx.mock, 1)

	report, err := fx.regen.Resolve(context.Background(), conflict.ID, "")
	require.NoError(t, err)
	require.Len(t, report.Assignments, 1)
	assert.Equal(t, "R2", report.Assignments[0].NewRoomID)
	assert.Equal(t, "R1", report.Assignments[0].OldRoomID)
	assert.Equal(t, 1, report.Resolved)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, models.ConflictStatusResolved, report.Status)
	assert.Equal(t, models.ResolutionSummary{TotalAffected: 1, AutoResolved: 1}, report.Summary)

	stored := fx.conflicts.only()
	entry := stored.AffectedEntries[0]
	assert.Equal(t, models.EntryStatusResolved, entry.Status)
	assert.Equal(t, models.ResolutionAuto, *entry.ResolutionMethod)
	assert.Equal(t, "R2", *entry.NewRoomID)
	assert.Equal(t, models.SystemActor, *entry.ResolvedBy)
	assert.NotNil(t, stored.ResolvedAt)

	item := fx.timetables.item("I1")
	assert.Equal(t, "R2", item.RoomRef())
	assert.False(t, item.IsAffected)
	assert.Nil(t, item.ConflictID)

	require.Len(t, fx.audit.logs, 1)
	log := fx.audit.logs[0]
	assert.Equal(t, models.ChangeTypeAutoRegeneration, log.ChangeType)
	assert.Equal(t, models.SystemActor, log.ActorID)
	assert.Equal(t, "R1", *log.OldRoomID)
	assert.Equal(t, "R1", log.OldRoomCode)
	assert.Equal(t, "R2", log.NewRoomID)
	assert.Equal(t, conflict.ID, *log.ConflictID)
	assert.Equal(t, models.Monday, log.Day)
	assert.Equal(t, 1, log.Period)

	assert.Contains(t, fx.events.types(), events.TypeResolutionSummary)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestResolveMarksEntryManualWhenNoRoomFits(t *testing.T) {
	fx := newConflictFixture(t, 20)
	conflict := openConflict(t, fx)
	expectCommits(fx.mock, 1)

	report, err := fx.regen.Resolve(context.Background(), conflict.ID, "admin-1")
	require.NoError(t, err)
	assert.Empty(t, report.Assignments)
	require.Len(t, report.FailedEntries, 1)
	assert.Equal(t, 1, report.Summary.Unresolved)
	assert.Equal(t, 1, report.Failed)

	entry := fx.conflicts.only().AffectedEntries[0]
	assert.Equal(t, models.EntryStatusRequiresManual, entry.Status)
	require.NotNil(t, entry.FailureReason)

	item := fx.timetables.item("I1")
	assert.True(t, item.RequiresManualAssignment)
	assert.True(t, item.IsAffected)
	assert.Equal(t, "R1", item.RoomRef())
	assert.Empty(t, fx.audit.logs)
}

func TestResolveRejectsUnderCapacityRoomThroughScorer(t *testing.T) {
	fx := newConflictFixture(t, 20)
	score := scheduler.Score(fx.rooms.rooms[1], fx.catalog.subjects["MATH"], fx.catalog.sections["S1"], scheduler.ScoreOptions{Repair: true})
	assert.False(t, score.Valid)
	assert.Contains(t, score.Warnings, scheduler.WarnUnderCapacity)
}

func TestResolveIsNotRepeatable(t *testing.T) {
	fx := newConflictFixture(t, 55)
	conflict := openConflict(t, fx)
	expectCommits(fx.mock, 1)

	_, err := fx.regen.Resolve(context.Background(), conflict.ID, "")
	require.NoError(t, err)
	_, err = fx.regen.Resolve(context.Background(), conflict.ID, "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, errCode(err))
	assert.Len(t, fx.audit.logs, 1)
}

func TestResolveSkipsDoubleBookedRoom(t *testing.T) {
	fx := newConflictFixture(t, 55)
	fx.rooms.rooms = append(fx.rooms.rooms, fixtureRoom("R3", 60))
	fx.catalog.sections["S2"] = models.Section{ID: "S2", Name: "Grade 10 B", Strength: 30}
	fx.timetables.addPublished("TT2", "S2", models.ScheduleItem{
		ID: "I2", Day: models.Monday, Period: 1, SubjectID: "MATH", FacultyID: "F2", RoomID: strPtr("R2"),
	})
	conflict := openConflict(t, fx)
	expectCommits(fx.mock, 1)

	report, err := fx.regen.Resolve(context.Background(), conflict.ID, "")
	require.NoError(t, err)
	require.Len(t, report.Assignments, 1)
	assert.Equal(t, "R3", report.Assignments[0].NewRoomID)
}

func TestResolveTreatsRestoredItemsAsResolved(t *testing.T) {
	fx := newConflictFixture(t, 55)
	conflict := openConflict(t, fx)
	expectCommits(fx.mock, 2)

	_, err := fx.roomStatus.UpdateStatus(context.Background(), "R1", setStatus(models.RoomStatusActive), "admin-1")
	require.NoError(t, err)

	report, err := fx.regen.Resolve(context.Background(), conflict.ID, "admin-1")
	require.NoError(t, err)
	assert.Empty(t, report.Assignments)
	assert.Equal(t, models.ConflictStatusResolved, report.Status)

	entry := fx.conflicts.only().AffectedEntries[0]
	assert.Equal(t, models.EntryStatusResolved, entry.Status)
	assert.Equal(t, models.ResolutionRestored, *entry.ResolutionMethod)
	assert.Equal(t, "R1", fx.timetables.item("I1").RoomRef())
	assert.Empty(t, fx.audit.logs)
}

func TestResolveSummaryCountsRestoredSeparately(t *testing.T) {
	fx := newConflictFixture(t, 55)
	conflict := openConflict(t, fx)
	expectCommits(fx.mock, 2)

	_, err := fx.roomStatus.UpdateStatus(context.Background(), "R1", setStatus(models.RoomStatusActive), "admin-1")
	require.NoError(t, err)
	report, err := fx.regen.Resolve(context.Background(), conflict.ID, "admin-1")
	require.NoError(t, err)

	expected := models.ResolutionSummary{TotalAffected: 1, Restored: 1}
	assert.Equal(t, expected, report.Summary)
	assert.Equal(t, expected, fx.conflicts.only().ResolutionSummary())
	assert.Equal(t, 1, report.Resolved)
}

// secondClassInR1 adds a Monday period-2 class in R1 for section S9, which the catalog does not know.
func secondClassInR1(fx *conflictFixture) {
	fx.timetables.addPublished("TT9", "S9", models.ScheduleItem{
		ID: "I2", Day: models.Monday, Period: 2, SubjectID: "MATH", FacultyID: "F1", RoomID: strPtr("R1"),
	})
}

func entryFor(t *testing.T, conflict *models.Conflict, itemID string) models.AffectedEntry {
	t.Helper()
	for _, entry := range conflict.AffectedEntries {
		if entry.ScheduleItemID == itemID {
			return entry
		}
	}
	t.Fatalf("no affected entry for %s", itemID)
	return models.AffectedEntry{}
}

func TestResolveContinuesPastEntryWithMissingSection(t *testing.T) {
	fx := newConflictFixture(t, 55)
	secondClassInR1(fx)
	conflict := openConflict(t, fx)
	require.Len(t, conflict.AffectedEntries, 2)
	expectCommits(fx.mock, 2)

	report, err := fx.regen.Resolve(context.Background(), conflict.ID, "admin-1")
	require.NoError(t, err)
	require.Len(t, report.Assignments, 1)
	assert.Equal(t, "I1", report.Assignments[0].ScheduleItemID)
	require.Len(t, report.FailedEntries, 1)
	assert.Equal(t, "I2", report.FailedEntries[0].ScheduleItemID)
	assert.Contains(t, report.FailedEntries[0].Reason, "section S9")
	assert.Equal(t, models.ConflictStatusResolved, report.Status)

	expected := models.ResolutionSummary{TotalAffected: 2, AutoResolved: 1, Unresolved: 1}
	assert.Equal(t, expected, report.Summary)
	stored := fx.conflicts.only()
	assert.Equal(t, expected, stored.ResolutionSummary())
	assert.Equal(t, models.EntryStatusRequiresManual, entryFor(t, stored, "I2").Status)
	assert.True(t, fx.timetables.item("I2").RequiresManualAssignment)
	assert.Equal(t, "R1", fx.timetables.item("I2").RoomRef())
	assert.Len(t, fx.audit.logs, 1)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestResolveSettlesCommittedEntriesWhenRunStops(t *testing.T) {
	fx := newConflictFixture(t, 55)
	secondClassInR1(fx)
	fx.catalog.sectionErr = map[string]error{"S9": errors.New("connection reset")}
	conflict := openConflict(t, fx)
	fx.mock.ExpectBegin()
	fx.mock.ExpectCommit()
	fx.mock.ExpectBegin()
	fx.mock.ExpectRollback()

	_, err := fx.regen.Resolve(context.Background(), conflict.ID, "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, errCode(err))

	stored := fx.conflicts.only()
	assert.Equal(t, models.ConflictStatusActive, stored.Status)
	assert.Equal(t, models.ResolutionSummary{TotalAffected: 2, AutoResolved: 1, Unresolved: 1}, stored.ResolutionSummary())
	assert.Equal(t, models.EntryStatusResolved, entryFor(t, stored, "I1").Status)
	assert.Equal(t, models.EntryStatusPending, entryFor(t, stored, "I2").Status)
	assert.Equal(t, "R2", fx.timetables.item("I1").RoomRef())
	assert.Len(t, fx.audit.logs, 1)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestResolveRechecksCandidateUnderRowLock(t *testing.T) {
	fx := newConflictFixture(t, 55)
	fx.rooms.rooms = append(fx.rooms.rooms, fixtureRoom("R3", 70))
	conflict := openConflict(t, fx)
	fx.rooms.statusAtLock = map[string]models.RoomStatus{"R2": models.RoomStatusClosed}
	expectCommits(fx.mock, 1)

	report, err := fx.regen.Resolve(context.Background(), conflict.ID, "")
	require.NoError(t, err)
	require.Len(t, report.Assignments, 1)
	assert.Equal(t, "R3", report.Assignments[0].NewRoomID)
	assert.Equal(t, [][]string{{"R2"}, {"R3"}}, fx.rooms.locked)
}

func TestResolveReportsLockContention(t *testing.T) {
	fx := newConflictFixture(t, 55)
	conflict := openConflict(t, fx)

	release, err := fx.locker.Acquire(context.Background(), lock.ConflictKey(conflict.ID))
	require.NoError(t, err)
	defer release()

	_, err = fx.regen.Resolve(context.Background(), conflict.ID, "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrLocked.Code, errCode(err))
	assert.Equal(t, models.EntryStatusPending, fx.conflicts.only().AffectedEntries[0].Status)
}

func TestResolveUnknownConflict(t *testing.T) {
	fx := newConflictFixture(t, 55)
	_, err := fx.regen.Resolve(context.Background(), "nope", "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, errCode(err))
}

func TestDismissLeavesEntriesUntouched(t *testing.T) {
	fx := newConflictFixture(t, 55)
	conflict := openConflict(t, fx)

	dismissed, err := fx.regen.Dismiss(context.Background(), conflict.ID, dto.DismissConflictRequest{Reason: "room reopens tomorrow"}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.ConflictStatusDismissed, dismissed.Status)
	assert.Equal(t, "admin-1", *dismissed.DismissedBy)

	stored := fx.conflicts.only()
	assert.Equal(t, models.ConflictStatusDismissed, stored.Status)
	assert.Equal(t, models.EntryStatusPending, stored.AffectedEntries[0].Status)
	assert.True(t, fx.timetables.item("I1").IsAffected)

	_, err = fx.regen.Resolve(context.Background(), conflict.ID, "")
	assert.Equal(t, appErrors.ErrConflict.Code, errCode(err))
	_, err = fx.regen.Dismiss(context.Background(), conflict.ID, dto.DismissConflictRequest{Reason: "again"}, "admin-1")
	assert.Equal(t, appErrors.ErrConflict.Code, errCode(err))
}

func TestDismissRequiresReason(t *testing.T) {
	fx := newConflictFixture(t, 55)
	conflict := openConflict(t, fx)
	_, err := fx.regen.Dismiss(context.Background(), conflict.ID, dto.DismissConflictRequest{}, "admin-1")
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(err))
}

func TestManualAdjustRejectsUnsuitableRoomWithoutForce(t *testing.T) {
	fx := newConflictFixture(t, 20)
	openConflict(t, fx)

	_, err := fx.regen.ManualAdjust(context.Background(), "I1", dto.ManualAdjustRequest{RoomID: "R2", Reason: "move"}, "admin-1")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.NotNil(t, appErr.Details)
	assert.Empty(t, fx.audit.logs)
	assert.Equal(t, "R1", fx.timetables.item("I1").RoomRef())
}

func TestManualAdjustForcedUpdateRecordsOverriddenWarnings(t *testing.T) {
	fx := newConflictFixture(t, 20)
	conflict := openConflict(t, fx)
	expectCommits(fx.mock, 1)

	result, err := fx.regen.ManualAdjust(context.Background(), "I1", dto.ManualAdjustRequest{RoomID: "R2", Reason: "only room left", Force: true}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.ChangeTypeForcedUpdate, result.AuditLog.ChangeType)
	assert.Contains(t, []string(result.AuditLog.ValidationWarningsOverridden), scheduler.WarnUnderCapacity)
	assert.Equal(t, models.ConflictStatusResolved, result.ConflictStatus)

	require.Len(t, fx.audit.logs, 1)
	assert.Equal(t, "admin-1", fx.audit.logs[0].ActorID)
	assert.Equal(t, conflict.ID, *fx.audit.logs[0].ConflictID)

	stored := fx.conflicts.only()
	entry := stored.AffectedEntries[0]
	assert.Equal(t, models.EntryStatusResolved, entry.Status)
	assert.Equal(t, models.ResolutionManual, *entry.ResolutionMethod)
	assert.Equal(t, 1, stored.ManualResolved)

	item := fx.timetables.item("I1")
	assert.Equal(t, "R2", item.RoomRef())
	assert.False(t, item.IsAffected)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestManualAdjustClearsRequiresManualEntry(t *testing.T) {
	fx := newConflictFixture(t, 20)
	conflict := openConflict(t, fx)
	expectCommits(fx.mock, 1)
	_, err := fx.regen.Resolve(context.Background(), conflict.ID, "")
	require.NoError(t, err)

	fx.rooms.rooms = append(fx.rooms.rooms, fixtureRoom("R3", 45))
	expectCommits(fx.mock, 1)
	result, err := fx.regen.ManualAdjust(context.Background(), "I1", dto.ManualAdjustRequest{RoomID: "R3", Reason: "new room"}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.ChangeTypeManualAdjustment, result.AuditLog.ChangeType)
	assert.Empty(t, result.AuditLog.ValidationWarningsOverridden)

	stored := fx.conflicts.only()
	assert.Equal(t, models.EntryStatusResolved, stored.AffectedEntries[0].Status)
	assert.Equal(t, models.ResolutionSummary{TotalAffected: 1, ManuallyResolved: 1}, stored.ResolutionSummary())
	assert.False(t, fx.timetables.item("I1").RequiresManualAssignment)
}

func TestManualAdjustOnDismissedConflictLeavesEntryPending(t *testing.T) {
	fx := newConflictFixture(t, 55)
	conflict := openConflict(t, fx)
	_, err := fx.regen.Dismiss(context.Background(), conflict.ID, dto.DismissConflictRequest{Reason: "room reopens tomorrow"}, "admin-1")
	require.NoError(t, err)
	expectCommits(fx.mock, 1)

	result, err := fx.regen.ManualAdjust(context.Background(), "I1", dto.ManualAdjustRequest{RoomID: "R2", Reason: "moved for the day"}, "admin-1")
	require.NoError(t, err)
	assert.Empty(t, result.ConflictStatus)
	require.NotNil(t, result.AuditLog.ConflictID)
	assert.Equal(t, conflict.ID, *result.AuditLog.ConflictID)
	assert.Equal(t, "R2", fx.timetables.item("I1").RoomRef())

	stored := fx.conflicts.only()
	assert.Equal(t, models.ConflictStatusDismissed, stored.Status)
	entry := stored.AffectedEntries[0]
	assert.Equal(t, models.EntryStatusPending, entry.Status)
	assert.Nil(t, entry.ResolutionMethod)
	assert.Nil(t, entry.ResolvedAt)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestManualAdjustOutsideConflict(t *testing.T) {
	fx := newConflictFixture(t, 55)
	expectCommits(fx.mock, 1)

	result, err := fx.regen.ManualAdjust(context.Background(), "I1", dto.ManualAdjustRequest{RoomID: "R2", Reason: "projector broken"}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.ChangeTypeManualAdjustment, result.AuditLog.ChangeType)
	assert.Nil(t, result.AuditLog.ConflictID)
	assert.Empty(t, result.ConflictStatus)
	assert.Equal(t, "R2", fx.timetables.item("I1").RoomRef())
	assert.Equal(t, [][]string{{"R2"}}, fx.rooms.locked)
}

func TestManualAdjustDoubleBookingNeedsForce(t *testing.T) {
	fx := newConflictFixture(t, 55)
	fx.timetables.addPublished("TT2", "S2", models.ScheduleItem{
		ID: "I2", Day: models.Monday, Period: 1, SubjectID: "MATH", FacultyID: "F2", RoomID: strPtr("R2"),
	})

	_, err := fx.regen.ManualAdjust(context.Background(), "I1", dto.ManualAdjustRequest{RoomID: "R2", Reason: "swap"}, "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(err))
}

func TestManualAdjustSameRoomRejected(t *testing.T) {
	fx := newConflictFixture(t, 55)
	_, err := fx.regen.ManualAdjust(context.Background(), "I1", dto.ManualAdjustRequest{RoomID: "R1", Reason: "noop"}, "admin-1")
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(err))
}

func TestSuggestRoomsRanksAlternatives(t *testing.T) {
	fx := newConflictFixture(t, 55)
	fx.rooms.rooms = append(fx.rooms.rooms, fixtureRoom("R3", 120), fixtureRoom("R4", 10))

	suggestions, err := fx.regen.SuggestRooms(context.Background(), "I1")
	require.NoError(t, err)
	assert.Equal(t, "R1", suggestions.CurrentRoomID)
	require.Len(t, suggestions.Candidates, 3)
	assert.Equal(t, "R2", suggestions.Candidates[0].RoomID)
	assert.True(t, suggestions.Candidates[0].Valid)
	assert.False(t, suggestions.Candidates[2].Valid)
	assert.Equal(t, "R4", suggestions.Candidates[2].RoomID)
}

func TestListConflictsPaginates(t *testing.T) {
	fx := newConflictFixture(t, 55)
	openConflict(t, fx)

	list, page, err := fx.regen.List(context.Background(), dto.ConflictQuery{Status: "active"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.PageSize)
	assert.Equal(t, 1, page.TotalCount)

	_, _, err = fx.regen.List(context.Background(), dto.ConflictQuery{Status: "open"})
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(err))
}
