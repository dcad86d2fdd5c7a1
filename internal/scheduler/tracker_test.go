package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

func strPtr(v string) *string { return &v }

func TestTrackerSeedMarksAllDimensions(t *testing.T) {
	tracker := NewTracker()
	tracker.Seed([]models.Timetable{{
		SectionID:   "s-2",
		IsPublished: true,
		Schedule: []models.ScheduleItem{
			{SectionID: "s-2", FacultyID: "f-1", RoomID: strPtr("r-1"), Day: models.Monday, Period: 1},
			{SectionID: "s-2", FacultyID: "f-1", RoomID: strPtr("r-1"), Day: models.Monday, Period: 2},
		},
	}})

	assert.False(t, tracker.Check("f-1", "s-1", models.Monday, 1, 1), "faculty busy")
	assert.False(t, tracker.Check("f-9", "s-2", models.Monday, 2, 1), "section busy")
	assert.True(t, tracker.Check("f-1", "s-1", models.Monday, 4, 1))
	assert.False(t, tracker.RoomFree("r-1", models.Monday, 2, 1))
	assert.True(t, tracker.RoomFree("r-1", models.Tuesday, 1, 2))
	assert.Equal(t, 2, tracker.FacultyDayLoad("f-1", models.Monday))
	assert.Equal(t, 2, tracker.FacultyWeekLoad("f-1"))
}

func TestTrackerCommitSpan(t *testing.T) {
	tracker := NewTracker()
	tracker.Commit("f-1", "s-1", "lab-1", models.Friday, 6, 2)

	assert.False(t, tracker.Check("f-1", "s-x", models.Friday, 7, 1))
	assert.False(t, tracker.Check("f-x", "s-1", models.Friday, 6, 1))
	assert.False(t, tracker.RoomFree("lab-1", models.Friday, 5, 2), "span overlaps period 6")
	assert.True(t, tracker.RoomFree("lab-1", models.Friday, 8, 1))
}

func TestTrackerRoomUtilizationAndMove(t *testing.T) {
	grid := MustGrid(DefaultGridConfig())
	tracker := NewTracker()
	for _, day := range grid.Days()[:3] {
		for _, period := range grid.TeachingPeriods() {
			tracker.Commit("f", "s", "r-1", day, period, 1)
		}
	}
	assert.InDelta(t, 50.0, tracker.RoomUtilization("r-1", grid), 0.001)

	tracker.MoveRoom("r-1", "r-2", models.Monday, 1)
	assert.True(t, tracker.RoomFree("r-1", models.Monday, 1, 1))
	assert.False(t, tracker.RoomFree("r-2", models.Monday, 1, 1))
	assert.Equal(t, 17, tracker.RoomWeekLoad("r-1"))
}

func TestTrackerIgnoresUnassignedRooms(t *testing.T) {
	tracker := NewTracker()
	tracker.SeedItems([]models.ScheduleItem{{SectionID: "s-1", FacultyID: "f-1", Day: models.Monday, Period: 1}})
	assert.True(t, tracker.RoomFree("", models.Monday, 1, 1))
	assert.Equal(t, 0, tracker.RoomWeekLoad(""))
}
