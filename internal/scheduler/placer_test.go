package scheduler

import (
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

func demand(mappingID string, subject models.Subject, faculty models.Faculty) Demand {
	return Demand{Mapping: models.Mapping{ID: mappingID, SubjectID: subject.ID, FacultyID: faculty.ID}, Subject: subject, Faculty: faculty}
}

func oneDayGrid() Grid {
	cfg := DefaultGridConfig()
	cfg.Days = 1
	return MustGrid(cfg)
}

func TestPlaceSectionPlacesLabsAsContiguousPairs(t *testing.T) {
	grid := MustGrid(DefaultGridConfig())
	rooms := []models.Room{classroom("C1", 35, "A"), lab("L1", 35, "A")}
	placer := NewPlacer(grid, NewTracker(), rooms, 0)

	section := models.Section{ID: "s-1", Strength: 30}
	math := models.Subject{ID: "math", Code: "MATH", Type: models.SubjectTypeTheory, WeeklyPeriods: 4}
	chem := models.Subject{ID: "chem", Code: "CHEM", Type: models.SubjectTypeLab, WeeklyPeriods: 2}

	result := placer.PlaceSection(section, []Demand{
		demand("m-1", math, models.Faculty{ID: "f-1"}),
		demand("m-2", chem, models.Faculty{ID: "f-2"}),
	})

	require.Empty(t, result.Conflicts)
	require.Equal(t, 6, result.Placed())

	var labSlots []Placement
	for _, p := range result.Placements {
		assert.False(t, grid.Reserved(p.Period), "reserved period %d used", p.Period)
		assert.NotEmpty(t, p.StartTime)
		if p.SubjectID == "chem" {
			labSlots = append(labSlots, p)
		}
	}
	require.Len(t, labSlots, 2)
	assert.Equal(t, labSlots[0].Day, labSlots[1].Day)
	assert.Equal(t, labSlots[0].Period+1, labSlots[1].Period)
	assert.Equal(t, "L1", labSlots[0].RoomID)
	assert.Equal(t, "L1", labSlots[1].RoomID)
}

func TestPlaceSectionSpreadsSubjectAcrossDays(t *testing.T) {
	placer := NewPlacer(MustGrid(DefaultGridConfig()), NewTracker(), []models.Room{classroom("C1", 30, "A")}, 0)
	math := models.Subject{ID: "math", Code: "MATH", Type: models.SubjectTypeTheory, WeeklyPeriods: 4}

	result := placer.PlaceSection(models.Section{ID: "s-1", Strength: 30}, []Demand{demand("m-1", math, models.Faculty{ID: "f-1"})})

	require.Empty(t, result.Conflicts)
	days := map[models.Weekday]bool{}
	for _, p := range result.Placements {
		days[p.Day] = true
	}
	assert.Len(t, days, 4)
}

func TestPlaceSectionReportsUnplaceableLab(t *testing.T) {
	tracker := NewTracker()
	// The lab instructor is busy elsewhere at 2 and 7, leaving only isolated free periods.
	tracker.SeedItems([]models.ScheduleItem{
		{SectionID: "s-2", FacultyID: "f-lab", RoomID: strPtr("C9"), Day: models.Monday, Period: 2},
		{SectionID: "s-2", FacultyID: "f-lab", RoomID: strPtr("C9"), Day: models.Monday, Period: 7},
	})
	placer := NewPlacer(oneDayGrid(), tracker, []models.Room{lab("L1", 40, "A")}, 0)
	chem := models.Subject{ID: "chem", Code: "CHEM", Type: models.SubjectTypeLab, WeeklyPeriods: 2}

	result := placer.PlaceSection(models.Section{ID: "s-1", Strength: 30}, []Demand{demand("m-1", chem, models.Faculty{ID: "f-lab"})})

	require.Len(t, result.Conflicts, 1)
	conflict := result.Conflicts[0]
	assert.Equal(t, "m-1", conflict.MappingID)
	assert.Equal(t, 2, conflict.Required)
	assert.Less(t, conflict.Placed, conflict.Required)
	assert.NotEmpty(t, conflict.Suggestions.FreeSlots)
	assert.True(t, conflict.Suggestions.FreeSlots[0].FacultyFree)
	require.NotEmpty(t, conflict.Suggestions.AlternativeRooms)
	assert.Equal(t, "L1", conflict.Suggestions.AlternativeRooms[0].RoomID)
	assert.Empty(t, result.Placements)
}

func TestPlaceSectionSkipsBookedRoom(t *testing.T) {
	tracker := NewTracker()
	tracker.SeedItems([]models.ScheduleItem{{SectionID: "s-2", FacultyID: "f-9", RoomID: strPtr("C1"), Day: models.Monday, Period: 1}})
	placer := NewPlacer(oneDayGrid(), tracker, []models.Room{classroom("C1", 30, "A")}, 0)
	math := models.Subject{ID: "math", Code: "MATH", Type: models.SubjectTypeTheory, WeeklyPeriods: 1}

	result := placer.PlaceSection(models.Section{ID: "s-1", Strength: 30}, []Demand{demand("m-1", math, models.Faculty{ID: "f-1"})})

	require.Len(t, result.Placements, 1)
	assert.Equal(t, 2, result.Placements[0].Period)
}

func TestPlaceSectionHonoursFacultyAvailability(t *testing.T) {
	placer := NewPlacer(MustGrid(DefaultGridConfig()), NewTracker(), []models.Room{classroom("C1", 30, "A")}, 0)
	math := models.Subject{ID: "math", Code: "MATH", Type: models.SubjectTypeTheory, WeeklyPeriods: 3}
	faculty := models.Faculty{ID: "f-1", AvailableDays: pq.Int64Array{int64(models.Wednesday)}}

	result := placer.PlaceSection(models.Section{ID: "s-1", Strength: 30}, []Demand{demand("m-1", math, faculty)})

	require.Len(t, result.Placements, 3)
	for _, p := range result.Placements {
		assert.Equal(t, models.Wednesday, p.Day)
	}
}

func TestPlaceSectionAppliesAntiFatigueAcrossBreaks(t *testing.T) {
	tracker := NewTracker()
	for _, period := range []int{1, 2, 4} {
		tracker.SeedItems([]models.ScheduleItem{{SectionID: "s-2", FacultyID: "f-1", RoomID: strPtr("C9"), Day: models.Monday, Period: period}})
	}
	placer := NewPlacer(oneDayGrid(), tracker, []models.Room{classroom("C1", 30, "A")}, 0)
	math := models.Subject{ID: "math", Code: "MATH", Type: models.SubjectTypeTheory, WeeklyPeriods: 1}

	result := placer.PlaceSection(models.Section{ID: "s-1", Strength: 30}, []Demand{demand("m-1", math, models.Faculty{ID: "f-1"})})

	require.Len(t, result.Placements, 1)
	assert.Equal(t, 7, result.Placements[0].Period)
}

func TestPlaceSectionSharesTrackerAcrossSections(t *testing.T) {
	grid := MustGrid(DefaultGridConfig())
	placer := NewPlacer(grid, NewTracker(), []models.Room{classroom("C1", 30, "A")}, 0)
	math := models.Subject{ID: "math", Code: "MATH", Type: models.SubjectTypeTheory, WeeklyPeriods: 5}
	instructor := models.Faculty{ID: "f-1"}

	first := placer.PlaceSection(models.Section{ID: "s-1", Strength: 30}, []Demand{demand("m-1", math, instructor)})
	second := placer.PlaceSection(models.Section{ID: "s-2", Strength: 30}, []Demand{demand("m-2", math, instructor)})
	require.Empty(t, first.Conflicts)
	require.Empty(t, second.Conflicts)

	used := map[slotKey]bool{}
	for _, p := range append(first.Placements, second.Placements...) {
		key := slotKey{Day: p.Day, Period: p.Period}
		assert.False(t, used[key], "faculty and room double-booked at %v", key)
		used[key] = true
	}
}

func TestPlaceSectionRespectsWeeklyHourCap(t *testing.T) {
	placer := NewPlacer(MustGrid(DefaultGridConfig()), NewTracker(), []models.Room{classroom("C1", 30, "A")}, 0)
	math := models.Subject{ID: "math", Code: "MATH", Type: models.SubjectTypeTheory, WeeklyPeriods: 4}

	result := placer.PlaceSection(models.Section{ID: "s-1", Strength: 30}, []Demand{demand("m-1", math, models.Faculty{ID: "f-1", MaxHoursPerWeek: 2})})

	assert.Equal(t, 2, result.Placed())
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, 2, result.Conflicts[0].Placed)
}
