package scheduler

import (
	"github.com/noah-isme/sma-timetable-api/internal/models"
)

type busyIndex map[string]map[models.Weekday]map[int]bool

func (b busyIndex) mark(id string, day models.Weekday, period int) {
	if id == "" {
		return
	}
	if b[id] == nil {
		b[id] = make(map[models.Weekday]map[int]bool)
	}
	if b[id][day] == nil {
		b[id][day] = make(map[int]bool)
	}
	b[id][day][period] = true
}

func (b busyIndex) busy(id string, day models.Weekday, period int) bool {
	if b[id] == nil || b[id][day] == nil {
		return false
	}
	return b[id][day][period]
}

func (b busyIndex) spanFree(id string, day models.Weekday, period, span int) bool {
	for p := period; p < period+span; p++ {
		if b.busy(id, day, p) {
			return false
		}
	}
	return true
}

func (b busyIndex) dayLoad(id string, day models.Weekday) int {
	if b[id] == nil {
		return 0
	}
	return len(b[id][day])
}

func (b busyIndex) weekLoad(id string) int {
	total := 0
	for _, periods := range b[id] {
		total += len(periods)
	}
	return total
}

// Tracker indexes faculty, room and section occupancy for one generation or
// repair run. It is built from published timetables and discarded afterwards.
type Tracker struct {
	faculty busyIndex
	rooms   busyIndex
	section busyIndex
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		faculty: make(busyIndex),
		rooms:   make(busyIndex),
		section: make(busyIndex),
	}
}

// Seed marks every item of the given published timetables as busy.
func (t *Tracker) Seed(timetables []models.Timetable) {
	for _, tt := range timetables {
		t.SeedItems(tt.Schedule)
	}
}

// SeedItems marks individual schedule items as busy.
func (t *Tracker) SeedItems(items []models.ScheduleItem) {
	for _, item := range items {
		t.faculty.mark(item.FacultyID, item.Day, item.Period)
		t.section.mark(item.SectionID, item.Day, item.Period)
		t.rooms.mark(item.RoomRef(), item.Day, item.Period)
	}
}

// Check reports whether the span is free for both the faculty member and the section.
// Rooms are checked separately once a slot passes.
func (t *Tracker) Check(facultyID, sectionID string, day models.Weekday, period, span int) bool {
	return t.faculty.spanFree(facultyID, day, period, span) && t.section.spanFree(sectionID, day, period, span)
}

// FacultyFree reports whether the faculty member has no booking in the span.
func (t *Tracker) FacultyFree(facultyID string, day models.Weekday, period, span int) bool {
	return t.faculty.spanFree(facultyID, day, period, span)
}

// SectionFree reports whether the section has no booking in the span.
func (t *Tracker) SectionFree(sectionID string, day models.Weekday, period, span int) bool {
	return t.section.spanFree(sectionID, day, period, span)
}

// RoomFree reports whether the room has no booking in the span.
func (t *Tracker) RoomFree(roomID string, day models.Weekday, period, span int) bool {
	return t.rooms.spanFree(roomID, day, period, span)
}

// Commit marks the span busy in all three dimensions.
func (t *Tracker) Commit(facultyID, sectionID, roomID string, day models.Weekday, period, span int) {
	for p := period; p < period+span; p++ {
		t.faculty.mark(facultyID, day, p)
		t.section.mark(sectionID, day, p)
		t.rooms.mark(roomID, day, p)
	}
}

// MoveRoom releases a room booking and marks another, used when repairs reassign rooms.
func (t *Tracker) MoveRoom(fromRoomID, toRoomID string, day models.Weekday, period int) {
	if fromRoomID != "" && t.rooms[fromRoomID] != nil && t.rooms[fromRoomID][day] != nil {
		delete(t.rooms[fromRoomID][day], period)
	}
	t.rooms.mark(toRoomID, day, period)
}

// FacultyBusy reports whether the faculty member teaches at the given period.
func (t *Tracker) FacultyBusy(facultyID string, day models.Weekday, period int) bool {
	return t.faculty.busy(facultyID, day, period)
}

// FacultyDayLoad returns the number of periods the faculty member teaches on day.
func (t *Tracker) FacultyDayLoad(facultyID string, day models.Weekday) int {
	return t.faculty.dayLoad(facultyID, day)
}

// FacultyWeekLoad returns the faculty member's booked periods for the week.
func (t *Tracker) FacultyWeekLoad(facultyID string) int {
	return t.faculty.weekLoad(facultyID)
}

// RoomWeekLoad returns the room's booked periods for the week.
func (t *Tracker) RoomWeekLoad(roomID string) int {
	return t.rooms.weekLoad(roomID)
}

// RoomUtilization returns the room's weekly utilisation as a percentage of the grid.
func (t *Tracker) RoomUtilization(roomID string, grid Grid) float64 {
	capacity := grid.WeeklyCapacity()
	if capacity == 0 {
		return 0
	}
	return float64(t.rooms.weekLoad(roomID)) * 100 / float64(capacity)
}
