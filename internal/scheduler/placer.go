package scheduler

import (
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// Demand is one mapping resolved against the catalog.
type Demand struct {
	Mapping models.Mapping
	Subject models.Subject
	Faculty models.Faculty
}

// Placement is one period assigned to a demand.
type Placement struct {
	Day       models.Weekday `json:"day"`
	Period    int            `json:"period"`
	StartTime string         `json:"start_time"`
	EndTime   string         `json:"end_time"`
	MappingID string         `json:"mapping_id"`
	SubjectID string         `json:"subject_id"`
	FacultyID string         `json:"faculty_id"`
	RoomID    string         `json:"room_id"`
	RoomCode  string         `json:"room_code"`
	Score     float64        `json:"score"`
	Note      string         `json:"note"`
}

// SlotSuggestion is a section slot that is still free after placement.
type SlotSuggestion struct {
	Day         models.Weekday `json:"day"`
	Period      int            `json:"period"`
	FacultyFree bool           `json:"faculty_free"`
}

// Suggestions help an administrator place what the generator could not.
type Suggestions struct {
	FreeSlots        []SlotSuggestion `json:"free_slots"`
	AlternativeRooms []RoomScore      `json:"alternative_rooms"`
}

// PlacementConflict reports a demand that could not be fully placed. It is an
// expected outcome, not an error.
type PlacementConflict struct {
	MappingID   string      `json:"mapping_id"`
	SubjectID   string      `json:"subject_id"`
	FacultyID   string      `json:"faculty_id"`
	Required    int         `json:"required"`
	Placed      int         `json:"placed"`
	Reason      string      `json:"reason"`
	Suggestions Suggestions `json:"suggestions"`
}

// Result is the outcome of placing one section.
type Result struct {
	Placements []Placement         `json:"placements"`
	Conflicts  []PlacementConflict `json:"conflicts"`
}

// Placed returns the number of placed periods.
func (r Result) Placed() int { return len(r.Placements) }

// Placer fills one section's grid greedily. It shares a Tracker with the
// caller so several sections in one run see each other's commits.
type Placer struct {
	grid            Grid
	tracker         *Tracker
	rooms           []models.Room
	suggestionLimit int
}

// NewPlacer builds a placer over the given rooms.
func NewPlacer(grid Grid, tracker *Tracker, rooms []models.Room, suggestionLimit int) *Placer {
	if tracker == nil {
		tracker = NewTracker()
	}
	if suggestionLimit <= 0 {
		suggestionLimit = 10
	}
	return &Placer{grid: grid, tracker: tracker, rooms: rooms, suggestionLimit: suggestionLimit}
}

type sectionGrid struct {
	cells   map[slotKey]Placement
	perDay  map[string]map[models.Weekday]int
	section models.Section
}

// PlaceSection places every demand for section. Labs go first, then larger
// weekly quotas, so contiguous blocks are claimed before the grid fragments.
func (p *Placer) PlaceSection(section models.Section, demands []Demand) Result {
	ordered := append([]Demand(nil), demands...)
	sort.SliceStable(ordered, func(i, j int) bool {
		li := ordered[i].Subject.Type == models.SubjectTypeLab
		lj := ordered[j].Subject.Type == models.SubjectTypeLab
		if li != lj {
			return li
		}
		return ordered[i].Subject.WeeklyPeriods > ordered[j].Subject.WeeklyPeriods
	})

	state := &sectionGrid{
		cells:   make(map[slotKey]Placement),
		perDay:  make(map[string]map[models.Weekday]int),
		section: section,
	}

	var conflicts []PlacementConflict
	for _, demand := range ordered {
		placed := 0
		for _, span := range BlockSizes(demand.Subject) {
			if p.placeBlock(state, demand, span) {
				placed += span
			}
		}
		if placed < demand.Subject.WeeklyPeriods {
			conflicts = append(conflicts, p.conflictFor(state, demand, placed))
		}
	}

	placements := lo.Values(state.cells)
	sort.Slice(placements, func(i, j int) bool {
		if placements[i].Day != placements[j].Day {
			return placements[i].Day < placements[j].Day
		}
		return placements[i].Period < placements[j].Period
	})
	return Result{Placements: placements, Conflicts: conflicts}
}

func (p *Placer) placeBlock(state *sectionGrid, demand Demand, span int) bool {
	for _, day := range p.dayOrder(state, demand) {
		if !demand.Faculty.AvailableOn(day) {
			continue
		}
		for _, period := range p.grid.TeachingPeriods() {
			if !p.slotOpen(state, demand, day, period, span) {
				continue
			}
			room, ok := p.pickRoom(state.section, demand.Subject, day, period, span)
			if !ok {
				continue
			}
			p.commit(state, demand, room, day, period, span)
			return true
		}
	}
	return false
}

func (p *Placer) slotOpen(state *sectionGrid, demand Demand, day models.Weekday, period, span int) bool {
	if !p.grid.FitsBlock(period, span) {
		return false
	}
	for q := period; q < period+span; q++ {
		if _, taken := state.cells[slotKey{Day: day, Period: q}]; taken {
			return false
		}
	}
	if !p.tracker.Check(demand.Faculty.ID, state.section.ID, day, period, span) {
		return false
	}
	if limit := demand.Faculty.MaxHoursPerWeek; limit > 0 && p.tracker.FacultyWeekLoad(demand.Faculty.ID)+span > limit {
		return false
	}
	return p.consecutiveRun(demand.Faculty.ID, day, period, span) <= p.grid.MaxConsecutive()
}

// consecutiveRun measures the faculty member's longest teaching streak through
// the candidate span. Break and lunch periods do not interrupt a streak.
func (p *Placer) consecutiveRun(facultyID string, day models.Weekday, period, span int) int {
	periods := p.grid.TeachingPeriods()
	busy := func(q int) bool {
		if q >= period && q < period+span {
			return true
		}
		return p.tracker.FacultyBusy(facultyID, day, q)
	}
	idx := lo.IndexOf(periods, period)
	if idx < 0 {
		return span
	}
	run := 0
	for i := idx; i >= 0 && busy(periods[i]); i-- {
		run++
	}
	for i := idx + 1; i < len(periods) && busy(periods[i]); i++ {
		run++
	}
	return run
}

// dayOrder prefers days where the faculty member is least loaded, then days
// where this subject has not been taught yet.
func (p *Placer) dayOrder(state *sectionGrid, demand Demand) []models.Weekday {
	days := p.grid.Days()
	subjectDays := state.perDay[demand.Subject.ID]
	sort.SliceStable(days, func(i, j int) bool {
		li := p.tracker.FacultyDayLoad(demand.Faculty.ID, days[i])
		lj := p.tracker.FacultyDayLoad(demand.Faculty.ID, days[j])
		if li != lj {
			return li < lj
		}
		return subjectDays[days[i]] < subjectDays[days[j]]
	})
	return days
}

// pickRoom restricts the search to the section's preferred buildings first and
// ranks by suitability inside each group.
func (p *Placer) pickRoom(section models.Section, subject models.Subject, day models.Weekday, period, span int) (RoomScore, bool) {
	candidates := make([]RoomScore, 0, len(p.rooms))
	preferred := make(map[string]bool, len(p.rooms))
	for _, room := range p.rooms {
		if !room.IsAvailable() || !p.tracker.RoomFree(room.ID, day, period, span) {
			continue
		}
		score := Score(room, subject, section, ScoreOptions{UtilizationPercent: p.tracker.RoomUtilization(room.ID, p.grid)})
		if !score.Valid {
			continue
		}
		candidates = append(candidates, score)
		preferred[room.ID] = lo.Contains(section.PreferredBuildings, room.Building)
	}
	if len(candidates) == 0 {
		return RoomScore{}, false
	}
	Rank(candidates)
	sort.SliceStable(candidates, func(i, j int) bool {
		return preferred[candidates[i].RoomID] && !preferred[candidates[j].RoomID]
	})
	return candidates[0], true
}

func (p *Placer) commit(state *sectionGrid, demand Demand, room RoomScore, day models.Weekday, period, span int) {
	for q := period; q < period+span; q++ {
		start, end := p.grid.Times(q)
		note := fmt.Sprintf("%s in %s (score %.1f)", demand.Subject.Code, room.RoomCode, room.Score)
		if span > 1 {
			note = fmt.Sprintf("%s, block %d/%d", note, q-period+1, span)
		}
		state.cells[slotKey{Day: day, Period: q}] = Placement{
			Day:       day,
			Period:    q,
			StartTime: start,
			EndTime:   end,
			MappingID: demand.Mapping.ID,
			SubjectID: demand.Subject.ID,
			FacultyID: demand.Faculty.ID,
			RoomID:    room.RoomID,
			RoomCode:  room.RoomCode,
			Score:     room.Score,
			Note:      note,
		}
	}
	p.tracker.Commit(demand.Faculty.ID, state.section.ID, room.RoomID, day, period, span)
	if state.perDay[demand.Subject.ID] == nil {
		state.perDay[demand.Subject.ID] = make(map[models.Weekday]int)
	}
	state.perDay[demand.Subject.ID][day] += span
}

func (p *Placer) conflictFor(state *sectionGrid, demand Demand, placed int) PlacementConflict {
	reason := "no free slot with an available room"
	if demand.Subject.Type == models.SubjectTypeLab {
		reason = "no contiguous free block with an available lab"
	}
	if !lo.SomeBy(p.grid.Days(), demand.Faculty.AvailableOn) {
		reason = "faculty has no available days"
	}
	return PlacementConflict{
		MappingID: demand.Mapping.ID,
		SubjectID: demand.Subject.ID,
		FacultyID: demand.Faculty.ID,
		Required:  demand.Subject.WeeklyPeriods,
		Placed:    placed,
		Reason:    reason,
		Suggestions: Suggestions{
			FreeSlots:        p.freeSlots(state, demand),
			AlternativeRooms: p.alternativeRooms(state.section, demand.Subject),
		},
	}
}

func (p *Placer) freeSlots(state *sectionGrid, demand Demand) []SlotSuggestion {
	var free []SlotSuggestion
	for _, day := range p.grid.Days() {
		for _, period := range p.grid.TeachingPeriods() {
			if _, taken := state.cells[slotKey{Day: day, Period: period}]; taken {
				continue
			}
			if !p.tracker.SectionFree(state.section.ID, day, period, 1) {
				continue
			}
			free = append(free, SlotSuggestion{
				Day:         day,
				Period:      period,
				FacultyFree: demand.Faculty.AvailableOn(day) && p.tracker.FacultyFree(demand.Faculty.ID, day, period, 1),
			})
		}
	}
	sort.SliceStable(free, func(i, j int) bool {
		return free[i].FacultyFree && !free[j].FacultyFree
	})
	if len(free) > p.suggestionLimit {
		free = free[:p.suggestionLimit]
	}
	return free
}

func (p *Placer) alternativeRooms(section models.Section, subject models.Subject) []RoomScore {
	scores := lo.FilterMap(p.rooms, func(room models.Room, _ int) (RoomScore, bool) {
		score := Score(room, subject, section, ScoreOptions{UtilizationPercent: p.tracker.RoomUtilization(room.ID, p.grid)})
		return score, score.Valid
	})
	Rank(scores)
	if len(scores) > 3 {
		scores = scores[:3]
	}
	return scores
}
