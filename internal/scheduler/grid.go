package scheduler

import (
	"fmt"
	"time"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// GridConfig describes the weekly period grid.
type GridConfig struct {
	Days           int
	Periods        int
	BreakPeriod    int
	LunchPeriod    int
	MaxConsecutive int
	DayStart       string
	PeriodMinutes  int
	BreakMinutes   int
	LunchMinutes   int
}

// DefaultGridConfig is a six-day week of eight periods with a break at 3 and lunch at 5.
func DefaultGridConfig() GridConfig {
	return GridConfig{
		Days:           6,
		Periods:        8,
		BreakPeriod:    3,
		LunchPeriod:    5,
		MaxConsecutive: 3,
		DayStart:       "08:00",
		PeriodMinutes:  50,
		BreakMinutes:   15,
		LunchMinutes:   45,
	}
}

// Grid is the resolved week layout shared by the placer, scorer and repair path.
type Grid struct {
	days           []models.Weekday
	periods        int
	reserved       map[int]string
	teaching       []int
	maxConsecutive int
	starts         map[int]string
	ends           map[int]string
}

// NewGrid validates cfg and precomputes period times.
func NewGrid(cfg GridConfig) (Grid, error) {
	if cfg.Days <= 0 || cfg.Days > 7 {
		return Grid{}, fmt.Errorf("grid days must be between 1 and 7, got %d", cfg.Days)
	}
	if cfg.Periods <= 0 {
		return Grid{}, fmt.Errorf("grid periods must be positive, got %d", cfg.Periods)
	}
	if cfg.MaxConsecutive <= 0 {
		cfg.MaxConsecutive = cfg.Periods
	}
	if cfg.PeriodMinutes <= 0 {
		cfg.PeriodMinutes = 50
	}
	start, err := time.Parse("15:04", cfg.DayStart)
	if err != nil {
		return Grid{}, fmt.Errorf("parse day start %q: %w", cfg.DayStart, err)
	}

	g := Grid{
		periods:        cfg.Periods,
		reserved:       make(map[int]string),
		maxConsecutive: cfg.MaxConsecutive,
		starts:         make(map[int]string, cfg.Periods),
		ends:           make(map[int]string, cfg.Periods),
	}
	for i := 1; i <= cfg.Days && i <= int(models.Saturday); i++ {
		g.days = append(g.days, models.Weekday(i))
	}
	if cfg.Days == 7 {
		g.days = append(g.days, models.Sunday)
	}
	if cfg.BreakPeriod >= 1 && cfg.BreakPeriod <= cfg.Periods {
		g.reserved[cfg.BreakPeriod] = "break"
	}
	if cfg.LunchPeriod >= 1 && cfg.LunchPeriod <= cfg.Periods {
		g.reserved[cfg.LunchPeriod] = "lunch"
	}

	cursor := start
	for p := 1; p <= cfg.Periods; p++ {
		minutes := cfg.PeriodMinutes
		switch g.reserved[p] {
		case "break":
			if cfg.BreakMinutes > 0 {
				minutes = cfg.BreakMinutes
			}
		case "lunch":
			if cfg.LunchMinutes > 0 {
				minutes = cfg.LunchMinutes
			}
		default:
			g.teaching = append(g.teaching, p)
		}
		next := cursor.Add(time.Duration(minutes) * time.Minute)
		g.starts[p] = cursor.Format("15:04")
		g.ends[p] = next.Format("15:04")
		cursor = next
	}
	return g, nil
}

// MustGrid panics on an invalid config; intended for tests and defaults.
func MustGrid(cfg GridConfig) Grid {
	g, err := NewGrid(cfg)
	if err != nil {
		panic(err)
	}
	return g
}

// Days returns the scheduled weekdays in calendar order.
func (g Grid) Days() []models.Weekday {
	out := make([]models.Weekday, len(g.days))
	copy(out, g.days)
	return out
}

// TeachingPeriods returns the non-reserved periods in ascending order.
func (g Grid) TeachingPeriods() []int {
	out := make([]int, len(g.teaching))
	copy(out, g.teaching)
	return out
}

// Periods is the number of periods per day including reserved ones.
func (g Grid) Periods() int { return g.periods }

// MaxConsecutive is the anti-fatigue limit for one faculty member.
func (g Grid) MaxConsecutive() int { return g.maxConsecutive }

// Reserved reports whether the period is a fixed break or lunch.
func (g Grid) Reserved(period int) bool {
	_, ok := g.reserved[period]
	return ok
}

// WeeklyCapacity is the number of teachable (day, period) cells.
func (g Grid) WeeklyCapacity() int {
	return len(g.days) * len(g.teaching)
}

// Times returns the wall-clock start and end of a period.
func (g Grid) Times(period int) (string, string) {
	return g.starts[period], g.ends[period]
}

// HasDay reports whether day is part of the grid.
func (g Grid) HasDay(day models.Weekday) bool {
	for _, d := range g.days {
		if d == day {
			return true
		}
	}
	return false
}

// FitsBlock reports whether span consecutive periods starting at period are
// all teachable and inside the day.
func (g Grid) FitsBlock(period, span int) bool {
	if span <= 0 || period < 1 || period+span-1 > g.periods {
		return false
	}
	for p := period; p < period+span; p++ {
		if g.Reserved(p) {
			return false
		}
	}
	return true
}

// BlockSizes splits a weekly quota into placement blocks. Labs use pairs and
// an odd remainder becomes a single trailing period.
func BlockSizes(subject models.Subject) []int {
	size := subject.BlockSize()
	remaining := subject.WeeklyPeriods
	var blocks []int
	for remaining > 0 {
		if remaining < size {
			blocks = append(blocks, remaining)
			break
		}
		blocks = append(blocks, size)
		remaining -= size
	}
	return blocks
}

type slotKey struct {
	Day    models.Weekday
	Period int
}
