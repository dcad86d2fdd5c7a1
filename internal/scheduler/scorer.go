package scheduler

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// Point budgets for room suitability.
const (
	typeExactPoints        = 50.0
	typeLabMismatchPoints  = 10.0
	typeOtherMismatchPoint = 25.0

	capacityIdealPoints    = 30.0
	capacityGoodPoints     = 20.0
	capacityLoosePoints    = 10.0
	capacityOversizePoints = 5.0

	equipmentFullPoints    = 20.0
	equipmentNonePoints    = 10.0
	equipmentPartialPoints = 5.0

	utilizationMaxPoints = 10.0

	buildingPreferredPoints = 15.0
	buildingSamePoints      = 7.0
	buildingOtherPoints     = 5.0
)

// Warning codes attached to scored rooms.
const (
	WarnUnavailable      = "room_unavailable"
	WarnUnderCapacity    = "under_capacity"
	WarnOversized        = "oversized_room"
	WarnMissingEquipment = "missing_equipment"
	WarnTypeMismatch     = "type_mismatch"
	WarnLabNotAllowed    = "lab_class_not_allowed"
	WarnTheoryNotAllowed = "theory_class_not_allowed"
)

// ScoreBreakdown exposes the per-rule contributions.
type ScoreBreakdown struct {
	Type        float64 `json:"type"`
	Capacity    float64 `json:"capacity"`
	Equipment   float64 `json:"equipment"`
	Utilization float64 `json:"utilization"`
	Building    float64 `json:"building"`
}

// RoomScore is the suitability verdict for one room.
type RoomScore struct {
	RoomID           string         `json:"room_id"`
	RoomCode         string         `json:"room_code"`
	Building         string         `json:"building"`
	Capacity         int            `json:"capacity"`
	Valid            bool           `json:"is_valid"`
	Score            float64        `json:"score"`
	CapacityDelta    int            `json:"capacity_delta"`
	Breakdown        ScoreBreakdown `json:"breakdown"`
	Warnings         []string       `json:"warnings,omitempty"`
	MissingEquipment []string       `json:"missing_equipment,omitempty"`
}

// ScoreOptions carries run-dependent inputs to the scorer.
type ScoreOptions struct {
	// UtilizationPercent is the room's current weekly load, 0..100.
	UtilizationPercent float64
	// Repair enables the additive building preference used when re-homing entries.
	Repair bool
	// OriginalBuilding is the building of the room being replaced.
	OriginalBuilding string
}

// Score computes suitability of room for subject taught to section. Every rule
// contributes independently so valid rooms remain comparable.
func Score(room models.Room, subject models.Subject, section models.Section, opts ScoreOptions) RoomScore {
	result := RoomScore{
		RoomID:        room.ID,
		RoomCode:      room.Code,
		Building:      room.Building,
		Capacity:      room.Capacity,
		Valid:         true,
		CapacityDelta: absInt(room.Capacity - section.Strength),
	}

	if !room.IsAvailable() {
		result.Valid = false
		result.Warnings = append(result.Warnings, WarnUnavailable)
	}

	result.Breakdown.Type = scoreType(room, subject, &result)
	result.Breakdown.Capacity = scoreCapacity(room, section, &result)
	result.Breakdown.Equipment = scoreEquipment(room, subject, &result)
	result.Breakdown.Utilization = math.Max(0, utilizationMaxPoints-opts.UtilizationPercent/10)
	if opts.Repair {
		result.Breakdown.Building = scoreBuilding(room, section, opts.OriginalBuilding)
	}

	b := result.Breakdown
	result.Score = b.Type + b.Capacity + b.Equipment + b.Utilization + b.Building
	return result
}

func scoreType(room models.Room, subject models.Subject, result *RoomScore) float64 {
	needsLab := subject.NeedsLab()
	switch {
	case needsLab && room.Type == models.RoomTypeLab:
		return typeExactPoints
	case !needsLab && room.Type == models.RoomTypeClassroom:
		return typeExactPoints
	case needsLab:
		result.Warnings = append(result.Warnings, WarnTypeMismatch)
		if !room.AllowLabClass {
			result.Warnings = append(result.Warnings, WarnLabNotAllowed)
		}
		return typeLabMismatchPoints
	default:
		result.Warnings = append(result.Warnings, WarnTypeMismatch)
		if room.Type == models.RoomTypeLab && !room.AllowTheoryClass {
			result.Warnings = append(result.Warnings, WarnTheoryNotAllowed)
		}
		return typeOtherMismatchPoint
	}
}

func scoreCapacity(room models.Room, section models.Section, result *RoomScore) float64 {
	if section.Strength <= 0 {
		return capacityIdealPoints
	}
	ratio := float64(room.Capacity) / float64(section.Strength)
	switch {
	case ratio < 1.0:
		result.Valid = false
		result.Warnings = append(result.Warnings, WarnUnderCapacity)
		return 0
	case ratio <= 1.2:
		return capacityIdealPoints
	case ratio <= 1.5:
		return capacityGoodPoints
	case ratio <= 2.0:
		return capacityLoosePoints
	default:
		result.Warnings = append(result.Warnings, WarnOversized)
		return capacityOversizePoints
	}
}

func scoreEquipment(room models.Room, subject models.Subject, result *RoomScore) float64 {
	required := normalizeSet(subject.RequiredEquipment)
	if len(required) == 0 {
		return equipmentNonePoints
	}
	missing := lo.Without(required, normalizeSet(room.Equipment)...)
	if len(missing) == 0 {
		return equipmentFullPoints
	}
	result.MissingEquipment = missing
	result.Warnings = append(result.Warnings, fmt.Sprintf("%s:%s", WarnMissingEquipment, strings.Join(missing, ",")))
	return equipmentPartialPoints
}

func scoreBuilding(room models.Room, section models.Section, originalBuilding string) float64 {
	if room.Building != "" && lo.Contains(section.PreferredBuildings, room.Building) {
		return buildingPreferredPoints
	}
	if originalBuilding != "" && room.Building == originalBuilding {
		return buildingSamePoints
	}
	return buildingOtherPoints
}

// Rank orders scored rooms: valid first, then score descending, then the
// tighter capacity fit, then room code.
func Rank(scores []RoomScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		a, b := scores[i], scores[j]
		if a.Valid != b.Valid {
			return a.Valid
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.CapacityDelta != b.CapacityDelta {
			return a.CapacityDelta < b.CapacityDelta
		}
		return a.RoomCode < b.RoomCode
	})
}

// Best returns the highest ranked valid score.
func Best(scores []RoomScore) (RoomScore, bool) {
	ranked := append([]RoomScore(nil), scores...)
	Rank(ranked)
	if len(ranked) == 0 || !ranked[0].Valid {
		return RoomScore{}, false
	}
	return ranked[0], true
}

func normalizeSet(items []string) []string {
	return lo.Uniq(lo.FilterMap(items, func(item string, _ int) (string, bool) {
		v := strings.ToLower(strings.TrimSpace(item))
		return v, v != ""
	}))
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
