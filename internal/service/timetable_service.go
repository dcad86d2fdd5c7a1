package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/scheduler"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/lock"
)

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type eventEmitter interface {
	Emit(ctx context.Context, eventType string, payload interface{})
}

type catalogReader interface {
	FindSection(ctx context.Context, id string) (*models.Section, error)
	ListMappingsBySection(ctx context.Context, sectionID string) ([]models.Mapping, error)
	ListSubjectsByIDs(ctx context.Context, ids []string) ([]models.Subject, error)
	ListFacultyByIDs(ctx context.Context, ids []string) ([]models.Faculty, error)
}

type roomLister interface {
	List(ctx context.Context) ([]models.Room, error)
	LockForUpdate(ctx context.Context, exec sqlx.ExtContext, ids []string) ([]models.Room, error)
}

type timetableStore interface {
	NextVersion(ctx context.Context, exec sqlx.ExtContext, sectionID string) (int, error)
	Latest(ctx context.Context, exec sqlx.ExtContext, sectionID string) (*models.Timetable, error)
	Create(ctx context.Context, exec sqlx.ExtContext, tt *models.Timetable) error
	InsertItems(ctx context.Context, exec sqlx.ExtContext, items []models.ScheduleItem) error
	FindByID(ctx context.Context, id string) (*models.Timetable, error)
	ListBySection(ctx context.Context, sectionID string) ([]models.Timetable, error)
	ListPublished(ctx context.Context, exec sqlx.ExtContext) ([]models.Timetable, error)
	LockPublication(ctx context.Context, exec sqlx.ExtContext) error
	Publish(ctx context.Context, exec sqlx.ExtContext, id, sectionID string) error
}

// ProposalCache holds generated proposals until they are saved or expire.
type ProposalCache interface {
	Get(ctx context.Context, id string, dest interface{}) error
	Set(ctx context.Context, id string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

// TimetableServiceConfig governs generator behaviour.
type TimetableServiceConfig struct {
	Grid            scheduler.GridConfig
	ProposalTTL     time.Duration
	SuggestionLimit int
}

// TimetableService generates section proposals and persists them as versioned timetables.
type TimetableService struct {
	catalog    catalogReader
	rooms      roomLister
	timetables timetableStore
	proposals  ProposalCache
	locker     lock.Locker
	tx         txProvider
	metrics    *MetricsService
	grid       scheduler.Grid
	cfg        TimetableServiceConfig
	validator  *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
}

// NewTimetableService wires generator dependencies.
func NewTimetableService(
	catalog catalogReader,
	rooms roomLister,
	timetables timetableStore,
	proposals ProposalCache,
	locker lock.Locker,
	tx txProvider,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg TimetableServiceConfig,
) (*TimetableService, error) {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if proposals == nil {
		proposals = NewMemoryProposalCache()
	}
	if locker == nil {
		locker = lock.NewLocalLocker(0)
	}
	if cfg.ProposalTTL <= 0 {
		cfg.ProposalTTL = 30 * time.Minute
	}
	if cfg.SuggestionLimit <= 0 {
		cfg.SuggestionLimit = 10
	}
	grid, err := scheduler.NewGrid(cfg.Grid)
	if err != nil {
		return nil, err
	}
	return &TimetableService{
		catalog:    catalog,
		rooms:      rooms,
		timetables: timetables,
		proposals:  proposals,
		locker:     locker,
		tx:         tx,
		metrics:    metrics,
		grid:       grid,
		cfg:        cfg,
		validator:  validate,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Generate builds a proposal for one section against the published timetables of every other section.
func (s *TimetableService) Generate(ctx context.Context, req dto.GenerateTimetableRequest, actorID string) (*dto.TimetableProposal, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid timetable generation payload")
	}
	started := s.now()

	section, err := s.catalog.FindSection(ctx, req.SectionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Internal(err, "failed to load section")
	}

	demands, err := s.loadDemands(ctx, section.ID)
	if err != nil {
		return nil, err
	}

	rooms, err := s.rooms.List(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load rooms")
	}

	published, err := s.timetables.ListPublished(ctx, nil)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load published timetables")
	}
	tracker := scheduler.NewTracker()
	tracker.Seed(lo.Filter(published, func(tt models.Timetable, _ int) bool {
		return tt.SectionID != section.ID
	}))

	result := scheduler.NewPlacer(s.grid, tracker, rooms, s.cfg.SuggestionLimit).PlaceSection(*section, demands)

	required := lo.SumBy(demands, func(d scheduler.Demand) int { return d.Subject.WeeklyPeriods })
	proposal := dto.TimetableProposal{
		ProposalID:  uuid.NewString(),
		SectionID:   section.ID,
		Score:       completionScore(result.Placed(), required),
		Required:    required,
		Placed:      result.Placed(),
		Schedule:    result.Placements,
		Conflicts:   result.Conflicts,
		GeneratedBy: actorOrSystem(actorID),
		GeneratedAt: s.now().UTC(),
	}
	proposal.ExpiresAt = proposal.GeneratedAt.Add(s.cfg.ProposalTTL)
	if proposal.Schedule == nil {
		proposal.Schedule = []scheduler.Placement{}
	}
	if proposal.Conflicts == nil {
		proposal.Conflicts = []scheduler.PlacementConflict{}
	}

	if err := s.proposals.Set(ctx, proposal.ProposalID, proposal, s.cfg.ProposalTTL); err != nil {
		return nil, appErrors.Internal(err, "failed to cache timetable proposal")
	}

	s.metrics.ObserveGeneration(len(result.Conflicts) == 0, s.now().Sub(started), len(result.Conflicts))
	s.logger.Info("timetable proposal generated",
		zap.String("section_id", section.ID),
		zap.String("proposal_id", proposal.ProposalID),
		zap.Int("required", required),
		zap.Int("placed", proposal.Placed),
		zap.Int("conflicts", len(result.Conflicts)),
	)
	return &proposal, nil
}

// Save persists a cached proposal as the next version of the section's timetable.
func (s *TimetableService) Save(ctx context.Context, req dto.SaveTimetableRequest, actorID string) (*models.Timetable, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid save timetable payload")
	}
	var proposal dto.TimetableProposal
	if err := s.proposals.Get(ctx, req.ProposalID, &proposal); err != nil {
		s.metrics.RecordProposalLookup(false)
		if errors.Is(err, appErrors.ErrCacheMiss) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "proposal not found or expired")
		}
		return nil, appErrors.Internal(err, "failed to load timetable proposal")
	}
	s.metrics.RecordProposalLookup(true)

	release, err := s.acquire(ctx, lock.TimetableKey(proposal.SectionID), "timetable")
	if err != nil {
		return nil, err
	}
	defer release()

	actor := actorOrSystem(actorID)
	items := proposalItems(proposal)

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if req.Publish {
		if err = s.ensureNoCollisions(ctx, tx, proposal.SectionID, items); err != nil {
			return nil, err
		}
	}

	version, err := s.timetables.NextVersion(ctx, tx, proposal.SectionID)
	if err != nil {
		err = appErrors.Internal(err, "failed to allocate timetable version")
		return nil, err
	}
	latest, err := s.timetables.Latest(ctx, tx, proposal.SectionID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		err = appErrors.Internal(err, "failed to load previous timetable version")
		return nil, err
	}
	err = nil

	now := s.now().UTC()
	record := &models.Timetable{
		ID:        uuid.NewString(),
		SectionID: proposal.SectionID,
		Version:   version,
		CreatedBy: actor,
		CreatedAt: now,
		UpdatedAt: now,
	}
	var history []models.Revision
	if latest != nil {
		record.PreviousVersionID = &latest.ID
		history, err = decodeRevisions(latest.RevisionHistory)
		if err != nil {
			err = appErrors.Internal(err, "failed to decode revision history")
			return nil, err
		}
	}
	history = append(history, models.Revision{
		Version:     version,
		TimetableID: record.ID,
		CreatedBy:   actor,
		CreatedAt:   now,
		Placed:      proposal.Placed,
		Conflicts:   len(proposal.Conflicts),
	})
	if record.RevisionHistory, err = encodeJSON(history); err != nil {
		err = appErrors.Internal(err, "failed to encode revision history")
		return nil, err
	}
	if record.Meta, err = encodeJSON(map[string]any{
		"proposalId": proposal.ProposalID,
		"score":      proposal.Score,
		"required":   proposal.Required,
		"placed":     proposal.Placed,
		"conflicts":  proposal.Conflicts,
		"algorithm":  "greedy_balanced_v1",
		"generated":  proposal.GeneratedAt,
	}); err != nil {
		err = appErrors.Internal(err, "failed to encode timetable metadata")
		return nil, err
	}

	if err = s.timetables.Create(ctx, tx, record); err != nil {
		err = appErrors.Internal(err, "failed to create timetable")
		return nil, err
	}
	for i := range items {
		items[i].ID = uuid.NewString()
		items[i].TimetableID = record.ID
		items[i].CreatedAt = now
		items[i].UpdatedAt = now
	}
	if err = s.timetables.InsertItems(ctx, tx, items); err != nil {
		err = appErrors.Internal(err, "failed to persist schedule items")
		return nil, err
	}
	if req.Publish {
		if err = s.timetables.Publish(ctx, tx, record.ID, record.SectionID); err != nil {
			err = appErrors.Internal(err, "failed to publish timetable")
			return nil, err
		}
		record.IsPublished = true
		record.PublishedAt = &now
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Internal(err, "failed to commit timetable transaction")
		return nil, err
	}

	_ = s.proposals.Delete(ctx, req.ProposalID)
	s.metrics.TimetableSaved(req.Publish)
	record.Schedule = items
	s.logger.Info("timetable saved",
		zap.String("timetable_id", record.ID),
		zap.String("section_id", record.SectionID),
		zap.Int("version", record.Version),
		zap.Bool("published", record.IsPublished),
	)
	return record, nil
}

// Publish promotes a stored version to the section's single published timetable.
func (s *TimetableService) Publish(ctx context.Context, timetableID string) (*models.Timetable, error) {
	record, err := s.Get(ctx, timetableID)
	if err != nil {
		return nil, err
	}
	if record.IsPublished {
		return record, nil
	}

	release, err := s.acquire(ctx, lock.TimetableKey(record.SectionID), "timetable")
	if err != nil {
		return nil, err
	}
	defer release()

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.ensureNoCollisions(ctx, tx, record.SectionID, record.Schedule); err != nil {
		return nil, err
	}
	if err = s.timetables.Publish(ctx, tx, record.ID, record.SectionID); err != nil {
		err = appErrors.Internal(err, "failed to publish timetable")
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Internal(err, "failed to commit publish transaction")
		return nil, err
	}

	now := s.now().UTC()
	record.IsPublished = true
	record.PublishedAt = &now
	s.metrics.TimetableSaved(true)
	return record, nil
}

// List returns every stored version for a section, newest first.
func (s *TimetableService) List(ctx context.Context, query dto.TimetableQuery) ([]models.Timetable, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "sectionId is required")
	}
	list, err := s.timetables.ListBySection(ctx, query.SectionID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list timetables")
	}
	return list, nil
}

// Get returns one timetable version with its schedule.
func (s *TimetableService) Get(ctx context.Context, id string) (*models.Timetable, error) {
	if id == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "timetable id is required")
	}
	record, err := s.timetables.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "timetable not found")
		}
		return nil, appErrors.Internal(err, "failed to load timetable")
	}
	return record, nil
}

func (s *TimetableService) loadDemands(ctx context.Context, sectionID string) ([]scheduler.Demand, error) {
	mappings, err := s.catalog.ListMappingsBySection(ctx, sectionID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load subject mappings")
	}
	if len(mappings) == 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "section has no subject mappings")
	}

	subjectIDs := lo.Uniq(lo.Map(mappings, func(m models.Mapping, _ int) string { return m.SubjectID }))
	facultyIDs := lo.Uniq(lo.Map(mappings, func(m models.Mapping, _ int) string { return m.FacultyID }))

	subjects, err := s.catalog.ListSubjectsByIDs(ctx, subjectIDs)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load subjects")
	}
	faculty, err := s.catalog.ListFacultyByIDs(ctx, facultyIDs)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load faculty")
	}
	subjectByID := lo.KeyBy(subjects, func(sub models.Subject) string { return sub.ID })
	facultyByID := lo.KeyBy(faculty, func(f models.Faculty) string { return f.ID })

	demands := make([]scheduler.Demand, 0, len(mappings))
	for _, mapping := range mappings {
		subject, ok := subjectByID[mapping.SubjectID]
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("mapping %s references unknown subject %s", mapping.ID, mapping.SubjectID))
		}
		member, ok := facultyByID[mapping.FacultyID]
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("mapping %s references unknown faculty %s", mapping.ID, mapping.FacultyID))
		}
		demands = append(demands, scheduler.Demand{Mapping: mapping, Subject: subject, Faculty: member})
	}
	return demands, nil
}

// ensureNoCollisions rejects items placed in a room that is no longer active, and items
// that would double-book a faculty member or room already committed by another
// section's published timetable. It takes the publication lock and locks every room
// the items use, so the checks hold until the surrounding transaction commits.
func (s *TimetableService) ensureNoCollisions(ctx context.Context, exec sqlx.ExtContext, sectionID string, items []models.ScheduleItem) error {
	if err := s.timetables.LockPublication(ctx, exec); err != nil {
		return appErrors.Internal(err, "failed to lock timetable publication")
	}
	roomIDs := lo.Uniq(lo.FilterMap(items, func(item models.ScheduleItem, _ int) (string, bool) {
		return item.RoomRef(), item.RoomRef() != ""
	}))
	rooms, err := s.rooms.LockForUpdate(ctx, exec, roomIDs)
	if err != nil {
		return appErrors.Internal(err, "failed to lock rooms")
	}
	published, err := s.timetables.ListPublished(ctx, exec)
	if err != nil {
		return appErrors.Internal(err, "failed to load published timetables")
	}
	collisions := unavailableRooms(items, lo.KeyBy(rooms, func(r models.Room) string { return r.ID }))
	collisions = append(collisions, findCollisions(sectionID, published, items)...)
	if len(collisions) == 0 {
		return nil
	}
	return appErrors.WithDetails(appErrors.ErrConflict, "timetable collides with published schedules",
		&dto.ScheduleCollisionError{Message: "detected collisions with published timetables", Collisions: collisions})
}

func unavailableRooms(items []models.ScheduleItem, rooms map[string]models.Room) []dto.ScheduleCollision {
	var collisions []dto.ScheduleCollision
	for _, item := range items {
		roomID := item.RoomRef()
		if roomID == "" {
			continue
		}
		if room, ok := rooms[roomID]; ok && room.IsAvailable() {
			continue
		}
		collisions = append(collisions, dto.ScheduleCollision{
			Dimension:  dto.CollisionRoomUnavailable,
			Day:        int(item.Day),
			Period:     item.Period,
			ResourceID: roomID,
		})
	}
	return collisions
}

type occupancyKey struct {
	resource string
	day      models.Weekday
	period   int
}

func findCollisions(sectionID string, published []models.Timetable, items []models.ScheduleItem) []dto.ScheduleCollision {
	faculty := make(map[occupancyKey]models.ScheduleItem)
	rooms := make(map[occupancyKey]models.ScheduleItem)
	for _, tt := range published {
		if tt.SectionID == sectionID {
			continue
		}
		for _, item := range tt.Schedule {
			faculty[occupancyKey{item.FacultyID, item.Day, item.Period}] = item
			if room := item.RoomRef(); room != "" {
				rooms[occupancyKey{room, item.Day, item.Period}] = item
			}
		}
	}

	var collisions []dto.ScheduleCollision
	for _, item := range items {
		if other, ok := faculty[occupancyKey{item.FacultyID, item.Day, item.Period}]; ok {
			collisions = append(collisions, collisionFor(dto.CollisionFaculty, item.FacultyID, item, other))
		}
		if room := item.RoomRef(); room != "" {
			if other, ok := rooms[occupancyKey{room, item.Day, item.Period}]; ok {
				collisions = append(collisions, collisionFor(dto.CollisionRoom, room, item, other))
			}
		}
	}
	return collisions
}

func collisionFor(dimension, resource string, item, other models.ScheduleItem) dto.ScheduleCollision {
	return dto.ScheduleCollision{
		Dimension:         dimension,
		Day:               int(item.Day),
		Period:            item.Period,
		ResourceID:        resource,
		ConflictingItemID: other.ID,
		ConflictingTTID:   other.TimetableID,
	}
}

func (s *TimetableService) acquire(ctx context.Context, key, scope string) (lock.Release, error) {
	return acquireLock(ctx, s.locker, s.metrics, key, scope)
}

func acquireLock(ctx context.Context, locker lock.Locker, metrics *MetricsService, key, scope string) (lock.Release, error) {
	release, err := locker.Acquire(ctx, key)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			metrics.LockContended(scope)
			return nil, appErrors.Clone(appErrors.ErrLocked, fmt.Sprintf("%s is being modified by another operation", scope))
		}
		return nil, appErrors.Internal(err, "failed to acquire lock")
	}
	return release, nil
}

func proposalItems(proposal dto.TimetableProposal) []models.ScheduleItem {
	items := make([]models.ScheduleItem, 0, len(proposal.Schedule))
	for _, p := range proposal.Schedule {
		item := models.ScheduleItem{
			SectionID: proposal.SectionID,
			Day:       p.Day,
			Period:    p.Period,
			StartTime: p.StartTime,
			EndTime:   p.EndTime,
			SubjectID: p.SubjectID,
			FacultyID: p.FacultyID,
			Note:      p.Note,
		}
		if p.RoomID != "" {
			room := p.RoomID
			item.RoomID = &room
		}
		items = append(items, item)
	}
	return items
}

func completionScore(placed, required int) float64 {
	if required <= 0 {
		return 100
	}
	return math.Round(float64(placed)/float64(required)*1000) / 10
}

func decodeRevisions(raw types.JSONText) ([]models.Revision, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var history []models.Revision
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func encodeJSON(v any) (types.JSONText, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return types.JSONText(payload), nil
}

func actorOrSystem(actorID string) string {
	if actorID == "" {
		return models.SystemActor
	}
	return actorID
}
