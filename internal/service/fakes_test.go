package service

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

type txProviderMock struct {
	db   *sqlx.DB
	mock sqlmock.Sqlmock
}

func newTxProviderMock(t *testing.T) (txProvider, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	t.Cleanup(func() { db.Close() })
	return &txProviderMock{db: sqlxdb, mock: mock}, mock
}

func (t *txProviderMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return t.db.BeginTxx(ctx, opts)
}

func expectCommits(mock sqlmock.Sqlmock, n int) {
	for i := 0; i < n; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}
}

func strPtr(v string) *string { return &v }

type fakeCatalog struct {
	sectionErr map[string]error
	sections   map[string]models.Section
	subjects   map[string]models.Subject
	faculty    map[string]models.Faculty
	mappings   []models.Mapping
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		sections: map[string]models.Section{},
		subjects: map[string]models.Subject{},
		faculty:  map[string]models.Faculty{},
	}
}

func (c *fakeCatalog) FindSection(_ context.Context, id string) (*models.Section, error) {
	if err, ok := c.sectionErr[id]; ok {
		return nil, err
	}
	section, ok := c.sections[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &section, nil
}

func (c *fakeCatalog) FindSubject(_ context.Context, id string) (*models.Subject, error) {
	subject, ok := c.subjects[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &subject, nil
}

func (c *fakeCatalog) ListMappingsBySection(_ context.Context, sectionID string) ([]models.Mapping, error) {
	var out []models.Mapping
	for _, m := range c.mappings {
		if m.SectionID == sectionID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (c *fakeCatalog) ListSubjectsByIDs(_ context.Context, ids []string) ([]models.Subject, error) {
	var out []models.Subject
	for _, id := range ids {
		if s, ok := c.subjects[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (c *fakeCatalog) ListFacultyByIDs(_ context.Context, ids []string) ([]models.Faculty, error) {
	var out []models.Faculty
	for _, id := range ids {
		if f, ok := c.faculty[id]; ok {
			out = append(out, f)
		}
	}
	return out, nil
}

type fakeRooms struct {
	mu     sync.Mutex
	rooms  []models.Room
	locked [][]string

	// statusAtLock simulates a status change committed between listing and locking.
	statusAtLock map[string]models.RoomStatus
}

func (r *fakeRooms) LockForUpdate(_ context.Context, _ sqlx.ExtContext, ids []string) ([]models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locked = append(r.locked, append([]string(nil), ids...))
	var out []models.Room
	for _, room := range r.rooms {
		for _, id := range ids {
			if room.ID == id {
				if status, ok := r.statusAtLock[id]; ok {
					room.Status = status
				}
				out = append(out, room)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeRooms) List(context.Context) ([]models.Room, error) {
	return append([]models.Room(nil), r.rooms...), nil
}

func (r *fakeRooms) FindForUpdate(_ context.Context, _ sqlx.ExtContext, id string) (*models.Room, error) {
	for _, room := range r.rooms {
		if room.ID == id {
			copied := room
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *fakeRooms) UpdateStatus(_ context.Context, _ sqlx.ExtContext, id string, status models.RoomStatus) error {
	for i := range r.rooms {
		if r.rooms[i].ID == id {
			r.rooms[i].Status = status
			return nil
		}
	}
	return sql.ErrNoRows
}

// fakeTimetables keeps timetables and their items in memory. It ignores the
// executor, so rolled-back transactions still leave their writes behind.
type fakeTimetables struct {
	mu         sync.Mutex
	timetables map[string]*models.Timetable
	items      map[string]*models.ScheduleItem
	names      map[string]string

	publicationLocks int
}

func newFakeTimetables() *fakeTimetables {
	return &fakeTimetables{
		timetables: map[string]*models.Timetable{},
		items:      map[string]*models.ScheduleItem{},
		names:      map[string]string{},
	}
}

func (f *fakeTimetables) addPublished(id, sectionID string, items ...models.ScheduleItem) {
	f.timetables[id] = &models.Timetable{ID: id, SectionID: sectionID, Version: 1, IsPublished: true}
	for i := range items {
		item := items[i]
		item.TimetableID = id
		item.SectionID = sectionID
		f.items[item.ID] = &item
	}
}

func (f *fakeTimetables) item(id string) models.ScheduleItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.items[id]
}

func (f *fakeTimetables) itemsOf(ttID string) []models.ScheduleItem {
	var out []models.ScheduleItem
	for _, item := range f.items {
		if item.TimetableID == ttID {
			out = append(out, *item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeTimetables) NextVersion(_ context.Context, _ sqlx.ExtContext, sectionID string) (int, error) {
	version := 0
	for _, tt := range f.timetables {
		if tt.SectionID == sectionID && tt.Version > version {
			version = tt.Version
		}
	}
	return version + 1, nil
}

func (f *fakeTimetables) Latest(_ context.Context, _ sqlx.ExtContext, sectionID string) (*models.Timetable, error) {
	var latest *models.Timetable
	for _, tt := range f.timetables {
		if tt.SectionID == sectionID && (latest == nil || tt.Version > latest.Version) {
			latest = tt
		}
	}
	if latest == nil {
		return nil, sql.ErrNoRows
	}
	copied := *latest
	return &copied, nil
}

func (f *fakeTimetables) Create(_ context.Context, _ sqlx.ExtContext, tt *models.Timetable) error {
	copied := *tt
	copied.Schedule = nil
	f.timetables[tt.ID] = &copied
	return nil
}

func (f *fakeTimetables) InsertItems(_ context.Context, _ sqlx.ExtContext, items []models.ScheduleItem) error {
	for i := range items {
		item := items[i]
		f.items[item.ID] = &item
	}
	return nil
}

func (f *fakeTimetables) FindByID(_ context.Context, id string) (*models.Timetable, error) {
	tt, ok := f.timetables[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *tt
	copied.Schedule = f.itemsOf(id)
	return &copied, nil
}

func (f *fakeTimetables) ListBySection(_ context.Context, sectionID string) ([]models.Timetable, error) {
	var out []models.Timetable
	for _, tt := range f.timetables {
		if tt.SectionID == sectionID {
			out = append(out, *tt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func (f *fakeTimetables) ListPublished(_ context.Context, _ sqlx.ExtContext) ([]models.Timetable, error) {
	var out []models.Timetable
	for _, tt := range f.timetables {
		if tt.IsPublished {
			copied := *tt
			copied.Schedule = f.itemsOf(tt.ID)
			out = append(out, copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeTimetables) LockPublication(context.Context, sqlx.ExtContext) error {
	f.publicationLocks++
	return nil
}

func (f *fakeTimetables) Publish(_ context.Context, _ sqlx.ExtContext, id, sectionID string) error {
	for _, tt := range f.timetables {
		if tt.SectionID == sectionID {
			tt.IsPublished = tt.ID == id
		}
	}
	return nil
}

func (f *fakeTimetables) published(item *models.ScheduleItem) bool {
	tt, ok := f.timetables[item.TimetableID]
	return ok && tt.IsPublished
}

func (f *fakeTimetables) ListLiveItemsByRoom(_ context.Context, _ sqlx.ExtContext, roomID string) ([]models.ScheduleItemDetail, error) {
	var out []models.ScheduleItemDetail
	for _, item := range f.items {
		if f.published(item) && item.RoomRef() == roomID && !item.IsAffected {
			out = append(out, models.ScheduleItemDetail{
				ScheduleItem: *item,
				SectionName:  f.names[item.SectionID],
				SubjectName:  f.names[item.SubjectID],
				FacultyName:  f.names[item.FacultyID],
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeTimetables) MarkAffected(_ context.Context, _ sqlx.ExtContext, ids []string, conflictID, roomID, reason string) error {
	for _, id := range ids {
		f.items[id].MarkAffected(conflictID, roomID, reason)
	}
	return nil
}

func (f *fakeTimetables) ClearAffectedByRoom(_ context.Context, _ sqlx.ExtContext, roomID string) (int64, error) {
	var cleared int64
	for _, item := range f.items {
		if item.IsAffected && item.OriginalRoomID != nil && *item.OriginalRoomID == roomID && item.RoomRef() == roomID {
			item.ClearAffected()
			cleared++
		}
	}
	return cleared, nil
}

func (f *fakeTimetables) FindItem(_ context.Context, id string) (*models.ScheduleItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *item
	return &copied, nil
}

func (f *fakeTimetables) FindItemForUpdate(ctx context.Context, _ sqlx.ExtContext, id string) (*models.ScheduleItem, error) {
	return f.FindItem(ctx, id)
}

func (f *fakeTimetables) SaveItemState(_ context.Context, _ sqlx.ExtContext, item *models.ScheduleItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[item.ID]; !ok {
		return sql.ErrNoRows
	}
	copied := *item
	f.items[item.ID] = &copied
	return nil
}

func (f *fakeTimetables) MarkRequiresManual(_ context.Context, _ sqlx.ExtContext, id string) error {
	item, ok := f.items[id]
	if !ok {
		return sql.ErrNoRows
	}
	item.RequiresManualAssignment = true
	return nil
}

func (f *fakeTimetables) RoomOccupied(_ context.Context, _ sqlx.ExtContext, roomID string, day models.Weekday, period int, excludeItemID string) (bool, error) {
	for _, item := range f.items {
		if item.ID != excludeItemID && f.published(item) && item.RoomRef() == roomID && item.Day == day && item.Period == period {
			return true, nil
		}
	}
	return false, nil
}

type fakeConflicts struct {
	mu        sync.Mutex
	conflicts map[string]*models.Conflict
	entries   map[string][]models.AffectedEntry
	updates   int
}

func newFakeConflicts() *fakeConflicts {
	return &fakeConflicts{conflicts: map[string]*models.Conflict{}, entries: map[string][]models.AffectedEntry{}}
}

func (f *fakeConflicts) only() *models.Conflict {
	for _, c := range f.conflicts {
		copied := *c
		copied.AffectedEntries = append([]models.AffectedEntry(nil), f.entries[c.ID]...)
		return &copied
	}
	return nil
}

func (f *fakeConflicts) Create(_ context.Context, _ sqlx.ExtContext, conflict *models.Conflict) error {
	copied := *conflict
	copied.AffectedEntries = nil
	f.conflicts[conflict.ID] = &copied
	f.entries[conflict.ID] = append([]models.AffectedEntry(nil), conflict.AffectedEntries...)
	return nil
}

func (f *fakeConflicts) FindByID(_ context.Context, _ sqlx.ExtContext, id string) (*models.Conflict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conflicts[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *c
	copied.AffectedEntries = append([]models.AffectedEntry(nil), f.entries[id]...)
	summary := copied.ResolutionSummary()
	copied.Summary = &summary
	return &copied, nil
}

func (f *fakeConflicts) List(_ context.Context, filter models.ConflictFilter) ([]models.Conflict, int, error) {
	var out []models.Conflict
	for _, c := range f.conflicts {
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		out = append(out, *c)
	}
	return out, len(out), nil
}

func (f *fakeConflicts) ListEntries(_ context.Context, _ sqlx.ExtContext, conflictID string) ([]models.AffectedEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.AffectedEntry(nil), f.entries[conflictID]...), nil
}

func (f *fakeConflicts) FindEntryByItem(_ context.Context, _ sqlx.ExtContext, conflictID, itemID string) (*models.AffectedEntry, error) {
	for _, entry := range f.entries[conflictID] {
		if entry.ScheduleItemID == itemID {
			copied := entry
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeConflicts) UpdateEntry(_ context.Context, _ sqlx.ExtContext, entry *models.AffectedEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := f.entries[entry.ConflictID]
	for i := range entries {
		if entries[i].ID == entry.ID {
			entries[i] = *entry
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeConflicts) UpdateState(_ context.Context, _ sqlx.ExtContext, conflict *models.Conflict) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.conflicts[conflict.ID]
	if !ok {
		return sql.ErrNoRows
	}
	copied := *conflict
	copied.AffectedEntries = nil
	*stored = copied
	f.updates++
	return nil
}

type fakeAudit struct {
	mu     sync.Mutex
	logs   []models.RoomAuditLog
	purged time.Time
}

func (f *fakeAudit) Create(_ context.Context, _ sqlx.ExtContext, entry *models.RoomAuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, *entry)
	return nil
}

func (f *fakeAudit) Query(_ context.Context, filter models.RoomAuditFilter) ([]models.RoomAuditLog, int, error) {
	var matched []models.RoomAuditLog
	for _, entry := range f.logs {
		if filter.ChangeType != "" && entry.ChangeType != filter.ChangeType {
			continue
		}
		if filter.ActorID != "" && entry.ActorID != filter.ActorID {
			continue
		}
		matched = append(matched, entry)
	}
	start := (filter.Page - 1) * filter.PageSize
	if start > len(matched) {
		start = len(matched)
	}
	end := start + filter.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], len(matched), nil
}

func (f *fakeAudit) ListBySlot(_ context.Context, sectionID string, day models.Weekday, period int) ([]models.RoomAuditLog, error) {
	var out []models.RoomAuditLog
	for _, entry := range f.logs {
		if entry.SectionID == sectionID && entry.Day == day && entry.Period == period {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (f *fakeAudit) PurgeBefore(_ context.Context, before time.Time) (int64, error) {
	f.purged = before
	kept := f.logs[:0]
	var deleted int64
	for _, entry := range f.logs {
		if entry.CreatedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, entry)
	}
	f.logs = kept
	return deleted, nil
}

type recordedEvent struct {
	Type    string
	Payload interface{}
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingEmitter) Emit(_ context.Context, eventType string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Type: eventType, Payload: payload})
}

func (r *recordingEmitter) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}
