package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/middleware"
	"github.com/noah-isme/sma-timetable-api/internal/models"
)

const testSecret = "test-secret"

type timetableStub struct {
	generated dto.GenerateTimetableRequest
	actor     string
	err       error
}

func (s *timetableStub) Generate(ctx context.Context, req dto.GenerateTimetableRequest, actorID string) (*dto.TimetableProposal, error) {
	s.generated = req
	s.actor = actorID
	if s.err != nil {
		return nil, s.err
	}
	return &dto.TimetableProposal{ProposalID: "p-1", SectionID: req.SectionID, Score: 100}, nil
}

func (s *timetableStub) Save(ctx context.Context, req dto.SaveTimetableRequest, actorID string) (*models.Timetable, error) {
	s.actor = actorID
	if s.err != nil {
		return nil, s.err
	}
	return &models.Timetable{ID: "tt-1", Version: 1, IsPublished: req.Publish}, nil
}

func (s *timetableStub) Publish(ctx context.Context, timetableID string) (*models.Timetable, error) {
	return &models.Timetable{ID: timetableID, IsPublished: true}, s.err
}

func (s *timetableStub) List(ctx context.Context, query dto.TimetableQuery) ([]models.Timetable, error) {
	return []models.Timetable{{ID: "tt-1", SectionID: query.SectionID}}, s.err
}

func (s *timetableStub) Get(ctx context.Context, id string) (*models.Timetable, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.Timetable{ID: id}, nil
}

type roomStatusStub struct {
	roomID string
	req    dto.UpdateRoomStatusRequest
	actor  string
	err    error
}

func (s *roomStatusStub) UpdateStatus(ctx context.Context, roomID string, req dto.UpdateRoomStatusRequest, actorID string) (*dto.RoomStatusChangeResult, error) {
	s.roomID, s.req, s.actor = roomID, req, actorID
	if s.err != nil {
		return nil, s.err
	}
	return &dto.RoomStatusChangeResult{Room: models.Room{ID: roomID, Status: req.Status}, PreviousStatus: models.RoomStatusActive}, nil
}

type conflictStub struct {
	actor     string
	adjusted  dto.ManualAdjustRequest
	dismissed dto.DismissConflictRequest
	query     dto.ConflictQuery
	err       error
}

func (s *conflictStub) List(ctx context.Context, query dto.ConflictQuery) ([]models.Conflict, *models.Pagination, error) {
	s.query = query
	return []models.Conflict{{ID: "c-1"}}, &models.Pagination{Page: 1, PageSize: 20, TotalCount: 1}, s.err
}

func (s *conflictStub) Get(ctx context.Context, id string) (*models.Conflict, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.Conflict{ID: id}, nil
}

func (s *conflictStub) Resolve(ctx context.Context, conflictID, actorID string) (*dto.RegenerationReport, error) {
	s.actor = actorID
	if s.err != nil {
		return nil, s.err
	}
	return &dto.RegenerationReport{ConflictID: conflictID, Resolved: 1}, nil
}

func (s *conflictStub) Dismiss(ctx context.Context, conflictID string, req dto.DismissConflictRequest, actorID string) (*models.Conflict, error) {
	s.dismissed, s.actor = req, actorID
	if s.err != nil {
		return nil, s.err
	}
	return &models.Conflict{ID: conflictID, Status: models.ConflictStatusDismissed}, nil
}

func (s *conflictStub) ManualAdjust(ctx context.Context, itemID string, req dto.ManualAdjustRequest, actorID string) (*dto.ManualAdjustResult, error) {
	s.adjusted, s.actor = req, actorID
	if s.err != nil {
		return nil, s.err
	}
	return &dto.ManualAdjustResult{Item: models.ScheduleItem{ID: itemID}}, nil
}

func (s *conflictStub) SuggestRooms(ctx context.Context, itemID string) (*dto.RoomSuggestions, error) {
	return &dto.RoomSuggestions{ScheduleItemID: itemID}, s.err
}

type auditStub struct {
	query  dto.AuditLogQuery
	export dto.AuditExportRequest
	purge  dto.PurgeAuditRequest
	err    error
}

func (s *auditStub) Query(ctx context.Context, query dto.AuditLogQuery) ([]models.RoomAuditLog, *models.Pagination, error) {
	s.query = query
	return []models.RoomAuditLog{{ID: "a-1"}}, &models.Pagination{Page: 1, PageSize: 50, TotalCount: 1}, s.err
}

func (s *auditStub) EntryHistory(ctx context.Context, itemID string) ([]models.RoomAuditLog, error) {
	return []models.RoomAuditLog{{ID: "a-1", ScheduleItemID: itemID}}, s.err
}

func (s *auditStub) Purge(ctx context.Context, req dto.PurgeAuditRequest) (*dto.PurgeResult, error) {
	s.purge = req
	if s.err != nil {
		return nil, s.err
	}
	return &dto.PurgeResult{Deleted: 3}, nil
}

func (s *auditStub) Export(ctx context.Context, req dto.AuditExportRequest) (*dto.AuditExport, error) {
	s.export = req
	if s.err != nil {
		return nil, s.err
	}
	return &dto.AuditExport{Filename: "room-audit-20240601.csv", ContentType: "text/csv", Data: []byte("Timestamp,Actor\n")}, nil
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
}

// newTestContext builds a gin context carrying admin claims and the given path params.
func newTestContext(method, target string, body []byte, params ...gin.Param) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	req, _ := http.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Params = params
	c.Set(middleware.ContextUserKey, adminClaims())
	return c, w
}

func signedToken(t *testing.T, role models.UserRole) string {
	t.Helper()
	claims := models.JWTClaims{
		UserID: "user-1",
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}
