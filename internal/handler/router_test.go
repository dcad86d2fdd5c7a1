package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/sma-timetable-api/internal/middleware"
	"github.com/noah-isme/sma-timetable-api/internal/models"
)

func newTestRouter() (*gin.Engine, *roomStatusStub) {
	gin.SetMode(gin.TestMode)
	rooms := &roomStatusStub{}
	r := gin.New()
	RegisterRoutes(r.Group("/api/v1"), Handlers{
		Timetables: &TimetableHandler{service: &timetableStub{}},
		Rooms:      &RoomHandler{service: rooms},
		Conflicts:  &ConflictHandler{service: &conflictStub{}},
		Audit:      &AuditHandler{service: &auditStub{}},
	}, middleware.NewTokenVerifier(testSecret))
	return r, rooms
}

func TestRoutesRequireToken(t *testing.T) {
	r, _ := newTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/conflicts", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestReadRoutesAllowAnyRole(t *testing.T) {
	r, _ := newTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/conflicts", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, models.RoleTeacher))
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMutatingRoutesRequireAdmin(t *testing.T) {
	r, rooms := newTestRouter()
	body := `{"status":"closed","reason":"inspection"}`

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/rooms/R1/status", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signedToken(t, models.RoleTeacher))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, rooms.roomID)

	req = httptest.NewRequest(http.MethodPatch, "/api/v1/rooms/R1/status", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signedToken(t, models.RoleSuperAdmin))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "R1", rooms.roomID)
	assert.Equal(t, "user-1", rooms.actor)
}

func TestRejectsTokenSignedWithOtherSecret(t *testing.T) {
	r, _ := newTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/conflicts", nil)
	other := middleware.NewTokenVerifier("other")
	_, err := other.Verify(signedToken(t, models.RoleAdmin))
	assert.Error(t, err)

	req.Header.Set("Authorization", "Bearer not-a-token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
