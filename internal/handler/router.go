package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable-api/internal/middleware"
	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// Handlers groups the HTTP handlers mounted under the API prefix.
type Handlers struct {
	Timetables *TimetableHandler
	Rooms      *RoomHandler
	Conflicts  *ConflictHandler
	Audit      *AuditHandler
}

// RegisterRoutes mounts the API. Reads need a valid token; mutations also need an admin role.
func RegisterRoutes(group *gin.RouterGroup, h Handlers, verifier *middleware.TokenVerifier) {
	authed := group.Group("")
	authed.Use(middleware.JWT(verifier))
	admin := middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin)

	timetables := authed.Group("/timetables")
	timetables.GET("", h.Timetables.List)
	timetables.GET("/:id", h.Timetables.Get)
	timetables.POST("/generate", admin, h.Timetables.Generate)
	timetables.POST("/save", admin, h.Timetables.Save)
	timetables.POST("/:id/publish", admin, h.Timetables.Publish)

	authed.PATCH("/rooms/:id/status", admin, h.Rooms.UpdateStatus)

	conflicts := authed.Group("/conflicts")
	conflicts.GET("", h.Conflicts.List)
	conflicts.GET("/:id", h.Conflicts.Get)
	conflicts.POST("/:id/resolve", admin, h.Conflicts.Resolve)
	conflicts.POST("/:id/dismiss", admin, h.Conflicts.Dismiss)

	items := authed.Group("/schedule-items")
	items.GET("/:id/room-suggestions", h.Conflicts.Suggestions)
	items.POST("/:id/room", admin, h.Conflicts.AdjustRoom)

	audit := authed.Group("/audit-logs")
	audit.GET("", h.Audit.List)
	audit.GET("/export", h.Audit.Export)
	audit.GET("/entries/:id", h.Audit.EntryHistory)
	audit.DELETE("", admin, h.Audit.Purge)
}
