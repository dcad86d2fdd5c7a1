package dto

// AuditLogQuery filters the room audit trail.
type AuditLogQuery struct {
	From       string `form:"from" validate:"omitempty,datetime=2006-01-02"`
	To         string `form:"to" validate:"omitempty,datetime=2006-01-02"`
	ActorID    string `form:"actorId"`
	ChangeType string `form:"changeType" validate:"omitempty,oneof=auto_regeneration manual_adjustment forced_update"`
	RoomID     string `form:"roomId"`
	ConflictID string `form:"conflictId"`
	Page       int    `form:"page" validate:"omitempty,min=1"`
	PageSize   int    `form:"pageSize" validate:"omitempty,min=1,max=500"`
}

// AuditExportRequest renders the filtered trail as a file.
type AuditExportRequest struct {
	AuditLogQuery
	Format string `form:"format" validate:"required,oneof=csv pdf"`
}

// PurgeAuditRequest removes audit rows created before the cutoff.
type PurgeAuditRequest struct {
	Before string `form:"before" json:"before" validate:"required,datetime=2006-01-02"`
}

// AuditExport is a rendered audit report.
type AuditExport struct {
	Filename    string
	ContentType string
	Data        []byte
}

// PurgeResult reports how many audit rows were removed.
type PurgeResult struct {
	Deleted int64 `json:"deleted"`
}
