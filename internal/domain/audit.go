package domain

import (
	"time"

	"github.com/google/uuid"
)

// Audit subject kinds.
const (
	AuditSubjectBatch          = "import_batch"
	AuditSubjectShoppingCenter = "shopping_center"
	AuditSubjectTenant         = "tenant"
	AuditSubjectFlag           = "quality_flag"
)

// AuditEntry is a durable record of a state change, written in the same
// transaction as the change itself.
type AuditEntry struct {
	ID          uuid.UUID      `json:"id"`
	SubjectKind string         `json:"subject_kind"`
	SubjectID   string         `json:"subject_id"`
	Action      string         `json:"action"`
	Detail      map[string]any `json:"detail"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NewAuditEntry builds an audit entry stamped with now.
func NewAuditEntry(kind, subjectID, action string, detail map[string]any, now time.Time) AuditEntry {
	if detail == nil {
		detail = map[string]any{}
	}
	return AuditEntry{
		ID:          uuid.New(),
		SubjectKind: kind,
		SubjectID:   subjectID,
		Action:      action,
		Detail:      detail,
		CreatedAt:   now.UTC(),
	}
}
