package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rpattn/shopwindow/internal/db"
	"github.com/rpattn/shopwindow/internal/domain"
)

type auditRepository struct {
	db db.DBTX
}

func (r *auditRepository) Record(ctx context.Context, entry domain.AuditEntry) error {
	detail, err := json.Marshal(nonNilMap(entry.Detail))
	if err != nil {
		return fmt.Errorf("marshal audit detail: %w", err)
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO audit_log (id, subject_kind, subject_id, action, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6)`,
		entry.ID, entry.SubjectKind, entry.SubjectID, entry.Action, detail, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

func (r *auditRepository) List(ctx context.Context, subjectKind, subjectID string, limit int) ([]domain.AuditEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, subject_kind, subject_id, action, detail, created_at
		 FROM audit_log
		 WHERE subject_kind = $1 AND subject_id = $2
		 ORDER BY created_at ASC
		 LIMIT $3`,
		subjectKind, subjectID, limitOrDefault(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []domain.AuditEntry{}
	for rows.Next() {
		var (
			entry  domain.AuditEntry
			detail []byte
		)
		if err := rows.Scan(&entry.ID, &entry.SubjectKind, &entry.SubjectID, &entry.Action, &detail, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.Detail = map[string]any{}
		if err := json.Unmarshal(detail, &entry.Detail); err != nil {
			return nil, fmt.Errorf("decode audit detail: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return entries, nil
}
