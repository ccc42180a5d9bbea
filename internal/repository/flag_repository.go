package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rpattn/shopwindow/internal/db"
	"github.com/rpattn/shopwindow/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const flagColumns = `id, import_batch_id, flag_type, severity, content_type, object_id, field_name,
	message, current_value, suggested_value, context_data,
	is_resolved, resolved_by, resolved_at, resolution_notes, created_at, updated_at`

type flagRepository struct {
	db db.DBTX
}

func (r *flagRepository) Create(ctx context.Context, flag domain.QualityFlag) (domain.QualityFlag, error) {
	contextJSON, err := json.Marshal(flag.ContextData)
	if err != nil {
		return domain.QualityFlag{}, fmt.Errorf("marshal flag context: %w", err)
	}

	row := r.db.QueryRow(ctx,
		`INSERT INTO data_quality_flags (
			id, import_batch_id, flag_type, severity, content_type, object_id, field_name,
			message, current_value, suggested_value, context_data, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12, $13)
		RETURNING `+flagColumns,
		flag.ID, flag.BatchID, flag.FlagType, int16(flag.Severity),
		string(flag.Target.ContentType()), flag.Target.ObjectID(),
		pgtype.Text{String: flag.FieldName, Valid: flag.FieldName != ""},
		flag.Message, flag.CurrentValue, flag.SuggestedValue, contextJSON,
		flag.CreatedAt, flag.UpdatedAt,
	)
	created, err := scanFlag(row)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.QualityFlag{}, fmt.Errorf("batch %s: %w", flag.BatchID, domain.ErrNotFound)
		}
		return domain.QualityFlag{}, fmt.Errorf("failed to create quality flag: %w", err)
	}
	return created, nil
}

func (r *flagRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.QualityFlag, error) {
	row := r.db.QueryRow(ctx, `SELECT `+flagColumns+` FROM data_quality_flags WHERE id = $1`, id)
	flag, err := scanFlag(row)
	if err != nil {
		return domain.QualityFlag{}, fmt.Errorf("failed to get quality flag: %w", notFound(err, "flag "+id.String()))
	}
	return flag, nil
}

func (r *flagRepository) List(ctx context.Context, filter FlagFilter) ([]domain.QualityFlag, error) {
	where, args := flagConditions(filter)
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limitOrDefault(filter.Limit), offset)
	query := fmt.Sprintf(
		`SELECT %s FROM data_quality_flags%s ORDER BY severity DESC, created_at DESC LIMIT $%d OFFSET $%d`,
		flagColumns, where, len(args)-1, len(args),
	)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list quality flags: %w", err)
	}
	defer rows.Close()

	flags := []domain.QualityFlag{}
	for rows.Next() {
		flag, err := scanFlag(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan quality flag: %w", err)
		}
		flags = append(flags, flag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate quality flags: %w", err)
	}
	return flags, nil
}

func (r *flagRepository) Count(ctx context.Context, filter FlagFilter) (int64, error) {
	where, args := flagConditions(filter)
	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM data_quality_flags`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count quality flags: %w", err)
	}
	return count, nil
}

func (r *flagRepository) Resolve(ctx context.Context, id uuid.UUID, resolution domain.Resolution) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE data_quality_flags
		 SET is_resolved = TRUE, resolved_by = $2, resolved_at = $3, resolution_notes = $4, updated_at = $3
		 WHERE id = $1 AND is_resolved = FALSE`,
		id, resolution.ResolvedBy, resolution.ResolvedAt, resolution.Notes,
	)
	if err != nil {
		return false, fmt.Errorf("failed to resolve quality flag: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func flagConditions(filter FlagFilter) (string, []any) {
	var (
		conditions []string
		args       []any
	)
	add := func(expr string, v any) {
		args = append(args, v)
		conditions = append(conditions, fmt.Sprintf(expr, len(args)))
	}

	if filter.BatchID != nil {
		add("import_batch_id = $%d", *filter.BatchID)
	}
	if filter.FlagType != "" {
		add("flag_type = $%d", string(filter.FlagType))
	}
	if filter.MinSeverity > 0 {
		add("severity >= $%d", int16(filter.MinSeverity))
	}
	if filter.Resolved != nil {
		add("is_resolved = $%d", *filter.Resolved)
	}
	if filter.Target != nil {
		add("content_type = $%d", string(filter.Target.ContentType()))
		add("object_id = $%d", filter.Target.ObjectID())
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func scanFlag(row pgx.Row) (domain.QualityFlag, error) {
	var (
		flag                         domain.QualityFlag
		severity                     int16
		contentType                  string
		objectID                     int64
		fieldName, resolvedBy        pgtype.Text
		currentValue, suggestedValue pgtype.Text
		resolvedAt                   pgtype.Timestamptz
		isResolved                   bool
		resolutionNotes              string
		contextJSON                  []byte
	)
	if err := row.Scan(
		&flag.ID, &flag.BatchID, &flag.FlagType, &severity, &contentType, &objectID, &fieldName,
		&flag.Message, &currentValue, &suggestedValue, &contextJSON,
		&isResolved, &resolvedBy, &resolvedAt, &resolutionNotes, &flag.CreatedAt, &flag.UpdatedAt,
	); err != nil {
		return domain.QualityFlag{}, err
	}

	target, err := domain.ParseTarget(contentType, objectID)
	if err != nil {
		return domain.QualityFlag{}, err
	}
	flag.Target = target
	flag.Severity = domain.Severity(severity)
	flag.FieldName = fieldName.String
	if currentValue.Valid {
		flag.CurrentValue = domain.StringValue(currentValue.String)
	}
	if suggestedValue.Valid {
		flag.SuggestedValue = domain.StringValue(suggestedValue.String)
	}
	if isResolved {
		flag.Resolution = &domain.Resolution{
			ResolvedBy: resolvedBy.String,
			ResolvedAt: resolvedAt.Time,
			Notes:      resolutionNotes,
		}
	}

	flag.ContextData = map[string]any{}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &flag.ContextData); err != nil {
			return domain.QualityFlag{}, fmt.Errorf("decode flag context: %w", err)
		}
	}
	return flag, nil
}
