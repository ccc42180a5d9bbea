package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/shopwindow/internal/db"
	"github.com/rpattn/shopwindow/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const batchColumns = `id, import_type, status, file_name, file_path, file_size, file_hash, mime_type,
	total_records, successful_records, failed_records, skipped_records,
	fields_extracted, fields_determined, fields_pending_manual,
	shopping_centers_created, shopping_centers_updated, tenants_created, tenants_updated,
	created_at, started_at, completed_at, updated_at, created_by, reviewed_by,
	import_config, error_log, processing_notes`

type batchRepository struct {
	db db.DBTX
}

func (r *batchRepository) Create(ctx context.Context, batch domain.Batch) (domain.Batch, error) {
	configJSON, err := json.Marshal(batch.ImportConfig)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("marshal import config: %w", err)
	}
	errorLogJSON, err := json.Marshal(batch.ErrorLog)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("marshal error log: %w", err)
	}

	var fileName, filePath, fileHash, mimeType pgtype.Text
	var fileSize pgtype.Int8
	if f := batch.File; f != nil {
		fileName = pgtype.Text{String: f.Name, Valid: f.Name != ""}
		filePath = pgtype.Text{String: f.Path, Valid: f.Path != ""}
		fileHash = pgtype.Text{String: f.Hash, Valid: f.Hash != ""}
		mimeType = pgtype.Text{String: f.MimeType, Valid: f.MimeType != ""}
		fileSize = pgtype.Int8{Int64: f.Size, Valid: true}
	}

	c := batch.Counters
	row := r.db.QueryRow(ctx,
		`INSERT INTO import_batches (
			id, import_type, status, file_name, file_path, file_size, file_hash, mime_type,
			total_records, successful_records, failed_records, skipped_records,
			fields_extracted, fields_determined, fields_pending_manual,
			shopping_centers_created, shopping_centers_updated, tenants_created, tenants_updated,
			created_at, updated_at, created_by, import_config, error_log, processing_notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
			$20, $21, $22, $23::jsonb, $24::jsonb, $25)
		RETURNING `+batchColumns,
		batch.ID, batch.ImportType, batch.Status, fileName, filePath, fileSize, fileHash, mimeType,
		c.Total, c.Successful, c.Failed, c.Skipped,
		c.FieldsExtracted, c.FieldsDetermined, c.FieldsPendingManual,
		c.CentersCreated, c.CentersUpdated, c.TenantsCreated, c.TenantsUpdated,
		batch.CreatedAt, batch.UpdatedAt, batch.CreatedBy, configJSON, errorLogJSON, batch.ProcessingNotes,
	)
	created, err := scanBatch(row)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("failed to create batch: %w", err)
	}
	return created, nil
}

func (r *batchRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Batch, error) {
	row := r.db.QueryRow(ctx, `SELECT `+batchColumns+` FROM import_batches WHERE id = $1`, id)
	batch, err := scanBatch(row)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("failed to get batch: %w", notFound(err, "batch "+id.String()))
	}
	return batch, nil
}

func (r *batchRepository) List(ctx context.Context, filter BatchFilter) ([]domain.Batch, error) {
	var (
		conditions []string
		args       []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		conditions = append(conditions, "status = ANY("+arg(statuses)+")")
	}
	if filter.ImportType != "" {
		conditions = append(conditions, "import_type = "+arg(filter.ImportType))
	}
	if filter.CreatedBy != "" {
		conditions = append(conditions, "created_by = "+arg(filter.CreatedBy))
	}
	if filter.FileHash != "" {
		conditions = append(conditions, "file_hash = "+arg(filter.FileHash))
	}
	if filter.CreatedSince != nil {
		conditions = append(conditions, "created_at >= "+arg(*filter.CreatedSince))
	}

	query := `SELECT ` + batchColumns + ` FROM import_batches`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query += " ORDER BY created_at DESC LIMIT " + arg(limitOrDefault(filter.Limit)) + " OFFSET " + arg(offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	batches := []domain.Batch{}
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate batches: %w", err)
	}
	return batches, nil
}

func (r *batchRepository) CompareAndSetStatus(ctx context.Context, batch domain.Batch, from domain.BatchStatus) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE import_batches
		 SET status = $2, started_at = $3, completed_at = $4, reviewed_by = $5, updated_at = $6
		 WHERE id = $1 AND status = $7`,
		batch.ID, batch.Status, batch.StartedAt, batch.CompletedAt, batch.ReviewedBy, batch.UpdatedAt, from,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update batch status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *batchRepository) AddCounters(ctx context.Context, id uuid.UUID, delta domain.BatchCounters) (domain.Batch, error) {
	if err := delta.Validate(); err != nil {
		return domain.Batch{}, err
	}

	row := r.db.QueryRow(ctx,
		`UPDATE import_batches SET
			total_records = total_records + $2,
			successful_records = successful_records + $3,
			failed_records = failed_records + $4,
			skipped_records = skipped_records + $5,
			fields_extracted = fields_extracted + $6,
			fields_determined = fields_determined + $7,
			fields_pending_manual = fields_pending_manual + $8,
			shopping_centers_created = shopping_centers_created + $9,
			shopping_centers_updated = shopping_centers_updated + $10,
			tenants_created = tenants_created + $11,
			tenants_updated = tenants_updated + $12,
			updated_at = NOW()
		 WHERE id = $1
		   AND status NOT IN ('COMPLETED', 'FAILED', 'CANCELLED', 'PARTIAL')
		   AND (successful_records + $3) + (failed_records + $4) + (skipped_records + $5) <= total_records + $2
		 RETURNING `+batchColumns,
		id, delta.Total, delta.Successful, delta.Failed, delta.Skipped,
		delta.FieldsExtracted, delta.FieldsDetermined, delta.FieldsPendingManual,
		delta.CentersCreated, delta.CentersUpdated, delta.TenantsCreated, delta.TenantsUpdated,
	)
	updated, err := scanBatch(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Batch{}, fmt.Errorf("failed to record outcome: %w", err)
	}

	// Nothing matched the guard: explain why using the current row.
	current, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return domain.Batch{}, getErr
	}
	if _, applyErr := current.ApplyOutcome(delta, time.Now()); applyErr != nil {
		return current, applyErr
	}
	return domain.Batch{}, fmt.Errorf("failed to record outcome for batch %s: concurrent update", id)
}

func (r *batchRepository) ClaimRecordKey(ctx context.Context, id uuid.UUID, key string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO import_batch_outcome_keys (import_batch_id, record_key)
		 VALUES ($1, $2)
		 ON CONFLICT (import_batch_id, record_key) DO NOTHING`,
		id, key,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim record key: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *batchRepository) AppendError(ctx context.Context, id uuid.UUID, entry domain.ErrorEntry) error {
	entryJSON, err := json.Marshal([]domain.ErrorEntry{entry})
	if err != nil {
		return fmt.Errorf("marshal error entry: %w", err)
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE import_batches SET error_log = error_log || $2::jsonb, updated_at = NOW() WHERE id = $1`,
		id, entryJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to append batch error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("batch %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *batchRepository) AppendNote(ctx context.Context, id uuid.UUID, note string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE import_batches
		 SET processing_notes = CASE WHEN processing_notes = '' THEN $2 ELSE processing_notes || E'\n' || $2 END,
		     updated_at = NOW()
		 WHERE id = $1`,
		id, strings.TrimSpace(note),
	)
	if err != nil {
		return fmt.Errorf("failed to append batch note: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("batch %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *batchRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM import_batches WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("batch %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *batchRepository) Aggregate(ctx context.Context, since time.Time) (domain.BatchAggregate, error) {
	var agg domain.BatchAggregate
	err := r.db.QueryRow(ctx,
		`SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status IN ('COMPLETED', 'PARTIAL')),
			COUNT(*) FILTER (WHERE status = 'FAILED'),
			COUNT(*) FILTER (WHERE status = 'PROCESSING'),
			COALESCE(SUM(total_records), 0),
			COALESCE(SUM(successful_records), 0)
		 FROM import_batches
		 WHERE created_at >= $1`,
		since,
	).Scan(
		&agg.TotalBatches,
		&agg.CompletedBatches,
		&agg.FailedBatches,
		&agg.ProcessingBatches,
		&agg.TotalRecords,
		&agg.SuccessfulRecords,
	)
	if err != nil {
		return domain.BatchAggregate{}, fmt.Errorf("failed to aggregate batches: %w", err)
	}
	return agg, nil
}

func scanBatch(row pgx.Row) (domain.Batch, error) {
	var (
		batch                                  domain.Batch
		fileName, filePath, fileHash, mimeType pgtype.Text
		fileSize                               pgtype.Int8
		startedAt, completedAt                 pgtype.Timestamptz
		createdBy, reviewedBy                  pgtype.Text
		configJSON, errorLogJSON               []byte
	)
	c := &batch.Counters
	if err := row.Scan(
		&batch.ID, &batch.ImportType, &batch.Status,
		&fileName, &filePath, &fileSize, &fileHash, &mimeType,
		&c.Total, &c.Successful, &c.Failed, &c.Skipped,
		&c.FieldsExtracted, &c.FieldsDetermined, &c.FieldsPendingManual,
		&c.CentersCreated, &c.CentersUpdated, &c.TenantsCreated, &c.TenantsUpdated,
		&batch.CreatedAt, &startedAt, &completedAt, &batch.UpdatedAt,
		&createdBy, &reviewedBy,
		&configJSON, &errorLogJSON, &batch.ProcessingNotes,
	); err != nil {
		return domain.Batch{}, err
	}

	if fileName.Valid || filePath.Valid || fileSize.Valid || fileHash.Valid || mimeType.Valid {
		batch.File = &domain.FileMetadata{
			Name:     fileName.String,
			Path:     filePath.String,
			Size:     fileSize.Int64,
			Hash:     fileHash.String,
			MimeType: mimeType.String,
		}
	}
	if startedAt.Valid {
		t := startedAt.Time
		batch.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		batch.CompletedAt = &t
	}
	if createdBy.Valid {
		s := createdBy.String
		batch.CreatedBy = &s
	}
	if reviewedBy.Valid {
		s := reviewedBy.String
		batch.ReviewedBy = &s
	}

	batch.ImportConfig = map[string]any{}
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &batch.ImportConfig); err != nil {
			return domain.Batch{}, fmt.Errorf("decode import config: %w", err)
		}
	}
	batch.ErrorLog = []domain.ErrorEntry{}
	if len(errorLogJSON) > 0 {
		if err := json.Unmarshal(errorLogJSON, &batch.ErrorLog); err != nil {
			return domain.Batch{}, fmt.Errorf("decode error log: %w", err)
		}
	}
	return batch, nil
}
