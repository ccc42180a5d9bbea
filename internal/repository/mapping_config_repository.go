package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rpattn/shopwindow/internal/db"
	"github.com/rpattn/shopwindow/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const mappingColumns = `id, name, description, import_type, column_mapping, default_values, validation_rules,
	created_by, created_at, updated_at, last_used_at, usage_count`

type mappingConfigRepository struct {
	db db.DBTX
}

func (r *mappingConfigRepository) Create(ctx context.Context, cfg domain.MappingConfig) (domain.MappingConfig, error) {
	columns, defaults, rules, err := marshalMappingMaps(cfg)
	if err != nil {
		return domain.MappingConfig{}, err
	}

	row := r.db.QueryRow(ctx,
		`INSERT INTO import_mapping_configs (
			id, name, description, import_type, column_mapping, default_values, validation_rules,
			created_by, created_at, updated_at, last_used_at, usage_count
		) VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7::jsonb, $8, $9, $10, $11, $12)
		RETURNING `+mappingColumns,
		cfg.ID, cfg.Name, cfg.Description, cfg.ImportType, columns, defaults, rules,
		cfg.CreatedBy, cfg.CreatedAt, cfg.UpdatedAt, cfg.LastUsedAt, cfg.UsageCount,
	)
	created, err := scanMappingConfig(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.MappingConfig{}, fmt.Errorf("%s: %w", cfg, domain.ErrDuplicateMapping)
		}
		return domain.MappingConfig{}, fmt.Errorf("failed to create mapping config: %w", err)
	}
	return created, nil
}

func (r *mappingConfigRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.MappingConfig, error) {
	row := r.db.QueryRow(ctx, `SELECT `+mappingColumns+` FROM import_mapping_configs WHERE id = $1`, id)
	cfg, err := scanMappingConfig(row)
	if err != nil {
		return domain.MappingConfig{}, fmt.Errorf("failed to get mapping config: %w", notFound(err, "mapping config "+id.String()))
	}
	return cfg, nil
}

func (r *mappingConfigRepository) GetByName(ctx context.Context, name string, importType domain.ImportType) (domain.MappingConfig, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+mappingColumns+` FROM import_mapping_configs WHERE name = $1 AND import_type = $2`,
		name, importType,
	)
	cfg, err := scanMappingConfig(row)
	if err != nil {
		return domain.MappingConfig{}, fmt.Errorf("failed to get mapping config: %w", notFound(err, "mapping config "+name))
	}
	return cfg, nil
}

func (r *mappingConfigRepository) List(ctx context.Context, importType domain.ImportType) ([]domain.MappingConfig, error) {
	query := `SELECT ` + mappingColumns + ` FROM import_mapping_configs`
	var args []any
	if importType != "" {
		query += ` WHERE import_type = $1`
		args = append(args, importType)
	}
	query += ` ORDER BY last_used_at DESC NULLS LAST, name ASC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list mapping configs: %w", err)
	}
	defer rows.Close()

	configs := []domain.MappingConfig{}
	for rows.Next() {
		cfg, err := scanMappingConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mapping config: %w", err)
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate mapping configs: %w", err)
	}
	return configs, nil
}

func (r *mappingConfigRepository) Update(ctx context.Context, cfg domain.MappingConfig) (domain.MappingConfig, error) {
	columns, defaults, rules, err := marshalMappingMaps(cfg)
	if err != nil {
		return domain.MappingConfig{}, err
	}

	row := r.db.QueryRow(ctx,
		`UPDATE import_mapping_configs
		 SET name = $2, description = $3, import_type = $4, column_mapping = $5::jsonb,
		     default_values = $6::jsonb, validation_rules = $7::jsonb, updated_at = $8
		 WHERE id = $1
		 RETURNING `+mappingColumns,
		cfg.ID, cfg.Name, cfg.Description, cfg.ImportType, columns, defaults, rules, cfg.UpdatedAt,
	)
	updated, err := scanMappingConfig(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.MappingConfig{}, fmt.Errorf("%s: %w", cfg, domain.ErrDuplicateMapping)
		}
		return domain.MappingConfig{}, fmt.Errorf("failed to update mapping config: %w", notFound(err, "mapping config "+cfg.ID.String()))
	}
	return updated, nil
}

func (r *mappingConfigRepository) MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) (domain.MappingConfig, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE import_mapping_configs
		 SET usage_count = usage_count + 1, last_used_at = $2, updated_at = $2
		 WHERE id = $1
		 RETURNING `+mappingColumns,
		id, at.UTC(),
	)
	cfg, err := scanMappingConfig(row)
	if err != nil {
		return domain.MappingConfig{}, fmt.Errorf("failed to mark mapping config used: %w", notFound(err, "mapping config "+id.String()))
	}
	return cfg, nil
}

func (r *mappingConfigRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM import_mapping_configs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete mapping config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mapping config %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func marshalMappingMaps(cfg domain.MappingConfig) (columns, defaults, rules []byte, err error) {
	if columns, err = json.Marshal(nonNilStrings(cfg.ColumnMapping)); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal column mapping: %w", err)
	}
	if defaults, err = json.Marshal(nonNilMap(cfg.DefaultValues)); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal default values: %w", err)
	}
	if rules, err = json.Marshal(nonNilMap(cfg.ValidationRules)); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal validation rules: %w", err)
	}
	return columns, defaults, rules, nil
}

func scanMappingConfig(row pgx.Row) (domain.MappingConfig, error) {
	var (
		cfg                      domain.MappingConfig
		columns, defaults, rules []byte
		createdBy                pgtype.Text
		lastUsedAt               pgtype.Timestamptz
	)
	if err := row.Scan(
		&cfg.ID, &cfg.Name, &cfg.Description, &cfg.ImportType, &columns, &defaults, &rules,
		&createdBy, &cfg.CreatedAt, &cfg.UpdatedAt, &lastUsedAt, &cfg.UsageCount,
	); err != nil {
		return domain.MappingConfig{}, err
	}
	if createdBy.Valid {
		s := createdBy.String
		cfg.CreatedBy = &s
	}
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		cfg.LastUsedAt = &t
	}

	cfg.ColumnMapping = map[string]string{}
	cfg.DefaultValues = map[string]any{}
	cfg.ValidationRules = map[string]any{}
	if err := json.Unmarshal(columns, &cfg.ColumnMapping); err != nil {
		return domain.MappingConfig{}, fmt.Errorf("decode column mapping: %w", err)
	}
	if err := json.Unmarshal(defaults, &cfg.DefaultValues); err != nil {
		return domain.MappingConfig{}, fmt.Errorf("decode default values: %w", err)
	}
	if err := json.Unmarshal(rules, &cfg.ValidationRules); err != nil {
		return domain.MappingConfig{}, fmt.Errorf("decode validation rules: %w", err)
	}
	return cfg, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nonNilStrings(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
