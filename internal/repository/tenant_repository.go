package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/rpattn/shopwindow/internal/db"
	"github.com/rpattn/shopwindow/internal/domain"

	"github.com/jackc/pgx/v5"
)

const tenantColumns = `id, shopping_center_id, tenant_name, tenant_suite_number, square_footage,
	retail_category, occupancy_status, is_anchor, base_rent, lease_start, lease_expiration,
	tenant_contact, data_quality_score, import_batch_id, created_at, updated_at`

type tenantRepository struct {
	db db.DBTX
}

func (r *tenantRepository) Create(ctx context.Context, tenant domain.Tenant) (domain.Tenant, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO tenants (
			shopping_center_id, tenant_name, tenant_suite_number, square_footage,
			retail_category, occupancy_status, is_anchor, base_rent, lease_start, lease_expiration,
			tenant_contact, data_quality_score, import_batch_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING `+tenantColumns,
		tenant.ShoppingCenterID, tenant.Name, tenant.SuiteNumber, tenant.SquareFootage,
		tenant.RetailCategory, string(tenant.OccupancyStatus), tenant.IsAnchor, tenant.BaseRent,
		tenant.LeaseStart, tenant.LeaseExpiration, tenant.Contact, tenant.DataQualityScore,
		tenant.ImportBatchID, tenant.CreatedAt, tenant.UpdatedAt,
	)
	created, err := scanTenant(row)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.Tenant{}, fmt.Errorf("shopping center %d: %w", tenant.ShoppingCenterID, domain.ErrNotFound)
		}
		return domain.Tenant{}, fmt.Errorf("failed to create tenant: %w", err)
	}
	return created, nil
}

func (r *tenantRepository) GetByID(ctx context.Context, id int64) (domain.Tenant, error) {
	return r.getOne(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
}

func (r *tenantRepository) GetForUpdate(ctx context.Context, id int64) (domain.Tenant, error) {
	return r.getOne(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1 FOR UPDATE`, id)
}

func (r *tenantRepository) getOne(ctx context.Context, query string, id int64) (domain.Tenant, error) {
	tenant, err := scanTenant(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("failed to get tenant: %w", notFound(err, fmt.Sprintf("tenant %d", id)))
	}
	return tenant, nil
}

func (r *tenantRepository) GetByIDs(ctx context.Context, ids []int64) ([]domain.Tenant, error) {
	if len(ids) == 0 {
		return []domain.Tenant{}, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenants: %w", err)
	}
	return collectTenants(rows)
}

func (r *tenantRepository) FindInCenter(ctx context.Context, centerID int64, suiteNumber, name string) (domain.Tenant, error) {
	var row pgx.Row
	if suite := strings.TrimSpace(suiteNumber); suite != "" {
		row = r.db.QueryRow(ctx,
			`SELECT `+tenantColumns+` FROM tenants
			 WHERE shopping_center_id = $1 AND tenant_suite_number = $2
			 ORDER BY id LIMIT 1`,
			centerID, suite,
		)
	} else {
		row = r.db.QueryRow(ctx,
			`SELECT `+tenantColumns+` FROM tenants
			 WHERE shopping_center_id = $1 AND LOWER(tenant_name) = LOWER($2)
			 ORDER BY id LIMIT 1`,
			centerID, strings.TrimSpace(name),
		)
	}
	tenant, err := scanTenant(row)
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("failed to find tenant: %w", notFound(err, fmt.Sprintf("tenant in center %d", centerID)))
	}
	return tenant, nil
}

func (r *tenantRepository) ListByCenter(ctx context.Context, centerID int64) ([]domain.Tenant, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE shopping_center_id = $1 ORDER BY tenant_suite_number, id`,
		centerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	return collectTenants(rows)
}

func (r *tenantRepository) Update(ctx context.Context, tenant domain.Tenant) (domain.Tenant, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE tenants SET
			shopping_center_id = $2, tenant_name = $3, tenant_suite_number = $4, square_footage = $5,
			retail_category = $6, occupancy_status = $7, is_anchor = $8, base_rent = $9,
			lease_start = $10, lease_expiration = $11, tenant_contact = $12,
			data_quality_score = $13, import_batch_id = $14, updated_at = $15
		 WHERE id = $1
		 RETURNING `+tenantColumns,
		tenant.ID, tenant.ShoppingCenterID, tenant.Name, tenant.SuiteNumber, tenant.SquareFootage,
		tenant.RetailCategory, string(tenant.OccupancyStatus), tenant.IsAnchor, tenant.BaseRent,
		tenant.LeaseStart, tenant.LeaseExpiration, tenant.Contact,
		tenant.DataQualityScore, tenant.ImportBatchID, tenant.UpdatedAt,
	)
	updated, err := scanTenant(row)
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("failed to update tenant: %w", notFound(err, fmt.Sprintf("tenant %d", tenant.ID)))
	}
	return updated, nil
}

func (r *tenantRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("tenant %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func collectTenants(rows pgx.Rows) ([]domain.Tenant, error) {
	defer rows.Close()
	tenants := []domain.Tenant{}
	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tenants: %w", err)
	}
	return tenants, nil
}

func scanTenant(row pgx.Row) (domain.Tenant, error) {
	var (
		t         domain.Tenant
		occupancy string
	)
	err := row.Scan(
		&t.ID, &t.ShoppingCenterID, &t.Name, &t.SuiteNumber, &t.SquareFootage,
		&t.RetailCategory, &occupancy, &t.IsAnchor, &t.BaseRent, &t.LeaseStart, &t.LeaseExpiration,
		&t.Contact, &t.DataQualityScore, &t.ImportBatchID, &t.CreatedAt, &t.UpdatedAt,
	)
	t.OccupancyStatus = domain.OccupancyStatus(occupancy)
	return t, err
}
