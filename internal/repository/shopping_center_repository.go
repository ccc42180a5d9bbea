package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/rpattn/shopwindow/internal/db"
	"github.com/rpattn/shopwindow/internal/domain"

	"github.com/jackc/pgx/v5"
)

const centerColumns = `id, shopping_center_name, address_street, address_city, address_state, address_zip,
	contact_name, contact_phone, total_gla, calculated_gla, center_type, latitude, longitude,
	owner, property_manager, county, municipality, zoning_authority, year_built,
	leasing_agent, leasing_brokerage, data_quality_score, import_batch_id, created_at, updated_at`

type shoppingCenterRepository struct {
	db db.DBTX
}

func (r *shoppingCenterRepository) Create(ctx context.Context, center domain.ShoppingCenter) (domain.ShoppingCenter, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO shopping_centers (
			shopping_center_name, address_street, address_city, address_state, address_zip,
			contact_name, contact_phone, total_gla, calculated_gla, center_type, latitude, longitude,
			owner, property_manager, county, municipality, zoning_authority, year_built,
			leasing_agent, leasing_brokerage, data_quality_score, import_batch_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24)
		RETURNING `+centerColumns,
		centerArgs(center)...,
	)
	created, err := scanCenter(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ShoppingCenter{}, fmt.Errorf("%q: %w", center.Name, domain.ErrDuplicateName)
		}
		return domain.ShoppingCenter{}, fmt.Errorf("failed to create shopping center: %w", err)
	}
	return created, nil
}

func (r *shoppingCenterRepository) GetByID(ctx context.Context, id int64) (domain.ShoppingCenter, error) {
	return r.getOne(ctx, `SELECT `+centerColumns+` FROM shopping_centers WHERE id = $1`, id)
}

func (r *shoppingCenterRepository) GetForUpdate(ctx context.Context, id int64) (domain.ShoppingCenter, error) {
	return r.getOne(ctx, `SELECT `+centerColumns+` FROM shopping_centers WHERE id = $1 FOR UPDATE`, id)
}

func (r *shoppingCenterRepository) getOne(ctx context.Context, query string, id int64) (domain.ShoppingCenter, error) {
	center, err := scanCenter(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return domain.ShoppingCenter{}, fmt.Errorf("failed to get shopping center: %w", notFound(err, fmt.Sprintf("shopping center %d", id)))
	}
	return center, nil
}

func (r *shoppingCenterRepository) GetByIDs(ctx context.Context, ids []int64) ([]domain.ShoppingCenter, error) {
	if len(ids) == 0 {
		return []domain.ShoppingCenter{}, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+centerColumns+` FROM shopping_centers WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load shopping centers: %w", err)
	}
	return collectCenters(rows)
}

func (r *shoppingCenterRepository) GetByName(ctx context.Context, name string) (domain.ShoppingCenter, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+centerColumns+` FROM shopping_centers WHERE LOWER(shopping_center_name) = LOWER($1)`,
		strings.TrimSpace(name),
	)
	center, err := scanCenter(row)
	if err != nil {
		return domain.ShoppingCenter{}, fmt.Errorf("failed to get shopping center: %w", notFound(err, fmt.Sprintf("shopping center %q", name)))
	}
	return center, nil
}

func (r *shoppingCenterRepository) NameTaken(ctx context.Context, name string, excludeID int64) (bool, error) {
	var taken bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM shopping_centers
			WHERE LOWER(shopping_center_name) = LOWER($1) AND id <> $2
		)`,
		strings.TrimSpace(name), excludeID,
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("failed to check shopping center name: %w", err)
	}
	return taken, nil
}

func (r *shoppingCenterRepository) Update(ctx context.Context, center domain.ShoppingCenter) (domain.ShoppingCenter, error) {
	// created_at is never rewritten.
	args := centerArgs(center)
	args = append(args[:22], center.UpdatedAt, center.ID)
	row := r.db.QueryRow(ctx,
		`UPDATE shopping_centers SET
			shopping_center_name = $1, address_street = $2, address_city = $3, address_state = $4,
			address_zip = $5, contact_name = $6, contact_phone = $7, total_gla = $8, calculated_gla = $9,
			center_type = $10, latitude = $11, longitude = $12, owner = $13, property_manager = $14,
			county = $15, municipality = $16, zoning_authority = $17, year_built = $18,
			leasing_agent = $19, leasing_brokerage = $20, data_quality_score = $21,
			import_batch_id = $22, updated_at = $23
		 WHERE id = $24
		 RETURNING `+centerColumns,
		args...,
	)
	updated, err := scanCenter(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ShoppingCenter{}, fmt.Errorf("%q: %w", center.Name, domain.ErrDuplicateName)
		}
		return domain.ShoppingCenter{}, fmt.Errorf("failed to update shopping center: %w", notFound(err, fmt.Sprintf("shopping center %d", center.ID)))
	}
	return updated, nil
}

func (r *shoppingCenterRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM shopping_centers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete shopping center: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("shopping center %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *shoppingCenterRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM shopping_centers`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count shopping centers: %w", err)
	}
	return count, nil
}

// centerArgs orders the writable columns as $1..$24 for insert and update.
func centerArgs(c domain.ShoppingCenter) []any {
	return []any{
		c.Name, c.Street, c.City, c.State, c.Zip,
		c.Contact, c.Phone, c.TotalGLA, c.CalculatedGLA, c.CenterType, c.Latitude, c.Longitude,
		c.Owner, c.PropertyManager, c.County, c.Municipality, c.ZoningAuthority, c.YearBuilt,
		c.LeasingAgent, c.LeasingBrokerage, c.DataQualityScore, c.ImportBatchID, c.CreatedAt, c.UpdatedAt,
	}
}

func collectCenters(rows pgx.Rows) ([]domain.ShoppingCenter, error) {
	defer rows.Close()
	centers := []domain.ShoppingCenter{}
	for rows.Next() {
		center, err := scanCenter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan shopping center: %w", err)
		}
		centers = append(centers, center)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate shopping centers: %w", err)
	}
	return centers, nil
}

func scanCenter(row pgx.Row) (domain.ShoppingCenter, error) {
	var c domain.ShoppingCenter
	err := row.Scan(
		&c.ID, &c.Name, &c.Street, &c.City, &c.State, &c.Zip,
		&c.Contact, &c.Phone, &c.TotalGLA, &c.CalculatedGLA, &c.CenterType, &c.Latitude, &c.Longitude,
		&c.Owner, &c.PropertyManager, &c.County, &c.Municipality, &c.ZoningAuthority, &c.YearBuilt,
		&c.LeasingAgent, &c.LeasingBrokerage, &c.DataQualityScore, &c.ImportBatchID, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}
