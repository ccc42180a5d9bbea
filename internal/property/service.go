// Package property is the write path for shopping centers and tenants. Every write
// normalises the entity, applies the business rules, derives the center type and
// calculated GLA, and stores a fresh quality score in the same transaction.
package property

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/rpattn/shopwindow/internal/domain"
	"github.com/rpattn/shopwindow/internal/repository"
	"github.com/rpattn/shopwindow/internal/scoring"

	"github.com/google/uuid"
)

// Audit actions written for entities.
const (
	ActionCreated  = "created"
	ActionUpdated  = "updated"
	ActionDeleted  = "deleted"
	ActionGeocoded = "geocoded"
)

// CenterResult is the outcome of a center write. Previous is the stored center
// before an enrichment and nil on create; Filled lists the fields the write set
// for the first time.
type CenterResult struct {
	Center       domain.ShoppingCenter
	Created      bool
	Previous     *domain.ShoppingCenter
	Filled       []string
	Conflicts    []FieldConflict
	GeocodeIssue *GeocodeIssue
}

// TenantResult is the outcome of a tenant write.
type TenantResult struct {
	Tenant    domain.Tenant
	Created   bool
	Previous  *domain.Tenant
	Filled    []string
	Conflicts []FieldConflict
}

// Service writes shopping centers and tenants and keeps their derived fields current.
type Service struct {
	store    repository.Store
	geocoder Geocoder
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds the entity write path. A nil geocoder disables geocoding.
func NewService(store repository.Store, geocoder Geocoder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		geocoder: geocoder,
		logger:   logger.With(slog.String("component", "property")),
		now:      time.Now,
	}
}

// prepareCenter derives the center type and score of c.
func prepareCenter(c domain.ShoppingCenter) domain.ShoppingCenter {
	c = c.Normalize()
	if gla := c.EffectiveGLA(); gla != nil {
		c.CenterType = domain.CenterTypeForGLA(*gla)
	}
	c.DataQualityScore = scoring.Score(c)
	return c
}

func prepareTenant(t domain.Tenant) domain.Tenant {
	t = t.Normalize()
	t.DataQualityScore = scoring.Score(t)
	return t
}

func (s *Service) GetCenter(ctx context.Context, id int64) (domain.ShoppingCenter, error) {
	return s.store.Centers().GetByID(ctx, id)
}

func (s *Service) GetTenant(ctx context.Context, id int64) (domain.Tenant, error) {
	return s.store.Tenants().GetByID(ctx, id)
}

func (s *Service) Tenants(ctx context.Context, centerID int64) ([]domain.Tenant, error) {
	return s.store.Tenants().ListByCenter(ctx, centerID)
}

// CreateCenter stores a new center. A name already used by another center, in
// any letter case, fails with ErrDuplicateName.
func (s *Service) CreateCenter(ctx context.Context, center domain.ShoppingCenter, batchID *uuid.UUID) (CenterResult, error) {
	center = center.Normalize()
	if err := center.Validate(); err != nil {
		return CenterResult{}, err
	}

	var created domain.ShoppingCenter
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		created, err = s.createCenter(ctx, tx, center, batchID)
		return err
	})
	if err != nil {
		return CenterResult{}, err
	}

	result := CenterResult{Center: created, Created: true}
	s.geocodeAfterWrite(ctx, nil, &result)
	return result, nil
}

func (s *Service) createCenter(ctx context.Context, tx repository.Store, center domain.ShoppingCenter, batchID *uuid.UUID) (domain.ShoppingCenter, error) {
	taken, err := tx.Centers().NameTaken(ctx, center.Name, 0)
	if err != nil {
		return domain.ShoppingCenter{}, err
	}
	if taken {
		return domain.ShoppingCenter{}, fmt.Errorf("%q: %w", center.Name, domain.ErrDuplicateName)
	}

	now := s.now().UTC()
	center = prepareCenter(center)
	center.ImportBatchID = batchID
	center.CreatedAt = now
	center.UpdatedAt = now
	created, err := tx.Centers().Create(ctx, center)
	if err != nil {
		return domain.ShoppingCenter{}, err
	}
	if err := s.auditCenter(ctx, tx, created, ActionCreated); err != nil {
		return domain.ShoppingCenter{}, err
	}
	s.logger.Info("shopping center created",
		slog.Int64("center_id", created.ID),
		slog.String("name", created.Name),
		slog.Int("score", created.DataQualityScore),
	)
	return created, nil
}

// UpdateCenter applies mutate to the locked center and stores the result.
func (s *Service) UpdateCenter(ctx context.Context, id int64, mutate func(domain.ShoppingCenter) (domain.ShoppingCenter, error)) (CenterResult, error) {
	var before, after domain.ShoppingCenter
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		current, err := tx.Centers().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next, err := mutate(current)
		if err != nil {
			return err
		}
		next.ID = current.ID
		next.CreatedAt = current.CreatedAt
		before = current
		after, err = s.saveCenter(ctx, tx, next)
		return err
	})
	if err != nil {
		return CenterResult{}, err
	}

	result := CenterResult{Center: after}
	s.geocodeAfterWrite(ctx, &before, &result)
	return result, nil
}

func (s *Service) saveCenter(ctx context.Context, tx repository.Store, center domain.ShoppingCenter) (domain.ShoppingCenter, error) {
	center = center.Normalize()
	if err := center.Validate(); err != nil {
		return domain.ShoppingCenter{}, err
	}
	taken, err := tx.Centers().NameTaken(ctx, center.Name, center.ID)
	if err != nil {
		return domain.ShoppingCenter{}, err
	}
	if taken {
		return domain.ShoppingCenter{}, fmt.Errorf("%q: %w", center.Name, domain.ErrDuplicateName)
	}

	if center.TotalGLA == nil {
		tenants, err := tx.Tenants().ListByCenter(ctx, center.ID)
		if err != nil {
			return domain.ShoppingCenter{}, err
		}
		center.CalculatedGLA = calculatedGLA(tenants)
	}
	center = prepareCenter(center)
	center.UpdatedAt = s.now().UTC()

	updated, err := tx.Centers().Update(ctx, center)
	if err != nil {
		return domain.ShoppingCenter{}, err
	}
	if err := s.auditCenter(ctx, tx, updated, ActionUpdated); err != nil {
		return domain.ShoppingCenter{}, err
	}
	s.logger.Debug("shopping center updated",
		slog.Int64("center_id", updated.ID),
		slog.Int("score", updated.DataQualityScore),
	)
	return updated, nil
}

// calculatedGLA is nil when no tenant has a known square footage.
func calculatedGLA(tenants []domain.Tenant) *int64 {
	total := domain.SumSquareFootage(tenants)
	if total <= 0 {
		return nil
	}
	return &total
}

// MergeCenter enriches the center with the same name as incoming, creating it when
// there is none. Fields already stored are kept; disagreeing incoming values are
// reported as conflicts.
func (s *Service) MergeCenter(ctx context.Context, incoming domain.ShoppingCenter, batchID *uuid.UUID) (CenterResult, error) {
	incoming = incoming.Normalize()
	if err := incoming.Validate(); err != nil {
		return CenterResult{}, err
	}

	var (
		result CenterResult
		before *domain.ShoppingCenter
		err    error
	)
	// A concurrent create of the same name surfaces as ErrDuplicateName; the second
	// attempt then finds the stored center.
	for attempt := 0; attempt < 2; attempt++ {
		result, before = CenterResult{}, nil
		err = s.store.WithTx(ctx, func(tx repository.Store) error {
			existing, err := tx.Centers().GetByName(ctx, incoming.Name)
			if errors.Is(err, domain.ErrNotFound) {
				created, err := s.createCenter(ctx, tx, incoming, batchID)
				if err != nil {
					return err
				}
				result = CenterResult{Center: created, Created: true}
				return nil
			}
			if err != nil {
				return err
			}

			locked, err := tx.Centers().GetForUpdate(ctx, existing.ID)
			if err != nil {
				return err
			}
			before = &locked
			merged, m := mergeCenter(locked, incoming)
			result.Previous, result.Filled, result.Conflicts = before, m.filled, m.conflicts
			if len(m.filled) == 0 {
				result.Center = locked
				return nil
			}
			result.Center, err = s.saveCenter(ctx, tx, merged)
			return err
		})
		if !errors.Is(err, domain.ErrDuplicateName) {
			break
		}
	}
	if err != nil {
		return CenterResult{}, err
	}

	s.geocodeAfterWrite(ctx, before, &result)
	return result, nil
}

// DeleteCenter removes a center and its tenants.
func (s *Service) DeleteCenter(ctx context.Context, id int64) error {
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		center, err := tx.Centers().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.Centers().Delete(ctx, id); err != nil {
			return err
		}
		return tx.Audit().Record(ctx, domain.NewAuditEntry(domain.AuditSubjectShoppingCenter, strconv.FormatInt(id, 10), ActionDeleted, map[string]any{
			"name": center.Name,
		}, s.now()))
	})
	if err != nil {
		return err
	}
	s.logger.Info("shopping center deleted", slog.Int64("center_id", id))
	return nil
}

func (s *Service) auditCenter(ctx context.Context, tx repository.Store, c domain.ShoppingCenter, action string) error {
	detail := map[string]any{
		"name":               c.Name,
		"data_quality_score": c.DataQualityScore,
	}
	if c.CenterType != "" {
		detail["center_type"] = c.CenterType
	}
	if c.ImportBatchID != nil {
		detail["import_batch_id"] = c.ImportBatchID.String()
	}
	return tx.Audit().Record(ctx, domain.NewAuditEntry(domain.AuditSubjectShoppingCenter, strconv.FormatInt(c.ID, 10), action, detail, s.now()))
}

func needsGeocode(before *domain.ShoppingCenter, after domain.ShoppingCenter) bool {
	if after.FullAddress() == "" {
		return false
	}
	if after.Latitude == nil || after.Longitude == nil {
		return true
	}
	if before == nil || !after.AddressDiffers(*before) {
		return false
	}
	// Re-geocode a moved address unless this write also supplied new coordinates.
	return before.Latitude != nil && before.Longitude != nil &&
		*before.Latitude == *after.Latitude && *before.Longitude == *after.Longitude
}

// geocodeAfterWrite looks the address of result.Center up and stores the
// coordinates. Failures are reported on result and logged, never returned.
func (s *Service) geocodeAfterWrite(ctx context.Context, before *domain.ShoppingCenter, result *CenterResult) {
	if s.geocoder == nil || !needsGeocode(before, result.Center) {
		return
	}
	address := result.Center.FullAddress()
	lat, lng, err := s.geocoder.Geocode(ctx, address)
	if err != nil {
		result.GeocodeIssue = &GeocodeIssue{Address: address, Err: err}
		s.logger.Warn("geocoding failed",
			slog.Int64("center_id", result.Center.ID),
			slog.String("address", address),
			slog.String("error", err.Error()),
		)
		return
	}

	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		current, err := tx.Centers().GetForUpdate(ctx, result.Center.ID)
		if err != nil {
			return err
		}
		if current.FullAddress() != address {
			return nil
		}
		current.Latitude, current.Longitude = &lat, &lng
		current = prepareCenter(current)
		current.UpdatedAt = s.now().UTC()
		updated, err := tx.Centers().Update(ctx, current)
		if err != nil {
			return err
		}
		result.Center = updated
		return tx.Audit().Record(ctx, domain.NewAuditEntry(domain.AuditSubjectShoppingCenter, strconv.FormatInt(updated.ID, 10), ActionGeocoded, map[string]any{
			"address":            address,
			"latitude":           lat,
			"longitude":          lng,
			"data_quality_score": updated.DataQualityScore,
		}, s.now()))
	})
	if err != nil {
		result.GeocodeIssue = &GeocodeIssue{Address: address, Err: err}
		s.logger.Warn("failed to store coordinates", slog.Int64("center_id", result.Center.ID), slog.String("error", err.Error()))
	}
}

// CreateTenant stores a tenant and refreshes its center.
func (s *Service) CreateTenant(ctx context.Context, tenant domain.Tenant, batchID *uuid.UUID) (domain.Tenant, error) {
	tenant = tenant.Normalize()
	if err := tenant.Validate(); err != nil {
		return domain.Tenant{}, err
	}
	var created domain.Tenant
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		created, err = s.createTenant(ctx, tx, tenant, batchID)
		return err
	})
	return created, err
}

func (s *Service) createTenant(ctx context.Context, tx repository.Store, tenant domain.Tenant, batchID *uuid.UUID) (domain.Tenant, error) {
	if _, err := tx.Centers().GetForUpdate(ctx, tenant.ShoppingCenterID); err != nil {
		return domain.Tenant{}, err
	}
	now := s.now().UTC()
	tenant = prepareTenant(tenant)
	tenant.ImportBatchID = batchID
	tenant.CreatedAt = now
	tenant.UpdatedAt = now
	created, err := tx.Tenants().Create(ctx, tenant)
	if err != nil {
		return domain.Tenant{}, err
	}
	if err := s.auditTenant(ctx, tx, created, ActionCreated); err != nil {
		return domain.Tenant{}, err
	}
	if err := s.refreshCenter(ctx, tx, created.ShoppingCenterID); err != nil {
		return domain.Tenant{}, err
	}
	s.logger.Info("tenant created",
		slog.Int64("tenant_id", created.ID),
		slog.Int64("center_id", created.ShoppingCenterID),
		slog.Int("score", created.DataQualityScore),
	)
	return created, nil
}

// UpdateTenant applies mutate to the locked tenant. A tenant cannot move between
// centers.
func (s *Service) UpdateTenant(ctx context.Context, id int64, mutate func(domain.Tenant) (domain.Tenant, error)) (domain.Tenant, error) {
	var updated domain.Tenant
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		current, err := tx.Tenants().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next, err := mutate(current)
		if err != nil {
			return err
		}
		next.ID = current.ID
		next.ShoppingCenterID = current.ShoppingCenterID
		next.CreatedAt = current.CreatedAt
		updated, err = s.saveTenant(ctx, tx, next)
		return err
	})
	return updated, err
}

func (s *Service) saveTenant(ctx context.Context, tx repository.Store, tenant domain.Tenant) (domain.Tenant, error) {
	tenant = tenant.Normalize()
	if err := tenant.Validate(); err != nil {
		return domain.Tenant{}, err
	}
	tenant = prepareTenant(tenant)
	tenant.UpdatedAt = s.now().UTC()
	updated, err := tx.Tenants().Update(ctx, tenant)
	if err != nil {
		return domain.Tenant{}, err
	}
	if err := s.auditTenant(ctx, tx, updated, ActionUpdated); err != nil {
		return domain.Tenant{}, err
	}
	if err := s.refreshCenter(ctx, tx, updated.ShoppingCenterID); err != nil {
		return domain.Tenant{}, err
	}
	return updated, nil
}

// MergeTenant enriches the tenant of incoming's center that has the same suite
// number, or the same name when no suite is given, creating it when there is none.
func (s *Service) MergeTenant(ctx context.Context, incoming domain.Tenant, batchID *uuid.UUID) (TenantResult, error) {
	incoming = incoming.Normalize()
	if err := incoming.Validate(); err != nil {
		return TenantResult{}, err
	}

	var result TenantResult
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		existing, err := tx.Tenants().FindInCenter(ctx, incoming.ShoppingCenterID, incoming.SuiteNumber, incoming.Name)
		if errors.Is(err, domain.ErrNotFound) {
			created, err := s.createTenant(ctx, tx, incoming, batchID)
			if err != nil {
				return err
			}
			result = TenantResult{Tenant: created, Created: true}
			return nil
		}
		if err != nil {
			return err
		}

		locked, err := tx.Tenants().GetForUpdate(ctx, existing.ID)
		if err != nil {
			return err
		}
		merged, m := mergeTenant(locked, incoming)
		result.Previous, result.Filled, result.Conflicts = &locked, m.filled, m.conflicts
		if len(m.filled) == 0 {
			result.Tenant = locked
			return nil
		}
		result.Tenant, err = s.saveTenant(ctx, tx, merged)
		return err
	})
	if err != nil {
		return TenantResult{}, err
	}
	return result, nil
}

// DeleteTenant removes a tenant and refreshes its center.
func (s *Service) DeleteTenant(ctx context.Context, id int64) error {
	return s.store.WithTx(ctx, func(tx repository.Store) error {
		tenant, err := tx.Tenants().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.Tenants().Delete(ctx, id); err != nil {
			return err
		}
		if err := s.auditTenant(ctx, tx, tenant, ActionDeleted); err != nil {
			return err
		}
		return s.refreshCenter(ctx, tx, tenant.ShoppingCenterID)
	})
}

// refreshCenter recomputes the calculated GLA, center type and score of a center
// after its tenants changed.
func (s *Service) refreshCenter(ctx context.Context, tx repository.Store, centerID int64) error {
	center, err := tx.Centers().GetForUpdate(ctx, centerID)
	if err != nil {
		return err
	}
	_, err = s.saveCenter(ctx, tx, center)
	return err
}

func (s *Service) auditTenant(ctx context.Context, tx repository.Store, t domain.Tenant, action string) error {
	detail := map[string]any{
		"name":               t.Name,
		"shopping_center_id": t.ShoppingCenterID,
		"data_quality_score": t.DataQualityScore,
	}
	if t.SuiteNumber != "" {
		detail["suite_number"] = t.SuiteNumber
	}
	return tx.Audit().Record(ctx, domain.NewAuditEntry(domain.AuditSubjectTenant, strconv.FormatInt(t.ID, 10), action, detail, s.now()))
}

// Analytics summarises the tenancy of a center.
func (s *Service) Analytics(ctx context.Context, centerID int64) (domain.CenterAnalytics, error) {
	center, err := s.store.Centers().GetByID(ctx, centerID)
	if err != nil {
		return domain.CenterAnalytics{}, err
	}
	tenants, err := s.store.Tenants().ListByCenter(ctx, centerID)
	if err != nil {
		return domain.CenterAnalytics{}, err
	}
	return domain.AnalyticsFor(center, tenants), nil
}
