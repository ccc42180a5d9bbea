package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// OccupancyStatus of a tenant suite.
type OccupancyStatus string

const (
	OccupancyOccupied OccupancyStatus = "OCCUPIED"
	OccupancyVacant   OccupancyStatus = "VACANT"
	OccupancyPending  OccupancyStatus = "PENDING"
)

// ParseOccupancyStatus maps free text onto a status; unknown text yields "".
func ParseOccupancyStatus(raw string) OccupancyStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "OCCUPIED", "LEASED":
		return OccupancyOccupied
	case "VACANT", "AVAILABLE":
		return OccupancyVacant
	case "PENDING":
		return OccupancyPending
	}
	return ""
}

// Tenant is a scored suite within a shopping center.
type Tenant struct {
	ID               int64 `json:"id"`
	ShoppingCenterID int64 `json:"shopping_center_id"`

	Name          string `json:"tenant_name"`
	SuiteNumber   string `json:"tenant_suite_number"`
	SquareFootage *int64 `json:"square_footage,omitempty"`

	RetailCategory  string          `json:"retail_category"`
	OccupancyStatus OccupancyStatus `json:"occupancy_status"`
	IsAnchor        bool            `json:"is_anchor"`

	BaseRent        *float64   `json:"base_rent,omitempty"`
	LeaseStart      *time.Time `json:"lease_start,omitempty"`
	LeaseExpiration *time.Time `json:"lease_expiration,omitempty"`
	Contact         string     `json:"tenant_contact"`

	DataQualityScore int        `json:"data_quality_score"`
	ImportBatchID    *uuid.UUID `json:"import_batch_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Normalize trims the name and title-cases the retail category.
func (t Tenant) Normalize() Tenant {
	t.Name = strings.TrimSpace(t.Name)
	t.SuiteNumber = strings.TrimSpace(t.SuiteNumber)
	if category := strings.TrimSpace(t.RetailCategory); category != "" {
		t.RetailCategory = titleCaser.String(strings.ToLower(category))
	}
	return t
}

// Validate enforces the structural rules that reject a write outright.
func (t Tenant) Validate() error {
	if t.ShoppingCenterID <= 0 {
		return NewValidationError("shopping_center", "is required")
	}
	if strings.TrimSpace(t.Name) == "" {
		return NewValidationError("tenant_name", "is required")
	}
	if t.SquareFootage != nil && *t.SquareFootage <= 0 {
		return NewValidationError("square_footage", "must be positive")
	}
	if t.LeaseStart != nil && t.LeaseExpiration != nil && t.LeaseExpiration.Before(*t.LeaseStart) {
		return NewValidationError("lease_expiration", "is before lease_start")
	}
	return nil
}

// ScoringKind implements scoring.Scorable.
func (t Tenant) ScoringKind() ContentType {
	return ContentTypeTenant
}

// QualityFields exposes the scored fields by name.
func (t Tenant) QualityFields() map[string]any {
	return map[string]any{
		"tenant_name":         t.Name,
		"tenant_suite_number": t.SuiteNumber,
		"square_footage":      t.SquareFootage,
		"retail_category":     t.RetailCategory,
		"occupancy_status":    string(t.OccupancyStatus),
		"base_rent":           t.BaseRent,
		"lease_start":         t.LeaseStart,
		"lease_expiration":    t.LeaseExpiration,
		"tenant_contact":      t.Contact,
	}
}

// SumSquareFootage totals the known square footage of tenants.
func SumSquareFootage(tenants []Tenant) int64 {
	var total int64
	for _, t := range tenants {
		if t.SquareFootage != nil {
			total += *t.SquareFootage
		}
	}
	return total
}
