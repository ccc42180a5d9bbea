package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Center types derived from gross leasable area.
const (
	CenterTypeStrip         = "STRIP"
	CenterTypeNeighborhood  = "NEIGHBORHOOD"
	CenterTypeCommunity     = "COMMUNITY"
	CenterTypeRegional      = "REGIONAL"
	CenterTypeSuperRegional = "SUPER_REGIONAL"
)

// CenterTypeForGLA classifies a center by its gross leasable area in square feet.
func CenterTypeForGLA(gla int64) string {
	switch {
	case gla < 30_000:
		return CenterTypeStrip
	case gla < 125_000:
		return CenterTypeNeighborhood
	case gla < 400_000:
		return CenterTypeCommunity
	case gla < 800_000:
		return CenterTypeRegional
	default:
		return CenterTypeSuperRegional
	}
}

// ShoppingCenter is a scored property record. Only the name is required; every
// other field is filled progressively across imports. Empty strings and nil
// pointers mean "not known yet".
type ShoppingCenter struct {
	ID      int64  `json:"id"`
	Name    string `json:"shopping_center_name"`
	Street  string `json:"address_street"`
	City    string `json:"address_city"`
	State   string `json:"address_state"`
	Zip     string `json:"address_zip"`
	Contact string `json:"contact_name"`
	Phone   string `json:"contact_phone"`

	TotalGLA      *int64   `json:"total_gla,omitempty"`
	CalculatedGLA *int64   `json:"calculated_gla,omitempty"`
	CenterType    string   `json:"center_type"`
	Latitude      *float64 `json:"latitude,omitempty"`
	Longitude     *float64 `json:"longitude,omitempty"`

	Owner            string `json:"owner"`
	PropertyManager  string `json:"property_manager"`
	County           string `json:"county"`
	Municipality     string `json:"municipality"`
	ZoningAuthority  string `json:"zoning_authority"`
	YearBuilt        *int   `json:"year_built,omitempty"`
	LeasingAgent     string `json:"leasing_agent"`
	LeasingBrokerage string `json:"leasing_brokerage"`

	DataQualityScore int        `json:"data_quality_score"`
	ImportBatchID    *uuid.UUID `json:"import_batch_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

var titleCaser = cases.Title(language.English)

// Normalize trims the name, title-cases the city and upper-cases the state.
func (c ShoppingCenter) Normalize() ShoppingCenter {
	c.Name = strings.TrimSpace(c.Name)
	if city := strings.TrimSpace(c.City); city != "" {
		c.City = titleCaser.String(strings.ToLower(city))
	}
	c.State = strings.ToUpper(strings.TrimSpace(c.State))
	c.Street = strings.TrimSpace(c.Street)
	c.Zip = strings.TrimSpace(c.Zip)
	return c
}

// Validate enforces the structural rules that reject a write outright.
func (c ShoppingCenter) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return NewValidationError("shopping_center_name", "is required")
	}
	if c.TotalGLA != nil && *c.TotalGLA <= 0 {
		return NewValidationError("total_gla", "must be positive")
	}
	return nil
}

// EffectiveGLA prefers the stated GLA over the one calculated from tenants.
func (c ShoppingCenter) EffectiveGLA() *int64 {
	if c.TotalGLA != nil {
		return c.TotalGLA
	}
	return c.CalculatedGLA
}

// FullAddress joins the known address components.
func (c ShoppingCenter) FullAddress() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{c.Street, c.City, c.State, c.Zip} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// AddressDiffers reports whether any address component differs from other.
func (c ShoppingCenter) AddressDiffers(other ShoppingCenter) bool {
	return c.Street != other.Street || c.City != other.City || c.State != other.State || c.Zip != other.Zip
}

// ScoringKind implements scoring.Scorable.
func (c ShoppingCenter) ScoringKind() ContentType {
	return ContentTypeShoppingCenter
}

// QualityFields exposes the scored fields by name.
func (c ShoppingCenter) QualityFields() map[string]any {
	return map[string]any{
		"shopping_center_name": c.Name,
		"address_street":       c.Street,
		"address_city":         c.City,
		"address_state":        c.State,
		"address_zip":          c.Zip,
		"contact_name":         c.Contact,
		"contact_phone":        c.Phone,
		"total_gla":            c.TotalGLA,
		"center_type":          c.CenterType,
		"latitude":             c.Latitude,
		"longitude":            c.Longitude,
		"calculated_gla":       c.CalculatedGLA,
		"owner":                c.Owner,
		"property_manager":     c.PropertyManager,
		"county":               c.County,
		"municipality":         c.Municipality,
		"zoning_authority":     c.ZoningAuthority,
		"year_built":           c.YearBuilt,
		"leasing_agent":        c.LeasingAgent,
		"leasing_brokerage":    c.LeasingBrokerage,
	}
}

// CenterAnalytics summarises the tenancy of a center.
type CenterAnalytics struct {
	TotalTenants     int      `json:"total_tenants"`
	OccupiedTenants  int      `json:"occupied_tenants"`
	VacantSuites     int      `json:"vacant_suites"`
	TotalLeasedSF    int64    `json:"total_leased_sf"`
	OccupancyRate    float64  `json:"occupancy_rate"`
	AnchorTenants    int      `json:"anchor_tenants"`
	RetailCategories []string `json:"retail_categories"`
}

// AnalyticsFor computes tenancy analytics for center from its tenants.
func AnalyticsFor(center ShoppingCenter, tenants []Tenant) CenterAnalytics {
	out := CenterAnalytics{TotalTenants: len(tenants), RetailCategories: []string{}}
	for _, t := range tenants {
		switch t.OccupancyStatus {
		case OccupancyOccupied:
			out.OccupiedTenants++
		case OccupancyVacant:
			out.VacantSuites++
		}
		if t.SquareFootage != nil {
			out.TotalLeasedSF += *t.SquareFootage
		}
		if t.IsAnchor {
			out.AnchorTenants++
		}
		if t.RetailCategory != "" {
			out.RetailCategories = append(out.RetailCategories, t.RetailCategory)
		}
	}
	if center.TotalGLA != nil && *center.TotalGLA > 0 {
		out.OccupancyRate = Round2(float64(out.TotalLeasedSF) / float64(*center.TotalGLA) * 100)
	}
	return out
}
