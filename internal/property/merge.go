package property

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rpattn/shopwindow/internal/domain"
)

// FieldConflict is an incoming value that disagrees with the stored one. The stored
// value is kept.
type FieldConflict struct {
	Field     string
	Current   string
	Suggested string
}

// merger fills empty fields of a stored entity from an incoming one.
type merger struct {
	filled    []string
	conflicts []FieldConflict
}

func (m *merger) text(field string, dst *string, src string) {
	src = strings.TrimSpace(src)
	current := strings.TrimSpace(*dst)
	switch {
	case src == "":
	case current == "":
		*dst = src
		m.filled = append(m.filled, field)
	case !strings.EqualFold(current, src):
		m.conflicts = append(m.conflicts, FieldConflict{Field: field, Current: current, Suggested: src})
	}
}

func mergeValue[T any](m *merger, field string, dst **T, src *T, equal func(a, b T) bool) {
	switch {
	case src == nil:
	case *dst == nil:
		v := *src
		*dst = &v
		m.filled = append(m.filled, field)
	case !equal(**dst, *src):
		m.conflicts = append(m.conflicts, FieldConflict{
			Field:     field,
			Current:   formatValue(**dst),
			Suggested: formatValue(*src),
		})
	}
}

func formatValue(v any) string {
	if t, ok := v.(time.Time); ok {
		return t.Format(time.DateOnly)
	}
	return fmt.Sprint(v)
}

func sameInt64(a, b int64) bool { return a == b }
func sameInt(a, b int) bool { return a == b }
func sameMoney(a, b float64) bool {
	return math.Abs(a-b) < 0.005
}

// Coordinates from different sources rarely agree to the last digit.
func sameCoordinate(a, b float64) bool {
	return math.Abs(a-b) < 1e-4
}

func sameDay(a, b time.Time) bool {
	return a.Format(time.DateOnly) == b.Format(time.DateOnly)
}

// mergeCenter enriches stored with incoming. The name, derived fields and
// bookkeeping of stored are left alone.
func mergeCenter(stored, incoming domain.ShoppingCenter) (domain.ShoppingCenter, *merger) {
	m := &merger{}
	out := stored
	m.text("address_street", &out.Street, incoming.Street)
	m.text("address_city", &out.City, incoming.City)
	m.text("address_state", &out.State, incoming.State)
	m.text("address_zip", &out.Zip, incoming.Zip)
	m.text("contact_name", &out.Contact, incoming.Contact)
	m.text("contact_phone", &out.Phone, incoming.Phone)
	mergeValue(m, "total_gla", &out.TotalGLA, incoming.TotalGLA, sameInt64)
	mergeValue(m, "latitude", &out.Latitude, incoming.Latitude, sameCoordinate)
	mergeValue(m, "longitude", &out.Longitude, incoming.Longitude, sameCoordinate)
	if out.CenterType == "" && incoming.CenterType != "" {
		out.CenterType = strings.ToUpper(strings.TrimSpace(incoming.CenterType))
		m.filled = append(m.filled, "center_type")
	}

	m.text("owner", &out.Owner, incoming.Owner)
	m.text("property_manager", &out.PropertyManager, incoming.PropertyManager)
	m.text("county", &out.County, incoming.County)
	m.text("municipality", &out.Municipality, incoming.Municipality)
	m.text("zoning_authority", &out.ZoningAuthority, incoming.ZoningAuthority)
	mergeValue(m, "year_built", &out.YearBuilt, incoming.YearBuilt, sameInt)
	m.text("leasing_agent", &out.LeasingAgent, incoming.LeasingAgent)
	m.text("leasing_brokerage", &out.LeasingBrokerage, incoming.LeasingBrokerage)
	return out, m
}

func mergeTenant(stored, incoming domain.Tenant) (domain.Tenant, *merger) {
	m := &merger{}
	out := stored
	m.text("tenant_name", &out.Name, incoming.Name)
	m.text("tenant_suite_number", &out.SuiteNumber, incoming.SuiteNumber)
	mergeValue(m, "square_footage", &out.SquareFootage, incoming.SquareFootage, sameInt64)
	m.text("retail_category", &out.RetailCategory, incoming.RetailCategory)

	status := string(out.OccupancyStatus)
	m.text("occupancy_status", &status, string(incoming.OccupancyStatus))
	out.OccupancyStatus = domain.OccupancyStatus(status)
	if incoming.IsAnchor {
		out.IsAnchor = true
	}

	mergeValue(m, "base_rent", &out.BaseRent, incoming.BaseRent, sameMoney)
	mergeValue(m, "lease_start", &out.LeaseStart, incoming.LeaseStart, sameDay)
	mergeValue(m, "lease_expiration", &out.LeaseExpiration, incoming.LeaseExpiration, sameDay)
	m.text("tenant_contact", &out.Contact, incoming.Contact)
	return out, m
}
