package ingestion

import (
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/shopwindow/internal/domain"

	"github.com/spf13/cast"
)

const (
	minYearBuilt     = 1800
	maxPlausibleGLA  = 10_000_000
	yearBuiltLeadway = 5
)

// Layouts tried after cast's own date formats.
var extraDateLayouts = []string{
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
}

var centerFields = []string{
	"shopping_center_name",
	"address_street",
	"address_city",
	"address_state",
	"address_zip",
	"contact_name",
	"contact_phone",
	"total_gla",
	"center_type",
	"latitude",
	"longitude",
	"owner",
	"property_manager",
	"county",
	"municipality",
	"zoning_authority",
	"year_built",
	"leasing_agent",
	"leasing_brokerage",
}

var tenantFields = []string{
	"tenant_name",
	"tenant_suite_number",
	"square_footage",
	"retail_category",
	"occupancy_status",
	"is_anchor",
	"base_rent",
	"lease_start",
	"lease_expiration",
	"tenant_contact",
}

// fieldIssue is a problem with one value of a record. Invalid values are dropped
// before the write; suspicious ones are kept.
type fieldIssue struct {
	FlagType domain.FlagType
	Severity domain.Severity
	Field    string
	Value    string
	Message  string
}

func invalid(field, value, format string, args ...any) fieldIssue {
	return fieldIssue{
		FlagType: domain.FlagTypeInvalid,
		Severity: domain.SeverityHigh,
		Field:    field,
		Value:    value,
		Message:  fmt.Sprintf(format, args...),
	}
}

func suspicious(field, value, format string, args ...any) fieldIssue {
	return fieldIssue{
		FlagType: domain.FlagTypeSuspicious,
		Severity: domain.SeverityMedium,
		Field:    field,
		Value:    value,
		Message:  fmt.Sprintf(format, args...),
	}
}

// fieldParser converts raw values and collects the issues it runs into.
type fieldParser struct {
	fields Fields
	issues []fieldIssue
}

func cleanNumber(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "$")
	raw = strings.ReplaceAll(raw, ",", "")
	return strings.TrimSpace(strings.TrimSuffix(strings.ToLower(raw), "sf"))
}

// decimalDigits drops leading zeros so zero-padded values like 0125000 are read
// in base 10 rather than as octal.
func decimalDigits(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		sign, s = s[:1], s[1:]
	}
	s = strings.TrimLeft(s, "0")
	if s == "" || s[0] == '.' {
		s = "0" + s
	}
	return sign + s
}

func (p *fieldParser) int64Value(field string) *int64 {
	raw := p.fields.Get(field)
	if raw == "" {
		return nil
	}
	v, err := cast.ToInt64E(decimalDigits(cleanNumber(raw)))
	if err != nil {
		p.issues = append(p.issues, invalid(field, raw, "%s is not a whole number", field))
		return nil
	}
	return &v
}

func (p *fieldParser) intValue(field string) *int {
	v := p.int64Value(field)
	if v == nil {
		return nil
	}
	n := int(*v)
	return &n
}

func (p *fieldParser) floatValue(field string) *float64 {
	raw := p.fields.Get(field)
	if raw == "" {
		return nil
	}
	v, err := cast.ToFloat64E(cleanNumber(raw))
	if err != nil {
		p.issues = append(p.issues, invalid(field, raw, "%s is not a number", field))
		return nil
	}
	return &v
}

func (p *fieldParser) dateValue(field string) *time.Time {
	raw := p.fields.Get(field)
	if raw == "" {
		return nil
	}
	if t, err := cast.ToTimeE(raw); err == nil {
		return &t
	}
	for _, layout := range extraDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	p.issues = append(p.issues, invalid(field, raw, "%s is not a recognised date", field))
	return nil
}

func (p *fieldParser) boolValue(field string) bool {
	raw := strings.ToLower(p.fields.Get(field))
	switch raw {
	case "":
		return false
	case "1", "yes", "y", "x":
		return true
	case "0", "no", "n":
		return false
	}
	v, err := cast.ToBoolE(raw)
	if err != nil {
		p.issues = append(p.issues, invalid(field, raw, "%s is not a yes/no value", field))
		return false
	}
	return v
}

func (p *fieldParser) coordinate(field string, limit float64) *float64 {
	v := p.floatValue(field)
	if v == nil {
		return nil
	}
	if *v < -limit || *v > limit {
		p.issues = append(p.issues, invalid(field, p.fields.Get(field), "%s must be within ±%.0f", field, limit))
		return nil
	}
	return v
}

// buildCenter reads the shopping center columns of fields.
func buildCenter(fields Fields, now time.Time) (domain.ShoppingCenter, []fieldIssue) {
	p := &fieldParser{fields: fields}
	c := domain.ShoppingCenter{
		Name:             fields.Get("shopping_center_name"),
		Street:           fields.Get("address_street"),
		City:             fields.Get("address_city"),
		State:            fields.Get("address_state"),
		Zip:              fields.Get("address_zip"),
		Contact:          fields.Get("contact_name"),
		Phone:            fields.Get("contact_phone"),
		CenterType:       strings.ToUpper(fields.Get("center_type")),
		Owner:            fields.Get("owner"),
		PropertyManager:  fields.Get("property_manager"),
		County:           fields.Get("county"),
		Municipality:     fields.Get("municipality"),
		ZoningAuthority:  fields.Get("zoning_authority"),
		LeasingAgent:     fields.Get("leasing_agent"),
		LeasingBrokerage: fields.Get("leasing_brokerage"),
	}

	c.TotalGLA = p.int64Value("total_gla")
	if c.TotalGLA != nil {
		switch {
		case *c.TotalGLA <= 0:
			p.issues = append(p.issues, invalid("total_gla", fields.Get("total_gla"), "total_gla must be positive"))
			c.TotalGLA = nil
		case *c.TotalGLA > maxPlausibleGLA:
			p.issues = append(p.issues, suspicious("total_gla", fields.Get("total_gla"), "total_gla of %d sf is implausibly large", *c.TotalGLA))
		}
	}

	c.Latitude = p.coordinate("latitude", 90)
	c.Longitude = p.coordinate("longitude", 180)
	if (c.Latitude == nil) != (c.Longitude == nil) {
		c.Latitude, c.Longitude = nil, nil
	}
	if c.Latitude != nil && *c.Latitude == 0 && *c.Longitude == 0 {
		p.issues = append(p.issues, suspicious("latitude", fields.Get("latitude"), "coordinates 0,0 are almost certainly a placeholder"))
	}

	c.YearBuilt = p.intValue("year_built")
	if c.YearBuilt != nil {
		if y := *c.YearBuilt; y < minYearBuilt || y > now.Year()+yearBuiltLeadway {
			p.issues = append(p.issues, suspicious("year_built", fields.Get("year_built"), "year_built %d is outside %d..%d", y, minYearBuilt, now.Year()+yearBuiltLeadway))
		}
	}
	return c, p.issues
}

// hasTenant reports whether any tenant column of fields carries a value.
func hasTenant(fields Fields) bool {
	for _, f := range tenantFields {
		if fields.Get(f) != "" {
			return true
		}
	}
	return false
}

// buildTenant reads the tenant columns of fields. Business rules are left to the
// entity write path.
func buildTenant(fields Fields, centerID int64) (domain.Tenant, []fieldIssue) {
	p := &fieldParser{fields: fields}
	t := domain.Tenant{
		ShoppingCenterID: centerID,
		Name:             fields.Get("tenant_name"),
		SuiteNumber:      fields.Get("tenant_suite_number"),
		RetailCategory:   fields.Get("retail_category"),
		Contact:          fields.Get("tenant_contact"),
	}
	t.SquareFootage = p.int64Value("square_footage")
	t.IsAnchor = p.boolValue("is_anchor")
	t.BaseRent = p.floatValue("base_rent")
	t.LeaseStart = p.dateValue("lease_start")
	t.LeaseExpiration = p.dateValue("lease_expiration")

	if raw := fields.Get("occupancy_status"); raw != "" {
		t.OccupancyStatus = domain.ParseOccupancyStatus(raw)
		if t.OccupancyStatus == "" {
			p.issues = append(p.issues, invalid("occupancy_status", raw, "occupancy_status %q is not OCCUPIED, VACANT or PENDING", raw))
		}
	}
	if t.Name == "" && t.SuiteNumber != "" {
		t.Name = "Suite " + t.SuiteNumber
	}
	return t, p.issues
}
