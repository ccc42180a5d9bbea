// Package scoring grades entities by field completeness under the
// EXTRACT → DETERMINE → DEFINE methodology.
//
// Each entity kind has a fixed field→weight table. A present field contributes
// its weight; the sum is capped at 100. Tables are sized so the uncapped maximum
// is at least 100, which means an entity can reach 100 before every DEFINE field
// is filled in.
package scoring

import (
	"reflect"
	"strings"
	"time"

	"github.com/rpattn/shopwindow/internal/domain"
)

// MaxScore is the score cap.
const MaxScore = 100

// Tier is how a field value was obtained.
type Tier string

const (
	// TierExtract fields are observed directly in source data.
	TierExtract Tier = "EXTRACT"
	// TierDetermine fields are computed or classified from other data.
	TierDetermine Tier = "DETERMINE"
	// TierDefine fields need manual curation.
	TierDefine Tier = "DEFINE"
)

// Tiers in evaluation order.
var Tiers = []Tier{TierExtract, TierDetermine, TierDefine}

// FieldWeight assigns a weight to one field.
type FieldWeight struct {
	Field  string
	Tier   Tier
	Weight int
}

// Table is the ordered weight table for one entity kind.
type Table []FieldWeight

// Max is the uncapped maximum of the table.
func (t Table) Max() int {
	total := 0
	for _, fw := range t {
		total += fw.Weight
	}
	return total
}

// Fields returns the fields of tier in table order.
func (t Table) Fields(tier Tier) []string {
	var out []string
	for _, fw := range t {
		if fw.Tier == tier {
			out = append(out, fw.Field)
		}
	}
	return out
}

// ShoppingCenterTable weighs shopping center fields (uncapped maximum 105).
var ShoppingCenterTable = Table{
	{"shopping_center_name", TierExtract, 8},
	{"address_street", TierExtract, 3},
	{"address_city", TierExtract, 3},
	{"address_state", TierExtract, 3},
	{"address_zip", TierExtract, 3},
	{"contact_name", TierExtract, 5},
	{"contact_phone", TierExtract, 5},
	{"total_gla", TierExtract, 10},

	{"center_type", TierDetermine, 8},
	{"latitude", TierDetermine, 6},
	{"longitude", TierDetermine, 6},
	{"calculated_gla", TierDetermine, 5},

	{"owner", TierDefine, 8},
	{"property_manager", TierDefine, 8},
	{"county", TierDefine, 4},
	{"municipality", TierDefine, 4},
	{"zoning_authority", TierDefine, 4},
	{"year_built", TierDefine, 4},
	{"leasing_agent", TierDefine, 4},
	{"leasing_brokerage", TierDefine, 4},
}

// TenantTable weighs tenant fields (uncapped maximum 105).
var TenantTable = Table{
	{"tenant_name", TierExtract, 15},
	{"tenant_suite_number", TierExtract, 10},
	{"square_footage", TierExtract, 15},

	{"retail_category", TierDetermine, 10},
	{"occupancy_status", TierDetermine, 10},

	{"base_rent", TierDefine, 15},
	{"lease_start", TierDefine, 10},
	{"lease_expiration", TierDefine, 10},
	{"tenant_contact", TierDefine, 10},
}

// Scorable is an entity with a weight table.
type Scorable interface {
	ScoringKind() domain.ContentType
	QualityFields() map[string]any
}

// TableFor returns the weight table of kind.
func TableFor(kind domain.ContentType) (Table, bool) {
	switch kind {
	case domain.ContentTypeShoppingCenter:
		return ShoppingCenterTable, true
	case domain.ContentTypeTenant:
		return TenantTable, true
	}
	return nil, false
}

// TierResult is the outcome of one tier.
type TierResult struct {
	Points  int
	Max     int
	Present []string
	Missing []string
}

// Result is a full score breakdown.
type Result struct {
	Score int
	Raw   int
	Tiers map[Tier]TierResult
}

// Score returns the capped score of e, 0 for kinds without a table.
func Score(e Scorable) int {
	return Breakdown(e).Score
}

// Breakdown scores e and reports present and missing fields per tier.
func Breakdown(e Scorable) Result {
	result := Result{Tiers: make(map[Tier]TierResult, len(Tiers))}
	table, ok := TableFor(e.ScoringKind())
	if !ok {
		return result
	}

	fields := e.QualityFields()
	for _, fw := range table {
		tr := result.Tiers[fw.Tier]
		tr.Max += fw.Weight
		if Present(fields[fw.Field]) {
			tr.Points += fw.Weight
			tr.Present = append(tr.Present, fw.Field)
			result.Raw += fw.Weight
		} else {
			tr.Missing = append(tr.Missing, fw.Field)
		}
		result.Tiers[fw.Tier] = tr
	}

	result.Score = result.Raw
	if result.Score > MaxScore {
		result.Score = MaxScore
	}
	if result.Score < 0 {
		result.Score = 0
	}
	return result
}

// Present reports whether a field value counts towards the score: nil and
// blank strings do not, any other value does.
func Present(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(val) != ""
	case *string:
		return val != nil && strings.TrimSpace(*val) != ""
	case time.Time:
		return !val.IsZero()
	case *time.Time:
		return val != nil && !val.IsZero()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return false
		}
		return Present(rv.Elem().Interface())
	case reflect.Map, reflect.Slice:
		return rv.Len() > 0
	}
	return true
}
