package ingestion

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/rpattn/shopwindow/internal/domain"
)

const defaultPreviewLimit = 10

// PreviewHeader describes where one source column ends up.
type PreviewHeader struct {
	Column string `json:"column"`
	Field  string `json:"field,omitempty"`
	Known  bool   `json:"known"`
}

// PreviewRow is a sample record with the problems an import would report for it.
type PreviewRow struct {
	RowNumber int               `json:"rowNumber"`
	Values    map[string]string `json:"values"`
	Errors    []string          `json:"errors,omitempty"`
}

// PreviewResult summarizes a file without writing anything.
type PreviewResult struct {
	TotalRows   int             `json:"totalRows"`
	BlankRows   int             `json:"blankRows"`
	InvalidRows int             `json:"invalidRows"`
	Headers     []PreviewHeader `json:"headers"`
	Rows        []PreviewRow    `json:"rows"`
	// Unmapped lists the entity fields no column feeds.
	Unmapped []string `json:"unmapped"`
}

// Preview reads records through mapping and reports how they would be imported.
// Only the first limit non-blank records are returned as samples; every record is
// checked.
func Preview(records []Record, mapping *domain.MappingConfig, limit int, now time.Time) (PreviewResult, error) {
	var rules Rules
	if mapping != nil {
		parsed, err := ParseRules(mapping.ValidationRules)
		if err != nil {
			return PreviewResult{}, err
		}
		rules = parsed
	}
	if limit <= 0 {
		limit = defaultPreviewLimit
	}
	result := PreviewResult{
		TotalRows: len(records),
		Headers:   []PreviewHeader{},
		Rows:      []PreviewRow{},
	}

	fed := map[string]bool{}
	if len(records) > 0 {
		columns := make([]string, 0, len(records[0].Values))
		for column := range records[0].Values {
			columns = append(columns, column)
		}
		sort.Strings(columns)
		for _, column := range columns {
			header := PreviewHeader{Column: column, Field: FieldFor(mapping, column)}
			header.Known = isKnownField(header.Field)
			if header.Known {
				fed[header.Field] = true
			}
			result.Headers = append(result.Headers, header)
		}
	}
	if mapping != nil {
		for field := range mapping.DefaultValues {
			fed[field] = true
		}
	}
	for _, field := range slices.Concat(centerFields, tenantFields) {
		if !fed[field] {
			result.Unmapped = append(result.Unmapped, field)
		}
	}

	for _, rec := range records {
		if rec.Blank() {
			result.BlankRows++
			continue
		}
		errs := checkRecord(Apply(mapping, rec), rules, now)
		if len(errs) > 0 {
			result.InvalidRows++
		}
		if len(result.Rows) < limit {
			result.Rows = append(result.Rows, PreviewRow{RowNumber: rec.Row, Values: rec.Values, Errors: errs})
		}
	}
	return result, nil
}

func isKnownField(field string) bool {
	return field != "" && (slices.Contains(centerFields, field) || slices.Contains(tenantFields, field))
}

func checkRecord(fields Fields, rules Rules, now time.Time) []string {
	var errs []string
	if fields.Get("shopping_center_name") == "" {
		errs = append(errs, "shopping_center_name is required")
	}
	_, issues := buildCenter(fields, now)
	issues = append(issues, rules.Check(fields)...)
	if hasTenant(fields) {
		_, tenantIssues := buildTenant(fields, 0)
		issues = append(issues, tenantIssues...)
	}
	for _, is := range issues {
		errs = append(errs, fmt.Sprintf("%s: %s", is.FlagType, is.Message))
	}
	return errs
}
