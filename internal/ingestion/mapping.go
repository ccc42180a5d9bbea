package ingestion

import (
	"regexp"
	"strings"

	"github.com/rpattn/shopwindow/internal/domain"

	"github.com/spf13/cast"
)

// Fields holds the raw values of one record keyed by entity field name.
type Fields map[string]string

// Get returns the trimmed value of field.
func (f Fields) Get(field string) string {
	return strings.TrimSpace(f[field])
}

// Apply maps the columns of rec onto entity fields. Without a mapping every header
// is taken as a field name after slugging ("Shopping Center Name" becomes
// shopping_center_name). With one, unmapped columns are ignored and the mapping's
// defaults fill fields left empty.
func Apply(mapping *domain.MappingConfig, rec Record) Fields {
	out := make(Fields, len(rec.Values))
	if mapping == nil || len(mapping.ColumnMapping) == 0 {
		for header, value := range rec.Values {
			if field := slugify(header); field != "" {
				out[field] = strings.TrimSpace(value)
			}
		}
	} else {
		columns := make(map[string]string, len(mapping.ColumnMapping))
		for source, field := range mapping.ColumnMapping {
			columns[strings.ToLower(strings.TrimSpace(source))] = strings.TrimSpace(field)
		}
		for header, value := range rec.Values {
			field, ok := columns[strings.ToLower(strings.TrimSpace(header))]
			if !ok || field == "" {
				continue
			}
			value = strings.TrimSpace(value)
			// Two columns mapped to one field: the first non-empty wins.
			if out.Get(field) == "" {
				out[field] = value
			}
		}
	}

	if mapping != nil {
		for field, def := range mapping.DefaultValues {
			if out.Get(field) != "" {
				continue
			}
			if value := strings.TrimSpace(cast.ToString(def)); value != "" {
				out[field] = value
			}
		}
	}
	return out
}

// FieldFor returns the entity field a source column feeds under mapping, or "" when
// the mapping ignores it.
func FieldFor(mapping *domain.MappingConfig, column string) string {
	if mapping == nil || len(mapping.ColumnMapping) == 0 {
		return slugify(column)
	}
	column = strings.ToLower(strings.TrimSpace(column))
	for source, field := range mapping.ColumnMapping {
		if strings.ToLower(strings.TrimSpace(source)) == column {
			return strings.TrimSpace(field)
		}
	}
	return ""
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	value = slugPattern.ReplaceAllString(value, "_")
	return strings.Trim(value, "_")
}
