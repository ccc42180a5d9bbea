package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MappingConfig is a reusable column mapping for one import type. The core stores
// and looks these up; the ingestion caller applies them.
type MappingConfig struct {
	ID              uuid.UUID         `json:"id" yaml:"-"`
	Name            string            `json:"name" yaml:"name"`
	Description     string            `json:"description" yaml:"description"`
	ImportType      ImportType        `json:"import_type" yaml:"import_type"`
	ColumnMapping   map[string]string `json:"column_mapping" yaml:"column_mapping"`
	DefaultValues   map[string]any    `json:"default_values" yaml:"default_values"`
	ValidationRules map[string]any    `json:"validation_rules" yaml:"validation_rules"`
	CreatedBy       *string           `json:"created_by,omitempty" yaml:"-"`
	CreatedAt       time.Time         `json:"created_at" yaml:"-"`
	UpdatedAt       time.Time         `json:"updated_at" yaml:"-"`
	LastUsedAt      *time.Time        `json:"last_used_at,omitempty" yaml:"-"`
	UsageCount      int               `json:"usage_count" yaml:"-"`
}

// NewMappingConfig creates a mapping config that has never been used.
func NewMappingConfig(name string, importType ImportType, columns map[string]string, now time.Time) (MappingConfig, error) {
	cfg := MappingConfig{
		ID:              uuid.New(),
		Name:            strings.TrimSpace(name),
		ImportType:      importType,
		ColumnMapping:   columns,
		DefaultValues:   map[string]any{},
		ValidationRules: map[string]any{},
		CreatedAt:       now.UTC(),
		UpdatedAt:       now.UTC(),
	}
	return cfg, cfg.Validate()
}

// Validate checks the identifying fields.
func (m MappingConfig) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return NewValidationError("name", "is required")
	}
	if len(m.Name) > 100 {
		return NewValidationError("name", "must be at most 100 characters")
	}
	if !m.ImportType.Valid() {
		return NewValidationError("import_type", "is not a known import type")
	}
	return nil
}

// WithUsage returns the config with one more recorded use.
func (m MappingConfig) WithUsage(now time.Time) MappingConfig {
	used := now.UTC()
	m.UsageCount++
	m.LastUsedAt = &used
	m.UpdatedAt = used
	return m
}

func (m MappingConfig) String() string {
	return m.Name + " (" + string(m.ImportType) + ")"
}
