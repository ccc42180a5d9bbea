package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// FlagType classifies a data quality issue.
type FlagType string

const (
	FlagTypeMissing      FlagType = "MISSING"
	FlagTypeInvalid      FlagType = "INVALID"
	FlagTypeSuspicious   FlagType = "SUSPICIOUS"
	FlagTypeDuplicate    FlagType = "DUPLICATE"
	FlagTypeIncomplete   FlagType = "INCOMPLETE"
	FlagTypeInconsistent FlagType = "INCONSISTENT"
	FlagTypeGeocoding    FlagType = "GEOCODING"
	FlagTypeBusinessRule FlagType = "BUSINESS_RULE"
)

var flagTypes = map[FlagType]string{
	FlagTypeMissing:      "Missing Required Field",
	FlagTypeInvalid:      "Invalid Format or Value",
	FlagTypeSuspicious:   "Suspicious Value",
	FlagTypeDuplicate:    "Potential Duplicate",
	FlagTypeIncomplete:   "Incomplete Record",
	FlagTypeInconsistent: "Data Inconsistency",
	FlagTypeGeocoding:    "Geocoding Issue",
	FlagTypeBusinessRule: "Business Rule Violation",
}

// Valid reports whether t is a known flag type.
func (t FlagType) Valid() bool {
	_, ok := flagTypes[t]
	return ok
}

// Label is the human readable flag type.
func (t FlagType) Label() string {
	return flagTypes[t]
}

// ParseFlagType parses a case-insensitive flag type.
func ParseFlagType(raw string) (FlagType, error) {
	t := FlagType(strings.ToUpper(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", NewValidationError("flag_type", fmt.Sprintf("unknown flag type %q", raw))
	}
	return t, nil
}

// Severity ranks a flag from 1 (cosmetic) to 5 (blocker). Severity is advisory:
// it never blocks the write that raised it.
type Severity int

const (
	SeverityLow      Severity = 1
	SeverityMedium   Severity = 2
	SeverityHigh     Severity = 3
	SeverityCritical Severity = 4
	SeverityBlocker  Severity = 5

	DefaultSeverity = SeverityMedium
)

// Valid reports whether s is within 1..5.
func (s Severity) Valid() bool {
	return s >= SeverityLow && s <= SeverityBlocker
}

// Label is the triage label for the severity.
func (s Severity) Label() string {
	switch s {
	case SeverityLow:
		return "Low - Cosmetic Issue"
	case SeverityMedium:
		return "Medium - Data Quality Impact"
	case SeverityHigh:
		return "High - Significant Issue"
	case SeverityCritical:
		return "Critical - Major Problem"
	case SeverityBlocker:
		return "Blocker - Must Fix"
	}
	return "Unknown"
}

// Color is the UI colour code for the severity.
func (s Severity) Color() string {
	switch s {
	case SeverityLow:
		return "#28a745"
	case SeverityMedium:
		return "#ffc107"
	case SeverityHigh:
		return "#fd7e14"
	case SeverityCritical:
		return "#dc3545"
	case SeverityBlocker:
		return "#6f42c1"
	}
	return "#6c757d"
}

// MaxFlagValueLength bounds CurrentValue and SuggestedValue.
const MaxFlagValueLength = 500

// Resolution is set as a whole when a flag is resolved.
type Resolution struct {
	ResolvedBy string    `json:"resolved_by"`
	ResolvedAt time.Time `json:"resolved_at"`
	Notes      string    `json:"resolution_notes"`
}

// QualityFlag records one non-blocking data defect found while processing a batch.
type QualityFlag struct {
	ID             uuid.UUID      `json:"id"`
	BatchID        uuid.UUID      `json:"import_batch_id"`
	FlagType       FlagType       `json:"flag_type"`
	Severity       Severity       `json:"severity"`
	Target         Target         `json:"-"`
	FieldName      string         `json:"field_name,omitempty"`
	Message        string         `json:"message"`
	CurrentValue   *string        `json:"current_value,omitempty"`
	SuggestedValue *string        `json:"suggested_value,omitempty"`
	ContextData    map[string]any `json:"context_data"`
	Resolution     *Resolution    `json:"resolution,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// FlagSpec holds the caller supplied part of a new flag.
type FlagSpec struct {
	BatchID        uuid.UUID
	Target         Target
	FlagType       FlagType
	Message        string
	Severity       Severity
	FieldName      string
	CurrentValue   *string
	SuggestedValue *string
	ContextData    map[string]any
}

// NewQualityFlag builds an unresolved flag. A zero severity means DefaultSeverity.
func NewQualityFlag(spec FlagSpec, now time.Time) (QualityFlag, error) {
	if spec.BatchID == uuid.Nil {
		return QualityFlag{}, NewValidationError("import_batch", "is required")
	}
	if spec.Target == nil {
		return QualityFlag{}, NewValidationError("target", "is required")
	}
	if !spec.FlagType.Valid() {
		return QualityFlag{}, NewValidationError("flag_type", fmt.Sprintf("unknown flag type %q", spec.FlagType))
	}
	severity := spec.Severity
	if severity == 0 {
		severity = DefaultSeverity
	}
	if !severity.Valid() {
		return QualityFlag{}, fmt.Errorf("%w: got %d", ErrInvalidSeverity, severity)
	}
	contextData := spec.ContextData
	if contextData == nil {
		contextData = map[string]any{}
	}
	now = now.UTC()
	return QualityFlag{
		ID:             uuid.New(),
		BatchID:        spec.BatchID,
		FlagType:       spec.FlagType,
		Severity:       severity,
		Target:         spec.Target,
		FieldName:      strings.TrimSpace(spec.FieldName),
		Message:        spec.Message,
		CurrentValue:   truncateValue(spec.CurrentValue),
		SuggestedValue: truncateValue(spec.SuggestedValue),
		ContextData:    contextData,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// IsResolved reports whether the flag has been resolved.
func (f QualityFlag) IsResolved() bool {
	return f.Resolution != nil
}

// Resolve returns the flag resolved by actor.
func (f QualityFlag) Resolve(actor, notes string, now time.Time) (QualityFlag, error) {
	if f.IsResolved() {
		return f, ErrAlreadyResolved
	}
	if strings.TrimSpace(actor) == "" {
		return f, NewValidationError("resolved_by", "is required")
	}
	now = now.UTC()
	f.Resolution = &Resolution{ResolvedBy: actor, ResolvedAt: now, Notes: notes}
	f.UpdatedAt = now
	return f, nil
}

// AgeDays is the number of whole days since the flag was raised.
func (f QualityFlag) AgeDays(now time.Time) int {
	return int(now.Sub(f.CreatedAt).Hours() / 24)
}

func (f QualityFlag) String() string {
	return fmt.Sprintf("%s - %s #%d", f.FlagType.Label(), f.Target.ContentType(), f.Target.ObjectID())
}

func truncateValue(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	if utf8.RuneCountInString(s) > MaxFlagValueLength {
		s = string([]rune(s)[:MaxFlagValueLength])
	}
	return &s
}

// StringValue is a convenience for optional flag values.
func StringValue(s string) *string {
	return &s
}
