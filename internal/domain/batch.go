package domain

import (
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ImportType identifies the pathway a batch was ingested through.
type ImportType string

const (
	ImportTypeCSV    ImportType = "CSV"
	ImportTypeExcel  ImportType = "EXCEL"
	ImportTypePDF    ImportType = "PDF"
	ImportTypeManual ImportType = "MANUAL"
	ImportTypeAPI    ImportType = "API"
	ImportTypeBulk   ImportType = "BULK"
)

// ImportTypes lists every supported import type.
var ImportTypes = []ImportType{
	ImportTypeCSV,
	ImportTypeExcel,
	ImportTypePDF,
	ImportTypeManual,
	ImportTypeAPI,
	ImportTypeBulk,
}

// Valid reports whether t is a known import type.
func (t ImportType) Valid() bool {
	for _, known := range ImportTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseImportType parses a case-insensitive import type name.
func ParseImportType(raw string) (ImportType, error) {
	t := ImportType(strings.ToUpper(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", NewValidationError("import_type", fmt.Sprintf("unknown import type %q", raw))
	}
	return t, nil
}

// BatchStatus is the lifecycle status of a batch.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "PENDING"
	BatchStatusProcessing BatchStatus = "PROCESSING"
	BatchStatusReview     BatchStatus = "REVIEW"
	BatchStatusApproved   BatchStatus = "APPROVED"
	BatchStatusCompleted  BatchStatus = "COMPLETED"
	BatchStatusFailed     BatchStatus = "FAILED"
	BatchStatusCancelled  BatchStatus = "CANCELLED"
	BatchStatusPartial    BatchStatus = "PARTIAL"
)

// Terminal reports whether no further lifecycle transition is allowed.
func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusCancelled, BatchStatusPartial:
		return true
	}
	return false
}

// FileMetadata describes the uploaded file a batch was created from. The bytes
// themselves live in external storage.
type FileMetadata struct {
	Name     string `json:"name"`
	Path     string `json:"path,omitempty"`
	Size     int64  `json:"size"`
	Hash     string `json:"hash,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// Validate checks the hash format and size.
func (m FileMetadata) Validate() error {
	if m.Size < 0 {
		return NewValidationError("file_size", "cannot be negative")
	}
	if m.Hash != "" {
		if len(m.Hash) != 64 || strings.ToLower(m.Hash) != m.Hash {
			return NewValidationError("file_hash", "must be a lowercase hex sha256 digest")
		}
		if _, err := hex.DecodeString(m.Hash); err != nil {
			return NewValidationError("file_hash", "must be a lowercase hex sha256 digest")
		}
	}
	return nil
}

// BatchCounters are the processing metrics of a batch. Every counter only grows.
type BatchCounters struct {
	Total               int `json:"total_records"`
	Successful          int `json:"successful_records"`
	Failed              int `json:"failed_records"`
	Skipped             int `json:"skipped_records"`
	FieldsExtracted     int `json:"fields_extracted"`
	FieldsDetermined    int `json:"fields_determined"`
	FieldsPendingManual int `json:"fields_pending_manual"`
	CentersCreated      int `json:"shopping_centers_created"`
	CentersUpdated      int `json:"shopping_centers_updated"`
	TenantsCreated      int `json:"tenants_created"`
	TenantsUpdated      int `json:"tenants_updated"`
}

func (c BatchCounters) values() []int {
	return []int{
		c.Total, c.Successful, c.Failed, c.Skipped,
		c.FieldsExtracted, c.FieldsDetermined, c.FieldsPendingManual,
		c.CentersCreated, c.CentersUpdated, c.TenantsCreated, c.TenantsUpdated,
	}
}

// Validate rejects negative counters.
func (c BatchCounters) Validate() error {
	for _, v := range c.values() {
		if v < 0 {
			return ErrInvalidDelta
		}
	}
	return nil
}

// IsZero reports whether every counter is zero.
func (c BatchCounters) IsZero() bool {
	return c == BatchCounters{}
}

// Processed is successful + failed + skipped.
func (c BatchCounters) Processed() int {
	return c.Successful + c.Failed + c.Skipped
}

// Consistent reports whether processed records stay within the total.
func (c BatchCounters) Consistent() bool {
	return c.Processed() <= c.Total
}

// Add returns the element-wise sum of c and d.
func (c BatchCounters) Add(d BatchCounters) BatchCounters {
	return BatchCounters{
		Total:               c.Total + d.Total,
		Successful:          c.Successful + d.Successful,
		Failed:              c.Failed + d.Failed,
		Skipped:             c.Skipped + d.Skipped,
		FieldsExtracted:     c.FieldsExtracted + d.FieldsExtracted,
		FieldsDetermined:    c.FieldsDetermined + d.FieldsDetermined,
		FieldsPendingManual: c.FieldsPendingManual + d.FieldsPendingManual,
		CentersCreated:      c.CentersCreated + d.CentersCreated,
		CentersUpdated:      c.CentersUpdated + d.CentersUpdated,
		TenantsCreated:      c.TenantsCreated + d.TenantsCreated,
		TenantsUpdated:      c.TenantsUpdated + d.TenantsUpdated,
	}
}

// OutcomeDelta is a counter increment for one or more processed records.
// RecordKey, when set, makes the increment idempotent per batch.
type OutcomeDelta struct {
	BatchCounters
	RecordKey string
}

// ErrorEntry is one structured entry of a batch error log.
type ErrorEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details"`
}

// NewErrorEntry builds an error log entry stamped with now.
func NewErrorEntry(errorType, message string, details map[string]any, now time.Time) ErrorEntry {
	if details == nil {
		details = map[string]any{}
	}
	return ErrorEntry{
		Timestamp: now.UTC(),
		Type:      errorType,
		Message:   message,
		Details:   details,
	}
}

// Batch tracks one import run from submission to its terminal status.
type Batch struct {
	ID              uuid.UUID      `json:"id"`
	ImportType      ImportType     `json:"import_type"`
	Status          BatchStatus    `json:"status"`
	File            *FileMetadata  `json:"file,omitempty"`
	Counters        BatchCounters  `json:"counters"`
	CreatedAt       time.Time      `json:"created_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
	CreatedBy       *string        `json:"created_by,omitempty"`
	ReviewedBy      *string        `json:"reviewed_by,omitempty"`
	ImportConfig    map[string]any `json:"import_config"`
	ErrorLog        []ErrorEntry   `json:"error_log"`
	ProcessingNotes string         `json:"processing_notes"`
}

// NewBatch creates a PENDING batch with zeroed counters.
func NewBatch(importType ImportType, file *FileMetadata, config map[string]any, createdBy *string, now time.Time) (Batch, error) {
	if !importType.Valid() {
		return Batch{}, NewValidationError("import_type", fmt.Sprintf("unknown import type %q", importType))
	}
	if file != nil {
		if err := file.Validate(); err != nil {
			return Batch{}, err
		}
		copied := *file
		file = &copied
	}
	if config == nil {
		config = map[string]any{}
	}
	now = now.UTC()
	return Batch{
		ID:           uuid.New(),
		ImportType:   importType,
		Status:       BatchStatusPending,
		File:         file,
		CreatedAt:    now,
		UpdatedAt:    now,
		CreatedBy:    createdBy,
		ImportConfig: config,
		ErrorLog:     []ErrorEntry{},
	}, nil
}

// Start moves a PENDING (or reviewed and APPROVED) batch to PROCESSING.
func (b Batch) Start(now time.Time) (Batch, error) {
	if b.Status != BatchStatusPending && b.Status != BatchStatusApproved {
		return b, invalidTransition("start", b.Status)
	}
	started := now.UTC()
	b.Status = BatchStatusProcessing
	b.StartedAt = &started
	b.UpdatedAt = started
	return b, nil
}

// Complete finishes a PROCESSING batch. A successful run with failed records
// ends PARTIAL.
func (b Batch) Complete(success bool, now time.Time) (Batch, error) {
	if b.Status.Terminal() {
		return b, alreadyTerminal("complete", b.Status)
	}
	if b.Status != BatchStatusProcessing {
		return b, invalidTransition("complete", b.Status)
	}
	completed := now.UTC()
	if b.StartedAt != nil && completed.Before(*b.StartedAt) {
		completed = *b.StartedAt
	}
	switch {
	case !success:
		b.Status = BatchStatusFailed
	case b.Counters.Failed > 0:
		b.Status = BatchStatusPartial
	default:
		b.Status = BatchStatusCompleted
	}
	b.CompletedAt = &completed
	b.UpdatedAt = completed
	return b, nil
}

// Cancel records a caller-asserted cancellation. The completion time is only
// stamped when the batch had started.
func (b Batch) Cancel(now time.Time) (Batch, error) {
	if b.Status.Terminal() {
		return b, alreadyTerminal("cancel", b.Status)
	}
	ts := now.UTC()
	b.Status = BatchStatusCancelled
	if b.StartedAt != nil {
		if ts.Before(*b.StartedAt) {
			ts = *b.StartedAt
		}
		b.CompletedAt = &ts
	}
	b.UpdatedAt = ts
	return b, nil
}

// MarkReview holds a PENDING batch for human review.
func (b Batch) MarkReview(now time.Time) (Batch, error) {
	if b.Status.Terminal() {
		return b, alreadyTerminal("review", b.Status)
	}
	if b.Status != BatchStatusPending {
		return b, invalidTransition("review", b.Status)
	}
	b.Status = BatchStatusReview
	b.UpdatedAt = now.UTC()
	return b, nil
}

// Approve releases a reviewed batch for processing.
func (b Batch) Approve(reviewer string, now time.Time) (Batch, error) {
	if b.Status.Terminal() {
		return b, alreadyTerminal("approve", b.Status)
	}
	if b.Status != BatchStatusReview {
		return b, invalidTransition("approve", b.Status)
	}
	if strings.TrimSpace(reviewer) == "" {
		return b, NewValidationError("reviewed_by", "is required")
	}
	b.Status = BatchStatusApproved
	b.ReviewedBy = &reviewer
	b.UpdatedAt = now.UTC()
	return b, nil
}

// ApplyOutcome adds delta to the counters.
func (b Batch) ApplyOutcome(delta BatchCounters, now time.Time) (Batch, error) {
	if err := delta.Validate(); err != nil {
		return b, err
	}
	if b.Status.Terminal() {
		return b, alreadyTerminal("record outcome for", b.Status)
	}
	next := b.Counters.Add(delta)
	if !next.Consistent() {
		return b, fmt.Errorf("%w: %d processed of %d total", ErrCounterInvariant, next.Processed(), next.Total)
	}
	b.Counters = next
	b.UpdatedAt = now.UTC()
	return b, nil
}

// WithError returns the batch with entry appended to its error log.
func (b Batch) WithError(entry ErrorEntry) Batch {
	log := make([]ErrorEntry, 0, len(b.ErrorLog)+1)
	log = append(log, b.ErrorLog...)
	b.ErrorLog = append(log, entry)
	return b
}

// WithNote returns the batch with note appended as a new line of processing notes.
func (b Batch) WithNote(note string) Batch {
	note = strings.TrimSpace(note)
	if note == "" {
		return b
	}
	if b.ProcessingNotes == "" {
		b.ProcessingNotes = note
	} else {
		b.ProcessingNotes += "\n" + note
	}
	return b
}

// SuccessRate is successful/total as a percentage rounded to two decimals.
func (b Batch) SuccessRate() float64 {
	return Percentage(int64(b.Counters.Successful), int64(b.Counters.Total))
}

// Duration is the processing time, nil until both timestamps exist.
func (b Batch) Duration() *time.Duration {
	if b.StartedAt == nil || b.CompletedAt == nil {
		return nil
	}
	d := b.CompletedAt.Sub(*b.StartedAt)
	return &d
}

// FileSizeMB is the file size in megabytes rounded to two decimals.
func (b Batch) FileSizeMB() *float64 {
	if b.File == nil || b.File.Size <= 0 {
		return nil
	}
	mb := Round2(float64(b.File.Size) / (1024 * 1024))
	return &mb
}

// BatchSummary is the dashboard view of a batch.
type BatchSummary struct {
	TotalRecords            int      `json:"total_records"`
	SuccessRate             float64  `json:"success_rate"`
	ProcessingSeconds       *float64 `json:"processing_duration"`
	FileSizeMB              *float64 `json:"file_size_mb"`
	ShoppingCentersAffected int      `json:"shopping_centers_affected"`
	TenantsAffected         int      `json:"tenants_affected"`
	FieldsExtracted         int      `json:"extracted"`
	FieldsDetermined        int      `json:"determined"`
	FieldsPendingManual     int      `json:"pending_manual"`
}

// Summary builds the dashboard summary.
func (b Batch) Summary() BatchSummary {
	summary := BatchSummary{
		TotalRecords:            b.Counters.Total,
		SuccessRate:             b.SuccessRate(),
		FileSizeMB:              b.FileSizeMB(),
		ShoppingCentersAffected: b.Counters.CentersCreated + b.Counters.CentersUpdated,
		TenantsAffected:         b.Counters.TenantsCreated + b.Counters.TenantsUpdated,
		FieldsExtracted:         b.Counters.FieldsExtracted,
		FieldsDetermined:        b.Counters.FieldsDetermined,
		FieldsPendingManual:     b.Counters.FieldsPendingManual,
	}
	if d := b.Duration(); d != nil {
		seconds := d.Seconds()
		summary.ProcessingSeconds = &seconds
	}
	return summary
}

// String mirrors the admin listing label, e.g. "CSV - centers.csv (PENDING)".
func (b Batch) String() string {
	name := "Manual"
	if b.File != nil && b.File.Name != "" {
		name = b.File.Name
	}
	return fmt.Sprintf("%s - %s (%s)", b.ImportType, name, b.Status)
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Percentage returns part/whole*100 rounded to two decimals, 0 when whole is 0.
func Percentage(part, whole int64) float64 {
	if whole <= 0 {
		return 0
	}
	return Round2(float64(part) / float64(whole) * 100)
}
