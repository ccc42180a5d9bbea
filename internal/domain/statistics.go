package domain

import "time"

// HighSeverityThreshold is the minimum severity reported as high.
const HighSeverityThreshold = SeverityCritical

// BatchAggregate is the raw roll-up of batches created since a cutoff.
type BatchAggregate struct {
	TotalBatches      int64
	CompletedBatches  int64 // COMPLETED and PARTIAL
	FailedBatches     int64
	ProcessingBatches int64
	TotalRecords      int64
	SuccessfulRecords int64
}

// ImportStatistics is the dashboard roll-up over a trailing window.
type ImportStatistics struct {
	WindowDays                  int     `json:"window_days"`
	TotalBatches                int64   `json:"total_batches"`
	CompletedBatches            int64   `json:"completed_batches"`
	FailedBatches               int64   `json:"failed_batches"`
	ProcessingBatches           int64   `json:"processing_batches"`
	TotalRecordsProcessed       int64   `json:"total_records_processed"`
	OverallSuccessRate          float64 `json:"success_rate"`
	UnresolvedFlagCount         int64   `json:"unresolved_flags"`
	HighSeverityUnresolvedCount int64   `json:"high_severity_flags"`
}

// NewImportStatistics combines a batch aggregate with flag counts.
func NewImportStatistics(windowDays int, agg BatchAggregate, unresolved, highSeverity int64) ImportStatistics {
	return ImportStatistics{
		WindowDays:                  windowDays,
		TotalBatches:                agg.TotalBatches,
		CompletedBatches:            agg.CompletedBatches,
		FailedBatches:               agg.FailedBatches,
		ProcessingBatches:           agg.ProcessingBatches,
		TotalRecordsProcessed:       agg.TotalRecords,
		OverallSuccessRate:          Percentage(agg.SuccessfulRecords, agg.TotalRecords),
		UnresolvedFlagCount:         unresolved,
		HighSeverityUnresolvedCount: highSeverity,
	}
}

// WindowStart is the start of the calendar day windowDays before now, in UTC.
func WindowStart(now time.Time, windowDays int) time.Time {
	if windowDays < 0 {
		windowDays = 0
	}
	y, m, d := now.UTC().AddDate(0, 0, -windowDays).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
