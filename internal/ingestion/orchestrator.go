// Package ingestion reads tabular source files and drives their records through the
// entity write path, raising quality flags and accumulating batch counters as it goes.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/rpattn/shopwindow/internal/batch"
	"github.com/rpattn/shopwindow/internal/domain"
	"github.com/rpattn/shopwindow/internal/metrics"
	"github.com/rpattn/shopwindow/internal/property"
	"github.com/rpattn/shopwindow/internal/quality"
	"github.com/rpattn/shopwindow/internal/repository"
	"github.com/rpattn/shopwindow/internal/scoring"

	"github.com/google/uuid"
)

// Error log types written by the orchestrator.
const (
	ErrorTypeValidation   = "validation"
	ErrorTypeBusinessRule = "business_rule"
	ErrorTypeStorage      = "storage"
	ErrorTypeFlag         = "flag"
)

const totalRecordKey = "total"

// Orchestrator processes the records of a batch.
type Orchestrator struct {
	batches  *batch.Service
	flags    *quality.Service
	entities *property.Service
	logger   *slog.Logger
	now      func() time.Time
}

func NewOrchestrator(batches *batch.Service, flags *quality.Service, entities *property.Service, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		batches:  batches,
		flags:    flags,
		entities: entities,
		logger:   logger.With(slog.String("component", "ingestion")),
		now:      time.Now,
	}
}

// RunRequest describes one import run over an opened batch.
type RunRequest struct {
	BatchID uuid.UUID
	Records []Record
	Mapping *domain.MappingConfig
}

// Run is the state of one import run. Centers seen on earlier rows of the run are
// reported as duplicates.
type Run struct {
	BatchID uuid.UUID
	Mapping *domain.MappingConfig
	rules   Rules
	seen    map[int64]int
}

// NewRun prepares a run, failing when the mapping's validation rules are malformed.
func NewRun(batchID uuid.UUID, mapping *domain.MappingConfig) (*Run, error) {
	run := &Run{BatchID: batchID, Mapping: mapping, seen: map[int64]int{}}
	if mapping != nil {
		rules, err := ParseRules(mapping.ValidationRules)
		if err != nil {
			return nil, fmt.Errorf("mapping %s: %w", mapping, err)
		}
		run.rules = rules
	}
	return run, nil
}

// RecordResult is what happened to one record.
type RecordResult struct {
	Row      int
	Outcome  string
	CenterID int64
	TenantID int64
	Flags    []domain.QualityFlag
}

// Run starts the batch, processes every record and completes it. When ctx is
// cancelled the batch is cancelled and ctx.Err() returned. A failure to update the
// batch itself fails the batch.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (domain.Batch, error) {
	id := req.BatchID
	run, err := NewRun(id, req.Mapping)
	if err != nil {
		return o.reject(ctx, id, err)
	}
	if _, err := o.batches.MarkStarted(ctx, id); err != nil {
		return domain.Batch{}, err
	}

	if _, err := o.batches.RecordOutcome(ctx, id, domain.OutcomeDelta{
		BatchCounters: domain.BatchCounters{Total: len(req.Records)},
		RecordKey:     totalRecordKey,
	}); err != nil {
		return o.fail(ctx, id, err)
	}

	for _, rec := range req.Records {
		if err := ctx.Err(); err != nil {
			return o.cancel(ctx, id, err)
		}
		if _, err := o.ProcessRecord(ctx, run, rec); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return o.cancel(ctx, id, ctxErr)
			}
			return o.fail(ctx, id, err)
		}
	}

	completed, err := o.batches.MarkCompleted(ctx, id, true)
	if err != nil {
		return domain.Batch{}, err
	}
	o.logger.Info("import finished",
		slog.String("batch_id", id.String()),
		slog.String("status", string(completed.Status)),
		slog.Int("total", completed.Counters.Total),
		slog.Int("successful", completed.Counters.Successful),
		slog.Int("failed", completed.Counters.Failed),
		slog.Int("skipped", completed.Counters.Skipped),
	)
	return completed, nil
}

func (o *Orchestrator) cancel(ctx context.Context, id uuid.UUID, cause error) (domain.Batch, error) {
	cancelled, err := o.batches.Cancel(context.WithoutCancel(ctx), id, "import interrupted: "+cause.Error())
	if err != nil {
		o.logger.Error("failed to cancel batch", slog.String("batch_id", id.String()), slog.String("error", err.Error()))
	}
	return cancelled, cause
}

// reject cancels a batch that cannot be started because its mapping is unusable.
func (o *Orchestrator) reject(ctx context.Context, id uuid.UUID, cause error) (domain.Batch, error) {
	ctx = context.WithoutCancel(ctx)
	o.logger.Warn("import rejected", slog.String("batch_id", id.String()), slog.String("error", cause.Error()))
	_ = o.batches.AppendError(ctx, id, ErrorTypeValidation, cause.Error(), nil)
	cancelled, err := o.batches.Cancel(ctx, id, "mapping rejected")
	if err != nil {
		return cancelled, errors.Join(cause, err)
	}
	return cancelled, cause
}

func (o *Orchestrator) fail(ctx context.Context, id uuid.UUID, cause error) (domain.Batch, error) {
	ctx = context.WithoutCancel(ctx)
	o.logger.Error("import aborted", slog.String("batch_id", id.String()), slog.String("error", cause.Error()))
	_ = o.batches.AppendError(ctx, id, ErrorTypeStorage, cause.Error(), nil)
	failed, err := o.batches.MarkCompleted(ctx, id, false)
	if err != nil {
		return failed, errors.Join(cause, err)
	}
	return failed, cause
}

// recordState accumulates the effects of one record before they are reported.
type recordState struct {
	run      *Run
	rec      Record
	counters domain.BatchCounters
	specs    []domain.FlagSpec
	failed   bool
}

func (s *recordState) flag(target domain.Target, flagType domain.FlagType, severity domain.Severity, field, message string) *domain.FlagSpec {
	s.specs = append(s.specs, domain.FlagSpec{
		BatchID:     s.run.BatchID,
		Target:      target,
		FlagType:    flagType,
		Severity:    severity,
		FieldName:   field,
		Message:     message,
		ContextData: map[string]any{"row_number": s.rec.Row},
	})
	return &s.specs[len(s.specs)-1]
}

func (s *recordState) issues(target domain.Target, issues []fieldIssue) {
	for _, is := range issues {
		value := is.Value
		spec := s.flag(target, is.FlagType, is.Severity, is.Field, is.Message)
		spec.CurrentValue = &value
	}
}

func (s *recordState) recordRef() domain.Target {
	return domain.ImportRecordRef{Row: int64(s.rec.Row)}
}

// ProcessRecord writes one record and reports its outcome to the batch. Problems
// with the data become flags and error log entries; only a failure to update the
// batch is returned.
func (o *Orchestrator) ProcessRecord(ctx context.Context, run *Run, rec Record) (RecordResult, error) {
	result := RecordResult{Row: rec.Row}
	st := &recordState{run: run, rec: rec}
	fields := Apply(run.Mapping, rec)

	switch {
	case rec.Blank() || isEmpty(fields):
		st.counters.Skipped = 1
		result.Outcome = metrics.OutcomeSkipped
	case fields.Get("shopping_center_name") == "":
		st.flag(st.recordRef(), domain.FlagTypeMissing, domain.SeverityCritical, "shopping_center_name",
			fmt.Sprintf("row %d has no shopping center name", rec.Row))
		o.appendError(ctx, run.BatchID, ErrorTypeValidation, fmt.Sprintf("row %d: shopping_center_name is required", rec.Row), rec)
		st.failed = true
	default:
		o.processEntities(ctx, st, fields, &result)
	}

	if result.Outcome == "" {
		if st.failed {
			st.counters.Failed = 1
			result.Outcome = metrics.OutcomeFailed
		} else {
			st.counters.Successful = 1
			result.Outcome = metrics.OutcomeSuccessful
		}
	}

	result.Flags = o.raise(ctx, run.BatchID, st.specs)

	_, err := o.batches.RecordOutcome(ctx, run.BatchID, domain.OutcomeDelta{
		BatchCounters: st.counters,
		RecordKey:     "row:" + strconv.Itoa(rec.Row),
	})
	if errors.Is(err, domain.ErrDuplicateOutcome) {
		o.logger.Warn("record already counted", slog.String("batch_id", run.BatchID.String()), slog.Int("row_number", rec.Row))
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("failed to record outcome of row %d: %w", rec.Row, err)
	}
	return result, nil
}

func isEmpty(fields Fields) bool {
	for k := range fields {
		if fields.Get(k) != "" {
			return false
		}
	}
	return true
}

func (o *Orchestrator) processEntities(ctx context.Context, st *recordState, fields Fields, result *RecordResult) {
	run, rec := st.run, st.rec
	incoming, issues := buildCenter(fields, o.now())
	issues = append(issues, run.rules.Check(fields)...)

	written, err := o.entities.MergeCenter(ctx, incoming, &run.BatchID)
	if err != nil {
		o.rejectRecord(ctx, st, "shopping center", err)
		return
	}
	center := written.Center
	result.CenterID = center.ID
	centerRef := domain.ShoppingCenterRef{ID: center.ID}

	st.issues(centerRef, issues)
	for _, c := range written.Conflicts {
		current, suggested := c.Current, c.Suggested
		spec := st.flag(centerRef, domain.FlagTypeInconsistent, domain.SeverityMedium, c.Field,
			fmt.Sprintf("row %d disagrees with the stored %s", rec.Row, c.Field))
		spec.CurrentValue, spec.SuggestedValue = &current, &suggested
	}
	if first, ok := run.seen[center.ID]; ok {
		st.flag(centerRef, domain.FlagTypeDuplicate, domain.SeverityLow, "shopping_center_name",
			fmt.Sprintf("row %d repeats %q from row %d", rec.Row, center.Name, first))
	} else {
		run.seen[center.ID] = rec.Row
	}
	if issue := written.GeocodeIssue; issue != nil {
		address := issue.Address
		spec := st.flag(centerRef, domain.FlagTypeGeocoding, domain.SeverityMedium, "address", issue.Message())
		spec.CurrentValue = &address
	}

	switch {
	case written.Created:
		st.counters.CentersCreated = 1
	case len(written.Filled) > 0:
		st.counters.CentersUpdated = 1
	}
	st.enrichment(written.Previous, center, incoming)

	if hasTenant(fields) {
		o.processTenant(ctx, st, fields, center.ID, result)
	}

	o.flagMissing(ctx, st, center)
}

func (o *Orchestrator) processTenant(ctx context.Context, st *recordState, fields Fields, centerID int64, result *RecordResult) {
	incoming, issues := buildTenant(fields, centerID)
	written, err := o.entities.MergeTenant(ctx, incoming, &st.run.BatchID)
	if err != nil {
		st.issues(st.recordRef(), issues)
		o.rejectRecord(ctx, st, "tenant", err)
		return
	}
	result.TenantID = written.Tenant.ID
	tenantRef := domain.TenantRef{ID: written.Tenant.ID}

	st.issues(tenantRef, issues)
	for _, c := range written.Conflicts {
		current, suggested := c.Current, c.Suggested
		spec := st.flag(tenantRef, domain.FlagTypeInconsistent, domain.SeverityMedium, c.Field,
			fmt.Sprintf("row %d disagrees with the stored %s", st.rec.Row, c.Field))
		spec.CurrentValue, spec.SuggestedValue = &current, &suggested
	}

	switch {
	case written.Created:
		st.counters.TenantsCreated = 1
	case len(written.Filled) > 0:
		st.counters.TenantsUpdated = 1
	}
	st.enrichment(written.Previous, written.Tenant, incoming)
}

// rejectRecord fails the record after the write path refused it.
func (o *Orchestrator) rejectRecord(ctx context.Context, st *recordState, what string, err error) {
	st.failed = true
	errorType := ErrorTypeStorage
	if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrDuplicateName) || errors.Is(err, domain.ErrNotFound) {
		errorType = ErrorTypeBusinessRule
		var field string
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			field = verr.Field
		}
		st.flag(st.recordRef(), domain.FlagTypeBusinessRule, domain.SeverityHigh, field,
			fmt.Sprintf("row %d: %s rejected: %v", st.rec.Row, what, err))
	}
	o.logger.Warn("record rejected",
		slog.String("batch_id", st.run.BatchID.String()),
		slog.Int("row_number", st.rec.Row),
		slog.String("entity", what),
		slog.String("error", err.Error()),
	)
	o.appendError(ctx, st.run.BatchID, errorType, fmt.Sprintf("row %d: %s: %v", st.rec.Row, what, err), st.rec)
}

// enrichment counts the fields this record wrote from source data, the derived
// fields it caused and the curated fields still empty afterwards.
func (s *recordState) enrichment(previous any, after, incoming scoring.Scorable) {
	var before map[scoring.Tier][]string
	switch p := previous.(type) {
	case *domain.ShoppingCenter:
		if p != nil {
			before = presentByTier(*p)
		}
	case *domain.Tenant:
		if p != nil {
			before = presentByTier(*p)
		}
	}
	supplied := presentByTier(incoming)
	now := scoring.Breakdown(after)

	for _, tier := range scoring.Tiers {
		for _, field := range now.Tiers[tier].Present {
			if slices.Contains(before[tier], field) {
				continue
			}
			if slices.Contains(supplied[tier], field) {
				s.counters.FieldsExtracted++
			} else {
				s.counters.FieldsDetermined++
			}
		}
	}
	s.counters.FieldsPendingManual += len(now.Tiers[scoring.TierDefine].Missing)
}

func presentByTier(e scoring.Scorable) map[scoring.Tier][]string {
	b := scoring.Breakdown(e)
	out := make(map[scoring.Tier][]string, len(b.Tiers))
	for tier, r := range b.Tiers {
		out[tier] = r.Present
	}
	return out
}

// flagMissing raises MISSING flags for EXTRACT fields the stored center still lacks,
// skipping fields that already carry an unresolved MISSING flag.
func (o *Orchestrator) flagMissing(ctx context.Context, st *recordState, center domain.ShoppingCenter) {
	missing := scoring.Breakdown(center).Tiers[scoring.TierExtract].Missing
	if len(missing) == 0 {
		return
	}
	target := domain.ShoppingCenterRef{ID: center.ID}
	unresolved := false
	open, err := o.flags.List(ctx, repository.FlagFilter{Target: target, FlagType: domain.FlagTypeMissing, Resolved: &unresolved})
	if err != nil {
		o.logger.Warn("failed to load open flags", slog.Int64("center_id", center.ID), slog.String("error", err.Error()))
	}
	flagged := make(map[string]bool, len(open))
	for _, f := range open {
		flagged[f.FieldName] = true
	}
	for _, spec := range st.specs {
		if spec.FlagType == domain.FlagTypeMissing && spec.Target == domain.Target(target) {
			flagged[spec.FieldName] = true
		}
	}

	for _, field := range missing {
		if flagged[field] {
			continue
		}
		severity := domain.SeverityMedium
		if field == "contact_name" || field == "contact_phone" {
			severity = domain.SeverityLow
		}
		st.flag(target, domain.FlagTypeMissing, severity, field, fmt.Sprintf("%s has no %s", center.Name, field))
	}
}

// raise writes the flags of a record. Failures are logged and added to the batch
// error log; they never fail the record.
func (o *Orchestrator) raise(ctx context.Context, batchID uuid.UUID, specs []domain.FlagSpec) []domain.QualityFlag {
	if len(specs) == 0 {
		return nil
	}
	created, err := o.flags.RaiseAll(ctx, specs)
	if err != nil {
		o.logger.Warn("failed to raise flags",
			slog.String("batch_id", batchID.String()),
			slog.Int("requested", len(specs)),
			slog.Int("raised", len(created)),
			slog.String("error", err.Error()),
		)
		_ = o.batches.AppendError(ctx, batchID, ErrorTypeFlag, err.Error(), map[string]any{
			"requested": len(specs),
			"raised":    len(created),
		})
	}
	return created
}

func (o *Orchestrator) appendError(ctx context.Context, batchID uuid.UUID, errorType, message string, rec Record) {
	details := map[string]any{"row_number": rec.Row}
	if err := o.batches.AppendError(ctx, batchID, errorType, message, details); err != nil {
		o.logger.Error("failed to append batch error", slog.String("batch_id", batchID.String()), slog.String("error", err.Error()))
	}
}
