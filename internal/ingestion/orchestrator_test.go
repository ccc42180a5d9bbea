package ingestion

import (
	"context"
	"errors"
	"testing"

	"github.com/rpattn/shopwindow/internal/batch"
	"github.com/rpattn/shopwindow/internal/domain"
	"github.com/rpattn/shopwindow/internal/property"
	"github.com/rpattn/shopwindow/internal/quality"
	"github.com/rpattn/shopwindow/internal/repository"
	"github.com/rpattn/shopwindow/internal/repository/memory"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	store        *memory.Store
	batches      *batch.Service
	flags        *quality.Service
	orchestrator *Orchestrator
}

func newHarness(t *testing.T, geocoder property.Geocoder) *harness {
	t.Helper()
	store := memory.NewStore()
	batches := batch.NewService(store, nil, nil)
	flags := quality.NewService(store, nil, nil, 2)
	entities := property.NewService(store, geocoder, nil)
	return &harness{
		store:        store,
		batches:      batches,
		flags:        flags,
		orchestrator: NewOrchestrator(batches, flags, entities, nil),
	}
}

func (h *harness) open(t *testing.T) domain.Batch {
	t.Helper()
	b, err := h.batches.Open(context.Background(), batch.OpenRequest{ImportType: domain.ImportTypeCSV})
	require.NoError(t, err)
	return b
}

func (h *harness) flagsFor(t *testing.T, batchID uuid.UUID, target domain.Target, flagType domain.FlagType) []domain.QualityFlag {
	t.Helper()
	out, err := h.flags.List(context.Background(), repository.FlagFilter{BatchID: &batchID, Target: target, FlagType: flagType})
	require.NoError(t, err)
	return out
}

func rec(row int, values map[string]string) Record {
	return Record{Row: row, Values: values}
}

func TestRunProcessesMixedFile(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	b := h.open(t)

	records := []Record{
		rec(2, map[string]string{"shopping_center_name": "Maple Court", "address_city": "springfield", "total_gla": "50000", "owner": "Acme"}),
		rec(3, map[string]string{"shopping_center_name": "", "address_city": ""}),
		rec(4, map[string]string{"shopping_center_name": "", "address_city": "Nowhere"}),
		rec(5, map[string]string{"shopping_center_name": "maple court", "owner": "Other", "tenant_name": "Deli", "tenant_suite_number": "A1", "square_footage": "1200"}),
		rec(6, map[string]string{"shopping_center_name": "Oak Plaza", "tenant_name": "Kiosk", "square_footage": "0"}),
	}

	finished, err := h.orchestrator.Run(ctx, RunRequest{BatchID: b.ID, Records: records})
	require.NoError(t, err)

	assert.Equal(t, domain.BatchStatusPartial, finished.Status)
	c := finished.Counters
	assert.Equal(t, 5, c.Total)
	assert.Equal(t, 2, c.Successful)
	assert.Equal(t, 2, c.Failed)
	assert.Equal(t, 1, c.Skipped)
	assert.Equal(t, 2, c.CentersCreated)
	assert.Equal(t, 0, c.CentersUpdated)
	assert.Equal(t, 1, c.TenantsCreated)
	assert.Equal(t, 8, c.FieldsExtracted)
	assert.Equal(t, 1, c.FieldsDetermined)
	assert.Equal(t, 26, c.FieldsPendingManual)
	assert.InDelta(t, 40.0, finished.SuccessRate(), 1e-9)

	noName := h.flagsFor(t, b.ID, domain.ImportRecordRef{Row: 4}, domain.FlagTypeMissing)
	require.Len(t, noName, 1)
	assert.Equal(t, domain.SeverityCritical, noName[0].Severity)

	rejected := h.flagsFor(t, b.ID, domain.ImportRecordRef{Row: 6}, domain.FlagTypeBusinessRule)
	require.Len(t, rejected, 1)
	assert.Equal(t, "square_footage", rejected[0].FieldName)

	maple, err := h.store.Centers().GetByName(ctx, "Maple Court")
	require.NoError(t, err)
	assert.Equal(t, "Acme", maple.Owner, "stored value wins")
	assert.Equal(t, domain.CenterTypeNeighborhood, maple.CenterType)
	mapleRef := domain.ShoppingCenterRef{ID: maple.ID}

	require.Len(t, h.flagsFor(t, b.ID, mapleRef, domain.FlagTypeDuplicate), 1)
	conflicts := h.flagsFor(t, b.ID, mapleRef, domain.FlagTypeInconsistent)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "owner", conflicts[0].FieldName)
	assert.Equal(t, "Acme", *conflicts[0].CurrentValue)
	assert.Equal(t, "Other", *conflicts[0].SuggestedValue)

	missing := h.flagsFor(t, b.ID, mapleRef, domain.FlagTypeMissing)
	assert.Len(t, missing, 5, "raised once although the center appears twice")
	for _, f := range missing {
		if f.FieldName == "contact_name" || f.FieldName == "contact_phone" {
			assert.Equal(t, domain.SeverityLow, f.Severity)
		} else {
			assert.Equal(t, domain.SeverityMedium, f.Severity)
		}
	}

	tenants, err := h.store.Tenants().ListByCenter(ctx, maple.ID)
	require.NoError(t, err)
	require.Len(t, tenants, 1)
	assert.Equal(t, "Deli", tenants[0].Name)

	require.Len(t, finished.ErrorLog, 2)
	assert.Equal(t, ErrorTypeValidation, finished.ErrorLog[0].Type)
	assert.Equal(t, ErrorTypeBusinessRule, finished.ErrorLog[1].Type)
}

func TestRunAppliesMapping(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	b := h.open(t)
	mapping := &domain.MappingConfig{
		Name:          "broker",
		ImportType:    domain.ImportTypeCSV,
		ColumnMapping: map[string]string{"Center": "shopping_center_name", "Landlord": "owner"},
		DefaultValues: map[string]any{"address_state": "il"},
	}

	finished, err := h.orchestrator.Run(ctx, RunRequest{
		BatchID: b.ID,
		Mapping: mapping,
		Records: []Record{rec(2, map[string]string{"Center": "Maple Court", "Landlord": "Acme", "Notes": "ignored"})},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCompleted, finished.Status)

	center, err := h.store.Centers().GetByName(ctx, "Maple Court")
	require.NoError(t, err)
	assert.Equal(t, "Acme", center.Owner)
	assert.Equal(t, "IL", center.State)
	require.NotNil(t, center.ImportBatchID)
	assert.Equal(t, b.ID, *center.ImportBatchID)
}

func TestGeocodingFailureBecomesFlag(t *testing.T) {
	ctx := context.Background()
	geocoder := property.GeocoderFunc(func(context.Context, string) (float64, float64, error) {
		return 0, 0, property.ErrNoMatch
	})
	h := newHarness(t, geocoder)
	b := h.open(t)

	finished, err := h.orchestrator.Run(ctx, RunRequest{BatchID: b.ID, Records: []Record{
		rec(2, map[string]string{"shopping_center_name": "Oak Plaza", "address_street": "1 Nowhere Rd"}),
	}})
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCompleted, finished.Status)

	center, err := h.store.Centers().GetByName(ctx, "Oak Plaza")
	require.NoError(t, err)
	flags := h.flagsFor(t, b.ID, domain.ShoppingCenterRef{ID: center.ID}, domain.FlagTypeGeocoding)
	require.Len(t, flags, 1)
	assert.Equal(t, domain.SeverityMedium, flags[0].Severity)
	assert.Equal(t, "1 Nowhere Rd", *flags[0].CurrentValue)
}

func TestProcessRecordIsCountedOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	b := h.open(t)
	_, err := h.batches.MarkStarted(ctx, b.ID)
	require.NoError(t, err)
	_, err = h.batches.RecordOutcome(ctx, b.ID, domain.OutcomeDelta{BatchCounters: domain.BatchCounters{Total: 1}})
	require.NoError(t, err)

	run, err := NewRun(b.ID, nil)
	require.NoError(t, err)
	r := rec(2, map[string]string{"shopping_center_name": "Maple Court"})
	first, err := h.orchestrator.ProcessRecord(ctx, run, r)
	require.NoError(t, err)
	assert.Equal(t, "successful", first.Outcome)
	assert.NotZero(t, first.CenterID)

	_, err = h.orchestrator.ProcessRecord(ctx, run, r)
	require.NoError(t, err)

	stored, err := h.batches.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Counters.Successful)
	assert.Equal(t, 1, stored.Counters.CentersCreated)
}

func TestRunCancelsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	geocoder := property.GeocoderFunc(func(ctx context.Context, _ string) (float64, float64, error) {
		cancel()
		return 0, 0, ctx.Err()
	})
	h := newHarness(t, geocoder)
	b := h.open(t)

	finished, err := h.orchestrator.Run(ctx, RunRequest{BatchID: b.ID, Records: []Record{
		rec(2, map[string]string{"shopping_center_name": "Maple Court", "address_street": "1 Main St"}),
		rec(3, map[string]string{"shopping_center_name": "Oak Plaza"}),
	}})
	require.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, domain.BatchStatusCancelled, finished.Status)
	assert.NotNil(t, finished.CompletedAt)

	_, err = h.store.Centers().GetByName(context.Background(), "Oak Plaza")
	assert.ErrorIs(t, err, domain.ErrNotFound, "processing stopped")
}

func TestRunRejectsBatchThatIsNotPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	b := h.open(t)
	_, err := h.batches.Cancel(ctx, b.ID, "operator")
	require.NoError(t, err)

	_, err = h.orchestrator.Run(ctx, RunRequest{BatchID: b.ID})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	stored, err := h.batches.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCancelled, stored.Status)
}

func TestRunCancelsBatchWithMalformedRules(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	b := h.open(t)
	mapping := &domain.MappingConfig{
		Name:            "broken",
		ImportType:      domain.ImportTypeCSV,
		ValidationRules: map[string]any{"total_gla": map[string]any{"minimum": 5}},
	}

	finished, err := h.orchestrator.Run(ctx, RunRequest{
		BatchID: b.ID,
		Records: []Record{rec(2, map[string]string{"shopping_center_name": "Oak Plaza"})},
		Mapping: mapping,
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, domain.BatchStatusCancelled, finished.Status)
	assert.Nil(t, finished.StartedAt)

	stored, err := h.batches.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCancelled, stored.Status)
	var types []string
	for _, e := range stored.ErrorLog {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{ErrorTypeValidation, batch.ErrorTypeCancelled}, types)

	_, err = h.store.Centers().GetByName(ctx, "Oak Plaza")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
