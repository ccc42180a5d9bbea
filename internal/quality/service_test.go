package quality

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rpattn/shopwindow/internal/domain"
	"github.com/rpattn/shopwindow/internal/repository/memory"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Service, *memory.Store, domain.Batch) {
	t.Helper()
	store := memory.NewStore()
	batch, err := domain.NewBatch(domain.ImportTypeCSV, nil, nil, nil, time.Now())
	require.NoError(t, err)
	batch, err = store.Batches().Create(context.Background(), batch)
	require.NoError(t, err)
	return NewService(store, nil, nil, 3), store, batch
}

func TestRaiseRejectsOutOfRangeSeverity(t *testing.T) {
	svc, _, batch := setup(t)

	_, err := svc.Raise(context.Background(), domain.FlagSpec{
		BatchID:  batch.ID,
		Target:   domain.ShoppingCenterRef{ID: 1},
		FlagType: domain.FlagTypeSuspicious,
		Severity: 6,
		Message:  "GLA looks wrong",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidSeverity)

	flags, err := svc.ForBatch(context.Background(), batch.ID, "")
	require.NoError(t, err)
	assert.Empty(t, flags)
}

func TestRaiseDefaultsAndTruncates(t *testing.T) {
	svc, _, batch := setup(t)
	long := strings.Repeat("x", 600)

	flag, err := svc.Raise(context.Background(), domain.FlagSpec{
		BatchID:      batch.ID,
		Target:       domain.TenantRef{ID: 7},
		FlagType:     domain.FlagTypeInvalid,
		Message:      "rent is not a number",
		FieldName:    "base_rent",
		CurrentValue: &long,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSeverity, flag.Severity)
	assert.False(t, flag.IsResolved())
	require.NotNil(t, flag.CurrentValue)
	assert.Len(t, *flag.CurrentValue, domain.MaxFlagValueLength)
}

func TestRaiseRequiresExistingBatch(t *testing.T) {
	svc, _, _ := setup(t)
	_, err := svc.Raise(context.Background(), domain.FlagSpec{
		BatchID:  uuid.New(),
		Target:   domain.ImportRecordRef{Row: 3},
		FlagType: domain.FlagTypeMissing,
		Message:  "no name",
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResolveTwiceKeepsFirstResolution(t *testing.T) {
	ctx := context.Background()
	svc, _, batch := setup(t)
	flag, err := svc.Raise(ctx, domain.FlagSpec{
		BatchID:  batch.ID,
		Target:   domain.ShoppingCenterRef{ID: 1},
		FlagType: domain.FlagTypeGeocoding,
		Message:  "address did not geocode",
	})
	require.NoError(t, err)

	first, err := svc.Resolve(ctx, flag.ID, "ana", "entered coordinates by hand")
	require.NoError(t, err)
	require.NotNil(t, first.Resolution)

	_, err = svc.Resolve(ctx, flag.ID, "ben", "again")
	require.ErrorIs(t, err, domain.ErrAlreadyResolved)

	stored, err := svc.Get(ctx, flag.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Resolution)
	assert.Equal(t, "ana", stored.Resolution.ResolvedBy)
	assert.Equal(t, "entered coordinates by hand", stored.Resolution.Notes)
	assert.True(t, first.Resolution.ResolvedAt.Equal(stored.Resolution.ResolvedAt))
}

func TestResolveRequiresActor(t *testing.T) {
	ctx := context.Background()
	svc, _, batch := setup(t)
	flag, err := svc.Raise(ctx, domain.FlagSpec{
		BatchID:  batch.ID,
		Target:   domain.ShoppingCenterRef{ID: 1},
		FlagType: domain.FlagTypeIncomplete,
		Message:  "no owner",
	})
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, flag.ID, " ", "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRaiseAllCollectsFailures(t *testing.T) {
	ctx := context.Background()
	svc, _, batch := setup(t)

	specs := []domain.FlagSpec{
		{BatchID: batch.ID, Target: domain.ImportRecordRef{Row: 2}, FlagType: domain.FlagTypeMissing, Message: "a"},
		{BatchID: batch.ID, Target: domain.ImportRecordRef{Row: 3}, FlagType: domain.FlagTypeMissing, Message: "b", Severity: 9},
		{BatchID: batch.ID, Target: domain.ImportRecordRef{Row: 4}, FlagType: domain.FlagTypeDuplicate, Message: "c"},
		{BatchID: batch.ID, Target: domain.ImportRecordRef{Row: 5}, FlagType: "TYPO", Message: "d"},
		{BatchID: batch.ID, Target: domain.ImportRecordRef{Row: 6}, FlagType: domain.FlagTypeInvalid, Message: "e"},
	}
	created, err := svc.RaiseAll(ctx, specs)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidSeverity)
	assert.ErrorIs(t, err, domain.ErrValidation)

	require.Len(t, created, 3)
	assert.Equal(t, "a", created[0].Message)
	assert.Equal(t, "c", created[1].Message)
	assert.Equal(t, "e", created[2].Message)

	stored, err := svc.ForBatch(ctx, batch.ID, "")
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	svc, _, batch := setup(t)

	raise := func(target domain.Target, flagType domain.FlagType, severity domain.Severity) domain.QualityFlag {
		f, err := svc.Raise(ctx, domain.FlagSpec{BatchID: batch.ID, Target: target, FlagType: flagType, Severity: severity, Message: "m"})
		require.NoError(t, err)
		return f
	}
	center := domain.ShoppingCenterRef{ID: 10}
	raise(center, domain.FlagTypeMissing, domain.SeverityLow)
	blocker := raise(center, domain.FlagTypeBusinessRule, domain.SeverityBlocker)
	raise(domain.TenantRef{ID: 10}, domain.FlagTypeMissing, domain.SeverityCritical)
	raise(domain.ImportRecordRef{Row: 2}, domain.FlagTypeInvalid, domain.SeverityHigh)

	_, err := svc.Resolve(ctx, blocker.ID, "ops", "")
	require.NoError(t, err)

	forCenter, err := svc.ForTarget(ctx, center)
	require.NoError(t, err)
	assert.Len(t, forCenter, 2, "tenant 10 is a different target")
	assert.Equal(t, domain.SeverityBlocker, forCenter[0].Severity, "most severe first")

	unresolved, err := svc.Unresolved(ctx)
	require.NoError(t, err)
	assert.Len(t, unresolved, 3)

	high, err := svc.HighSeverity(ctx)
	require.NoError(t, err)
	require.Len(t, high, 1)
	assert.Equal(t, domain.SeverityCritical, high[0].Severity)

	atLeastHigh, err := svc.AtOrAboveSeverity(ctx, domain.SeverityHigh, false)
	require.NoError(t, err)
	assert.Len(t, atLeastHigh, 3)

	missing, err := svc.ByType(ctx, domain.FlagTypeMissing)
	require.NoError(t, err)
	assert.Len(t, missing, 2)

	_, err = svc.AtOrAboveSeverity(ctx, 0, true)
	assert.ErrorIs(t, err, domain.ErrInvalidSeverity)
}
