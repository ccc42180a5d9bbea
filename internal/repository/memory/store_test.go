package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rpattn/shopwindow/internal/domain"
	"github.com/rpattn/shopwindow/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBatch(t *testing.T, store *Store) domain.Batch {
	t.Helper()
	batch, err := domain.NewBatch(domain.ImportTypeCSV, nil, nil, nil, time.Now())
	require.NoError(t, err)
	created, err := store.Batches().Create(context.Background(), batch)
	require.NoError(t, err)
	return created
}

func TestDeleteBatchCascadesFlags(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	batch := newBatch(t, store)
	other := newBatch(t, store)

	for i := 0; i < 3; i++ {
		flag, err := domain.NewQualityFlag(domain.FlagSpec{
			BatchID:  batch.ID,
			Target:   domain.ImportRecordRef{Row: int64(i + 2)},
			FlagType: domain.FlagTypeMissing,
			Message:  "missing name",
		}, time.Now())
		require.NoError(t, err)
		_, err = store.Flags().Create(ctx, flag)
		require.NoError(t, err)
	}
	kept, err := domain.NewQualityFlag(domain.FlagSpec{
		BatchID:  other.ID,
		Target:   domain.ShoppingCenterRef{ID: 1},
		FlagType: domain.FlagTypeGeocoding,
		Message:  "no match",
	}, time.Now())
	require.NoError(t, err)
	_, err = store.Flags().Create(ctx, kept)
	require.NoError(t, err)

	require.NoError(t, store.Batches().Delete(ctx, batch.ID))

	count, err := store.Flags().Count(ctx, repository.FlagFilter{BatchID: &batch.ID})
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = store.Flags().Count(ctx, repository.FlagFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	_, err = store.Batches().GetByID(ctx, batch.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCompareAndSetStatus(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	batch := newBatch(t, store)

	started, err := batch.Start(time.Now())
	require.NoError(t, err)

	ok, err := store.Batches().CompareAndSetStatus(ctx, started, domain.BatchStatusPending)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Batches().CompareAndSetStatus(ctx, started, domain.BatchStatusPending)
	require.NoError(t, err)
	assert.False(t, ok, "second swap from PENDING must lose")

	stored, err := store.Batches().GetByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusProcessing, stored.Status)
	assert.NotNil(t, stored.StartedAt)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(tx repository.Store) error {
		_, err := tx.Centers().Create(ctx, domain.ShoppingCenter{Name: "Rollback Plaza"})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	count, err := store.Centers().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	err = store.WithTx(ctx, func(tx repository.Store) error {
		_, err := tx.Centers().Create(ctx, domain.ShoppingCenter{Name: "Kept Plaza"})
		return err
	})
	require.NoError(t, err)

	_, err = store.Centers().GetByName(ctx, "kept plaza")
	assert.NoError(t, err)
}

func TestCenterNamesAreUniqueIgnoringCase(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	_, err := store.Centers().Create(ctx, domain.ShoppingCenter{Name: "Oak Commons"})
	require.NoError(t, err)

	_, err = store.Centers().Create(ctx, domain.ShoppingCenter{Name: "OAK COMMONS"})
	assert.ErrorIs(t, err, domain.ErrDuplicateName)
}

func TestDeleteCenterCascadesTenants(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	center, err := store.Centers().Create(ctx, domain.ShoppingCenter{Name: "Elm Square"})
	require.NoError(t, err)
	_, err = store.Tenants().Create(ctx, domain.Tenant{ShoppingCenterID: center.ID, Name: "Books", SuiteNumber: "A1"})
	require.NoError(t, err)

	require.NoError(t, store.Centers().Delete(ctx, center.ID))

	tenants, err := store.Tenants().ListByCenter(ctx, center.ID)
	require.NoError(t, err)
	assert.Empty(t, tenants)
}

func TestClaimRecordKeyOnce(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	batch := newBatch(t, store)

	ok, err := store.Batches().ClaimRecordKey(ctx, batch.ID, "row:2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Batches().ClaimRecordKey(ctx, batch.ID, "row:2")
	require.NoError(t, err)
	assert.False(t, ok)
}
