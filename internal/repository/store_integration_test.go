package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rpattn/shopwindow/internal/db"
	"github.com/rpattn/shopwindow/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	url := os.Getenv("SHOPWINDOW_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("SHOPWINDOW_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, db.RunMigrations(pool, nil))
	_, err = pool.Exec(ctx, `TRUNCATE audit_log, tenants, shopping_centers, data_quality_flags,
		import_batch_outcome_keys, import_mapping_configs, import_batches CASCADE`)
	require.NoError(t, err)
	return NewStore(pool)
}

func createBatch(t *testing.T, store Store) domain.Batch {
	t.Helper()
	batch, err := domain.NewBatch(domain.ImportTypeCSV, &domain.FileMetadata{
		Name: "centers.csv",
		Size: 2048,
		Hash: "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
	}, map[string]any{"mapping": "default"}, nil, time.Now())
	require.NoError(t, err)
	created, err := store.Batches().Create(context.Background(), batch)
	require.NoError(t, err)
	return created
}

func TestBatchStatusSwapIsExclusive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	batch := createBatch(t, store)

	started, err := batch.Start(time.Now())
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.Batches().CompareAndSetStatus(ctx, started, domain.BatchStatusPending)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestAddCountersGuardsInvariant(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	batch := createBatch(t, store)

	updated, err := store.Batches().AddCounters(ctx, batch.ID, domain.BatchCounters{Total: 10, Successful: 8, Failed: 2})
	require.NoError(t, err)
	assert.Equal(t, 10, updated.Counters.Total)

	_, err = store.Batches().AddCounters(ctx, batch.ID, domain.BatchCounters{Successful: 1})
	assert.ErrorIs(t, err, domain.ErrCounterInvariant)

	stored, err := store.Batches().GetByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, stored.Counters.Successful)
	assert.Equal(t, "centers.csv", stored.File.Name)
	assert.Equal(t, "default", stored.ImportConfig["mapping"])
}

func TestDeleteBatchCascadesFlags(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	batch := createBatch(t, store)

	flag, err := domain.NewQualityFlag(domain.FlagSpec{
		BatchID:      batch.ID,
		Target:       domain.ImportRecordRef{Row: 4},
		FlagType:     domain.FlagTypeInvalid,
		Message:      "unparsable GLA",
		CurrentValue: domain.StringValue("lots"),
	}, time.Now())
	require.NoError(t, err)
	_, err = store.Flags().Create(ctx, flag)
	require.NoError(t, err)

	require.NoError(t, store.Batches().Delete(ctx, batch.ID))

	_, err = store.Flags().GetByID(ctx, flag.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResolveFlagOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	batch := createBatch(t, store)

	flag, err := domain.NewQualityFlag(domain.FlagSpec{
		BatchID:  batch.ID,
		Target:   domain.ShoppingCenterRef{ID: 99},
		FlagType: domain.FlagTypeGeocoding,
		Message:  "no match",
	}, time.Now())
	require.NoError(t, err)
	_, err = store.Flags().Create(ctx, flag)
	require.NoError(t, err)

	first := domain.Resolution{ResolvedBy: "ana", ResolvedAt: time.Now().UTC(), Notes: "fixed"}
	ok, err := store.Flags().Resolve(ctx, flag.ID, first)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Flags().Resolve(ctx, flag.ID, domain.Resolution{ResolvedBy: "ben", ResolvedAt: time.Now().UTC()})
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := store.Flags().GetByID(ctx, flag.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Resolution)
	assert.Equal(t, "ana", stored.Resolution.ResolvedBy)
}
