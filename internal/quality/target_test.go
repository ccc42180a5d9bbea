package quality

import (
	"context"
	"testing"

	"github.com/rpattn/shopwindow/internal/domain"
	"github.com/rpattn/shopwindow/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedEntities(t *testing.T) (*memory.Store, domain.ShoppingCenter, domain.Tenant) {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	center, err := store.Centers().Create(ctx, domain.ShoppingCenter{Name: "Maple Court"})
	require.NoError(t, err)
	tenant, err := store.Tenants().Create(ctx, domain.Tenant{ShoppingCenterID: center.ID, Name: "Deli"})
	require.NoError(t, err)
	return store, center, tenant
}

func TestResolverPerVariant(t *testing.T) {
	ctx := context.Background()
	store, center, tenant := seedEntities(t)
	r := NewTargetResolver(store)

	got, err := r.Resolve(ctx, domain.ShoppingCenterRef{ID: center.ID})
	require.NoError(t, err)
	require.IsType(t, &domain.ShoppingCenter{}, got)
	assert.Equal(t, "Maple Court", got.(*domain.ShoppingCenter).Name)

	got, err = r.Resolve(ctx, domain.TenantRef{ID: tenant.ID})
	require.NoError(t, err)
	require.IsType(t, &domain.Tenant{}, got)

	got, err = r.Resolve(ctx, domain.ImportRecordRef{Row: 5})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestResolverDeletedTargetIsNil(t *testing.T) {
	ctx := context.Background()
	store, center, _ := seedEntities(t)
	require.NoError(t, store.Centers().Delete(ctx, center.ID))

	got, err := NewTargetResolver(store).Resolve(ctx, domain.ShoppingCenterRef{ID: center.ID})
	require.NoError(t, err)
	assert.Nil(t, got)

	tenant, err := NewTargetResolver(store).Tenant(ctx, domain.TenantRef{ID: 1})
	require.NoError(t, err)
	assert.Nil(t, tenant, "tenant went with its center")
}

func TestResolverDescribe(t *testing.T) {
	ctx := context.Background()
	store, center, tenant := seedEntities(t)
	r := NewTargetResolver(store)

	got, err := r.Describe(ctx, domain.TenantRef{ID: tenant.ID})
	require.NoError(t, err)
	assert.Contains(t, got, "Deli")

	got, err = r.Describe(ctx, domain.ImportRecordRef{Row: 7})
	require.NoError(t, err)
	assert.Equal(t, "row 7", got)

	require.NoError(t, store.Centers().Delete(ctx, center.ID))
	got, err = r.Describe(ctx, domain.ShoppingCenterRef{ID: center.ID})
	require.NoError(t, err)
	assert.Contains(t, got, "(deleted)")
}

func TestTargetLoaderBatches(t *testing.T) {
	ctx := context.Background()
	store, center, tenant := seedEntities(t)
	loader := NewTargetLoader(store)

	targets := []domain.Target{
		domain.TenantRef{ID: tenant.ID},
		domain.ShoppingCenterRef{ID: center.ID},
		domain.ShoppingCenterRef{ID: 404},
		domain.ImportRecordRef{Row: 9},
	}
	results, errs := loader.LoadAll(ctx, targets)
	require.Empty(t, errs)
	require.Len(t, results, 4)

	assert.Equal(t, "Deli", results[0].(*domain.Tenant).Name)
	assert.Equal(t, "Maple Court", results[1].(*domain.ShoppingCenter).Name)
	assert.Nil(t, results[2])
	assert.Nil(t, results[3])

	assert.Equal(t, "shopping_center #404 (deleted)", Describe(targets[2], results[2]))
	assert.Equal(t, "row 9", Describe(targets[3], results[3]))

	one, err := loader.Load(ctx, domain.ShoppingCenterRef{ID: center.ID})
	require.NoError(t, err)
	assert.Equal(t, center.ID, one.(*domain.ShoppingCenter).ID)
}
