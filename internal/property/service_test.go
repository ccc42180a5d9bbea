package property

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rpattn/shopwindow/internal/domain"
	"github.com/rpattn/shopwindow/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

type countingGeocoder struct {
	calls atomic.Int32
	err   error
}

func (g *countingGeocoder) Geocode(_ context.Context, _ string) (float64, float64, error) {
	g.calls.Add(1)
	if g.err != nil {
		return 0, 0, g.err
	}
	return 39.8, -89.6, nil
}

func newTestService(geocoder Geocoder) (*Service, *memory.Store) {
	store := memory.NewStore()
	return NewService(store, geocoder, nil), store
}

func TestCreateCenterDerivesTypeAndGeocodes(t *testing.T) {
	ctx := context.Background()
	geocoder := &countingGeocoder{}
	svc, store := newTestService(geocoder)

	result, err := svc.CreateCenter(ctx, domain.ShoppingCenter{
		Name:     "  Maple Court ",
		Street:   "1 Main St",
		City:     "springfield",
		State:    "il",
		TotalGLA: ptr(int64(50_000)),
	}, nil)
	require.NoError(t, err)
	require.Nil(t, result.GeocodeIssue)
	assert.True(t, result.Created)

	c := result.Center
	assert.Equal(t, "Maple Court", c.Name)
	assert.Equal(t, "Springfield", c.City)
	assert.Equal(t, "IL", c.State)
	assert.Equal(t, domain.CenterTypeNeighborhood, c.CenterType)
	require.NotNil(t, c.Latitude)
	assert.InDelta(t, 39.8, *c.Latitude, 1e-9)
	assert.Equal(t, 47, c.DataQualityScore)
	assert.EqualValues(t, 1, geocoder.calls.Load())

	stored, err := store.Centers().GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 47, stored.DataQualityScore)

	var actions []string
	for _, e := range store.AuditEntries() {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{ActionCreated, ActionGeocoded}, actions)
}

func TestCreateCenterRejectsDuplicateNameIgnoringCase(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(nil)

	_, err := svc.CreateCenter(ctx, domain.ShoppingCenter{Name: "Maple Court"}, nil)
	require.NoError(t, err)
	_, err = svc.CreateCenter(ctx, domain.ShoppingCenter{Name: "MAPLE COURT "}, nil)
	assert.ErrorIs(t, err, domain.ErrDuplicateName)

	_, err = svc.CreateCenter(ctx, domain.ShoppingCenter{Name: "  "}, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestGeocodeFailureDoesNotBlockWrite(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(&countingGeocoder{err: ErrNoMatch})

	result, err := svc.CreateCenter(ctx, domain.ShoppingCenter{Name: "Oak Plaza", Street: "nowhere"}, nil)
	require.NoError(t, err)
	require.NotNil(t, result.GeocodeIssue)
	assert.ErrorIs(t, result.GeocodeIssue.Err, ErrNoMatch)
	assert.Equal(t, "nowhere", result.GeocodeIssue.Address)
	assert.Contains(t, result.GeocodeIssue.Message(), "nowhere")

	stored, err := store.Centers().GetByID(ctx, result.Center.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Latitude)
}

func TestAddressChangeRegeocodes(t *testing.T) {
	ctx := context.Background()
	geocoder := &countingGeocoder{}
	svc, _ := newTestService(geocoder)

	created, err := svc.CreateCenter(ctx, domain.ShoppingCenter{Name: "Oak Plaza", Street: "1 Oak St"}, nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, geocoder.calls.Load())

	_, err = svc.UpdateCenter(ctx, created.Center.ID, func(c domain.ShoppingCenter) (domain.ShoppingCenter, error) {
		c.Owner = "Oak Holdings"
		return c, nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, geocoder.calls.Load(), "address unchanged")

	_, err = svc.UpdateCenter(ctx, created.Center.ID, func(c domain.ShoppingCenter) (domain.ShoppingCenter, error) {
		c.Street = "2 Oak St"
		return c, nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, geocoder.calls.Load())
}

func TestTenantWritesMaintainCalculatedGLA(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(nil)

	center, err := svc.CreateCenter(ctx, domain.ShoppingCenter{Name: "Plaza"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 8, center.Center.DataQualityScore)
	id := center.Center.ID

	first, err := svc.CreateTenant(ctx, domain.Tenant{ShoppingCenterID: id, Name: "Deli", SquareFootage: ptr(int64(10_000))}, nil)
	require.NoError(t, err)
	_, err = svc.CreateTenant(ctx, domain.Tenant{ShoppingCenterID: id, Name: "Books", SquareFootage: ptr(int64(15_000))}, nil)
	require.NoError(t, err)

	stored, err := store.Centers().GetByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, stored.CalculatedGLA)
	assert.EqualValues(t, 25_000, *stored.CalculatedGLA)
	assert.Equal(t, domain.CenterTypeStrip, stored.CenterType)
	assert.Equal(t, 21, stored.DataQualityScore, "name, calculated GLA and center type")

	_, err = svc.UpdateTenant(ctx, first.ID, func(tn domain.Tenant) (domain.Tenant, error) {
		tn.SquareFootage = ptr(int64(40_000))
		return tn, nil
	})
	require.NoError(t, err)
	stored, err = store.Centers().GetByID(ctx, id)
	require.NoError(t, err)
	assert.EqualValues(t, 55_000, *stored.CalculatedGLA)
	assert.Equal(t, domain.CenterTypeNeighborhood, stored.CenterType)

	require.NoError(t, svc.DeleteTenant(ctx, first.ID))
	stored, err = store.Centers().GetByID(ctx, id)
	require.NoError(t, err)
	assert.EqualValues(t, 15_000, *stored.CalculatedGLA)
	assert.Equal(t, domain.CenterTypeStrip, stored.CenterType)
}

func TestStatedGLAWinsOverTenants(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(nil)

	center, err := svc.CreateCenter(ctx, domain.ShoppingCenter{Name: "Mall", TotalGLA: ptr(int64(900_000))}, nil)
	require.NoError(t, err)
	_, err = svc.CreateTenant(ctx, domain.Tenant{ShoppingCenterID: center.Center.ID, Name: "Anchor", SquareFootage: ptr(int64(100_000))}, nil)
	require.NoError(t, err)

	stored, err := store.Centers().GetByID(ctx, center.Center.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.CalculatedGLA)
	assert.Equal(t, domain.CenterTypeSuperRegional, stored.CenterType)
}

func TestTenantBusinessRules(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(nil)
	center, err := svc.CreateCenter(ctx, domain.ShoppingCenter{Name: "Plaza"}, nil)
	require.NoError(t, err)

	_, err = svc.CreateTenant(ctx, domain.Tenant{ShoppingCenterID: center.Center.ID, Name: "Kiosk", SquareFootage: ptr(int64(0))}, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.CreateTenant(ctx, domain.Tenant{ShoppingCenterID: 999, Name: "Ghost"}, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	tenant, err := svc.CreateTenant(ctx, domain.Tenant{ShoppingCenterID: center.Center.ID, Name: "Deli", RetailCategory: "  fast FOOD "}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Fast Food", tenant.RetailCategory)
	assert.Equal(t, 25, tenant.DataQualityScore, "name and retail category")
}

func TestMergeCenterEnrichesAndReportsConflicts(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(nil)

	first, err := svc.MergeCenter(ctx, domain.ShoppingCenter{Name: "Maple Court", Owner: "Acme"}, nil)
	require.NoError(t, err)
	assert.True(t, first.Created)

	second, err := svc.MergeCenter(ctx, domain.ShoppingCenter{
		Name:      "maple court",
		Owner:     "Other Owner",
		County:    "Sangamon",
		YearBuilt: ptr(1998),
	}, nil)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Center.ID, second.Center.ID)
	assert.ElementsMatch(t, []string{"county", "year_built"}, second.Filled)
	require.Len(t, second.Conflicts, 1)
	assert.Equal(t, FieldConflict{Field: "owner", Current: "Acme", Suggested: "Other Owner"}, second.Conflicts[0])

	assert.Equal(t, "Acme", second.Center.Owner)
	assert.Equal(t, "Maple Court", second.Center.Name)
	assert.Greater(t, second.Center.DataQualityScore, first.Center.DataQualityScore)
}

func TestMergeTenantMatchesBySuite(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(nil)
	center, err := svc.CreateCenter(ctx, domain.ShoppingCenter{Name: "Plaza"}, nil)
	require.NoError(t, err)
	id := center.Center.ID

	created, err := svc.MergeTenant(ctx, domain.Tenant{ShoppingCenterID: id, Name: "Deli", SuiteNumber: "A1"}, nil)
	require.NoError(t, err)
	assert.True(t, created.Created)

	merged, err := svc.MergeTenant(ctx, domain.Tenant{ShoppingCenterID: id, Name: "Deli & Co", SuiteNumber: "A1", BaseRent: ptr(24.5)}, nil)
	require.NoError(t, err)
	assert.False(t, merged.Created)
	assert.Equal(t, created.Tenant.ID, merged.Tenant.ID)
	assert.Equal(t, []string{"base_rent"}, merged.Filled)
	require.Len(t, merged.Conflicts, 1)
	assert.Equal(t, "tenant_name", merged.Conflicts[0].Field)
}

func TestAnalytics(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(nil)
	center, err := svc.CreateCenter(ctx, domain.ShoppingCenter{Name: "Plaza", TotalGLA: ptr(int64(40_000))}, nil)
	require.NoError(t, err)
	id := center.Center.ID

	for _, tn := range []domain.Tenant{
		{ShoppingCenterID: id, Name: "Grocer", SuiteNumber: "1", SquareFootage: ptr(int64(20_000)), OccupancyStatus: domain.OccupancyOccupied, IsAnchor: true, RetailCategory: "grocery"},
		{ShoppingCenterID: id, Name: "Salon", SuiteNumber: "2", SquareFootage: ptr(int64(1_500)), OccupancyStatus: domain.OccupancyOccupied},
		{ShoppingCenterID: id, Name: "Vacant", SuiteNumber: "3", OccupancyStatus: domain.OccupancyVacant},
	} {
		_, err := svc.CreateTenant(ctx, tn, nil)
		require.NoError(t, err)
	}

	a, err := svc.Analytics(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, a.TotalTenants)
	assert.Equal(t, 2, a.OccupiedTenants)
	assert.Equal(t, 1, a.VacantSuites)
	assert.EqualValues(t, 21_500, a.TotalLeasedSF)
	assert.InDelta(t, 53.75, a.OccupancyRate, 1e-9)
	assert.Equal(t, 1, a.AnchorTenants)
	assert.Equal(t, []string{"Grocery"}, a.RetailCategories)

	_, err = svc.Analytics(ctx, 404)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteCenterRemovesTenants(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(nil)
	center, err := svc.CreateCenter(ctx, domain.ShoppingCenter{Name: "Plaza"}, nil)
	require.NoError(t, err)
	tenant, err := svc.CreateTenant(ctx, domain.Tenant{ShoppingCenterID: center.Center.ID, Name: "Deli"}, nil)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteCenter(ctx, center.Center.ID))
	_, err = store.Tenants().GetByID(ctx, tenant.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRateLimitedGeocoderHonoursContext(t *testing.T) {
	inner := &countingGeocoder{}
	g := NewRateLimitedGeocoder(inner, 0.001, 1)

	_, _, err := g.Geocode(context.Background(), "1 Main St")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = g.Geocode(ctx, "2 Main St")
	require.Error(t, err)
	assert.EqualValues(t, 1, inner.calls.Load())
}

func TestGeocoderFunc(t *testing.T) {
	boom := errors.New("boom")
	g := GeocoderFunc(func(context.Context, string) (float64, float64, error) { return 0, 0, boom })
	_, _, err := g.Geocode(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
}
