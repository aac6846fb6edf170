package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citytransit/realtime-core/cache"
	"github.com/citytransit/realtime-core/intel"
	"github.com/citytransit/realtime-core/model"
	"github.com/citytransit/realtime-core/storage"
)

func plannerFixture(t *testing.T) (*Planner, *Index) {
	t.Helper()
	store := storage.NewMemoryStorage()
	routes := []*model.Route{
		{ID: "r1", Number: "1", AvgSpeedKmh: 30, DistanceKm: 2, Stops: []model.RouteStop{
			{StopID: "a", Name: "Central", Lat: 0, Lng: 0, Order: 0},
			{StopID: "b", Name: "Market", Lat: 0, Lng: 0.01, Order: 1},
			{StopID: "c", Name: "Harbor", Lat: 0, Lng: 0.02, Order: 2},
		}},
	}
	require.NoError(t, Build(store, routes))

	loader := NewLoader(store)
	require.NoError(t, loader.Reload())

	c := cache.NewMemoryCache()
	engine := intel.NewEngine(c)
	return NewPlanner(loader, c, engine), loader.Current()
}

func TestPlannerReturnsItineraryForConnectedStops(t *testing.T) {
	planner, _ := plannerFixture(t)
	ctx := context.Background()

	itineraries, cached, err := planner.Plan(ctx, 0, 0, 0, 0.02)
	require.NoError(t, err)
	assert.False(t, cached)
	require.NotEmpty(t, itineraries)
}

func TestPlannerCachesSecondCallWithinSameBucket(t *testing.T) {
	planner, _ := plannerFixture(t)
	ctx := context.Background()

	_, cached1, err := planner.Plan(ctx, 0, 0, 0, 0.02)
	require.NoError(t, err)
	require.False(t, cached1)

	_, cached2, err := planner.Plan(ctx, 0, 0, 0, 0.02)
	require.NoError(t, err)
	assert.True(t, cached2, "second call within the same grid cell and time bucket should hit cache")
}

func TestPlannerReturnsEmptyForUnreachableCoordinates(t *testing.T) {
	planner, _ := plannerFixture(t)
	ctx := context.Background()

	itineraries, _, err := planner.Plan(ctx, 80, 80, -80, -80)
	require.NoError(t, err)
	assert.Empty(t, itineraries)
}

func TestPlanCacheKeyStableWithinGridAndBucket(t *testing.T) {
	now := time.Now()
	k1 := PlanCacheKey(0.0001, 0.0001, 1.0001, 1.0001, now)
	k2 := PlanCacheKey(0.0002, 0.0002, 1.0002, 1.0002, now)
	assert.Equal(t, k1, k2, "points within the same ~150m grid cell should share a key")
}
