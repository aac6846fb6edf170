package simulation

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citytransit/realtime-core/hybrid"
	"github.com/citytransit/realtime-core/model"
	"github.com/citytransit/realtime-core/storage"
)

func fixtureRoute() *model.Route {
	return &model.Route{
		ID: "r1", Number: "1", AvgSpeedKmh: 25, DistanceKm: 2,
		Stops: []model.RouteStop{
			{StopID: "a", Name: "Central", Lat: 0, Lng: 0, Order: 0},
			{StopID: "b", Name: "Market", Lat: 0, Lng: 0.005, Order: 1},
			{StopID: "c", Name: "Harbor", Lat: 0, Lng: 0.01, Order: 2},
		},
	}
}

func newTestEngine(t *testing.T) (*Engine, storage.Store) {
	t.Helper()
	store := storage.NewMemoryStorage()
	require.NoError(t, store.UpsertRoute(fixtureRoute()))
	hm := hybrid.NewManager()
	e := NewEngine(store, hm, nil, zerolog.Nop(), 42)
	return e, store
}

func TestSeedDistributesBusesAcrossRoutes(t *testing.T) {
	e, store := newTestEngine(t)
	require.NoError(t, e.Seed())

	buses, err := store.ListBuses(storage.BusFilter{})
	require.NoError(t, err)
	assert.Len(t, buses, TargetBuses)
	for _, b := range buses {
		assert.True(t, b.Simulated)
		assert.Equal(t, "r1", b.RouteID)
		assert.GreaterOrEqual(t, b.PassengerCount, 0)
		assert.LessOrEqual(t, b.PassengerCount, b.Capacity)
	}
}

func TestTickSkipsControlledBus(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.Seed())

	var anyID string
	e.mu.Lock()
	for id := range e.buses {
		anyID = id
		break
	}
	e.mu.Unlock()

	require.NoError(t, e.hybrid.Register(anyID, "driverA", "r1"))

	updates := e.tick()
	for _, u := range updates {
		assert.NotEqual(t, anyID, u.BusID, "a driver-controlled bus must not be advanced by the tick")
	}
}

func TestTickKeepsBusesWithinRouteBounds(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.Seed())

	for i := 0; i < 50; i++ {
		updates := e.tick()
		for _, u := range updates {
			assert.GreaterOrEqual(t, u.Speed, MinSpeedKmh)
			assert.LessOrEqual(t, u.Speed, MaxSpeedKmh)
			assert.GreaterOrEqual(t, u.PassengerCount, 0)
		}
	}
}

func TestScanCoverageWarnsOnUnstaffedRoute(t *testing.T) {
	store := storage.NewMemoryStorage()
	require.NoError(t, store.UpsertRoute(fixtureRoute()))
	hm := hybrid.NewManager()
	e := NewEngine(store, hm, nil, zerolog.Nop(), 7)
	// No Seed() call: no simulated buses, no driver ever registered.

	var flaggedRoute string
	e.OnCoverageGap = func(routeID string, _ time.Time) {
		flaggedRoute = routeID
	}

	e.scanCoverage()

	assert.Equal(t, "r1", flaggedRoute)
}
