package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citytransit/realtime-core/model"
	"github.com/citytransit/realtime-core/storage"
)

func twoRouteFixture() []*model.Route {
	return []*model.Route{
		{
			ID: "r1", Number: "1", AvgSpeedKmh: 30, DistanceKm: 4,
			Stops: []model.RouteStop{
				{StopID: "a", Name: "Central", Lat: 0, Lng: 0, Order: 0},
				{StopID: "b", Name: "Market", Lat: 0, Lng: 0.01, Order: 1},
				{StopID: "c", Name: "Harbor", Lat: 0, Lng: 0.02, Order: 2},
			},
		},
		{
			ID: "r2", Number: "2", AvgSpeedKmh: 25, DistanceKm: 3,
			Stops: []model.RouteStop{
				{StopID: "d", Name: "Market", Lat: 0, Lng: 0.01, Order: 0},
				{StopID: "e", Name: "Library", Lat: 0.005, Lng: 0.015, Order: 1},
			},
		},
	}
}

func TestBuildDedupesStopsByName(t *testing.T) {
	store := storage.NewMemoryStorage()
	require.NoError(t, Build(store, twoRouteFixture()))

	nodes, err := store.ListStopNodes()
	require.NoError(t, err)
	assert.Len(t, nodes, 4) // Central, Market, Harbor, Library: Market shared

	edges, err := store.ListGraphEdges()
	require.NoError(t, err)

	var busEdges, walkEdges int
	for _, e := range edges {
		if e.RouteID == model.TransferRouteID {
			walkEdges++
		} else {
			busEdges++
		}
	}
	assert.Equal(t, 6, busEdges) // (2 hops on r1 + 1 hop on r2) * 2 directions
	assert.True(t, walkEdges > 0, "expected at least one walking transfer edge")
}

func TestBuildSkipsWalkingEdgesOutsideRadius(t *testing.T) {
	store := storage.NewMemoryStorage()
	far := []*model.Route{
		{ID: "r1", Number: "1", AvgSpeedKmh: 30, DistanceKm: 1, Stops: []model.RouteStop{
			{StopID: "a", Name: "North", Lat: 0, Lng: 0, Order: 0},
			{StopID: "b", Name: "South", Lat: 1, Lng: 1, Order: 1},
		}},
		{ID: "r2", Number: "2", AvgSpeedKmh: 30, DistanceKm: 1, Stops: []model.RouteStop{
			{StopID: "c", Name: "FarAway", Lat: 50, Lng: 50, Order: 0},
		}},
	}
	require.NoError(t, Build(store, far))

	edges, err := store.ListGraphEdges()
	require.NoError(t, err)
	for _, e := range edges {
		assert.NotEqual(t, model.TransferRouteID, e.RouteID, "FarAway is >2.5km from every other stop")
	}
}

func TestLoaderReloadLabelsComponents(t *testing.T) {
	store := storage.NewMemoryStorage()
	require.NoError(t, Build(store, twoRouteFixture()))

	loader := NewLoader(store)
	require.NoError(t, loader.Reload())

	idx := loader.Current()
	central, ok := idx.FindByName("Central")
	require.True(t, ok)
	library, ok := idx.FindByName("Library")
	require.True(t, ok)

	assert.True(t, idx.AreConnected(central.ID, library.ID))
}
