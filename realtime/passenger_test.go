package realtime

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citytransit/realtime-core/hybrid"
	"github.com/citytransit/realtime-core/driverstate"
	"github.com/citytransit/realtime-core/intel"
	"github.com/citytransit/realtime-core/model"
	"github.com/citytransit/realtime-core/storage"
)

func TestSameRouteContextCountsNearbyAndAverages(t *testing.T) {
	bus := &model.Bus{ID: "b1", Lat: 12.90, Lng: 77.60, Capacity: 40, PassengerCount: 20}
	near := &model.Bus{ID: "b2", Lat: 12.9005, Lng: 77.6005, Capacity: 40, PassengerCount: 40}
	far := &model.Bus{ID: "b3", Lat: 13.50, Lng: 78.20, Capacity: 40, PassengerCount: 0}

	nearbyCount, avg := sameRouteContext([]*model.Bus{bus, near, far}, bus)

	assert.Equal(t, 1, nearbyCount)
	assert.InDelta(t, 50.0, avg, 0.01) // (50+100+0)/3
}

func TestTrafficFactorFromLevel(t *testing.T) {
	assert.Equal(t, 1.25, trafficFactorFromLevel(intel.TrafficHigh))
	assert.Equal(t, 1.0, trafficFactorFromLevel("LOW"))
}

func TestHandlePassengerConnectGuestVsAuthenticated(t *testing.T) {
	store := storage.NewMemoryStorage()
	h := NewHub(store, nil, hybrid.NewManager(), driverstate.NewMachine(store), intel.NewEngine(nil), nil, nil, zerolog.Nop())

	server, _ := newTestConnPair(t, NamespacePassenger)
	h.HandlePassengerConnect(server, nil)
	assert.True(t, server.Guest)

	server2, _ := newTestConnPair(t, NamespacePassenger)
	h.HandlePassengerConnect(server2, &Claims{UserID: "u1"})
	assert.False(t, server2.Guest)
	assert.Equal(t, "u1", server2.UserID)
}

func TestHandlePassengerLocationEmitsNearbyAndSuggestions(t *testing.T) {
	store := storage.NewMemoryStorage()
	route := &model.Route{ID: "r1", AvgSpeedKmh: 25}
	require.NoError(t, store.UpsertRoute(route))
	bus := &model.Bus{ID: "b1", RouteID: "r1", Lat: 12.90, Lng: 77.60, Capacity: 40, PassengerCount: 10, Status: model.BusStatusActive}
	require.NoError(t, store.UpsertBus(bus))

	h := NewHub(store, nil, hybrid.NewManager(), driverstate.NewMachine(store), intel.NewEngine(nil), nil, nil, zerolog.Nop())

	server, client := newTestConnPair(t, NamespacePassenger)
	h.HandlePassengerConnect(server, &Claims{UserID: "u1"})

	require.NoError(t, client.WriteJSON(envelope{Event: EventLocationSend, Payload: []byte(`{"lat":12.901,"lng":77.601}`)}))

	var nearby envelope
	require.NoError(t, client.ReadJSON(&nearby))
	assert.Equal(t, EventBusesNearby, nearby.Event)

	var suggestions envelope
	require.NoError(t, client.ReadJSON(&suggestions))
	assert.Equal(t, EventBusesSuggestions, suggestions.Event)
}

func TestHandlePassengerLocationRejectsMalformedPayload(t *testing.T) {
	store := storage.NewMemoryStorage()
	h := NewHub(store, nil, hybrid.NewManager(), driverstate.NewMachine(store), intel.NewEngine(nil), nil, nil, zerolog.Nop())

	server, client := newTestConnPair(t, NamespacePassenger)
	h.HandlePassengerConnect(server, nil)

	require.NoError(t, client.WriteJSON(envelope{Event: EventLocationSend, Payload: []byte(`not-json`)}))

	var env envelope
	require.NoError(t, client.ReadJSON(&env))
	assert.Equal(t, EventError, env.Event)
}
