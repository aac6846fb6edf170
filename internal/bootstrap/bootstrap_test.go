package bootstrap

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citytransit/realtime-core/model"
	"github.com/citytransit/realtime-core/notify"
	"github.com/citytransit/realtime-core/simulation"
)

func TestWireDefaultsToInMemoryBackends(t *testing.T) {
	app, err := Wire(Config{JWTSecret: "test-secret"}, zerolog.Nop())
	require.NoError(t, err)

	assert.NotNil(t, app.Store)
	assert.NotNil(t, app.Cache)
	assert.NotNil(t, app.Hub)
	assert.NotNil(t, app.Notify)
}

func TestWiredNotifyFansOutThroughHub(t *testing.T) {
	app, err := Wire(Config{JWTSecret: "test-secret"}, zerolog.Nop())
	require.NoError(t, err)

	// OnNotify must be wired so a fired rule reaches the hub's admin
	// broadcast without panicking even with no admin sockets connected.
	app.Notify.OnNotify(notify.Payload{Kind: notify.KindTripStart, BusID: "b1"})
}

func TestAdaptTickUpdatesPreservesFields(t *testing.T) {
	updates := []simulation.BusUpdate{{
		BusID: "b1", RouteID: "r1", Lat: 1, Lng: 2, Heading: 90,
		Speed: 20, PassengerCount: 5, Capacity: 40, Occupancy: 12.5, Simulated: true,
	}}

	out := adaptTickUpdates(updates)

	require.Len(t, out, 1)
	assert.Equal(t, "b1", out[0].BusID)
	assert.Equal(t, 12.5, out[0].Occupancy)
	assert.True(t, out[0].Simulated)
}

func TestStartAndShutdownRoundTrip(t *testing.T) {
	app, err := Wire(Config{JWTSecret: "test-secret"}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, app.Store.UpsertRoute(&model.Route{
		ID: "r1", AvgSpeedKmh: 20,
		Stops: []model.RouteStop{{StopID: "s1", Lat: 1, Lng: 1, Order: 0}, {StopID: "s2", Lat: 1.01, Lng: 1.01, Order: 1}},
	}))

	require.NoError(t, app.Start(context.Background()))
	require.NoError(t, app.Shutdown())
}
