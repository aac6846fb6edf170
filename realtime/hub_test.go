package realtime

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citytransit/realtime-core/model"
)

func TestBusViewProjectsFields(t *testing.T) {
	bus := &model.Bus{ID: "b1", RouteID: "r1", Lat: 1, Lng: 2, Heading: 90, Speed: 30, PassengerCount: 10, Capacity: 40, Simulated: true}
	view := busView(bus)
	assert.Equal(t, "b1", view.BusID)
	assert.Equal(t, 25.0, view.Occupancy)
	assert.True(t, view.Simulated)
}

// newTestConnPairTracked wires a connection pair through h.addConn so
// hub-level broadcast tests exercise the real registry.
func newTestConnPairTracked(t *testing.T, h *Hub, ns Namespace) (*Conn, *websocket.Conn) {
	t.Helper()
	server, client := newTestConnPair(t, ns)
	h.addConn(server)
	t.Cleanup(func() { h.removeConn(server) })
	return server, client
}

func TestBroadcastPassengersReachesAllConnectedSockets(t *testing.T) {
	h, _ := newTestHub(t)

	_, client1 := newTestConnPairTracked(t, h, NamespacePassenger)
	_, client2 := newTestConnPairTracked(t, h, NamespacePassenger)

	h.broadcastPassengers(EventBusUpdate, map[string]string{"busId": "b1"})

	var env1, env2 envelope
	require.NoError(t, client1.ReadJSON(&env1))
	require.NoError(t, client2.ReadJSON(&env2))
	assert.Equal(t, EventBusUpdate, env1.Event)
	assert.Equal(t, EventBusUpdate, env2.Event)
}

func TestRemoveConnStopsFurtherBroadcasts(t *testing.T) {
	h, _ := newTestHub(t)
	conn, _ := newTestConnPairTracked(t, h, NamespaceAdmin)

	h.removeConn(conn)

	// No admin sockets remain; broadcastAdmins must not block or panic.
	h.broadcastAdmins(EventNotificationNew, map[string]string{"x": "y"})
}

func TestBroadcastSimulationTickFansOutToBothChannels(t *testing.T) {
	h, _ := newTestHub(t)
	_, pax := newTestConnPairTracked(t, h, NamespacePassenger)
	_, admin := newTestConnPairTracked(t, h, NamespaceAdmin)

	h.BroadcastSimulationTick([]SimUpdate{{BusID: "b1", RouteID: "r1", Lat: 1, Lng: 2, Capacity: 40}})

	var paxEnv envelope
	require.NoError(t, pax.ReadJSON(&paxEnv))
	assert.Equal(t, EventBusesSnapshot, paxEnv.Event)

	var adminEnv envelope
	require.NoError(t, admin.ReadJSON(&adminEnv))
	assert.Equal(t, EventBusesUpdate, adminEnv.Event)
}

func TestBroadcastSimulationTickSkipsEmptyUpdates(t *testing.T) {
	h, _ := newTestHub(t)
	_, pax := newTestConnPairTracked(t, h, NamespacePassenger)

	h.BroadcastSimulationTick(nil)

	require.NoError(t, pax.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	var env envelope
	err := pax.ReadJSON(&env)
	assert.Error(t, err, "no snapshot should have been sent for an empty tick")
}

func TestSweepIdleDriversIgnoresFreshlyActiveDriver(t *testing.T) {
	h, store := newTestHub(t)
	driver := &model.Driver{ID: "d1", UserID: "u1", State: model.DriverStateOnline}
	require.NoError(t, store.UpsertDriver(driver))
	h.DriverState.RecordActivity("d1")

	h.sweepIdleDrivers()

	d, err := store.GetDriver("d1")
	require.NoError(t, err)
	assert.Equal(t, model.DriverStateOnline, d.State, "freshly active driver must not be swept idle")
}
