package realtime

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citytransit/realtime-core/driverstate"
	"github.com/citytransit/realtime-core/hybrid"
	"github.com/citytransit/realtime-core/intel"
	"github.com/citytransit/realtime-core/model"
	"github.com/citytransit/realtime-core/storage"
)

func newTestHub(t *testing.T) (*Hub, *storage.MemoryStorage) {
	t.Helper()
	store := storage.NewMemoryStorage()
	hm := hybrid.NewManager()
	ds := driverstate.NewMachine(store)
	ie := intel.NewEngine(nil)
	h := NewHub(store, nil, hm, ds, ie, nil, nil, zerolog.Nop())
	return h, store
}

func seedDriverAndBus(t *testing.T, store *storage.MemoryStorage) (*model.Driver, *model.Bus) {
	t.Helper()
	bus := &model.Bus{ID: "bus-1", RouteID: "route-1", Capacity: 40, RegistrationNo: "REG-1"}
	require.NoError(t, store.UpsertBus(bus))

	driver := &model.Driver{ID: "driver-1", UserID: "user-1", Approved: true, BusID: bus.ID, State: model.DriverStateOffline}
	require.NoError(t, store.UpsertDriver(driver))

	return driver, bus
}

func TestHandleDriverConnectPendingApprovalHoldsSocket(t *testing.T) {
	h, store := newTestHub(t)
	driver := &model.Driver{ID: "driver-1", UserID: "user-1", Approved: false}
	require.NoError(t, store.UpsertDriver(driver))

	server, client := newTestConnPair(t, NamespaceDriver)
	h.HandleDriverConnect(server, &Claims{UserID: "user-1"})

	var env envelope
	require.NoError(t, client.ReadJSON(&env))
	assert.Equal(t, EventDriverPendingApproval, env.Event)
}

func TestHandleDriverConnectNoBusAssigned(t *testing.T) {
	h, store := newTestHub(t)
	driver := &model.Driver{ID: "driver-1", UserID: "user-1", Approved: true}
	require.NoError(t, store.UpsertDriver(driver))

	server, client := newTestConnPair(t, NamespaceDriver)
	h.HandleDriverConnect(server, &Claims{UserID: "user-1"})

	var env envelope
	require.NoError(t, client.ReadJSON(&env))
	assert.Equal(t, EventDriverNoBusAssigned, env.Event)
}

func TestHandleDriverConnectRegistersBusAndSendsInit(t *testing.T) {
	h, store := newTestHub(t)
	driver, bus := seedDriverAndBus(t, store)

	server, client := newTestConnPair(t, NamespaceDriver)
	h.HandleDriverConnect(server, &Claims{UserID: driver.UserID})

	var env envelope
	require.NoError(t, client.ReadJSON(&env))
	assert.Equal(t, EventDriverInit, env.Event)

	assert.True(t, h.Hybrid.IsControlled(bus.ID))

	updated, err := store.GetBus(bus.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BusStatusActive, updated.Status)
	assert.False(t, updated.Simulated)
}

func TestHandleDriverDisconnectMarksDisconnectedAndStartsGrace(t *testing.T) {
	h, store := newTestHub(t)
	driver, bus := seedDriverAndBus(t, store)

	server, client := newTestConnPair(t, NamespaceDriver)
	h.HandleDriverConnect(server, &Claims{UserID: driver.UserID})
	var env envelope
	require.NoError(t, client.ReadJSON(&env)) // driver:init

	require.True(t, h.Hybrid.IsControlled(bus.ID))

	h.HandleDriverDisconnect(server)

	d, err := store.GetDriver(driver.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DriverStateDisconnected, d.State)
	assert.True(t, h.Hybrid.IsInGrace(bus.ID))
}

func TestHandleDriverDisconnectNoopsWithoutDriverID(t *testing.T) {
	h, _ := newTestHub(t)
	server, _ := newTestConnPair(t, NamespaceDriver)
	h.HandleDriverDisconnect(server) // must not panic with empty DriverID
}

func TestHeadingBetweenFallsBackWhenStationary(t *testing.T) {
	got := headingBetween(12.9, 77.6, 12.9, 77.6, 45.0)
	assert.Equal(t, 45.0, got)
}

func TestHeadingBetweenComputesBearingWhenMoved(t *testing.T) {
	got := headingBetween(12.90, 77.60, 12.91, 77.61, 0.0)
	assert.NotEqual(t, 0.0, got)
}
