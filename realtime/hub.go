package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/citytransit/realtime-core/cache"
	"github.com/citytransit/realtime-core/driverstate"
	"github.com/citytransit/realtime-core/graph"
	"github.com/citytransit/realtime-core/hybrid"
	"github.com/citytransit/realtime-core/intel"
	"github.com/citytransit/realtime-core/model"
	"github.com/citytransit/realtime-core/notify"
	"github.com/citytransit/realtime-core/storage"
)

// Hub owns the three connection registries and every collaborator the
// driver/passenger/admin flows need: the store, the cache, the hybrid
// ownership manager, the driver state machine, the intelligence
// engine, the route planner, and the notification rules.
type Hub struct {
	Store       storage.Store
	Cache       cache.Cache
	Hybrid      *hybrid.Manager
	DriverState *driverstate.Machine
	Intel       *intel.Engine
	Planner     *graph.Planner
	Notify      *notify.Rules
	Log         zerolog.Logger

	mu         sync.Mutex
	passengers map[*Conn]bool
	drivers    map[*Conn]bool
	admins     map[*Conn]bool
}

// NewHub wires a Hub from its collaborators. Any field may be filled
// in afterward for tests that only exercise part of the surface.
func NewHub(store storage.Store, c cache.Cache, hm *hybrid.Manager, ds *driverstate.Machine, ie *intel.Engine, planner *graph.Planner, nr *notify.Rules, log zerolog.Logger) *Hub {
	return &Hub{
		Store: store, Cache: c, Hybrid: hm, DriverState: ds, Intel: ie, Planner: planner, Notify: nr, Log: log,
		passengers: map[*Conn]bool{},
		drivers:    map[*Conn]bool{},
		admins:     map[*Conn]bool{},
	}
}

func (h *Hub) addConn(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch c.ns {
	case NamespacePassenger:
		h.passengers[c] = true
	case NamespaceDriver:
		h.drivers[c] = true
	case NamespaceAdmin:
		h.admins[c] = true
	}
}

func (h *Hub) removeConn(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.passengers, c)
	delete(h.drivers, c)
	delete(h.admins, c)
}

// broadcastPassengers sends event to every connected passenger socket.
func (h *Hub) broadcastPassengers(event string, payload interface{}) {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.passengers))
	for c := range h.passengers {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.Send(event, payload); err != nil {
			h.Log.Warn().Err(err).Msg("realtime: passenger broadcast failed")
		}
	}
}

// broadcastAdmins sends event to every connected admin socket.
func (h *Hub) broadcastAdmins(event string, payload interface{}) {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.admins))
	for c := range h.admins {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.Send(event, payload); err != nil {
			h.Log.Warn().Err(err).Msg("realtime: admin broadcast failed")
		}
	}
}

// busView projects a model.Bus to the wire shape shared by passenger
// and admin fanout.
func busView(b *model.Bus) BusView {
	return BusView{
		BusID: b.ID, RouteID: b.RouteID, Lat: b.Lat, Lng: b.Lng,
		Heading: b.Heading, Speed: b.Speed, PassengerCount: b.PassengerCount,
		Capacity: b.Capacity, Occupancy: b.Occupancy(), Simulated: b.Simulated,
	}
}

// BroadcastSimulationTick is the OnTick callback handed to
// simulation.Engine: it republishes each tick's bus updates as a
// single admin/passenger snapshot, matching the simulation tick's
// "persist then broadcast one snapshot list" contract (§4.13).
func (h *Hub) BroadcastSimulationTick(updates []SimUpdate) {
	if len(updates) == 0 {
		return
	}
	views := make([]BusView, len(updates))
	for i, u := range updates {
		views[i] = BusView{
			BusID: u.BusID, RouteID: u.RouteID, Lat: u.Lat, Lng: u.Lng,
			Heading: u.Heading, Speed: u.Speed, PassengerCount: u.PassengerCount,
			Capacity: u.Capacity, Occupancy: u.Occupancy, Simulated: u.Simulated,
		}
	}
	h.broadcastPassengers(EventBusesSnapshot, views)
	h.broadcastAdmins(EventBusesUpdate, views)
}

// SimUpdate is a structural copy of simulation.BusUpdate: the hub
// does not import the simulation package to avoid coupling the
// realtime channel to a specific tick source, so bootstrap adapts
// simulation.BusUpdate values into this shape before calling
// BroadcastSimulationTick.
type SimUpdate struct {
	BusID          string
	RouteID        string
	Lat            float64
	Lng            float64
	Heading        float64
	Speed          float64
	PassengerCount int
	Capacity       int
	Occupancy      float64
	Simulated      bool
}

// publishBusLocation publishes a canonical bus update on the
// bus:location pubsub channel for horizontal fanout, best-effort.
func (h *Hub) publishBusLocation(ctx context.Context, payload []byte) {
	if h.Cache == nil {
		return
	}
	if err := h.Cache.Publish(ctx, cache.ChannelBusLocation, payload); err != nil {
		h.Log.Warn().Err(err).Msg("realtime: bus:location publish failed")
	}
}

// StartIdleDetection runs the §4.2 idle-detection loop: every 60 s,
// transition ONLINE drivers with no activity for 300 s to IDLE.
func (h *Hub) StartIdleDetection(stop <-chan struct{}) {
	ticker := time.NewTicker(driverstate.IdleCheckPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.sweepIdleDrivers()
		}
	}
}

func (h *Hub) sweepIdleDrivers() {
	for _, driverID := range h.DriverState.IdleDrivers() {
		driver, err := h.Store.GetDriver(driverID)
		if err != nil || driver.State != model.DriverStateOnline {
			continue
		}
		if h.DriverState.Transition(driverID, model.DriverStateOnline, model.DriverStateIdle, driverstate.IdleReason) {
			driver.State = model.DriverStateIdle
			if err := h.Store.UpsertDriver(driver); err != nil {
				h.Log.Warn().Err(err).Str("driver", driverID).Msg("realtime: idle transition write failed")
			}
		}
	}
}
