// Package storage defines the persistent store the realtime core
// relies on for buses, drivers, routes/stops, trips, the transit graph
// snapshot, driver state audit logs, and the two administrative rows
// (users, refresh tokens) the core touches but does not own the CRUD
// surface for.
//
// Two backends are provided: PSQLStorage (the production backend,
// raw database/sql over lib/pq, with an opportunistic PostGIS nearby-
// bus query) and MemoryStorage (a map-based backend for tests and
// local bootstrap).
package storage

import (
	"sort"
	"time"

	"github.com/citytransit/realtime-core/geo"
	"github.com/citytransit/realtime-core/model"
)

// BusFilter narrows ListBuses.
type BusFilter struct {
	RouteID   string
	Status    model.BusStatus
	Simulated *bool
}

// DriverStateLogEntry records a single transition attempt, legal or
// not, for audit (§4.2).
type DriverStateLogEntry struct {
	DriverID  string
	From      model.DriverState
	To        model.DriverState
	Forced    bool
	Legal     bool
	Reason    string
	Timestamp time.Time
}

// Store is the persistent store the core consumes. Implementations
// must honor the transactional requirement on StartTrip (trip + bus
// activation as a single unit) and EndTrip.
type Store interface {
	// Buses
	GetBus(id string) (*model.Bus, error)
	ListBuses(filter BusFilter) ([]*model.Bus, error)
	UpsertBus(bus *model.Bus) error
	NearbyBuses(lat, lng, radiusKm float64, limit int) ([]*model.Bus, error)
	DeleteSimulatedBuses() error

	// Drivers
	GetDriver(id string) (*model.Driver, error)
	GetDriverByUserID(userID string) (*model.Driver, error)
	UpsertDriver(driver *model.Driver) error

	// Routes & stops
	ListRoutes() ([]*model.Route, error)
	GetRoute(id string) (*model.Route, error)
	UpsertRoute(route *model.Route) error

	// Trips
	GetActiveTrip(busID string) (*model.Trip, error)
	StartTrip(trip *model.Trip) error
	EndTrip(tripID string, status model.TripStatus, endTime time.Time) error

	// Transit graph snapshot (§4.8); ClearGraph+Write* must appear
	// atomic to readers: build locally, then swap.
	ClearGraph() error
	WriteStopNodes(nodes []model.StopNode) error
	WriteGraphEdges(edges []model.GraphEdge) error
	ListStopNodes() ([]model.StopNode, error)
	ListGraphEdges() ([]model.GraphEdge, error)

	// Audit
	WriteDriverStateLog(entry DriverStateLogEntry) error

	// Administrative rows the core touches but does not own the CRUD
	// surface for.
	GetUser(id string) (*model.User, error)
	ListUsersByRole(role model.UserRole) ([]*model.User, error)
	UpdateUserPushTokens(userID string, tokens []string) error
	ListRefreshTokens(userID string) ([]model.RefreshToken, error)
	WriteRefreshToken(token model.RefreshToken) error

	Close() error
}

// filterNearby trims buses to those within radiusKm of (lat, lng),
// sorted nearest-first, used by backends with no native geo query.
func filterNearby(buses []*model.Bus, lat, lng, radiusKm float64, limit int) []*model.Bus {
	type scored struct {
		bus  *model.Bus
		dist float64
	}
	var candidates []scored
	for _, b := range buses {
		d := geo.HaversineDistance(lat, lng, b.Lat, b.Lng)
		if d <= radiusKm {
			candidates = append(candidates, scored{bus: b, dist: d})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]*model.Bus, len(candidates))
	for i, c := range candidates {
		out[i] = c.bus
	}
	return out
}
