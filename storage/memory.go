package storage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/citytransit/realtime-core/geo"
	"github.com/citytransit/realtime-core/model"
)

// MemoryStorage is a map-based Store used by tests, the local CLI
// bootstrap, and anywhere a Postgres instance is not available.
type MemoryStorage struct {
	mu sync.Mutex

	buses   map[string]*model.Bus
	drivers map[string]*model.Driver
	routes  map[string]*model.Route
	trips   map[string]*model.Trip

	stopNodes map[string]model.StopNode
	edges     []model.GraphEdge

	driverLogs []DriverStateLogEntry

	users         map[string]*model.User
	refreshTokens map[string][]model.RefreshToken
}

// NewMemoryStorage returns an empty in-memory Store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		buses:         map[string]*model.Bus{},
		drivers:       map[string]*model.Driver{},
		routes:        map[string]*model.Route{},
		trips:         map[string]*model.Trip{},
		stopNodes:     map[string]model.StopNode{},
		users:         map[string]*model.User{},
		refreshTokens: map[string][]model.RefreshToken{},
	}
}

func (s *MemoryStorage) Close() error { return nil }

func (s *MemoryStorage) GetBus(id string) (*model.Bus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bus, ok := s.buses[id]
	if !ok {
		return nil, fmt.Errorf("bus %q not found", id)
	}
	cp := *bus
	return &cp, nil
}

func (s *MemoryStorage) ListBuses(filter BusFilter) ([]*model.Bus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buses := []*model.Bus{}
	for _, b := range s.buses {
		if filter.RouteID != "" && b.RouteID != filter.RouteID {
			continue
		}
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		if filter.Simulated != nil && b.Simulated != *filter.Simulated {
			continue
		}
		cp := *b
		buses = append(buses, &cp)
	}
	sort.Slice(buses, func(i, j int) bool { return buses[i].ID < buses[j].ID })
	return buses, nil
}

func (s *MemoryStorage) UpsertBus(bus *model.Bus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bus.ID == "" {
		return fmt.Errorf("bus id is required")
	}
	cp := *bus
	cp.UpdatedAt = time.Now().UTC()
	s.buses[bus.ID] = &cp
	return nil
}

// NearbyBuses filters the active bus set by haversine distance,
// emulating the fallback path Postgres takes when PostGIS is
// unavailable. Sorted by distance, ascending.
func (s *MemoryStorage) NearbyBuses(lat, lng, radiusKm float64, limit int) ([]*model.Bus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type scored struct {
		bus  *model.Bus
		dist float64
	}
	var candidates []scored
	for _, b := range s.buses {
		if b.Status != model.BusStatusActive {
			continue
		}
		d := geo.HaversineDistance(lat, lng, b.Lat, b.Lng)
		if d <= radiusKm {
			cp := *b
			candidates = append(candidates, scored{bus: &cp, dist: d})
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
	return out, nil
}

func (s *MemoryStorage) DeleteSimulatedBuses() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, b := range s.buses {
		if b.Simulated {
			delete(s.buses, id)
		}
	}
	return nil
}

func (s *MemoryStorage) GetDriver(id string) (*model.Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drivers[id]
	if !ok {
		return nil, fmt.Errorf("driver %q not found", id)
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStorage) GetDriverByUserID(userID string) (*model.Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range s.drivers {
		if d.UserID == userID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("driver for user %q not found", userID)
}

func (s *MemoryStorage) UpsertDriver(driver *model.Driver) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if driver.ID == "" {
		return fmt.Errorf("driver id is required")
	}
	cp := *driver
	cp.UpdatedAt = time.Now().UTC()
	s.drivers[driver.ID] = &cp
	return nil
}

func (s *MemoryStorage) ListRoutes() ([]*model.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	routes := []*model.Route{}
	for _, r := range s.routes {
		cp := *r
		routes = append(routes, &cp)
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].ID < routes[j].ID })
	return routes, nil
}

func (s *MemoryStorage) GetRoute(id string) (*model.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.routes[id]
	if !ok {
		return nil, fmt.Errorf("route %q not found", id)
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStorage) UpsertRoute(route *model.Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if route.ID == "" {
		return fmt.Errorf("route id is required")
	}
	cp := *route
	s.routes[route.ID] = &cp
	return nil
}

func (s *MemoryStorage) GetActiveTrip(busID string) (*model.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.trips {
		if t.BusID == busID && t.Status == model.TripStatusInProgress {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

// StartTrip writes the trip and activates the bus as a single
// in-memory critical section, standing in for the transactional
// (trip, bus) write Postgres does with a real transaction.
func (s *MemoryStorage) StartTrip(trip *model.Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if trip.ID == "" {
		return fmt.Errorf("trip id is required")
	}
	for _, t := range s.trips {
		if t.BusID == trip.BusID && t.Status == model.TripStatusInProgress {
			return fmt.Errorf("bus %q already has an in-progress trip", trip.BusID)
		}
	}

	cp := *trip
	cp.Status = model.TripStatusInProgress
	s.trips[trip.ID] = &cp

	if bus, ok := s.buses[trip.BusID]; ok {
		bus.Status = model.BusStatusActive
	}
	return nil
}

func (s *MemoryStorage) EndTrip(tripID string, status model.TripStatus, endTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trips[tripID]
	if !ok {
		return fmt.Errorf("trip %q not found", tripID)
	}
	t.Status = status
	t.EndTime = endTime
	return nil
}

func (s *MemoryStorage) ClearGraph() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopNodes = map[string]model.StopNode{}
	s.edges = nil
	return nil
}

func (s *MemoryStorage) WriteStopNodes(nodes []model.StopNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range nodes {
		s.stopNodes[n.ID] = n
	}
	return nil
}

func (s *MemoryStorage) WriteGraphEdges(edges []model.GraphEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.edges = append(s.edges, edges...)
	return nil
}

func (s *MemoryStorage) ListStopNodes() ([]model.StopNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.StopNode, 0, len(s.stopNodes))
	for _, n := range s.stopNodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStorage) ListGraphEdges() ([]model.GraphEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.GraphEdge, len(s.edges))
	copy(out, s.edges)
	return out, nil
}

func (s *MemoryStorage) WriteDriverStateLog(entry DriverStateLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.driverLogs = append(s.driverLogs, entry)
	return nil
}

func (s *MemoryStorage) GetUser(id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %q not found", id)
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStorage) ListUsersByRole(role model.UserRole) ([]*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.User
	for _, u := range s.users {
		if u.Role == role {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStorage) UpdateUserPushTokens(userID string, tokens []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		u = &model.User{ID: userID, Role: model.UserRolePassenger}
		s.users[userID] = u
	}
	u.PushTokens = tokens
	return nil
}

func (s *MemoryStorage) ListRefreshTokens(userID string) ([]model.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]model.RefreshToken{}, s.refreshTokens[userID]...), nil
}

func (s *MemoryStorage) WriteRefreshToken(token model.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refreshTokens[token.UserID] = append(s.refreshTokens[token.UserID], token)
	return nil
}

var _ Store = (*MemoryStorage)(nil)
