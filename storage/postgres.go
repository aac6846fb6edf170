package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/citytransit/realtime-core/model"
)

// PSQLStorage is the production Store backend: raw database/sql over
// lib/pq. When the connected database exposes PostGIS, NearbyBuses
// uses ST_DWithin/ST_Distance; otherwise it falls back to pulling the
// active set and filtering with geo.HaversineDistance in Go.
type PSQLStorage struct {
	db      *sql.DB
	postGIS bool
}

// NewPSQLStorage opens a Postgres connection and ensures the schema
// exists. If clearDB is true, all tables are dropped first: callers
// should only pass true in tests.
func NewPSQLStorage(connStr string, clearDB bool) (*PSQLStorage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging db: %w", err)
	}

	if clearDB {
		_, err = db.Exec(`
DROP TABLE IF EXISTS buses;
DROP TABLE IF EXISTS drivers;
DROP TABLE IF EXISTS routes;
DROP TABLE IF EXISTS stops;
DROP TABLE IF EXISTS trips;
DROP TABLE IF EXISTS stop_nodes;
DROP TABLE IF EXISTS graph_edges;
DROP TABLE IF EXISTS driver_state_logs;
DROP TABLE IF EXISTS users;
DROP TABLE IF EXISTS refresh_tokens;
`)
		if err != nil {
			return nil, fmt.Errorf("clearing db: %w", err)
		}
	}

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS buses (
    id TEXT PRIMARY KEY,
    registration_no TEXT NOT NULL,
    capacity INTEGER NOT NULL,
    lat DOUBLE PRECISION NOT NULL,
    lng DOUBLE PRECISION NOT NULL,
    heading DOUBLE PRECISION NOT NULL DEFAULT 0,
    speed DOUBLE PRECISION NOT NULL DEFAULT 0,
    passenger_count INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    route_id TEXT NOT NULL DEFAULT '',
    simulated BOOLEAN NOT NULL DEFAULT false,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS drivers (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    license TEXT NOT NULL,
    approved BOOLEAN NOT NULL DEFAULT false,
    bus_id TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS routes (
    id TEXT PRIMARY KEY,
    number TEXT NOT NULL,
    name TEXT NOT NULL,
    type TEXT NOT NULL DEFAULT '',
    polyline JSONB NOT NULL,
    avg_speed_kmh DOUBLE PRECISION NOT NULL,
    distance_km DOUBLE PRECISION NOT NULL,
    stops JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS trips (
    id TEXT PRIMARY KEY,
    bus_id TEXT NOT NULL,
    driver_id TEXT NOT NULL DEFAULT '',
    route_id TEXT NOT NULL DEFAULT '',
    start_time TIMESTAMPTZ NOT NULL,
    end_time TIMESTAMPTZ,
    status TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS stop_nodes (
    id TEXT PRIMARY KEY,
    stop_id TEXT NOT NULL,
    name TEXT NOT NULL,
    lat DOUBLE PRECISION NOT NULL,
    lng DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS graph_edges (
    id TEXT PRIMARY KEY,
    from_node_id TEXT NOT NULL,
    to_node_id TEXT NOT NULL,
    route_id TEXT NOT NULL,
    route_number TEXT NOT NULL,
    distance_km DOUBLE PRECISION NOT NULL,
    avg_travel_time DOUBLE PRECISION NOT NULL,
    transfer_cost DOUBLE PRECISION NOT NULL,
    stop_order INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS driver_state_logs (
    id SERIAL PRIMARY KEY,
    driver_id TEXT NOT NULL,
    from_state TEXT NOT NULL,
    to_state TEXT NOT NULL,
    forced BOOLEAN NOT NULL,
    legal BOOLEAN NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    ts TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    role TEXT NOT NULL,
    push_tokens JSONB NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS refresh_tokens (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL
);
`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s := &PSQLStorage{db: db}
	s.postGIS = detectPostGIS(db)
	return s, nil
}

// detectPostGIS probes for the postgis_version() function; failure
// (missing extension) is treated as "not available", never an error.
// Most deployments run without PostGIS, so the fallback path is the
// expected common case, not an exceptional one.
func detectPostGIS(db *sql.DB) bool {
	var version string
	if err := db.QueryRow(`SELECT postgis_version()`).Scan(&version); err != nil {
		return false
	}
	return true
}

func (s *PSQLStorage) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing db: %w", err)
	}
	return nil
}

func (s *PSQLStorage) GetBus(id string) (*model.Bus, error) {
	row := s.db.QueryRow(`
SELECT id, registration_no, capacity, lat, lng, heading, speed, passenger_count, status, route_id, simulated, updated_at
FROM buses WHERE id = $1`, id)

	bus, err := scanBus(row)
	if err != nil {
		return nil, fmt.Errorf("getting bus %q: %w", id, err)
	}
	return bus, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBus(row rowScanner) (*model.Bus, error) {
	var b model.Bus
	err := row.Scan(
		&b.ID, &b.RegistrationNo, &b.Capacity, &b.Lat, &b.Lng, &b.Heading, &b.Speed,
		&b.PassengerCount, &b.Status, &b.RouteID, &b.Simulated, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

func (s *PSQLStorage) ListBuses(filter BusFilter) ([]*model.Bus, error) {
	query := `SELECT id, registration_no, capacity, lat, lng, heading, speed, passenger_count, status, route_id, simulated, updated_at FROM buses`
	conditions := []string{}
	params := []interface{}{}
	n := 1

	if filter.RouteID != "" {
		conditions = append(conditions, fmt.Sprintf("route_id = $%d", n))
		params = append(params, filter.RouteID)
		n++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", n))
		params = append(params, filter.Status)
		n++
	}
	if filter.Simulated != nil {
		conditions = append(conditions, fmt.Sprintf("simulated = $%d", n))
		params = append(params, *filter.Simulated)
		n++
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("listing buses: %w", err)
	}
	defer rows.Close()

	var buses []*model.Bus
	for rows.Next() {
		b, err := scanBus(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning bus: %w", err)
		}
		buses = append(buses, b)
	}
	return buses, rows.Err()
}

func (s *PSQLStorage) UpsertBus(bus *model.Bus) error {
	if bus.ID == "" {
		return fmt.Errorf("bus id is required")
	}
	_, err := s.db.Exec(`
INSERT INTO buses (id, registration_no, capacity, lat, lng, heading, speed, passenger_count, status, route_id, simulated, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
ON CONFLICT (id) DO UPDATE SET
    registration_no = EXCLUDED.registration_no,
    capacity = EXCLUDED.capacity,
    lat = EXCLUDED.lat,
    lng = EXCLUDED.lng,
    heading = EXCLUDED.heading,
    speed = EXCLUDED.speed,
    passenger_count = EXCLUDED.passenger_count,
    status = EXCLUDED.status,
    route_id = EXCLUDED.route_id,
    simulated = EXCLUDED.simulated,
    updated_at = now()`,
		bus.ID, bus.RegistrationNo, bus.Capacity, bus.Lat, bus.Lng, bus.Heading, bus.Speed,
		bus.PassengerCount, bus.Status, bus.RouteID, bus.Simulated,
	)
	if err != nil {
		return fmt.Errorf("upserting bus %q: %w", bus.ID, err)
	}
	return nil
}

// NearbyBuses uses ST_DWithin/ST_Distance when PostGIS is available;
// otherwise it pulls the active set and filters in Go.
func (s *PSQLStorage) NearbyBuses(lat, lng, radiusKm float64, limit int) ([]*model.Bus, error) {
	if s.postGIS {
		return s.nearbyBusesPostGIS(lat, lng, radiusKm, limit)
	}
	return s.nearbyBusesFallback(lat, lng, radiusKm, limit)
}

func (s *PSQLStorage) nearbyBusesPostGIS(lat, lng, radiusKm float64, limit int) ([]*model.Bus, error) {
	query := `
SELECT id, registration_no, capacity, lat, lng, heading, speed, passenger_count, status, route_id, simulated, updated_at
FROM buses
WHERE status = 'ACTIVE'
  AND ST_DWithin(
        ST_SetSRID(ST_MakePoint(lng, lat), 4326)::geography,
        ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography,
        $3
      )
ORDER BY ST_Distance(
    ST_SetSRID(ST_MakePoint(lng, lat), 4326)::geography,
    ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography
)`
	params := []interface{}{lng, lat, radiusKm * 1000}
	if limit > 0 {
		query += " LIMIT $4"
		params = append(params, limit)
	}

	rows, err := s.db.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("querying nearby buses (postgis): %w", err)
	}
	defer rows.Close()

	var buses []*model.Bus
	for rows.Next() {
		b, err := scanBus(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning bus: %w", err)
		}
		buses = append(buses, b)
	}
	return buses, rows.Err()
}

func (s *PSQLStorage) nearbyBusesFallback(lat, lng, radiusKm float64, limit int) ([]*model.Bus, error) {
	buses, err := s.ListBuses(BusFilter{Status: model.BusStatusActive})
	if err != nil {
		return nil, fmt.Errorf("listing active buses: %w", err)
	}
	return filterNearby(buses, lat, lng, radiusKm, limit), nil
}

func (s *PSQLStorage) DeleteSimulatedBuses() error {
	_, err := s.db.Exec(`DELETE FROM buses WHERE simulated = true`)
	if err != nil {
		return fmt.Errorf("deleting simulated buses: %w", err)
	}
	return nil
}

func (s *PSQLStorage) GetDriver(id string) (*model.Driver, error) {
	row := s.db.QueryRow(`SELECT id, user_id, license, approved, bus_id, state, updated_at FROM drivers WHERE id = $1`, id)
	d, err := scanDriver(row)
	if err != nil {
		return nil, fmt.Errorf("getting driver %q: %w", id, err)
	}
	return d, nil
}

func scanDriver(row rowScanner) (*model.Driver, error) {
	var d model.Driver
	if err := row.Scan(&d.ID, &d.UserID, &d.License, &d.Approved, &d.BusID, &d.State, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.UpdatedAt = d.UpdatedAt.UTC()
	return &d, nil
}

func (s *PSQLStorage) GetDriverByUserID(userID string) (*model.Driver, error) {
	row := s.db.QueryRow(`SELECT id, user_id, license, approved, bus_id, state, updated_at FROM drivers WHERE user_id = $1`, userID)
	d, err := scanDriver(row)
	if err != nil {
		return nil, fmt.Errorf("getting driver for user %q: %w", userID, err)
	}
	return d, nil
}

func (s *PSQLStorage) UpsertDriver(driver *model.Driver) error {
	if driver.ID == "" {
		return fmt.Errorf("driver id is required")
	}
	_, err := s.db.Exec(`
INSERT INTO drivers (id, user_id, license, approved, bus_id, state, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (id) DO UPDATE SET
    user_id = EXCLUDED.user_id,
    license = EXCLUDED.license,
    approved = EXCLUDED.approved,
    bus_id = EXCLUDED.bus_id,
    state = EXCLUDED.state,
    updated_at = now()`,
		driver.ID, driver.UserID, driver.License, driver.Approved, driver.BusID, driver.State,
	)
	if err != nil {
		return fmt.Errorf("upserting driver %q: %w", driver.ID, err)
	}
	return nil
}

func (s *PSQLStorage) ListRoutes() ([]*model.Route, error) {
	rows, err := s.db.Query(`SELECT id, number, name, type, polyline, avg_speed_kmh, distance_km, stops FROM routes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing routes: %w", err)
	}
	defer rows.Close()

	var routes []*model.Route
	for rows.Next() {
		r, err := scanRoute(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning route: %w", err)
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

func scanRoute(row rowScanner) (*model.Route, error) {
	var r model.Route
	var polylineJSON, stopsJSON []byte
	if err := row.Scan(&r.ID, &r.Number, &r.Name, &r.Type, &polylineJSON, &r.AvgSpeedKmh, &r.DistanceKm, &stopsJSON); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(polylineJSON, &r.Polyline); err != nil {
		return nil, fmt.Errorf("unmarshaling polyline: %w", err)
	}
	if err := json.Unmarshal(stopsJSON, &r.Stops); err != nil {
		return nil, fmt.Errorf("unmarshaling stops: %w", err)
	}
	return &r, nil
}

func (s *PSQLStorage) GetRoute(id string) (*model.Route, error) {
	row := s.db.QueryRow(`SELECT id, number, name, type, polyline, avg_speed_kmh, distance_km, stops FROM routes WHERE id = $1`, id)
	r, err := scanRoute(row)
	if err != nil {
		return nil, fmt.Errorf("getting route %q: %w", id, err)
	}
	return r, nil
}

func (s *PSQLStorage) UpsertRoute(route *model.Route) error {
	if route.ID == "" {
		return fmt.Errorf("route id is required")
	}
	polylineJSON, err := json.Marshal(route.Polyline)
	if err != nil {
		return fmt.Errorf("marshaling polyline: %w", err)
	}
	stopsJSON, err := json.Marshal(route.Stops)
	if err != nil {
		return fmt.Errorf("marshaling stops: %w", err)
	}
	_, err = s.db.Exec(`
INSERT INTO routes (id, number, name, type, polyline, avg_speed_kmh, distance_km, stops)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
    number = EXCLUDED.number,
    name = EXCLUDED.name,
    type = EXCLUDED.type,
    polyline = EXCLUDED.polyline,
    avg_speed_kmh = EXCLUDED.avg_speed_kmh,
    distance_km = EXCLUDED.distance_km,
    stops = EXCLUDED.stops`,
		route.ID, route.Number, route.Name, route.Type, polylineJSON, route.AvgSpeedKmh, route.DistanceKm, stopsJSON,
	)
	if err != nil {
		return fmt.Errorf("upserting route %q: %w", route.ID, err)
	}
	return nil
}

func (s *PSQLStorage) GetActiveTrip(busID string) (*model.Trip, error) {
	row := s.db.QueryRow(`
SELECT id, bus_id, driver_id, route_id, start_time, COALESCE(end_time, start_time), status
FROM trips WHERE bus_id = $1 AND status = 'IN_PROGRESS'`, busID)

	var t model.Trip
	err := row.Scan(&t.ID, &t.BusID, &t.DriverID, &t.RouteID, &t.StartTime, &t.EndTime, &t.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting active trip for bus %q: %w", busID, err)
	}
	return &t, nil
}

// StartTrip writes the trip row and activates the bus inside a single
// transaction: the two writes must land together or not at all.
func (s *PSQLStorage) StartTrip(trip *model.Trip) error {
	if trip.ID == "" {
		return fmt.Errorf("trip id is required")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	var existing int
	err = tx.QueryRow(`SELECT count(*) FROM trips WHERE bus_id = $1 AND status = 'IN_PROGRESS'`, trip.BusID).Scan(&existing)
	if err != nil {
		return fmt.Errorf("checking active trip: %w", err)
	}
	if existing > 0 {
		return fmt.Errorf("bus %q already has an in-progress trip", trip.BusID)
	}

	_, err = tx.Exec(`
INSERT INTO trips (id, bus_id, driver_id, route_id, start_time, status)
VALUES ($1, $2, $3, $4, $5, 'IN_PROGRESS')`,
		trip.ID, trip.BusID, trip.DriverID, trip.RouteID, trip.StartTime,
	)
	if err != nil {
		return fmt.Errorf("inserting trip: %w", err)
	}

	_, err = tx.Exec(`UPDATE buses SET status = 'ACTIVE', updated_at = now() WHERE id = $1`, trip.BusID)
	if err != nil {
		return fmt.Errorf("activating bus: %w", err)
	}

	return tx.Commit()
}

func (s *PSQLStorage) EndTrip(tripID string, status model.TripStatus, endTime time.Time) error {
	_, err := s.db.Exec(`UPDATE trips SET status = $2, end_time = $3 WHERE id = $1`, tripID, status, endTime)
	if err != nil {
		return fmt.Errorf("ending trip %q: %w", tripID, err)
	}
	return nil
}

func (s *PSQLStorage) ClearGraph() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM graph_edges`); err != nil {
		return fmt.Errorf("clearing graph edges: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM stop_nodes`); err != nil {
		return fmt.Errorf("clearing stop nodes: %w", err)
	}
	return tx.Commit()
}

func (s *PSQLStorage) WriteStopNodes(nodes []model.StopNode) error {
	if len(nodes) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO stop_nodes (id, stop_id, name, lat, lng) VALUES ($1, $2, $3, $4, $5)`)
	if err != nil {
		return fmt.Errorf("preparing stop node insert: %w", err)
	}
	defer stmt.Close()

	for _, n := range nodes {
		if _, err := stmt.Exec(n.ID, n.StopID, n.Name, n.Lat, n.Lng); err != nil {
			return fmt.Errorf("inserting stop node %q: %w", n.ID, err)
		}
	}
	return tx.Commit()
}

func (s *PSQLStorage) WriteGraphEdges(edges []model.GraphEdge) error {
	if len(edges) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
INSERT INTO graph_edges (id, from_node_id, to_node_id, route_id, route_number, distance_km, avg_travel_time, transfer_cost, stop_order)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	if err != nil {
		return fmt.Errorf("preparing edge insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range edges {
		_, err := stmt.Exec(e.ID, e.FromNodeID, e.ToNodeID, e.RouteID, e.RouteNumber, e.DistanceKm, e.AvgTravelTime, e.TransferCost, e.StopOrder)
		if err != nil {
			return fmt.Errorf("inserting edge %q: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

func (s *PSQLStorage) ListStopNodes() ([]model.StopNode, error) {
	rows, err := s.db.Query(`SELECT id, stop_id, name, lat, lng FROM stop_nodes`)
	if err != nil {
		return nil, fmt.Errorf("listing stop nodes: %w", err)
	}
	defer rows.Close()

	var nodes []model.StopNode
	for rows.Next() {
		var n model.StopNode
		if err := rows.Scan(&n.ID, &n.StopID, &n.Name, &n.Lat, &n.Lng); err != nil {
			return nil, fmt.Errorf("scanning stop node: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (s *PSQLStorage) ListGraphEdges() ([]model.GraphEdge, error) {
	rows, err := s.db.Query(`SELECT id, from_node_id, to_node_id, route_id, route_number, distance_km, avg_travel_time, transfer_cost, stop_order FROM graph_edges`)
	if err != nil {
		return nil, fmt.Errorf("listing graph edges: %w", err)
	}
	defer rows.Close()

	var edges []model.GraphEdge
	for rows.Next() {
		var e model.GraphEdge
		err := rows.Scan(&e.ID, &e.FromNodeID, &e.ToNodeID, &e.RouteID, &e.RouteNumber, &e.DistanceKm, &e.AvgTravelTime, &e.TransferCost, &e.StopOrder)
		if err != nil {
			return nil, fmt.Errorf("scanning graph edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (s *PSQLStorage) WriteDriverStateLog(entry DriverStateLogEntry) error {
	_, err := s.db.Exec(`
INSERT INTO driver_state_logs (driver_id, from_state, to_state, forced, legal, reason, ts)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.DriverID, entry.From, entry.To, entry.Forced, entry.Legal, entry.Reason, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("writing driver state log: %w", err)
	}
	return nil
}

func (s *PSQLStorage) GetUser(id string) (*model.User, error) {
	var u model.User
	var tokensJSON []byte
	err := s.db.QueryRow(`SELECT id, role, push_tokens FROM users WHERE id = $1`, id).Scan(&u.ID, &u.Role, &tokensJSON)
	if err != nil {
		return nil, fmt.Errorf("getting user %q: %w", id, err)
	}
	if err := json.Unmarshal(tokensJSON, &u.PushTokens); err != nil {
		return nil, fmt.Errorf("unmarshaling push tokens: %w", err)
	}
	return &u, nil
}

func (s *PSQLStorage) ListUsersByRole(role model.UserRole) ([]*model.User, error) {
	rows, err := s.db.Query(`SELECT id, role, push_tokens FROM users WHERE role = $1`, role)
	if err != nil {
		return nil, fmt.Errorf("listing users by role %q: %w", role, err)
	}
	defer rows.Close()

	var out []*model.User
	for rows.Next() {
		var u model.User
		var tokensJSON []byte
		if err := rows.Scan(&u.ID, &u.Role, &tokensJSON); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		if err := json.Unmarshal(tokensJSON, &u.PushTokens); err != nil {
			return nil, fmt.Errorf("unmarshaling push tokens: %w", err)
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

func (s *PSQLStorage) UpdateUserPushTokens(userID string, tokens []string) error {
	tokensJSON, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("marshaling push tokens: %w", err)
	}
	_, err = s.db.Exec(`
INSERT INTO users (id, role, push_tokens) VALUES ($1, 'passenger', $2)
ON CONFLICT (id) DO UPDATE SET push_tokens = EXCLUDED.push_tokens`, userID, tokensJSON)
	if err != nil {
		return fmt.Errorf("updating push tokens for user %q: %w", userID, err)
	}
	return nil
}

func (s *PSQLStorage) ListRefreshTokens(userID string) ([]model.RefreshToken, error) {
	rows, err := s.db.Query(`SELECT id, user_id, expires_at FROM refresh_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing refresh tokens: %w", err)
	}
	defer rows.Close()

	var tokens []model.RefreshToken
	for rows.Next() {
		var t model.RefreshToken
		if err := rows.Scan(&t.ID, &t.UserID, &t.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scanning refresh token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (s *PSQLStorage) WriteRefreshToken(token model.RefreshToken) error {
	_, err := s.db.Exec(`
INSERT INTO refresh_tokens (id, user_id, expires_at) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET expires_at = EXCLUDED.expires_at`, token.ID, token.UserID, token.ExpiresAt)
	if err != nil {
		return fmt.Errorf("writing refresh token: %w", err)
	}
	return nil
}

var _ Store = (*PSQLStorage)(nil)
