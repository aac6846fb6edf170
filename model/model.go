// Package model holds the external-facing domain types shared by
// storage, the intelligence engines, the transit graph, and the
// realtime channel.
package model

import "time"

// BusStatus is the operational status of a bus.
type BusStatus string

const (
	BusStatusActive      BusStatus = "ACTIVE"
	BusStatusOffline     BusStatus = "OFFLINE"
	BusStatusMaintenance BusStatus = "MAINTENANCE"
)

// DriverState is a node in the driver session state machine (see
// driverstate.Machine for the transition table).
type DriverState string

const (
	DriverStatePending      DriverState = "PENDING"
	DriverStateOffline      DriverState = "OFFLINE"
	DriverStateOnline       DriverState = "ONLINE"
	DriverStateOnTrip       DriverState = "ON_TRIP"
	DriverStateIdle         DriverState = "IDLE"
	DriverStateDisconnected DriverState = "DISCONNECTED"
	DriverStateRejected     DriverState = "REJECTED"
)

// TripStatus is the lifecycle status of a Trip.
type TripStatus string

const (
	TripStatusInProgress TripStatus = "IN_PROGRESS"
	TripStatusCompleted  TripStatus = "COMPLETED"
	TripStatusCancelled  TripStatus = "CANCELLED"
)

// UserRole distinguishes the three realtime namespaces.
type UserRole string

const (
	UserRolePassenger UserRole = "passenger"
	UserRoleDriver    UserRole = "driver"
	UserRoleAdmin     UserRole = "admin"
)

// Bus is a single vehicle, simulated or driver-controlled. Invariant:
// 0 <= PassengerCount <= Capacity. Mutated only by the simulation tick,
// a driver location update, or an administrative assignment.
type Bus struct {
	ID             string
	RegistrationNo string
	Capacity       int
	Lat            float64
	Lng            float64
	Heading        float64
	Speed          float64
	PassengerCount int
	Status         BusStatus
	RouteID        string
	Simulated      bool
	UpdatedAt      time.Time
}

// Occupancy returns the passenger load as a percentage of capacity, or
// 0 when capacity is not positive.
func (b Bus) Occupancy() float64 {
	if b.Capacity <= 0 {
		return 0
	}
	return 100 * float64(b.PassengerCount) / float64(b.Capacity)
}

// Driver is a transit operator account. A driver owns at most one bus
// at a time; a bus is owned by at most one approved driver.
type Driver struct {
	ID        string
	UserID    string
	License   string
	Approved  bool
	BusID     string // empty when unassigned
	State     DriverState
	UpdatedAt time.Time
}

// Point is a single lat/lng pair, used for declared route polylines.
type Point struct {
	Lat float64
	Lng float64
}

// Route is an administratively declared bus line: a polyline, a speed
// profile, and an ordered list of stops.
type Route struct {
	ID          string
	Number      string
	Name        string
	Type        string
	Polyline    []Point
	AvgSpeedKmh float64
	DistanceKm  float64
	Stops       []RouteStop
}

// RouteStop is a Stop's position within a Route's ordered stop list.
type RouteStop struct {
	StopID string
	Name   string
	Lat    float64
	Lng    float64
	Order  int
}

// Stop is an administratively declared boarding location. Stops are
// deduplicated by case-folded name across routes to become graph
// nodes (see StopNode).
type Stop struct {
	ID    string
	Name  string
	Lat   float64
	Lng   float64
	Order int
}

// Trip tracks a single bus's journey. Invariant: a bus has at most one
// IN_PROGRESS trip at a time.
type Trip struct {
	ID        string
	BusID     string
	DriverID  string
	RouteID   string
	StartTime time.Time
	EndTime   time.Time
	Status    TripStatus
}

// User is the minimal account record the core's store must expose:
// authentication and CRUD for it are out of scope, but the core reads
// push tokens and prunes them on delivery failure (see notify).
type User struct {
	ID         string
	Role       UserRole
	PushTokens []string
}

// RefreshToken is a minimal record for the out-of-scope auth surface;
// the core never mints one but the store interface owns the table per
// the external-interfaces table list.
type RefreshToken struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
}

// StopNode is a graph node: a deduplicated stop identity referenced by
// case-folded name.
type StopNode struct {
	ID     string
	StopID string
	Name   string
	Lat    float64
	Lng    float64
}

// TransferRouteID is the sentinel route id used for walking transfer
// edges in the graph.
const TransferRouteID = "transfer"

// GraphEdge is a directed edge between two StopNodes, either a bus
// edge (RouteID is a real route id) or a walking transfer edge
// (RouteID == TransferRouteID).
type GraphEdge struct {
	ID            string
	FromNodeID    string
	ToNodeID      string
	RouteID       string
	RouteNumber   string
	DistanceKm    float64
	AvgTravelTime float64 // minutes
	TransferCost  float64 // minutes
	StopOrder     int
}

// SpeedSample is a single timestamped per-route speed observation held
// in the cache's sliding-window speed memory.
type SpeedSample struct {
	SpeedKmh float64
	At       time.Time
}

// ReliabilityCounters accumulate per-route signal over a 1-hour
// sliding window (TTL renewed on every write).
type ReliabilityCounters struct {
	RouteID               string
	DelayMinutes          float64
	DisconnectCount       int
	HighCongestionMinutes float64
	LastUpdated           time.Time
}
