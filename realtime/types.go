// Package realtime implements the passenger, driver, and admin
// namespaces described in §4.14: JWT-authenticated websocket
// connections, a per-connection event handler table, the driver
// connect/location/trip/disconnect flows, the passenger nearby-bus
// query, and fanout to subscribers.
package realtime

import "time"

// Namespace distinguishes the three logical connection types. Each
// carries its own authentication rule and handler set.
type Namespace string

const (
	NamespacePassenger Namespace = "passenger"
	NamespaceDriver    Namespace = "driver"
	NamespaceAdmin     Namespace = "admin"
)

// Heartbeat cadence the driver client is expected to honor (§4.14);
// the server only acks, it does not enforce the interval itself.
const HeartbeatInterval = 20 * time.Second

// replayBufferSize bounds the offline location buffer a driver client
// may replay on reconnect.
const replayBufferSize = 30

// Driver -> server event names.
const (
	EventDriverLocationUpdate = "driver:location:update"
	EventDriverHeartbeat      = "driver:heartbeat"
	EventDriverTripStart      = "driver:trip:start"
	EventDriverTripEnd        = "driver:trip:end"
)

// Server -> driver event names.
const (
	EventDriverInit            = "driver:init"
	EventDriverHeartbeatAck    = "driver:heartbeat:ack"
	EventLocationConfirmed     = "location:confirmed"
	EventLocationRejected      = "location:rejected"
	EventTripStarted           = "trip:started"
	EventTripEnded             = "trip:ended"
	EventDriverPendingApproval = "driver:pending-approval"
	EventDriverNoBusAssigned   = "driver:no-bus-assigned"
	EventDriverApproved        = "driver:approved"
	EventDriverBusAssigned     = "driver:bus-assigned"
	EventDriverRejected        = "driver:rejected"
	EventDriverForceOffline    = "driver:force-offline"
	EventError                 = "error"
)

// Passenger -> server event names.
const (
	EventLocationSend = "location:send"
)

// Server -> passenger event names.
const (
	EventBusesSnapshot    = "buses:snapshot"
	EventBusesNearby      = "buses:nearby"
	EventBusesSuggestions = "buses:suggestions"
	EventBusUpdate        = "bus:update"
	EventBusOffline       = "bus:offline"
)

// Server -> admin event names.
const (
	EventBusesUpdate         = "buses:update"
	EventBusesAll            = "buses:all"
	EventDriverDisconnected  = "driver:disconnected"
	EventDriverApprovalDone  = "driver:approval-updated"
	EventNotificationNew     = "notification:new"
	EventDriversStatusCounts = "drivers:status"
)

// BusView is the public-facing projection of a model.Bus sent to
// passengers and admins.
type BusView struct {
	BusID          string  `json:"busId"`
	RouteID        string  `json:"routeId"`
	Lat            float64 `json:"lat"`
	Lng            float64 `json:"lng"`
	Heading        float64 `json:"heading"`
	Speed          float64 `json:"speed"`
	PassengerCount int     `json:"passengerCount"`
	Capacity       int     `json:"capacity"`
	Occupancy      float64 `json:"occupancy"`
	Simulated      bool    `json:"simulated"`
}

// EnrichedBus is a BusView augmented with the intelligence pipeline's
// per-request signals, returned from the passenger nearby-bus query.
type EnrichedBus struct {
	BusView
	ETAMinutes      int     `json:"etaMinutes"`
	ETAFormatted    string  `json:"etaFormatted"`
	DistanceMeters  float64 `json:"distanceMeters"`
	TrafficLevel    string  `json:"trafficLevel"`
	CongestionLevel string  `json:"congestionLevel"`
	Confidence      float64 `json:"confidence"`
	ConfidenceLabel string  `json:"confidenceLabel"`
	Reliability     int     `json:"reliability"`
	ReliabilityLabel string `json:"reliabilityLabel"`
}

// SuggestionView is the wire shape of an intel.Suggestion.
type SuggestionView struct {
	BusID  string  `json:"busId"`
	Rank   int     `json:"rank"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}
