package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/citytransit/realtime-core/driverstate"
	"github.com/citytransit/realtime-core/geo"
	"github.com/citytransit/realtime-core/hybrid"
	"github.com/citytransit/realtime-core/model"
)

// driverInitPayload is the crash-recovery handshake sent once the
// driver's socket is fully registered (§6's server->driver table).
type driverInitPayload struct {
	DriverID       string     `json:"driverId"`
	UserID         string     `json:"userId"`
	BusID          string     `json:"busId"`
	RegistrationNo string     `json:"registrationNo"`
	RouteID        string     `json:"routeId,omitempty"`
	RouteNumber    string     `json:"routeNumber,omitempty"`
	RouteName      string     `json:"routeName,omitempty"`
	Capacity       int        `json:"capacity"`
	Approved       bool       `json:"approved"`
	Status         string     `json:"status"`
	ActiveTripID   string     `json:"activeTripId,omitempty"`
	TripStartTime  *time.Time `json:"tripStartTime,omitempty"`
}

// HandleDriverConnect implements the driver connect flow (§4.14): it
// authenticates-adjacent lookups (approval, bus assignment), attempts
// hybrid registration, writes the bus active, transitions the driver
// to ONLINE, starts the heartbeat-key refresh loop, and emits
// driver:init.
func (h *Hub) HandleDriverConnect(c *Conn, claims *Claims) {
	driver, err := h.Store.GetDriverByUserID(claims.UserID)
	if err != nil {
		c.SendError("driver record not found")
		c.close()
		return
	}
	c.UserID = claims.UserID
	c.DriverID = driver.ID

	if !driver.Approved {
		c.ClearHandlers()
		_ = c.Send(EventDriverPendingApproval, nil)
		return
	}
	if driver.BusID == "" {
		c.ClearHandlers()
		_ = c.Send(EventDriverNoBusAssigned, nil)
		return
	}

	bus, err := h.Store.GetBus(driver.BusID)
	if err != nil {
		c.SendError("assigned bus not found")
		c.close()
		return
	}
	c.BusID = bus.ID
	c.RouteID = bus.RouteID

	if err := h.Hybrid.Register(bus.ID, driver.ID, bus.RouteID); err != nil {
		c.SendError(err.Error())
		c.close()
		return
	}

	bus.Status = model.BusStatusActive
	bus.Simulated = false
	if err := h.Store.UpsertBus(bus); err != nil {
		h.Log.Warn().Err(err).Str("bus", bus.ID).Msg("realtime: driver connect bus write failed")
	}

	h.DriverState.Transition(driver.ID, driver.State, model.DriverStateOnline, "driver connected")
	driver.State = model.DriverStateOnline
	if err := h.Store.UpsertDriver(driver); err != nil {
		h.Log.Warn().Err(err).Str("driver", driver.ID).Msg("realtime: driver connect state write failed")
	}
	h.DriverState.RecordActivity(driver.ID)
	h.DriverState.SetSocket(driver.ID, driver.ID)

	h.startHeartbeatRefresh(c, claims.UserID, bus.ID)

	var route *model.Route
	if bus.RouteID != "" {
		route, _ = h.Store.GetRoute(bus.RouteID)
	}

	init := driverInitPayload{
		DriverID: driver.ID, UserID: claims.UserID, BusID: bus.ID,
		RegistrationNo: bus.RegistrationNo, Capacity: bus.Capacity,
		Approved: true, Status: string(model.DriverStateOnline),
	}
	if route != nil {
		init.RouteID = route.ID
		init.RouteNumber = route.Number
		init.RouteName = route.Name
	}
	if trip, err := h.Store.GetActiveTrip(bus.ID); err == nil && trip != nil && trip.Status == model.TripStatusInProgress {
		init.ActiveTripID = trip.ID
		start := trip.StartTime
		init.TripStartTime = &start
	}

	c.RegisterHandlers(map[string]HandlerFunc{
		EventDriverLocationUpdate: h.handleDriverLocation,
		EventDriverHeartbeat:      h.handleDriverHeartbeat,
		EventDriverTripStart:      h.handleDriverTripStart,
		EventDriverTripEnd:        h.handleDriverTripEnd,
	})

	_ = c.Send(EventDriverInit, init)
}

type locationUpdatePayload struct {
	BusID          string   `json:"busId"`
	Lat            float64  `json:"lat"`
	Lng            float64  `json:"lng"`
	Speed          float64  `json:"speed"`
	Heading        *float64 `json:"heading"`
	Accuracy       float64  `json:"accuracy"`
	PassengerCount *int     `json:"passengerCount"`
}

// handleDriverLocation implements the driver location handler
// (§4.14): safety validation, activity/idle recovery, heading
// inference, store write, hybrid position record, speed-memory push,
// fanout, pubsub publish, notification evaluation, and the
// location:confirmed echo.
func (h *Hub) handleDriverLocation(c *Conn, raw json.RawMessage) {
	var in locationUpdatePayload
	if err := json.Unmarshal(raw, &in); err != nil {
		c.SendError("malformed location update")
		return
	}

	update := driverstate.LocationUpdate{
		Lat: in.Lat, Lng: in.Lng, AccuracyMeters: in.Accuracy, SpeedKmh: in.Speed,
	}
	if in.PassengerCount != nil {
		update.HasPassengerCount = true
		update.PassengerCount = *in.PassengerCount
	}

	ok, reason := h.DriverState.Validate(c.DriverID, update)
	if !ok {
		_ = c.Send(EventLocationRejected, map[string]string{"reason": reason})
		return
	}

	h.DriverState.RecordActivity(c.DriverID)

	driver, err := h.Store.GetDriver(c.DriverID)
	if err == nil && driver.State == model.DriverStateIdle {
		if h.DriverState.Transition(c.DriverID, model.DriverStateIdle, model.DriverStateOnline, "location received") {
			driver.State = model.DriverStateOnline
			_ = h.Store.UpsertDriver(driver)
		}
	}

	bus, err := h.Store.GetBus(c.BusID)
	if err != nil {
		c.SendError("bus not found")
		return
	}

	heading := bus.Heading
	if in.Heading != nil {
		heading = *in.Heading
	} else if bus.Lat != 0 || bus.Lng != 0 {
		heading = headingBetween(bus.Lat, bus.Lng, in.Lat, in.Lng, heading)
	}

	bus.Lat, bus.Lng, bus.Speed, bus.Heading = in.Lat, in.Lng, in.Speed, heading
	if in.PassengerCount != nil {
		pc := *in.PassengerCount
		if pc > bus.Capacity {
			pc = bus.Capacity
		}
		if pc < 0 {
			pc = 0
		}
		bus.PassengerCount = pc
	}
	bus.UpdatedAt = time.Now()

	if err := h.Store.UpsertBus(bus); err != nil {
		h.Log.Warn().Err(err).Str("bus", bus.ID).Msg("realtime: location write failed")
	}

	h.Hybrid.RecordPosition(bus.ID, in.Lat, in.Lng)

	ctx := context.Background()
	if h.Cache != nil {
		_ = h.Cache.RecordSpeedSample(ctx, bus.RouteID, in.Speed, time.Now())
	}

	view := busView(bus)
	h.broadcastPassengers(EventBusUpdate, view)
	h.broadcastAdmins(EventBusUpdate, view)

	if payload, err := json.Marshal(view); err == nil {
		h.publishBusLocation(ctx, payload)
	}

	if h.Notify != nil {
		h.Notify.EvaluateOccupancy(ctx, bus)
	}

	_ = c.Send(EventLocationConfirmed, map[string]interface{}{
		"busId": bus.ID, "occupancy": bus.Occupancy(), "timestamp": time.Now().UnixMilli(),
	})
}

// headingBetween falls back to the previous heading when the position
// hasn't meaningfully moved (avoids a spurious bearing from jitter at
// near-zero displacement).
func headingBetween(fromLat, fromLng, toLat, toLng, fallback float64) float64 {
	if fromLat == toLat && fromLng == toLng {
		return fallback
	}
	return geo.InitialBearing(fromLat, fromLng, toLat, toLng)
}

func (h *Hub) handleDriverHeartbeat(c *Conn, raw json.RawMessage) {
	var in struct {
		Timestamp int64 `json:"timestamp"`
	}
	_ = json.Unmarshal(raw, &in)
	h.DriverState.RecordActivity(c.DriverID)
	_ = c.Send(EventDriverHeartbeatAck, map[string]int64{"timestamp": in.Timestamp})
}

func (h *Hub) handleDriverTripStart(c *Conn, _ json.RawMessage) {
	ctx := context.Background()

	if existing, err := h.Store.GetActiveTrip(c.BusID); err == nil && existing != nil && existing.Status == model.TripStatusInProgress {
		c.SendError("trip already in progress")
		return
	}

	trip := &model.Trip{
		ID: uuid.NewString(), BusID: c.BusID, DriverID: c.DriverID, RouteID: c.RouteID,
		StartTime: time.Now(), Status: model.TripStatusInProgress,
	}
	if err := h.Store.StartTrip(trip); err != nil {
		c.SendError("could not start trip")
		return
	}

	h.DriverState.Transition(c.DriverID, model.DriverStateOnline, model.DriverStateOnTrip, "trip started")
	if driver, err := h.Store.GetDriver(c.DriverID); err == nil {
		driver.State = model.DriverStateOnTrip
		_ = h.Store.UpsertDriver(driver)
	}

	if h.Notify != nil {
		h.Notify.EvaluateTripStart(ctx, trip)
	}

	_ = c.Send(EventTripStarted, map[string]interface{}{"tripId": trip.ID, "startTime": trip.StartTime})
	h.broadcastPassengers(EventBusUpdate, map[string]string{"busId": c.BusID, "status": "trip_started"})
}

func (h *Hub) handleDriverTripEnd(c *Conn, _ json.RawMessage) {
	ctx := context.Background()

	trip, err := h.Store.GetActiveTrip(c.BusID)
	if err != nil || trip == nil || trip.Status != model.TripStatusInProgress {
		c.SendError("no trip in progress")
		return
	}

	endTime := time.Now()
	if err := h.Store.EndTrip(trip.ID, model.TripStatusCompleted, endTime); err != nil {
		c.SendError("could not end trip")
		return
	}

	h.DriverState.Transition(c.DriverID, model.DriverStateOnTrip, model.DriverStateOnline, "trip ended")
	if driver, err := h.Store.GetDriver(c.DriverID); err == nil {
		driver.State = model.DriverStateOnline
		_ = h.Store.UpsertDriver(driver)
	}

	if h.Notify != nil {
		h.Notify.EvaluateTripEnd(ctx, trip)
	}

	_ = c.Send(EventTripEnded, map[string]interface{}{"tripId": trip.ID, "endTime": endTime})
}

// HandleDriverDisconnect implements §4.14's driver disconnect flow:
// transition to DISCONNECTED, clear safety history, record the
// disconnect into reliability, and release hybrid ownership with a
// callback that broadcasts bus:offline and cancels any still
// in-progress trip.
func (h *Hub) HandleDriverDisconnect(c *Conn) {
	if c.DriverID == "" {
		return
	}

	if driver, err := h.Store.GetDriver(c.DriverID); err == nil {
		h.DriverState.Transition(c.DriverID, driver.State, model.DriverStateDisconnected, "socket closed")
		driver.State = model.DriverStateDisconnected
		_ = h.Store.UpsertDriver(driver)
	}
	h.DriverState.ClearSafetyHistory(c.DriverID)

	if h.Intel != nil && c.RouteID != "" {
		h.Intel.RecordDisconnect(context.Background(), c.RouteID)
	}

	h.broadcastAdmins(EventDriverDisconnected, map[string]interface{}{
		"driverId": c.DriverID, "busId": c.BusID, "userId": c.UserID, "timestamp": time.Now().UnixMilli(),
	})

	if c.BusID == "" {
		return
	}

	busID, driverID, routeID := c.BusID, c.DriverID, c.RouteID
	h.Hybrid.Unregister(busID, driverID, routeID, func(busID, driverID, routeID string, lastPosition *hybrid.Position) {
		bus, err := h.Store.GetBus(busID)
		if err != nil {
			return
		}
		bus.Status = model.BusStatusActive
		bus.Simulated = true
		bus.Speed = 0
		if lastPosition != nil {
			bus.Lat, bus.Lng = lastPosition.Lat, lastPosition.Lng
		}
		if err := h.Store.UpsertBus(bus); err != nil {
			h.Log.Warn().Err(err).Str("bus", busID).Msg("realtime: grace-expiry bus write failed")
		}

		h.broadcastPassengers(EventBusOffline, map[string]string{"busId": busID})

		if trip, err := h.Store.GetActiveTrip(busID); err == nil && trip != nil && trip.Status == model.TripStatusInProgress {
			_ = h.Store.EndTrip(trip.ID, model.TripStatusCancelled, time.Now())
		}
	})
}

// startHeartbeatRefresh writes the driver socket/reverse-lookup cache
// keys (§6) and refreshes them every 20 s for the life of the
// connection; the refresh loop stops when the connection's read loop
// returns (server.go cancels via the stop channel).
func (h *Hub) startHeartbeatRefresh(c *Conn, userID, busID string) {
	if h.Cache == nil {
		return
	}
	write := func() {
		ctx := context.Background()
		_ = h.Cache.SetDriverSocket(ctx, userID, userID)
		_ = h.Cache.SetBusDriver(ctx, busID, userID)
	}
	write()

	go func() {
		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-ticker.C:
				write()
			}
		}
	}()
}
