package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/citytransit/realtime-core/model"
)

// Notification kinds, used both as the sink's dedupe-key component and
// as the payload's "type" field.
const (
	KindHighOccupancy = "occupancy_high"
	KindTripStart     = "trip_start"
	KindTripEnd       = "trip_end"
	KindDelay         = "delay"
	KindArrival       = "arrival"
)

// Occupancy level thresholds mirror the dwell-time bands in the ETA
// engine (§4.4): >70% is the same cutoff that makes a stop's dwell
// jump to its highest tier.
const (
	occupancyFullPercent = 90.0
	occupancyHighPercent = 70.0
)

func occupancyLevel(percent float64) string {
	switch {
	case percent >= occupancyFullPercent:
		return "FULL"
	case percent >= occupancyHighPercent:
		return "HIGH"
	default:
		return "NORMAL"
	}
}

const delayThresholdMinutes = 5
const arrivalThresholdMinutes = 3

// Payload is the generic shape pushed through the sink and fanned out
// to admin subscribers. Kind and BusID double as the sink's dedupe
// key; Data carries kind-specific fields.
type Payload struct {
	Kind  string      `json:"kind"`
	BusID string      `json:"busId"`
	Data  interface{} `json:"data"`
}

// Rules evaluates the opportunistic notification triggers of §4.15
// and forwards every fired notification to OnNotify (wired by
// bootstrap to the realtime hub's admin broadcast). A notification for
// a specific user is also sent through the rate-limited push Sink; one
// with no user (occupancy, trip start/end, delay) is neither pushed nor
// rate-limited, and no passenger list is queried for it.
type Rules struct {
	sink *Sink
	log  zerolog.Logger

	// OnNotify, when set, receives every fired notification, before and
	// regardless of the sink's rate limit: used to fan the decision out to the admin
	// dashboard independent of whether any push token existed.
	OnNotify func(Payload)
}

func NewRules(sink *Sink, log zerolog.Logger) *Rules {
	return &Rules{sink: sink, log: log}
}

func (r *Rules) fire(ctx context.Context, userID, busID, kind string, data interface{}) {
	payload := Payload{Kind: kind, BusID: busID, Data: data}
	if r.OnNotify != nil {
		r.OnNotify(payload)
	}
	if userID == "" || r.sink == nil {
		return
	}
	r.sink.Send(ctx, userID, busID, kind, payload)
}

// EvaluateOccupancy fires the high-occupancy rule on every driver or
// simulated bus update whose occupancy level is HIGH or FULL. There is
// no single "subscriber" for this rule beyond the admin fanout, since
// the bus itself has no owning passenger, so userID is always empty
// and only OnNotify observes it: the push sink is not called, and
// repeats from the same bus are not rate-limited.
func (r *Rules) EvaluateOccupancy(ctx context.Context, bus *model.Bus) {
	level := occupancyLevel(bus.Occupancy())
	if level != "HIGH" && level != "FULL" {
		return
	}
	r.fire(ctx, "", bus.ID, KindHighOccupancy, map[string]interface{}{
		"routeId": bus.RouteID, "level": level, "occupancyPercent": bus.Occupancy(),
	})
}

// EvaluateTripStart fires the trip-started rule.
func (r *Rules) EvaluateTripStart(ctx context.Context, trip *model.Trip) {
	r.fire(ctx, "", trip.BusID, KindTripStart, map[string]interface{}{
		"tripId": trip.ID, "routeId": trip.RouteID, "startTime": trip.StartTime,
	})
}

// EvaluateTripEnd fires the trip-ended rule.
func (r *Rules) EvaluateTripEnd(ctx context.Context, trip *model.Trip) {
	r.fire(ctx, "", trip.BusID, KindTripEnd, map[string]interface{}{
		"tripId": trip.ID, "routeId": trip.RouteID, "endTime": trip.EndTime,
	})
}

// EvaluateDelay fires the bus-delayed rule when a reported delay
// exceeds the 5-minute threshold. Nothing in the core's built engines
// currently produces a per-bus "reported delay" figure, since that
// number is expected to arrive from the out-of-scope administrative
// surface (a dispatcher flagging a route), so this is exposed as a
// standalone entry point rather than called from any realtime handler.
func (r *Rules) EvaluateDelay(ctx context.Context, routeID, busID string, delayMinutes float64) {
	if delayMinutes <= delayThresholdMinutes {
		return
	}
	r.fire(ctx, "", busID, KindDelay, map[string]interface{}{
		"routeId": routeID, "delayMinutes": delayMinutes,
	})
}

// EvaluateArrival fires the bus-arriving rule for a specific passenger
// once their predictive ETA to a given bus drops to 3 minutes or less.
func (r *Rules) EvaluateArrival(ctx context.Context, userID string, bus *model.Bus, etaMinutes int) {
	if etaMinutes > arrivalThresholdMinutes {
		return
	}
	r.fire(ctx, userID, bus.ID, KindArrival, map[string]interface{}{
		"routeId": bus.RouteID, "etaMinutes": etaMinutes,
		"message": fmt.Sprintf("Your bus arrives in %d min", etaMinutes),
	})
}
