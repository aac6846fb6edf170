package realtime

import (
	"context"
	"encoding/json"

	"github.com/citytransit/realtime-core/geo"
	"github.com/citytransit/realtime-core/intel"
	"github.com/citytransit/realtime-core/model"
	"github.com/citytransit/realtime-core/storage"
)

const (
	nearbyQueryRadiusKm = 5.0
	nearbyQueryLimit    = 50
	sameRouteRadiusKm   = 0.3 // 300 m
)

// HandlePassengerConnect registers the passenger namespace's single
// inbound handler. Passengers may be guests (claims == nil).
func (h *Hub) HandlePassengerConnect(c *Conn, claims *Claims) {
	if claims != nil {
		c.UserID = claims.UserID
	} else {
		c.Guest = true
	}
	c.RegisterHandlers(map[string]HandlerFunc{
		EventLocationSend: h.handlePassengerLocation,
	})
}

type passengerLocationPayload struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// handlePassengerLocation implements §4.14's passenger location:send
// flow: nearby-bus query, per-bus congestion/occupancy context,
// predictive ETA/confidence/reliability, and the top-3 suggestion
// ranking.
func (h *Hub) handlePassengerLocation(c *Conn, raw json.RawMessage) {
	var in passengerLocationPayload
	if err := json.Unmarshal(raw, &in); err != nil {
		c.SendError("malformed location")
		return
	}

	buses, err := h.Store.NearbyBuses(in.Lat, in.Lng, nearbyQueryRadiusKm, nearbyQueryLimit)
	if err != nil {
		h.Log.Warn().Err(err).Msg("realtime: nearby-bus query failed")
		c.SendError("could not locate nearby buses")
		return
	}

	ctx := context.Background()
	routeCache := map[string][]*model.Bus{}
	enriched := make([]EnrichedBus, 0, len(buses))
	candidates := make([]intel.Candidate, 0, len(buses))

	for _, bus := range buses {
		sameRoute := h.sameRouteBuses(routeCache, bus.RouteID)
		nearbyCount, occAvg := sameRouteContext(sameRoute, bus)

		var eta intel.ETAResult
		var conf intel.ConfidenceResult
		var rel intel.ReliabilityResult
		if h.Intel != nil {
			eta = h.Intel.PredictETA(ctx, intel.ETAInput{
				BusLat: bus.Lat, BusLng: bus.Lng, TargetLat: in.Lat, TargetLng: in.Lng,
				CurrentSpeedKmh: bus.Speed, RouteAvgSpeedKmh: routeAvgSpeed(h.Store, bus.RouteID),
				RouteID: bus.RouteID, OccupancyPercent: bus.Occupancy(),
				NearbyBusCount: nearbyCount, RouteAvgOccupancy: occAvg,
			})
			conf = intel.Confidence(intel.ConfidenceInput{
				TrafficLevel: eta.TrafficLevel, CongestionLevel: eta.CongestionLevel,
				CurrentSpeedKmh: bus.Speed,
			})
			rel = h.Intel.Reliability(ctx, bus.RouteID)
		}

		view := EnrichedBus{
			BusView: busView(bus), ETAMinutes: eta.Minutes, ETAFormatted: eta.Formatted,
			DistanceMeters: eta.DistanceKm * 1000, TrafficLevel: eta.TrafficLevel,
			CongestionLevel: eta.CongestionLevel, Confidence: conf.Score, ConfidenceLabel: conf.Label,
			Reliability: rel.Score, ReliabilityLabel: rel.Label,
		}
		enriched = append(enriched, view)

		candidates = append(candidates, intel.Candidate{
			BusID: bus.ID, ETAMinutes: float64(eta.Minutes), DistanceMeters: view.DistanceMeters,
			OccupancyPercent: bus.Occupancy(), TrafficFactor: trafficFactorFromLevel(eta.TrafficLevel),
			Confidence: conf.Score,
		})

		if h.Notify != nil && eta.Minutes <= 3 && c.UserID != "" {
			h.Notify.EvaluateArrival(ctx, c.UserID, bus, eta.Minutes)
		}
	}

	_ = c.Send(EventBusesNearby, enriched)

	suggestions := intel.RankSuggestions(candidates)
	views := make([]SuggestionView, len(suggestions))
	for i, s := range suggestions {
		views[i] = SuggestionView{BusID: s.BusID, Rank: s.Rank, Score: s.Score, Reason: s.Reason}
	}
	_ = c.Send(EventBusesSuggestions, views)
}

// sameRouteBuses lists every bus on routeID, memoized per call to
// avoid repeat store round-trips when several nearby buses share a
// route.
func (h *Hub) sameRouteBuses(cache map[string][]*model.Bus, routeID string) []*model.Bus {
	if buses, ok := cache[routeID]; ok {
		return buses
	}
	buses, err := h.Store.ListBuses(storage.BusFilter{RouteID: routeID})
	if err != nil {
		return nil
	}
	cache[routeID] = buses
	return buses
}

// sameRouteContext computes the nearby-bus count (other buses on the
// same route within 300 m of bus) and the route's average occupancy.
func sameRouteContext(sameRoute []*model.Bus, bus *model.Bus) (nearbyCount int, occAvg float64) {
	var occSum float64
	for _, other := range sameRoute {
		occSum += other.Occupancy()
		if other.ID == bus.ID {
			continue
		}
		if geo.HaversineDistance(bus.Lat, bus.Lng, other.Lat, other.Lng) <= sameRouteRadiusKm {
			nearbyCount++
		}
	}
	if len(sameRoute) > 0 {
		occAvg = occSum / float64(len(sameRoute))
	}
	return nearbyCount, occAvg
}

func routeAvgSpeed(store storage.Store, routeID string) float64 {
	route, err := store.GetRoute(routeID)
	if err != nil || route == nil {
		return 0
	}
	return route.AvgSpeedKmh
}

func trafficFactorFromLevel(level string) float64 {
	switch level {
	case intel.TrafficHigh:
		return 1.25
	case intel.TrafficModerate:
		return 1.12
	default:
		return 1.0
	}
}
