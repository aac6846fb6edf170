package graph

import (
	"sort"
	"strings"
	"time"

	"github.com/citytransit/realtime-core/geo"
	"github.com/citytransit/realtime-core/intel"
	"github.com/citytransit/realtime-core/model"
)

// assumedMinutesPerStop estimates a stop-based travel time when no
// live speed signal is available, generalizing the per-stop dwell
// assumption the predictive ETA uses for upcoming-stop delay.
const assumedMinutesPerStop = 1.5

// nearestStopRadiusKm is the fallback resolution radius once exact
// and fuzzy name matches fail.
const nearestStopRadiusKm = 2.0

// StopQuery identifies a requested origin or destination: a name to
// resolve exactly/fuzzily, and optional coordinates for the nearest-
// stop fallback.
type StopQuery struct {
	Name      string
	Lat       float64
	Lng       float64
	HasCoords bool
}

// ResolveStop resolves a StopQuery against idx: exact name, then
// fuzzy containment (both handled by Index.FindByName), then nearest
// node within nearestStopRadiusKm.
func ResolveStop(idx *Index, q StopQuery) (model.StopNode, bool) {
	if q.Name != "" {
		if node, ok := idx.FindByName(q.Name); ok {
			return node, true
		}
	}
	if q.HasCoords {
		nearest := idx.NearestNodes(q.Lat, q.Lng, nearestStopRadiusKm, 1)
		if len(nearest) > 0 {
			return nearest[0], true
		}
	}
	return model.StopNode{}, false
}

// DirectResult is a single-route, no-transfer itinerary candidate.
type DirectResult struct {
	RouteID          string
	RouteNumber      string
	OriginStopName   string
	DestStopName     string
	StopCount        int
	DistanceKm       float64
	ETAMinutes       float64
	IntermediateStops int
}

// DirectLookup is the primary route-planning strategy (§4.12): it
// looks for a single route serving both stops before falling back to
// the Dijkstra planner. A non-empty result bypasses the planner
// entirely.
func DirectLookup(routes []*model.Route, idx *Index, origin, dest StopQuery, engine *intel.Engine, now time.Time) []DirectResult {
	originNode, ok := ResolveStop(idx, origin)
	if !ok {
		return nil
	}
	destNode, ok := ResolveStop(idx, dest)
	if !ok || originNode.ID == destNode.ID {
		return nil
	}

	originFold := strings.ToLower(originNode.Name)
	destFold := strings.ToLower(destNode.Name)

	var results []DirectResult
	for _, route := range routes {
		originIdx, destIdx := -1, -1
		for i, s := range route.Stops {
			name := strings.ToLower(s.Name)
			if name == originFold {
				originIdx = i
			}
			if name == destFold {
				destIdx = i
			}
		}
		if originIdx == -1 || destIdx == -1 {
			continue
		}
		if !(route.Stops[originIdx].Order < route.Stops[destIdx].Order) {
			continue
		}

		stopSpan := route.Stops[destIdx].Order - route.Stops[originIdx].Order
		distanceKm := legDistanceKm(route, originIdx, destIdx, originNode, destNode)

		var speedBasedMin float64
		if route.AvgSpeedKmh > 0 {
			speedBasedMin = distanceKm / route.AvgSpeedKmh * 60
		}
		stopBasedMin := float64(stopSpan) * assumedMinutesPerStop

		etaMin := speedBasedMin
		if stopBasedMin*0.7 > etaMin {
			etaMin = stopBasedMin * 0.7
		}

		if engine != nil {
			factor, _ := engine.TrafficFactor(now, route.ID, 0, route.AvgSpeedKmh, 0)
			etaMin *= factor
		}

		results = append(results, DirectResult{
			RouteID: route.ID, RouteNumber: route.Number,
			OriginStopName: originNode.Name, DestStopName: destNode.Name,
			StopCount: stopSpan + 1, DistanceKm: distanceKm, ETAMinutes: etaMin,
			IntermediateStops: stopSpan - 1,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].ETAMinutes != results[j].ETAMinutes {
			return results[i].ETAMinutes < results[j].ETAMinutes
		}
		return results[i].IntermediateStops < results[j].IntermediateStops
	})

	return results
}

// legDistanceKm scales the route's total declared distance by the
// fraction of its stop span covered, falling back to straight-line
// distance when the route's stop orders don't span a usable range.
func legDistanceKm(route *model.Route, originIdx, destIdx int, originNode, destNode model.StopNode) float64 {
	totalSpan := route.Stops[len(route.Stops)-1].Order - route.Stops[0].Order
	if totalSpan <= 0 || route.DistanceKm <= 0 {
		return geo.HaversineDistance(originNode.Lat, originNode.Lng, destNode.Lat, destNode.Lng)
	}
	span := route.Stops[destIdx].Order - route.Stops[originIdx].Order
	return route.DistanceKm * float64(span) / float64(totalSpan)
}
