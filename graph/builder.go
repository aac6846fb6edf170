package graph

import (
	"fmt"
	"strings"

	"github.com/citytransit/realtime-core/geo"
	"github.com/citytransit/realtime-core/model"
	"github.com/citytransit/realtime-core/storage"
)

// WalkingRadiusKm is the maximum distance between two distinct-route
// stops that earns a bidirectional walking transfer edge.
const WalkingRadiusKm = 2.5

// WalkSpeedKmh is the assumed pedestrian pace used to time walking
// edges and legs.
const WalkSpeedKmh = 4.5

// TransferPenaltyMinutes is the fixed cost added to a walking edge on
// top of its travel time.
const TransferPenaltyMinutes = 3.0

// Build constructs StopNodes and GraphEdges from routes, deduplicating
// stops by case-folded name, then clears and atomically rewrites the
// store's graph tables.
func Build(store storage.Store, routes []*model.Route) error {
	nodesByName := map[string]model.StopNode{}
	routeSets := map[string]map[string]bool{} // nodeId -> set of routeIds serving it

	nodeID := func(name string) string {
		return fmt.Sprintf("node:%s", strings.ToLower(name))
	}

	var edges []model.GraphEdge
	edgeSeq := 0
	nextEdgeID := func() string {
		edgeSeq++
		return fmt.Sprintf("edge:%d", edgeSeq)
	}

	for _, route := range routes {
		stops := route.Stops
		for i := 0; i < len(stops); i++ {
			name := strings.ToLower(stops[i].Name)
			id := nodeID(stops[i].Name)
			if _, ok := nodesByName[name]; !ok {
				nodesByName[name] = model.StopNode{
					ID:     id,
					StopID: stops[i].StopID,
					Name:   stops[i].Name,
					Lat:    stops[i].Lat,
					Lng:    stops[i].Lng,
				}
			}
			if routeSets[id] == nil {
				routeSets[id] = map[string]bool{}
			}
			routeSets[id][route.ID] = true
		}

		for i := 0; i < len(stops)-1; i++ {
			a := stops[i]
			b := stops[i+1]
			aID := nodeID(a.Name)
			bID := nodeID(b.Name)
			distKm := geo.HaversineDistance(a.Lat, a.Lng, b.Lat, b.Lng)
			travelMin := distKm / route.AvgSpeedKmh * 60

			edges = append(edges,
				model.GraphEdge{ID: nextEdgeID(), FromNodeID: aID, ToNodeID: bID, RouteID: route.ID, RouteNumber: route.Number, DistanceKm: distKm, AvgTravelTime: travelMin, TransferCost: 0, StopOrder: i},
				model.GraphEdge{ID: nextEdgeID(), FromNodeID: bID, ToNodeID: aID, RouteID: route.ID, RouteNumber: route.Number, DistanceKm: distKm, AvgTravelTime: travelMin, TransferCost: 0, StopOrder: i + 1},
			)
		}
	}

	nodeIDs := make([]string, 0, len(nodesByName))
	nodes := make([]model.StopNode, 0, len(nodesByName))
	nodesByID := map[string]model.StopNode{}
	for _, n := range nodesByName {
		nodeIDs = append(nodeIDs, n.ID)
		nodes = append(nodes, n)
		nodesByID[n.ID] = n
	}

	for i := 0; i < len(nodeIDs); i++ {
		for j := i + 1; j < len(nodeIDs); j++ {
			a, b := nodeIDs[i], nodeIDs[j]
			if sameRouteSets(routeSets[a], routeSets[b]) {
				continue
			}

			nodeA, nodeB := nodesByID[a], nodesByID[b]
			distKm := geo.HaversineDistance(nodeA.Lat, nodeA.Lng, nodeB.Lat, nodeB.Lng)
			if distKm > WalkingRadiusKm {
				continue
			}

			walkMin := distKm/WalkSpeedKmh*60 + TransferPenaltyMinutes
			edges = append(edges,
				model.GraphEdge{ID: nextEdgeID(), FromNodeID: a, ToNodeID: b, RouteID: model.TransferRouteID, RouteNumber: "WALK", DistanceKm: distKm, AvgTravelTime: walkMin, TransferCost: TransferPenaltyMinutes},
				model.GraphEdge{ID: nextEdgeID(), FromNodeID: b, ToNodeID: a, RouteID: model.TransferRouteID, RouteNumber: "WALK", DistanceKm: distKm, AvgTravelTime: walkMin, TransferCost: TransferPenaltyMinutes},
			)
		}
	}

	if err := store.ClearGraph(); err != nil {
		return fmt.Errorf("clearing graph: %w", err)
	}
	if err := store.WriteStopNodes(nodes); err != nil {
		return fmt.Errorf("writing stop nodes: %w", err)
	}
	if err := store.WriteGraphEdges(edges); err != nil {
		return fmt.Errorf("writing graph edges: %w", err)
	}

	return nil
}

func sameRouteSets(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}
