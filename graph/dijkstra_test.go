package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citytransit/realtime-core/model"
)

// linearIndex builds A -> B -> C -> D all on route "r1", plus a
// walking shortcut B -> D that costs more than the direct ride, so
// the cheapest path stays on the bus.
func linearIndex() *Index {
	adj := map[string][]model.GraphEdge{
		"A": {{FromNodeID: "A", ToNodeID: "B", RouteID: "r1", AvgTravelTime: 2}},
		"B": {
			{FromNodeID: "B", ToNodeID: "A", RouteID: "r1", AvgTravelTime: 2},
			{FromNodeID: "B", ToNodeID: "C", RouteID: "r1", AvgTravelTime: 2},
			{FromNodeID: "B", ToNodeID: "D", RouteID: model.TransferRouteID, AvgTravelTime: 20},
		},
		"C": {
			{FromNodeID: "C", ToNodeID: "B", RouteID: "r1", AvgTravelTime: 2},
			{FromNodeID: "C", ToNodeID: "D", RouteID: "r1", AvgTravelTime: 2},
		},
		"D": {
			{FromNodeID: "D", ToNodeID: "C", RouteID: "r1", AvgTravelTime: 2},
			{FromNodeID: "D", ToNodeID: "B", RouteID: model.TransferRouteID, AvgTravelTime: 20},
		},
	}
	component := map[string]int{"A": 0, "B": 0, "C": 0, "D": 0}
	return &Index{Adjacency: adj, Component: component, Nodes: map[string]model.StopNode{}}
}

func TestRunFindsShortestPathOnSingleRoute(t *testing.T) {
	idx := linearIndex()
	paths, _ := Run(idx, "A", "D", 2, 3, nil)

	require.NotEmpty(t, paths)
	best := paths[0]
	assert.Equal(t, 0, best.Transfers)
	assert.InDelta(t, 6, best.TotalCost, 0.001)
}

func TestRunRespectsMaxTransfers(t *testing.T) {
	adj := map[string][]model.GraphEdge{
		"A": {{FromNodeID: "A", ToNodeID: "B", RouteID: "r1", AvgTravelTime: 5}},
		"B": {{FromNodeID: "B", ToNodeID: "C", RouteID: "r2", AvgTravelTime: 5}},
		"C": {{FromNodeID: "C", ToNodeID: "D", RouteID: "r3", AvgTravelTime: 5}},
	}
	component := map[string]int{"A": 0, "B": 0, "C": 0, "D": 0}
	idx := &Index{Adjacency: adj, Component: component, Nodes: map[string]model.StopNode{}}

	paths, _ := Run(idx, "A", "D", 1, 3, nil)
	assert.Empty(t, paths, "reaching D needs 2 transfers, over the cap of 1")

	paths, _ = Run(idx, "A", "D", 2, 3, nil)
	require.NotEmpty(t, paths)
	assert.Equal(t, 2, paths[0].Transfers)
}

func TestRunAppliesTrafficFactor(t *testing.T) {
	adj := map[string][]model.GraphEdge{
		"A": {{FromNodeID: "A", ToNodeID: "B", RouteID: "r1", AvgTravelTime: 10}},
	}
	component := map[string]int{"A": 0, "B": 0}
	idx := &Index{Adjacency: adj, Component: component, Nodes: map[string]model.StopNode{}}

	paths, _ := Run(idx, "A", "B", 2, 1, func(routeID string) float64 { return 2.0 })

	require.NotEmpty(t, paths)
	assert.InDelta(t, 20, paths[0].TotalCost, 0.001)
}

func TestDedupeByRouteSequenceDropsDuplicates(t *testing.T) {
	p1 := Path{Edges: []Edge{{RouteID: "r1"}, {RouteID: "r1"}, {RouteID: "r2"}}}
	p2 := Path{Edges: []Edge{{RouteID: "r1"}, {RouteID: "r2"}}} // same signature: r1>r2>
	p3 := Path{Edges: []Edge{{RouteID: "r2"}, {RouteID: "r1"}}} // distinct: r2>r1>

	out := dedupeByRouteSequence([]Path{p1, p2, p3})
	assert.Len(t, out, 2)
}
