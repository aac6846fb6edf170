package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citytransit/realtime-core/model"
)

func simpleIdx() *Index {
	return &Index{
		Nodes: map[string]model.StopNode{
			"n1": {ID: "n1", Name: "Central", Lat: 0, Lng: 0},
			"n2": {ID: "n2", Name: "Market", Lat: 0, Lng: 0.01},
		},
	}
}

func TestSerializeGroupsConsecutiveEdgesIntoOneBusLeg(t *testing.T) {
	idx := simpleIdx()
	path := Path{
		Edges: []Edge{
			{FromNodeID: "n1", ToNodeID: "n2", RouteID: "r1", AvgTravelTime: 3, DistanceKm: 1},
		},
		Transfers: 0,
	}

	it, ok := Serialize(idx, path, 0, 0, 0, 0.01, time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC))
	require.True(t, ok)
	require.Len(t, it.Legs, 1)
	assert.Equal(t, LegBus, it.Legs[0].Type)
	assert.Equal(t, 85, it.ReliabilityScore)
	assert.InDelta(t, 0.90, it.Confidence, 0.001)
}

func TestSerializeInsertsOriginWalkLeg(t *testing.T) {
	idx := simpleIdx()
	path := Path{Edges: []Edge{{FromNodeID: "n1", ToNodeID: "n2", RouteID: "r1", AvgTravelTime: 3, DistanceKm: 1}}}

	// Origin is ~1.6km from n1 ("Central"), well past the 30m skip threshold.
	it, ok := Serialize(idx, path, 0.01, 0.01, 0, 0.01, time.Now())
	require.True(t, ok)
	require.True(t, len(it.Legs) >= 2)
	assert.Equal(t, LegWalk, it.Legs[0].Type)
}

func TestSerializeSkipsNegligibleWalkLeg(t *testing.T) {
	idx := simpleIdx()
	path := Path{Edges: []Edge{{FromNodeID: "n1", ToNodeID: "n2", RouteID: "r1", AvgTravelTime: 3, DistanceKm: 1}}}

	// Origin coincides with n1, well under the 30m skip threshold.
	it, ok := Serialize(idx, path, 0, 0, 0, 0.01, time.Now())
	require.True(t, ok)
	assert.Len(t, it.Legs, 1)
}

func TestSerializeDiscardsOnExcessiveWalkLeg(t *testing.T) {
	idx := &Index{Nodes: map[string]model.StopNode{
		"n1": {ID: "n1", Name: "Central", Lat: 0, Lng: 0},
		"n2": {ID: "n2", Name: "Market", Lat: 0, Lng: 0.01},
	}}
	path := Path{Edges: []Edge{{FromNodeID: "n1", ToNodeID: "n2", RouteID: "r1", AvgTravelTime: 3, DistanceKm: 1}}}

	// 1 degree of latitude is ~111km from the origin, a multi-hour walk.
	_, ok := Serialize(idx, path, 1, 1, 0, 0.01, time.Now())
	assert.False(t, ok)
}

func TestReliabilityByTransfersThresholds(t *testing.T) {
	assert.Equal(t, 85, reliabilityByTransfers(0))
	assert.Equal(t, 72, reliabilityByTransfers(1))
	assert.Equal(t, 60, reliabilityByTransfers(2))
	assert.Equal(t, 60, reliabilityByTransfers(5))
}

func TestConfidenceFloorNeverBelow045(t *testing.T) {
	assert.Equal(t, 0.45, confidenceFloor(10, 200))
}
