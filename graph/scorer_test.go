package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParetoFilterDropsDominatedPaths(t *testing.T) {
	paths := []Path{
		{TotalCost: 10, Transfers: 1}, // dominated by both below
		{TotalCost: 8, Transfers: 1},  // dominated by the 8/0 path
		{TotalCost: 8, Transfers: 0},  // dominates both others, survives
	}
	kept := ParetoFilter(paths)

	require := assert.New(t)
	require.Len(kept, 1)
	require.Equal(8.0, kept[0].TotalCost)
	require.Equal(0, kept[0].Transfers)
}

func TestScoreRewardsReliabilityAndConfidence(t *testing.T) {
	p := Path{TotalCost: 20, Transfers: 1, Edges: []Edge{{RouteID: "r1"}}}

	highSignal := Score(p,
		func(string) (float64, bool) { return 95, true },
		func(string) (float64, bool) { return 0.95, true },
	)
	noSignal := Score(p, nil, nil)

	assert.Less(t, highSignal, noSignal, "strong reliability/confidence signal should score lower (better)")
}

func TestRankPathsOrdersAscendingByScore(t *testing.T) {
	// Neither path dominates the other: one is cheaper in time but
	// costs a transfer, the other is direct but slower.
	paths := []Path{
		{TotalCost: 30, Transfers: 0, Edges: []Edge{{RouteID: "r1"}}},
		{TotalCost: 10, Transfers: 2, Edges: []Edge{{RouteID: "r2"}}},
	}
	ranked := RankPaths(paths, 5, nil, nil)

	require := assert.New(t)
	require.Len(ranked, 2)
	require.Equal(30.0, ranked[0].TotalCost, "lower score (no transfer penalty) should rank first")
}
