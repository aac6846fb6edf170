package graph

import "github.com/citytransit/realtime-core/model"

// ReliabilityLookup and ConfidenceLookup give the scorer per-route
// signal without coupling this package to intel or cache directly.
// Callers that have no signal for a route should omit it; Score falls
// back to neutral defaults.
type ReliabilityLookup func(routeID string) (score float64, ok bool)
type ConfidenceLookup func(routeID string) (score float64, ok bool)

const (
	defaultReliability = 70.0
	defaultConfidence  = 0.7
)

// ParetoFilter drops paths dominated by another: a path is dominated
// when some other path is <= on both TotalCost and Transfers and
// strictly < on at least one.
func ParetoFilter(paths []Path) []Path {
	var kept []Path
	for i, p := range paths {
		dominated := false
		for j, q := range paths {
			if i == j {
				continue
			}
			if q.TotalCost <= p.TotalCost && q.Transfers <= p.Transfers &&
				(q.TotalCost < p.TotalCost || q.Transfers < p.Transfers) {
				dominated = true
				break
			}
		}
		if !dominated {
			kept = append(kept, p)
		}
	}
	return kept
}

// Score computes the path's ranking score; lower is better.
func Score(p Path, reliability ReliabilityLookup, confidence ConfidenceLookup) float64 {
	routes := distinctRoutes(p)

	var relSum, confSum float64
	for _, r := range routes {
		rel := defaultReliability
		if reliability != nil {
			if v, ok := reliability(r); ok {
				rel = v
			}
		}
		conf := defaultConfidence
		if confidence != nil {
			if v, ok := confidence(r); ok {
				conf = v
			}
		}
		relSum += rel
		confSum += conf
	}

	avgReliability := defaultReliability
	avgConfidence := defaultConfidence
	if len(routes) > 0 {
		avgReliability = relSum / float64(len(routes))
		avgConfidence = confSum / float64(len(routes))
	}

	return p.TotalCost*0.5 + float64(p.Transfers)*10 - (avgReliability/100)*3 - avgConfidence*5
}

// RankPaths applies the Pareto filter, scores survivors, sorts
// ascending by score, and truncates to top.
func RankPaths(paths []Path, top int, reliability ReliabilityLookup, confidence ConfidenceLookup) []Path {
	filtered := ParetoFilter(paths)

	type scored struct {
		path  Path
		score float64
	}
	scoredPaths := make([]scored, len(filtered))
	for i, p := range filtered {
		scoredPaths[i] = scored{path: p, score: Score(p, reliability, confidence)}
	}

	for i := 1; i < len(scoredPaths); i++ {
		for j := i; j > 0 && scoredPaths[j].score < scoredPaths[j-1].score; j-- {
			scoredPaths[j], scoredPaths[j-1] = scoredPaths[j-1], scoredPaths[j]
		}
	}

	if top > 0 && len(scoredPaths) > top {
		scoredPaths = scoredPaths[:top]
	}

	out := make([]Path, len(scoredPaths))
	for i, s := range scoredPaths {
		out[i] = s.path
	}
	return out
}

func distinctRoutes(p Path) []string {
	seen := map[string]bool{}
	var routes []string
	for _, e := range p.Edges {
		if e.RouteID == "" || e.RouteID == model.TransferRouteID || seen[e.RouteID] {
			continue
		}
		seen[e.RouteID] = true
		routes = append(routes, e.RouteID)
	}
	return routes
}
