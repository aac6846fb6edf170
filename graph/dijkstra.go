package graph

import (
	"container/heap"
	"time"
)

const (
	MaxIterations       = 8000
	MaxHeapSize         = 2000
	PruneFactor         = 1.3
	WallClockCap        = 15 * time.Millisecond
	CheckEvery          = 256
	DefaultMaxTransfers = 2
	TransferPenaltyMin  = 5.0
)

// stateKey identifies a Dijkstra search state: a node, the route the
// path currently rides (empty before any bus edge), and transfers used.
type stateKey struct {
	node      string
	route     string
	transfers int
}

type heapEntry struct {
	key  stateKey
	cost float64
}

type entryHeap []heapEntry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].cost < h[j].cost }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(heapEntry)) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// recordedState is the predecessor-chain record kept per reached
// state, used to walk prev pointers backward during reconstruction.
type recordedState struct {
	cost    float64
	prevKey stateKey
	prevOK  bool
	edge    Edge
	hasEdge bool
}

// Stats summarizes a single Dijkstra call, per §4.9.
type Stats struct {
	Iterations      int
	HeapPeak        int
	HeapDrops       int
	EarlyExits      int
	DominatedPrunes int
	ResultsFound    int
	Duration        time.Duration
	TimedOut        bool
}

// Path is a reconstructed shortest path: an ordered edge sequence plus
// its accumulated cost and transfer count.
type Path struct {
	Edges     []Edge
	TotalCost float64
	Transfers int
}

// Edge is the subset of model.GraphEdge the Dijkstra engine needs,
// decoupled so this file has no import-cycle risk with model.
type Edge struct {
	FromNodeID    string
	ToNodeID      string
	RouteID       string
	RouteNumber   string
	DistanceKm    float64
	AvgTravelTime float64
	TransferCost  float64
}

// TrafficFactorFunc returns the current traffic multiplier for a
// route id, applied to every edge riding that route. Pass nil to skip
// traffic weighting (factor 1.0 throughout).
type TrafficFactorFunc func(routeID string) float64

// Run executes the modified Dijkstra from origin to destination over
// idx, honoring maxTransfers and maxResults, and the caps from §4.9.
func Run(idx *Index, origin, destination string, maxTransfers, maxResults int, trafficFactor TrafficFactorFunc) ([]Path, Stats) {
	start := time.Now()
	stats := Stats{}

	if trafficFactor == nil {
		trafficFactor = func(string) float64 { return 1.0 }
	}

	if maxTransfers <= 0 {
		maxTransfers = DefaultMaxTransfers
	}
	if maxResults <= 0 {
		maxResults = 3
	}

	visited := map[stateKey]float64{}
	states := map[stateKey]recordedState{}
	// dominance[node] holds the Pareto frontier of (cost, transfers) for
	// paths reaching node, used to prune dominated expansions.
	dominance := map[string][][2]float64{}

	h := &entryHeap{}
	heap.Init(h)

	startKey := stateKey{node: origin, route: "", transfers: 0}
	heap.Push(h, heapEntry{key: startKey, cost: 0})
	visited[startKey] = 0
	states[startKey] = recordedState{cost: 0}

	var bestResultCost float64 = -1
	var resultKeys []stateKey

	for h.Len() > 0 {
		stats.Iterations++
		if stats.Iterations > MaxIterations {
			stats.TimedOut = true
			break
		}
		if stats.Iterations%CheckEvery == 0 && time.Since(start) > WallClockCap {
			stats.TimedOut = true
			break
		}

		entry := heap.Pop(h).(heapEntry)
		if h.Len()+1 > stats.HeapPeak {
			stats.HeapPeak = h.Len() + 1
		}

		if cur, ok := visited[entry.key]; ok && cur < entry.cost {
			continue
		}

		if bestResultCost >= 0 && entry.cost > PruneFactor*bestResultCost {
			stats.EarlyExits++
			continue
		}

		if entry.key.node == destination {
			resultKeys = append(resultKeys, entry.key)
			if bestResultCost < 0 || entry.cost < bestResultCost {
				bestResultCost = entry.cost
			}
			stats.ResultsFound++
			if len(resultKeys) >= 2*maxResults {
				break
			}
			continue
		}

		for _, edge := range idx.Adjacency[entry.key.node] {
			transfers := entry.key.transfers
			edgeCost := edge.AvgTravelTime * trafficFactor(edge.RouteID)
			if entry.key.route != "" && entry.key.route != edge.RouteID {
				transfers++
				edgeCost += TransferPenaltyMin
			}
			if transfers > maxTransfers {
				continue
			}

			newCost := entry.cost + edgeCost
			newKey := stateKey{node: edge.ToNodeID, route: edge.RouteID, transfers: transfers}

			if dominated(dominance, edge.ToNodeID, newCost, transfers) {
				stats.DominatedPrunes++
				continue
			}

			if existing, ok := visited[newKey]; ok && existing <= newCost {
				continue
			}

			if h.Len() >= MaxHeapSize {
				if bestResultCost < 0 || newCost > PruneFactor*bestResultCost {
					stats.HeapDrops++
					continue
				}
			}

			visited[newKey] = newCost
			states[newKey] = recordedState{
				cost: newCost, prevKey: entry.key, prevOK: true,
				edge: Edge{
					FromNodeID: edge.FromNodeID, ToNodeID: edge.ToNodeID,
					RouteID: edge.RouteID, RouteNumber: edge.RouteNumber,
					DistanceKm: edge.DistanceKm, AvgTravelTime: edge.AvgTravelTime,
					TransferCost: edge.TransferCost,
				}, hasEdge: true,
			}
			addFrontier(dominance, edge.ToNodeID, newCost, transfers)
			heap.Push(h, heapEntry{key: newKey, cost: newCost})
		}
	}

	paths := reconstruct(states, resultKeys)
	paths = dedupeByRouteSequence(paths)
	if len(paths) > maxResults {
		paths = paths[:maxResults]
	}

	stats.Duration = time.Since(start)
	return paths, stats
}

func dominated(frontier map[string][][2]float64, node string, cost float64, transfers int) bool {
	for _, f := range frontier[node] {
		if f[0] <= cost && f[1] <= float64(transfers) {
			return true
		}
	}
	return false
}

// addFrontier inserts (cost, transfers) into node's Pareto frontier,
// dropping any existing entries the new candidate dominates. Callers
// must have already confirmed the candidate itself is not dominated.
func addFrontier(frontier map[string][][2]float64, node string, cost float64, transfers int) {
	var kept [][2]float64
	for _, f := range frontier[node] {
		if cost <= f[0] && float64(transfers) <= f[1] {
			continue // new entry dominates this one; drop it
		}
		kept = append(kept, f)
	}
	kept = append(kept, [2]float64{cost, float64(transfers)})
	frontier[node] = kept
}

func reconstruct(states map[stateKey]recordedState, keys []stateKey) []Path {
	var paths []Path
	for _, key := range keys {
		var edges []Edge
		cur := key
		totalCost := states[cur].cost
		transfers := cur.transfers
		for {
			s := states[cur]
			if !s.hasEdge {
				break
			}
			edges = append([]Edge{s.edge}, edges...)
			if !s.prevOK {
				break
			}
			cur = s.prevKey
		}
		if len(edges) == 0 {
			continue
		}
		paths = append(paths, Path{Edges: edges, TotalCost: totalCost, Transfers: transfers})
	}
	return paths
}

func dedupeByRouteSequence(paths []Path) []Path {
	seen := map[string]bool{}
	var out []Path
	for _, p := range paths {
		sig := routeSignature(p)
		if seen[sig] {
			continue
		}
		seen[sig] = true
		out = append(out, p)
	}
	return out
}

func routeSignature(p Path) string {
	sig := ""
	last := ""
	for _, e := range p.Edges {
		if e.RouteID != last {
			sig += e.RouteID + ">"
			last = e.RouteID
		}
	}
	return sig
}
