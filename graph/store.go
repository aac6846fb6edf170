// Package graph builds and serves the transit graph: stop-dedup graph
// construction, a modified Dijkstra with transfer tracking and
// dominance pruning, path scoring/serialization, the route planner,
// and the stop-route direct lookup that bypasses Dijkstra entirely.
package graph

import (
	"sort"
	"strings"
	"sync"

	"github.com/citytransit/realtime-core/geo"
	"github.com/citytransit/realtime-core/model"
	"github.com/citytransit/realtime-core/storage"
)

// Index is the in-memory adjacency snapshot the planner and Dijkstra
// engine read. It is rebuilt from scratch by Loader.Reload and then
// swapped in atomically relative to readers.
type Index struct {
	Nodes     map[string]model.StopNode
	Adjacency map[string][]model.GraphEdge // fromNodeId -> outgoing edges
	Component map[string]int               // nodeId -> connected-component id
}

// NodeRoutes returns the set of non-transfer route ids reachable
// directly from node.
func (idx *Index) NodeRoutes(nodeID string) map[string]bool {
	routes := map[string]bool{}
	for _, e := range idx.Adjacency[nodeID] {
		if e.RouteID != model.TransferRouteID {
			routes[e.RouteID] = true
		}
	}
	return routes
}

// AreConnected is the O(1) reachability skip used by the planner
// before invoking Dijkstra.
func (idx *Index) AreConnected(a, b string) bool {
	ca, aok := idx.Component[a]
	cb, bok := idx.Component[b]
	return aok && bok && ca == cb
}

// NearestNodes returns up to n StopNodes within radiusKm of (lat,
// lng), nearest first.
func (idx *Index) NearestNodes(lat, lng, radiusKm float64, n int) []model.StopNode {
	type scored struct {
		node model.StopNode
		dist float64
	}
	var candidates []scored
	for _, node := range idx.Nodes {
		d := geo.HaversineDistance(lat, lng, node.Lat, node.Lng)
		if d <= radiusKm {
			candidates = append(candidates, scored{node: node, dist: d})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })

	if n > 0 && len(candidates) > n {
		candidates = candidates[:n]
	}
	out := make([]model.StopNode, len(candidates))
	for i, c := range candidates {
		out[i] = c.node
	}
	return out
}

// FindByName resolves a stop name exactly (case-folded), then by
// substring containment in either direction.
func (idx *Index) FindByName(name string) (model.StopNode, bool) {
	folded := strings.ToLower(name)

	for _, node := range idx.Nodes {
		if strings.ToLower(node.Name) == folded {
			return node, true
		}
	}
	for _, node := range idx.Nodes {
		nodeName := strings.ToLower(node.Name)
		if strings.Contains(nodeName, folded) || strings.Contains(folded, nodeName) {
			return node, true
		}
	}
	return model.StopNode{}, false
}

// Loader owns the Store handle and the current atomically-swapped
// Index.
type Loader struct {
	mu    sync.RWMutex
	store storage.Store
	index *Index
}

func NewLoader(store storage.Store) *Loader {
	return &Loader{store: store, index: &Index{Nodes: map[string]model.StopNode{}, Adjacency: map[string][]model.GraphEdge{}, Component: map[string]int{}}}
}

// Current returns the currently active Index.
func (l *Loader) Current() *Index {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.index
}

// Reload reads all nodes/edges from the store, builds a fresh
// adjacency map, BFS-labels connected components, and swaps the new
// Index in atomically.
func (l *Loader) Reload() error {
	nodes, err := l.store.ListStopNodes()
	if err != nil {
		return err
	}
	edges, err := l.store.ListGraphEdges()
	if err != nil {
		return err
	}

	idx := &Index{
		Nodes:     map[string]model.StopNode{},
		Adjacency: map[string][]model.GraphEdge{},
		Component: map[string]int{},
	}
	for _, n := range nodes {
		idx.Nodes[n.ID] = n
	}
	for _, e := range edges {
		idx.Adjacency[e.FromNodeID] = append(idx.Adjacency[e.FromNodeID], e)
	}

	labelComponents(idx)

	l.mu.Lock()
	l.index = idx
	l.mu.Unlock()

	return nil
}

func labelComponents(idx *Index) {
	component := 0
	for nodeID := range idx.Nodes {
		if _, labeled := idx.Component[nodeID]; labeled {
			continue
		}
		queue := []string{nodeID}
		idx.Component[nodeID] = component
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, e := range idx.Adjacency[cur] {
				if _, ok := idx.Component[e.ToNodeID]; !ok {
					idx.Component[e.ToNodeID] = component
					queue = append(queue, e.ToNodeID)
				}
			}
		}
		component++
	}
}
