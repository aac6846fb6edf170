package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/citytransit/realtime-core/cache"
	"github.com/citytransit/realtime-core/intel"
)

// Planner cache-key constants, per the route-plan smart key formula.
const (
	cacheGridSize   = 0.00135
	cacheBucketSize = 300_000 // ms
)

// PlannerDijkstraMaxTransfers is the public-contract transfer cap the
// planner hands to the Dijkstra engine (the engine's own zero-value
// default of 2 is for internal/direct callers only).
const PlannerDijkstraMaxTransfers = 3

// PlanCacheKey builds the smart spatio-temporal cache key: lat/lng
// quantized to a ~150 m grid, and a 5-minute time bucket, so nearby
// requests within the same window share a cached result.
func PlanCacheKey(originLat, originLng, destLat, destLng float64, now time.Time) string {
	gx := func(v float64) int64 { return int64(math.Round(v / cacheGridSize)) }
	bucket := now.UnixMilli() / cacheBucketSize
	return fmt.Sprintf("route:%d:%d:%d:%d:%s",
		gx(originLat), gx(originLng), gx(destLat), gx(destLng), strconv.FormatInt(bucket, 36))
}

// PlannerMetrics accumulates the counters the planner must expose:
// cache hit rate, request count, average duration,
// and an active-request gauge.
type PlannerMetrics struct {
	mu            sync.Mutex
	hits, misses  int
	requests      int
	totalDuration time.Duration
	active        int
}

func (m *PlannerMetrics) Snapshot() (hits, misses, requests int, hitRate float64, avgDuration time.Duration, active int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hits, misses, requests, active = m.hits, m.misses, m.requests, m.active
	if requests > 0 {
		hitRate = float64(hits) / float64(requests)
		avgDuration = m.totalDuration / time.Duration(requests)
	}
	return
}

func (m *PlannerMetrics) begin() {
	m.mu.Lock()
	m.requests++
	m.active++
	m.mu.Unlock()
}

func (m *PlannerMetrics) end(hit bool, d time.Duration) {
	m.mu.Lock()
	m.active--
	m.totalDuration += d
	if hit {
		m.hits++
	} else {
		m.misses++
	}
	m.mu.Unlock()
}

// Planner orchestrates nearest-stop selection, pair-wise Dijkstra,
// scoring, serialization, live-ETA injection, and result caching.
type Planner struct {
	loader  *Loader
	cache   cache.Cache
	engine  *intel.Engine
	Metrics PlannerMetrics
}

func NewPlanner(loader *Loader, c cache.Cache, engine *intel.Engine) *Planner {
	return &Planner{loader: loader, cache: c, engine: engine}
}

// Plan resolves an origin/destination coordinate pair to up to 5
// ranked, serialized itineraries, per §4.11.
func (p *Planner) Plan(ctx context.Context, originLat, originLng, destLat, destLng float64) ([]Itinerary, bool, error) {
	start := time.Now()
	p.Metrics.begin()

	now := time.Now()
	key := PlanCacheKey(originLat, originLng, destLat, destLng, now)

	if p.cache != nil {
		if payload, found, err := p.cache.GetRoutePlan(ctx, key); err == nil && found {
			var cached []Itinerary
			if jsonErr := json.Unmarshal([]byte(payload), &cached); jsonErr == nil {
				p.Metrics.end(true, time.Since(start))
				return cached, true, nil
			}
		}
	}

	result := p.compute(ctx, originLat, originLng, destLat, destLng, now)

	if p.cache != nil {
		if payload, err := json.Marshal(result); err == nil {
			_ = p.cache.SetRoutePlan(ctx, key, string(payload))
		}
	}

	p.Metrics.end(false, time.Since(start))
	return result, false, nil
}

func (p *Planner) compute(ctx context.Context, originLat, originLng, destLat, destLng float64, now time.Time) []Itinerary {
	idx := p.loader.Current()

	origins := idx.NearestNodes(originLat, originLng, 5, 2)
	if len(origins) == 0 {
		origins = idx.NearestNodes(originLat, originLng, 10, 3)
	}
	dests := idx.NearestNodes(destLat, destLng, 5, 2)
	if len(dests) == 0 {
		dests = idx.NearestNodes(destLat, destLng, 10, 3)
	}
	if len(origins) == 0 || len(dests) == 0 {
		return nil
	}

	trafficFn := func(routeID string) float64 {
		if p.engine == nil {
			return 1.0
		}
		factor, _ := p.engine.TrafficFactor(now, routeID, 0, 0, 0)
		return factor
	}

	seenPair := map[string]bool{}
	var candidates []Path
	for _, o := range origins {
		for _, d := range dests {
			if o.ID == d.ID {
				continue
			}
			pairKey := o.ID + ">" + d.ID
			if seenPair[pairKey] {
				continue
			}
			seenPair[pairKey] = true

			if !idx.AreConnected(o.ID, d.ID) {
				continue
			}

			paths, _ := Run(idx, o.ID, d.ID, PlannerDijkstraMaxTransfers, 2, trafficFn)
			candidates = append(candidates, paths...)
			if len(candidates) >= 5 {
				break
			}
		}
		if len(candidates) >= 5 {
			break
		}
	}

	if len(candidates) == 0 {
		return nil
	}

	ranked := RankPaths(candidates, 5, p.reliabilityLookup(ctx), nil)

	var itineraries []Itinerary
	for _, path := range ranked {
		it, ok := Serialize(idx, path, originLat, originLng, destLat, destLng, now)
		if !ok {
			continue
		}
		itineraries = append(itineraries, it)
	}

	if len(itineraries) > 0 {
		p.injectLiveETA(ctx, &itineraries[0], now)
	}

	return itineraries
}

func (p *Planner) reliabilityLookup(ctx context.Context) ReliabilityLookup {
	if p.engine == nil {
		return nil
	}
	return func(routeID string) (float64, bool) {
		result := p.engine.Reliability(ctx, routeID)
		return float64(result.Score), true
	}
}

// injectLiveETA recomputes each BUS leg's ETA from the live speed
// memory for the top-ranked itinerary only, per §4.11 step 6.
func (p *Planner) injectLiveETA(ctx context.Context, it *Itinerary, now time.Time) {
	if p.cache == nil {
		return
	}

	var total float64
	for i := range it.Legs {
		leg := &it.Legs[i]
		if leg.Type != LegBus || leg.RouteID == "" {
			total += leg.ETAMinutes
			continue
		}
		samples, err := p.cache.SpeedSamples(ctx, leg.RouteID, 10*time.Minute)
		if err != nil || len(samples) == 0 {
			total += leg.ETAMinutes
			continue
		}
		var sum float64
		for _, s := range samples {
			sum += s.SpeedKmh
		}
		avg := sum / float64(len(samples))
		if avg > 0 {
			leg.ETAMinutes = (leg.DistanceKm / avg) * 60
		}
		total += leg.ETAMinutes
	}

	it.TotalETAMinutes = total
	it.ArrivalTime = now.Add(time.Duration(total * float64(time.Minute)))
}
