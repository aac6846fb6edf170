package intel

import (
	"time"

	"github.com/citytransit/realtime-core/cache"
)

// Engine holds the stateful pieces the intelligence pipeline needs
// across calls: a cache handle for historical speed/reliability, and
// the per-route traffic smoothing map. Engine methods are safe for
// concurrent use.
type Engine struct {
	cache    cache.Cache
	smoother *trafficSmoother
}

// NewEngine returns an Engine backed by c. c may be nil only in tests
// that don't exercise the historical-speed or reliability paths.
func NewEngine(c cache.Cache) *Engine {
	return &Engine{cache: c, smoother: newTrafficSmoother()}
}

// TrafficFactor exposes the smoothed per-route traffic factor to
// callers outside this package, namely the graph planner's Dijkstra
// cost model and the stop-route direct lookup.
func (e *Engine) TrafficFactor(at time.Time, routeID string, currentSpeedKmh, routeAvgSpeedKmh float64, nearbyBusCount int) (float64, string) {
	return e.smoother.trafficFactor(at, routeID, currentSpeedKmh, routeAvgSpeedKmh, nearbyBusCount)
}
