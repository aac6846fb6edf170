// Package simulation drives the fleet of simulated buses that fill
// routes no driver currently covers: startup seeding along each
// route's polyline, a fixed-cadence tick that advances position,
// speed, and occupancy, and a coverage-absence scan that warns when a
// route has had neither a simulated nor a driver-controlled bus for
// too long.
package simulation

import (
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/citytransit/realtime-core/cache"
	"github.com/citytransit/realtime-core/geo"
	"github.com/citytransit/realtime-core/hybrid"
	"github.com/citytransit/realtime-core/model"
	"github.com/citytransit/realtime-core/storage"
)

const (
	TargetBuses           = 20
	TickInterval           = 3 * time.Second
	CoverageScanInterval   = 5 * time.Minute
	CoverageAbsenceLimit   = 30 * time.Minute
	MaxSegmentMeters       = 30.0
	NearStopRadiusKm       = 0.1
	MinSpeedKmh            = 5.0
	MaxSpeedKmh            = 40.0
	MinStartSpeedKmh       = 20.0
	NearStopSpeedKmh       = 8.0
	CooldownSpeedKmh       = 13.0
	NearStopCooldownTicks  = 3
	TerminalAlightFraction = 0.70
	trafficFloor           = 1.0
	trafficCeil            = 1.3
	speedSmoothingFactor   = 0.30
)

// majorStopEvery marks every 3rd stop along a route "major", driving
// higher board/alight volumes there; no other signal in the declared
// route data distinguishes stops, so position in the ordered list is
// the stand-in.
const majorStopEvery = 3

// bus is a single simulated vehicle's live state, kept only in
// memory; the store row is the write-through projection of it.
type bus struct {
	ID             string
	RouteID        string
	Capacity       int
	PassengerCount int

	polyline      []geo.Point
	stops         []model.RouteStop
	avgSpeedKmh   float64

	segIndex        int
	segmentProgress float64
	direction       int // +1 forward, -1 reverse

	speed         float64
	trafficFactor float64

	nearStopCooldown int
}

// Engine owns the simulated fleet and the tick/coverage timers.
type Engine struct {
	store  storage.Store
	hybrid *hybrid.Manager
	cache  cache.Cache
	log    zerolog.Logger

	mu            sync.Mutex
	rng           *rand.Rand
	buses         map[string]*bus
	wasControlled map[string]bool

	stopCh chan struct{}

	// OnTick, if set, receives each tick's bus snapshots for
	// broadcast to passenger/admin subscribers.
	OnTick func([]BusUpdate)

	// OnCoverageGap, if set, is called once per route found to have
	// no active coverage past CoverageAbsenceLimit.
	OnCoverageGap func(routeID string, lastSeen time.Time)
}

// NewEngine constructs an Engine. seed fixes the RNG for reproducible
// test runs; pass time.Now().UnixNano() in production.
func NewEngine(store storage.Store, hm *hybrid.Manager, c cache.Cache, logger zerolog.Logger, seed int64) *Engine {
	return &Engine{
		store:         store,
		hybrid:        hm,
		cache:         c,
		log:           logger,
		rng:           rand.New(rand.NewSource(seed)),
		buses:         map[string]*bus{},
		wasControlled: map[string]bool{},
	}
}

// Seed reads declared routes, clears any prior simulated buses, and
// distributes TargetBuses simulated buses across them, per §4.13.
func (e *Engine) Seed() error {
	routes, err := e.store.ListRoutes()
	if err != nil {
		return err
	}
	if err := e.store.DeleteSimulatedBuses(); err != nil {
		return err
	}

	withStops := make([]*model.Route, 0, len(routes))
	for _, r := range routes {
		if len(r.Stops) >= 2 {
			withStops = append(withStops, r)
		}
	}
	if len(withStops) == 0 {
		return nil
	}

	busesPerRoute := int(math.Ceil(float64(TargetBuses) / float64(len(withStops))))

	e.mu.Lock()
	defer e.mu.Unlock()

	seq := 0
	for _, route := range withStops {
		polyline := routePolyline(route)
		subdivided := geo.SubdividePolyline(polyline, MaxSegmentMeters)
		if len(subdivided) < 2 {
			continue
		}

		for n := 0; n < busesPerRoute; n++ {
			seq++
			capacity := 40
			b := &bus{
				ID:            simulatedBusID(route.ID, seq),
				RouteID:       route.ID,
				Capacity:      capacity,
				polyline:      subdivided,
				stops:         route.Stops,
				avgSpeedKmh:   route.AvgSpeedKmh,
				segIndex:      e.rng.Intn(len(subdivided) - 1),
				direction:     directionChoice(e.rng),
				speed:         MinStartSpeedKmh + e.rng.Float64()*(MaxSpeedKmh-MinStartSpeedKmh),
				trafficFactor: 1.0,
			}
			occupancyPct := 5 + e.rng.Float64()*45
			b.PassengerCount = int(occupancyPct / 100 * float64(capacity))

			e.buses[b.ID] = b

			if err := e.store.UpsertBus(&model.Bus{
				ID: b.ID, Capacity: capacity, PassengerCount: b.PassengerCount,
				Status: model.BusStatusActive, RouteID: route.ID, Simulated: true,
				Lat: subdivided[b.segIndex].Lat, Lng: subdivided[b.segIndex].Lng,
				Speed: b.speed, UpdatedAt: time.Now(),
			}); err != nil {
				e.log.Warn().Err(err).Str("bus", b.ID).Msg("seed: upsert failed")
			}
		}
	}

	return nil
}

func directionChoice(rng *rand.Rand) int {
	if rng.Intn(2) == 0 {
		return 1
	}
	return -1
}

func routePolyline(route *model.Route) []geo.Point {
	if len(route.Polyline) >= 2 {
		out := make([]geo.Point, len(route.Polyline))
		for i, p := range route.Polyline {
			out[i] = geo.Point{Lat: p.Lat, Lng: p.Lng}
		}
		return out
	}
	out := make([]geo.Point, len(route.Stops))
	for i, s := range route.Stops {
		out[i] = geo.Point{Lat: s.Lat, Lng: s.Lng}
	}
	return out
}

func simulatedBusID(routeID string, seq int) string {
	return routeID + "-sim-" + strconv.Itoa(seq)
}

// Start launches the tick and coverage-scan timers. Stop cancels both.
func (e *Engine) Start() {
	e.mu.Lock()
	e.stopCh = make(chan struct{})
	stopCh := e.stopCh
	e.mu.Unlock()

	go e.runLoop(TickInterval, stopCh, func() {
		updates := e.tick()
		if e.OnTick != nil {
			e.OnTick(updates)
		}
	})
	go e.runLoop(CoverageScanInterval, stopCh, e.scanCoverage)
}

func (e *Engine) runLoop(interval time.Duration, stopCh chan struct{}, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			fn()
		}
	}
}

// Stop halts the tick and coverage-scan loops.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopCh != nil {
		close(e.stopCh)
		e.stopCh = nil
	}
}
