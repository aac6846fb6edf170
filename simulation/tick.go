package simulation

import (
	"context"
	"math"
	"time"

	"github.com/citytransit/realtime-core/geo"
	"github.com/citytransit/realtime-core/model"
)

// BusUpdate is the per-tick snapshot emitted for a simulated bus,
// broadcast to passenger and admin subscribers by the caller.
type BusUpdate struct {
	BusID          string
	RouteID        string
	Lat            float64
	Lng            float64
	Heading        float64
	Speed          float64
	PassengerCount int
	Capacity       int
	Occupancy      float64
	Simulated      bool
}

// tick advances every simulated bus one 3s step, skipping any bus a
// driver currently controls or holds in grace, then persists and
// returns the resulting snapshot for the caller to broadcast.
func (e *Engine) tick() []BusUpdate {
	e.mu.Lock()
	defer e.mu.Unlock()

	var updates []BusUpdate
	now := time.Now()

	for id, b := range e.buses {
		if e.hybrid != nil && (e.hybrid.IsControlled(id) || e.hybrid.IsInGrace(id)) {
			e.wasControlled[id] = true
			continue
		}
		if e.wasControlled[id] {
			e.resumeFromDriver(b)
			delete(e.wasControlled, id)
		}

		update := e.advance(b, now)
		updates = append(updates, update)

		if err := e.store.UpsertBus(&model.Bus{
			ID: b.ID, Capacity: b.Capacity, PassengerCount: b.PassengerCount,
			Status: model.BusStatusActive, RouteID: b.RouteID, Simulated: true,
			Lat: update.Lat, Lng: update.Lng, Heading: update.Heading,
			Speed: update.Speed, UpdatedAt: now,
		}); err != nil {
			e.log.Warn().Err(err).Str("bus", id).Msg("tick: upsert failed")
		}

		if e.cache != nil {
			_ = e.cache.RecordSpeedSample(context.Background(), b.RouteID, update.Speed, now)
		}
	}

	return updates
}

// resumeFromDriver implements teleport-free resume: snap to the
// polyline vertex closest to the last driver-reported position, reset
// progress, and resume at the minimum simulated speed.
func (e *Engine) resumeFromDriver(b *bus) {
	if e.hybrid == nil {
		return
	}
	pos, ok := e.hybrid.LastPosition(b.ID)
	if !ok {
		b.speed = MinStartSpeedKmh
		return
	}

	bestIdx := b.segIndex
	bestDist := math.Inf(1)
	for i, p := range b.polyline {
		d := geo.HaversineDistance(pos.Lat, pos.Lng, p.Lat, p.Lng)
		if d < bestDist {
			bestDist = d
			bestIdx = i
		}
	}
	b.segIndex = bestIdx
	b.segmentProgress = 0
	b.speed = MinStartSpeedKmh
}

func (e *Engine) advance(b *bus, now time.Time) BusUpdate {
	cur := b.polyline[b.segIndex]
	nextIdx := b.segIndex + b.direction
	if nextIdx < 0 || nextIdx >= len(b.polyline) {
		b.direction = -b.direction
		nextIdx = b.segIndex + b.direction
	}
	next := b.polyline[clampIdx(nextIdx, len(b.polyline))]

	isNearStop := e.nearestStopDistance(b, cur) < NearStopRadiusKm

	delta := (e.rng.Float64()*2 - 1) * 0.01
	b.trafficFactor = clampF(b.trafficFactor+delta, trafficFloor, trafficCeil)

	var target float64
	switch {
	case isNearStop:
		target = NearStopSpeedKmh
		b.nearStopCooldown = NearStopCooldownTicks
	case b.nearStopCooldown > 0:
		target = CooldownSpeedKmh
		b.nearStopCooldown--
	default:
		target = (MinStartSpeedKmh + e.rng.Float64()*(MaxSpeedKmh-MinStartSpeedKmh)) / b.trafficFactor
	}

	b.speed = b.speed + speedSmoothingFactor*(target-b.speed)
	b.speed = clampF(b.speed, MinSpeedKmh, MaxSpeedKmh)

	actualSegKm := math.Max(0.005, geo.HaversineDistance(cur.Lat, cur.Lng, next.Lat, next.Lng))
	distPerTick := b.speed / 3600 * TickInterval.Seconds()
	progressPerTick := distPerTick / actualSegKm

	b.segmentProgress += progressPerTick

	consumed := 0
	for b.segmentProgress >= 1 && consumed < 20 {
		b.segmentProgress -= 1
		b.segIndex = clampIdx(b.segIndex+b.direction, len(b.polyline))
		consumed++

		if b.segIndex == 0 || b.segIndex == len(b.polyline)-1 {
			b.direction = -b.direction
			b.segmentProgress = 0
			e.alight(b, int(math.Round(float64(b.PassengerCount)*TerminalAlightFraction)))
		}

		if stop, atStop := e.stopAtVertex(b, b.segIndex); atStop {
			e.boardAlight(b, stop)
		}

		cur = b.polyline[b.segIndex]
		nextIdx = b.segIndex + b.direction
		if nextIdx < 0 || nextIdx >= len(b.polyline) {
			b.direction = -b.direction
			nextIdx = b.segIndex + b.direction
		}
		next = b.polyline[clampIdx(nextIdx, len(b.polyline))]
	}

	pos := geo.Interpolate(cur, next, b.segmentProgress)
	bearing := geo.InitialBearing(cur.Lat, cur.Lng, next.Lat, next.Lng)

	occupancy := 0.0
	if b.Capacity > 0 {
		occupancy = 100 * float64(b.PassengerCount) / float64(b.Capacity)
	}

	return BusUpdate{
		BusID: b.ID, RouteID: b.RouteID, Lat: pos.Lat, Lng: pos.Lng,
		Heading: bearing, Speed: b.speed, PassengerCount: b.PassengerCount,
		Capacity: b.Capacity, Occupancy: occupancy, Simulated: true,
	}
}

// nearestStopDistance returns the haversine distance from p to the
// closest declared stop on b's route.
func (e *Engine) nearestStopDistance(b *bus, p geo.Point) float64 {
	best := math.Inf(1)
	for _, s := range b.stops {
		d := geo.HaversineDistance(p.Lat, p.Lng, s.Lat, s.Lng)
		if d < best {
			best = d
		}
	}
	return best
}

// stopAtVertex reports whether polyline vertex idx coincides with a
// declared stop (within 15m, half the max subdivision segment).
func (e *Engine) stopAtVertex(b *bus, idx int) (model.RouteStop, bool) {
	v := b.polyline[idx]
	for _, s := range b.stops {
		if geo.HaversineDistance(v.Lat, v.Lng, s.Lat, s.Lng)*1000 < 15 {
			return s, true
		}
	}
	return model.RouteStop{}, false
}

func (e *Engine) boardAlight(b *bus, stop model.RouteStop) {
	isMajor := stop.Order%majorStopEvery == 0

	boardMax, alightMax := 5, 3
	if isMajor {
		boardMax, alightMax = 12, 8
	}

	alight := e.rng.Intn(alightMax + 1)
	if alight > b.PassengerCount {
		alight = b.PassengerCount
	}
	e.alight(b, alight)

	board := e.rng.Intn(boardMax + 1)
	room := b.Capacity - b.PassengerCount
	if board > room {
		board = room
	}
	if board > 0 {
		b.PassengerCount += board
	}
}

func (e *Engine) alight(b *bus, n int) {
	if n > b.PassengerCount {
		n = b.PassengerCount
	}
	if n > 0 {
		b.PassengerCount -= n
	}
}

func clampIdx(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
