package intel

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/citytransit/realtime-core/geo"
)

// historicalWindow is the span of recent route speed samples averaged
// into PredictETA's historical speed term.
const historicalWindow = 5 * time.Minute

// Congestion level labels.
const (
	CongestionNone     = "NONE"
	CongestionLight    = "LIGHT"
	CongestionModerate = "MODERATE"
	CongestionHeavy    = "HEAVY"
)

// ETAInput carries the per-request signals the predictive ETA needs.
type ETAInput struct {
	BusLat, BusLng       float64
	TargetLat, TargetLng float64
	CurrentSpeedKmh      float64
	RouteAvgSpeedKmh     float64
	RouteID              string
	UpcomingStops        int
	OccupancyPercent     float64
	NearbyBusCount       int
	RouteAvgOccupancy    float64
}

// ETAResult is the predictive ETA's output.
type ETAResult struct {
	Minutes         int
	Formatted       string
	DistanceKm      float64
	TrafficFactor   float64
	TrafficLevel    string
	CongestionLevel string
}

// PredictETA implements §4.4: weighted speed blending current, route
// average, and a 5-minute historical window from the speed memory,
// a smoothed time-of-day traffic factor, stop-dwell delay, and a
// congestion penalty derived from nearby-bus density and occupancy.
func (e *Engine) PredictETA(ctx context.Context, in ETAInput) ETAResult {
	distance := geo.HaversineDistance(in.BusLat, in.BusLng, in.TargetLat, in.TargetLng)

	historical := in.RouteAvgSpeedKmh
	if e.cache != nil && in.RouteID != "" {
		samples, err := e.cache.SpeedSamples(ctx, in.RouteID, historicalWindow)
		if err == nil && len(samples) > 0 {
			var sum float64
			for _, s := range samples {
				sum += s.SpeedKmh
			}
			historical = sum / float64(len(samples))
		}
	}

	weightedSpeed := math.Max(
		0.4*math.Max(in.CurrentSpeedKmh, 5)+
			0.4*math.Max(in.RouteAvgSpeedKmh, 5)+
			0.2*math.Max(historical, 5),
		5,
	)

	trafficFactor, trafficLevel := e.smoother.trafficFactor(time.Now(), in.RouteID, in.CurrentSpeedKmh, in.RouteAvgSpeedKmh, in.NearbyBusCount)

	dwellSeconds := 6.0
	switch {
	case in.OccupancyPercent > 70:
		dwellSeconds = 20
	case in.OccupancyPercent > 40:
		dwellSeconds = 12
	}
	dwellSeconds = math.Min(dwellSeconds, 25)
	stopDelayMin := float64(in.UpcomingStops) * dwellSeconds / 60

	congestionLevel, congestionPenalty := congestion(in.NearbyBusCount, in.RouteAvgOccupancy)

	etaMinutes := distance / weightedSpeed * 60 * trafficFactor
	etaMinutes += stopDelayMin + congestionPenalty
	if math.IsNaN(etaMinutes) || math.IsInf(etaMinutes, 0) {
		etaMinutes = 0
	}
	etaMinutes = math.Max(0, etaMinutes)
	minutes := int(math.Round(etaMinutes))

	return ETAResult{
		Minutes:         minutes,
		Formatted:       formatETA(minutes),
		DistanceKm:      distance,
		TrafficFactor:   trafficFactor,
		TrafficLevel:    trafficLevel,
		CongestionLevel: congestionLevel,
	}
}

func congestion(nearbyBusCount int, routeAvgOccupancy float64) (string, float64) {
	busCong := nearbyBusCount >= 3
	heavy := nearbyBusCount >= 5
	occCong := routeAvgOccupancy > 70

	switch {
	case heavy || (busCong && occCong):
		return CongestionHeavy, 3
	case busCong || occCong:
		return CongestionModerate, 2
	case nearbyBusCount >= 2 || routeAvgOccupancy > 50:
		return CongestionLight, 1
	default:
		return CongestionNone, 0
	}
}

func formatETA(minutes int) string {
	if minutes < 1 {
		return "Arriving now"
	}
	if minutes < 60 {
		return fmt.Sprintf("%d min", minutes)
	}
	h := minutes / 60
	m := minutes % 60
	return fmt.Sprintf("%dh %dm", h, m)
}
