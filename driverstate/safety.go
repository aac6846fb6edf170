package driverstate

import (
	"fmt"
	"time"

	"github.com/citytransit/realtime-core/geo"
)

const (
	MaxAccuracyMeters  = 100.0
	MaxSpeedKmh        = 120.0
	ThrottleInterval   = 2000 * time.Millisecond
	MaxJumpMeters      = 500.0
)

// LocationUpdate is a single driver-reported position.
type LocationUpdate struct {
	Lat              float64
	Lng              float64
	AccuracyMeters   float64
	SpeedKmh         float64
	PassengerCount   int
	HasPassengerCount bool
}

// Validate implements §4.3: it rejects the update with a reason, or
// accepts it and records the position for future throttle/jump
// checks. The caller must not mutate bus/driver state on rejection.
func (m *Machine) Validate(driverID string, update LocationUpdate) (ok bool, reason string) {
	if !geo.InBounds(update.Lat, update.Lng) {
		return false, "coordinates out of bounds"
	}
	if update.AccuracyMeters > MaxAccuracyMeters {
		return false, "GPS accuracy too low"
	}
	if update.SpeedKmh > MaxSpeedKmh {
		return false, "reported speed exceeds maximum"
	}
	if update.HasPassengerCount && (update.PassengerCount < 0) {
		return false, "invalid passenger count"
	}

	now := time.Now()

	m.mu.Lock()
	s := m.sessionLocked(driverID)
	lastUpdate := s.LastUpdate
	hasLast := s.HasLastPosition
	lastLat, lastLng := s.LastLat, s.LastLng
	m.mu.Unlock()

	if hasLast && now.Sub(lastUpdate) < ThrottleInterval {
		return false, "update rate exceeds throttle limit"
	}

	if hasLast {
		jumpMeters := geo.HaversineDistance(lastLat, lastLng, update.Lat, update.Lng) * 1000
		if jumpMeters > MaxJumpMeters {
			return false, fmt.Sprintf("position jump of %.0fm exceeds limit", jumpMeters)
		}
	}

	m.RecordAccepted(driverID, update.Lat, update.Lng, now)
	return true, ""
}
