// Package testutil provides fixture builders shared across package
// tests: routes, buses, and drivers with sensible defaults, and a
// memory store pre-seeded from them.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/citytransit/realtime-core/model"
	"github.com/citytransit/realtime-core/storage"
)

// FixtureRoute returns a minimal valid Route, filling in a default
// polyline and speed profile when the caller doesn't need to control
// them. Override fields on the returned value before use.
func FixtureRoute(id string) *model.Route {
	return &model.Route{
		ID:          id,
		Number:      "R-" + id,
		Name:        "Route " + id,
		Type:        "bus",
		AvgSpeedKmh: 25,
		DistanceKm:  5,
		Polyline: []model.Point{
			{Lat: 12.90, Lng: 77.60},
			{Lat: 12.95, Lng: 77.65},
		},
		Stops: []model.RouteStop{
			{StopID: "stop-" + id + "-1", Name: "Start", Lat: 12.90, Lng: 77.60, Order: 0},
			{StopID: "stop-" + id + "-2", Name: "End", Lat: 12.95, Lng: 77.65, Order: 1},
		},
	}
}

// FixtureBus returns a minimal simulated Bus on routeID.
func FixtureBus(id, routeID string) *model.Bus {
	return &model.Bus{
		ID:             id,
		RegistrationNo: "REG-" + id,
		Capacity:       40,
		Lat:            12.90,
		Lng:            77.60,
		Speed:          25,
		Status:         model.BusStatusActive,
		RouteID:        routeID,
		Simulated:      true,
		UpdatedAt:      time.Time{},
	}
}

// FixtureDriver returns an approved Driver bound to busID.
func FixtureDriver(id, userID, busID string) *model.Driver {
	return &model.Driver{
		ID:       id,
		UserID:   userID,
		License:  "LIC-" + id,
		Approved: true,
		BusID:    busID,
		State:    model.DriverStateOffline,
	}
}

// SeedStore builds an in-memory Store and upserts routes. Callers add
// buses/drivers/trips separately with the fixture builders above.
func SeedStore(t testing.TB, routes ...*model.Route) *storage.MemoryStorage {
	t.Helper()
	s := storage.NewMemoryStorage()
	for _, r := range routes {
		require.NoError(t, s.UpsertRoute(r))
	}
	return s
}
