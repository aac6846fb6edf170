package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineDistance(t *testing.T) {
	var loc = map[string]Point{
		"nyc":    {Lat: 40.700000, Lng: -74.100000},
		"philly": {Lat: 40.000000, Lng: -75.200000},
		"sf":     {Lat: 37.800000, Lng: -122.500000},
		"sto":    {Lat: 59.300000, Lng: 17.900000},
	}

	assert.InDelta(t, 121.438585, HaversineDistance(loc["nyc"].Lat, loc["nyc"].Lng, loc["philly"].Lat, loc["philly"].Lng), 0.001)
	assert.InDelta(t, 4127.311071, HaversineDistance(loc["nyc"].Lat, loc["nyc"].Lng, loc["sf"].Lat, loc["sf"].Lng), 0.001)
	assert.InDelta(t, 6318.636281, HaversineDistance(loc["nyc"].Lat, loc["nyc"].Lng, loc["sto"].Lat, loc["sto"].Lng), 0.001)
	assert.Equal(t, 0.0, HaversineDistance(loc["nyc"].Lat, loc["nyc"].Lng, loc["nyc"].Lat, loc["nyc"].Lng))
}

func TestInitialBearing(t *testing.T) {
	// due north
	b := InitialBearing(0, 0, 1, 0)
	assert.InDelta(t, 0, b, 0.001)

	// due east
	b = InitialBearing(0, 0, 0, 1)
	assert.InDelta(t, 90, b, 0.001)
}

func TestInterpolate(t *testing.T) {
	a := Point{Lat: 0, Lng: 0}
	b := Point{Lat: 10, Lng: 20}

	mid := Interpolate(a, b, 0.5)
	assert.InDelta(t, 5, mid.Lat, 0.0001)
	assert.InDelta(t, 10, mid.Lng, 0.0001)

	assert.Equal(t, a, Interpolate(a, b, -1))
	assert.Equal(t, b, Interpolate(a, b, 2))
}

func TestSubdividePolyline(t *testing.T) {
	line := []Point{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 1}}
	out := SubdividePolyline(line, 30)

	assert.Greater(t, len(out), 2)
	for i := 0; i < len(out)-1; i++ {
		segMeters := Distance(out[i], out[i+1]) * 1000
		assert.LessOrEqual(t, segMeters, 30.0001)
	}

	// first/last preserved
	assert.Equal(t, line[0], out[0])
	assert.InDelta(t, line[len(line)-1].Lat, out[len(out)-1].Lat, 1e-9)
	assert.InDelta(t, line[len(line)-1].Lng, out[len(out)-1].Lng, 1e-9)
}

func TestInBounds(t *testing.T) {
	assert.True(t, InBounds(45, 90))
	assert.False(t, InBounds(91, 0))
	assert.False(t, InBounds(0, -181))
}
