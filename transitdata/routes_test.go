package transitdata

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citytransit/realtime-core/model"
)

func TestParseRoutesMinimal(t *testing.T) {
	csv := `route_id,route_number,route_name,route_type,polyline,avg_speed_kmh,distance_km
R1,12,Downtown Loop,urban,"0,0;0.01,0.01;0.02,0.02",28.5,6.2`

	routes, err := ParseRoutes(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, routes, 1)

	r := routes["R1"]
	require.NotNil(t, r)
	assert.Equal(t, "12", r.Number)
	assert.Equal(t, "Downtown Loop", r.Name)
	assert.Len(t, r.Polyline, 3)
	assert.Equal(t, 28.5, r.AvgSpeedKmh)
}

func TestParseRoutesRejectsDuplicateID(t *testing.T) {
	csv := `route_id,route_number,route_name,route_type,polyline,avg_speed_kmh,distance_km
R1,12,Downtown Loop,urban,"0,0;0.01,0.01",28.5,6.2
R1,13,Other,urban,"0,0;0.01,0.01",28.5,6.2`

	_, err := ParseRoutes(strings.NewReader(csv))
	assert.Error(t, err)
}

func TestParseRoutesRejectsBadPolyline(t *testing.T) {
	csv := `route_id,route_number,route_name,route_type,polyline,avg_speed_kmh,distance_km
R1,12,Downtown Loop,urban,"0,0",28.5,6.2`

	_, err := ParseRoutes(strings.NewReader(csv))
	assert.Error(t, err)
}

func TestParseStopsAttachesOrdered(t *testing.T) {
	routesCSV := `route_id,route_number,route_name,route_type,polyline,avg_speed_kmh,distance_km
R1,12,Downtown Loop,urban,"0,0;0.02,0.02",28.5,6.2`
	routes, err := ParseRoutes(strings.NewReader(routesCSV))
	require.NoError(t, err)

	stopsCSV := `stop_id,route_id,stop_name,stop_lat,stop_lng,stop_order
S2,R1,Second,0.01,0.01,2
S1,R1,First,0.0,0.0,1`

	require.NoError(t, ParseStops(strings.NewReader(stopsCSV), routes))

	stops := routes["R1"].Stops
	require.Len(t, stops, 2)
	assert.Equal(t, "S1", stops[0].StopID)
	assert.Equal(t, "S2", stops[1].StopID)
}

func TestParseStopsRejectsUnknownRoute(t *testing.T) {
	routes := map[string]*model.Route{}
	stopsCSV := `stop_id,route_id,stop_name,stop_lat,stop_lng,stop_order
S1,R404,First,0.0,0.0,1`

	err := ParseStops(strings.NewReader(stopsCSV), routes)
	assert.Error(t, err)
}
