// Package transitdata ingests administratively declared route and
// stop data (CSV, BOM-tolerant) and delivers push payloads to external
// endpoints over HTTP.
package transitdata

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/spkg/bom"

	"github.com/citytransit/realtime-core/model"
)

// RouteCSV is one row of the declared-routes feed: a route plus its
// polyline, encoded as a "lat,lng;lat,lng;..." string in the
// polyline column.
type RouteCSV struct {
	ID          string  `csv:"route_id"`
	Number      string  `csv:"route_number"`
	Name        string  `csv:"route_name"`
	Type        string  `csv:"route_type"`
	Polyline    string  `csv:"polyline"`
	AvgSpeedKmh float64 `csv:"avg_speed_kmh"`
	DistanceKm  float64 `csv:"distance_km"`
}

// StopCSV is one row of the declared-stops feed: a stop's identity
// and its position within a route's ordered stop list.
type StopCSV struct {
	ID      string  `csv:"stop_id"`
	RouteID string  `csv:"route_id"`
	Name    string  `csv:"stop_name"`
	Lat     float64 `csv:"stop_lat"`
	Lng     float64 `csv:"stop_lng"`
	Order   int     `csv:"stop_order"`
}

// ParseRoutes reads declared routes from a CSV reader, BOM-tolerant,
// and returns them keyed by route id. Stops are not attached here;
// call ParseStops afterward.
func ParseRoutes(data io.Reader) (map[string]*model.Route, error) {
	rows := []*RouteCSV{}
	if err := gocsv.Unmarshal(bom.NewReader(data), &rows); err != nil {
		return nil, errors.Wrap(err, "unmarshaling routes")
	}

	routes := map[string]*model.Route{}
	for _, r := range rows {
		if r.ID == "" {
			return nil, fmt.Errorf("route has no route_id")
		}
		if _, dup := routes[r.ID]; dup {
			return nil, fmt.Errorf("repeated route_id: %q", r.ID)
		}
		if r.Number == "" && r.Name == "" {
			return nil, fmt.Errorf("route_id %q has no route_number or route_name", r.ID)
		}
		if r.AvgSpeedKmh <= 0 {
			return nil, fmt.Errorf("route_id %q has non-positive avg_speed_kmh", r.ID)
		}

		polyline, err := parsePolyline(r.Polyline)
		if err != nil {
			return nil, errors.Wrapf(err, "route_id %q polyline", r.ID)
		}

		routes[r.ID] = &model.Route{
			ID:          r.ID,
			Number:      r.Number,
			Name:        r.Name,
			Type:        r.Type,
			Polyline:    polyline,
			AvgSpeedKmh: r.AvgSpeedKmh,
			DistanceKm:  r.DistanceKm,
		}
	}

	return routes, nil
}

// ParseStops reads declared stops from a CSV reader and attaches them
// to the routes map produced by ParseRoutes, in stop_order. Unknown
// route_id references are an error.
func ParseStops(data io.Reader, routes map[string]*model.Route) error {
	rows := []*StopCSV{}
	if err := gocsv.Unmarshal(bom.NewReader(data), &rows); err != nil {
		return errors.Wrap(err, "unmarshaling stops")
	}

	grouped := map[string][]model.RouteStop{}
	for _, st := range rows {
		if st.ID == "" {
			return fmt.Errorf("stop has no stop_id")
		}
		if _, ok := routes[st.RouteID]; !ok {
			return fmt.Errorf("stop %q references unknown route_id %q", st.ID, st.RouteID)
		}

		grouped[st.RouteID] = append(grouped[st.RouteID], model.RouteStop{
			StopID: st.ID,
			Name:   st.Name,
			Lat:    st.Lat,
			Lng:    st.Lng,
			Order:  st.Order,
		})
	}

	for routeID, stops := range grouped {
		sortRouteStops(stops)
		routes[routeID].Stops = stops
	}

	return nil
}

func sortRouteStops(stops []model.RouteStop) {
	for i := 1; i < len(stops); i++ {
		for j := i; j > 0 && stops[j].Order < stops[j-1].Order; j-- {
			stops[j], stops[j-1] = stops[j-1], stops[j]
		}
	}
}

// parsePolyline decodes the "lat,lng;lat,lng;..." column format.
func parsePolyline(s string) ([]model.Point, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty polyline")
	}

	segments := strings.Split(s, ";")
	points := make([]model.Point, 0, len(segments))
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		parts := strings.Split(seg, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed point %q", seg)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("malformed lat in %q: %w", seg, err)
		}
		lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("malformed lng in %q: %w", seg, err)
		}
		points = append(points, model.Point{Lat: lat, Lng: lng})
	}

	if len(points) < 2 {
		return nil, fmt.Errorf("polyline needs at least 2 points, got %d", len(points))
	}
	return points, nil
}
