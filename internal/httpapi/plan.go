// Package httpapi exposes the one HTTP-initiated (non-websocket)
// operation the core owns: route planning (§4.11). Everything else in
// §6's external-interfaces table is either a websocket namespace
// (realtime/) or out of scope (administrative CRUD).
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/citytransit/realtime-core/graph"
)

type planResponse struct {
	Itineraries []graph.Itinerary `json:"itineraries"`
	Cached      bool              `json:"cached"`
}

// PlanHandler parses fromLat/fromLng/toLat/toLng query parameters and
// returns the planner's ranked itineraries. Malformed coordinates are
// a 400; planner failures are swallowed to an empty result per §7's
// propagation policy for the route planner.
func PlanHandler(planner *graph.Planner, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		fromLat, err1 := strconv.ParseFloat(q.Get("fromLat"), 64)
		fromLng, err2 := strconv.ParseFloat(q.Get("fromLng"), 64)
		toLat, err3 := strconv.ParseFloat(q.Get("toLat"), 64)
		toLng, err4 := strconv.ParseFloat(q.Get("toLng"), 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			http.Error(w, "fromLat, fromLng, toLat, toLng are required numeric query parameters", http.StatusBadRequest)
			return
		}

		itineraries, cached, err := planner.Plan(r.Context(), fromLat, fromLng, toLat, toLng)
		if err != nil {
			log.Warn().Err(err).Msg("httpapi: plan failed")
			itineraries = nil
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(planResponse{Itineraries: itineraries, Cached: cached})
	}
}
