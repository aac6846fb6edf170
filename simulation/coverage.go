package simulation

import "time"

// scanCoverage warns on routes with neither a simulated bus nor a
// real-driver presence recorded within CoverageAbsenceLimit, per the
// secondary 5-min loop in §4.13.
func (e *Engine) scanCoverage() {
	e.mu.Lock()
	activeRoutes := map[string]bool{}
	for _, b := range e.buses {
		activeRoutes[b.RouteID] = true
	}
	e.mu.Unlock()

	routes, err := e.store.ListRoutes()
	if err != nil {
		e.log.Warn().Err(err).Msg("coverage scan: list routes failed")
		return
	}

	now := time.Now()
	for _, route := range routes {
		if activeRoutes[route.ID] {
			continue
		}
		if e.hybrid != nil && e.hybrid.HasActiveDriver(route.ID) {
			continue
		}

		lastSeen, ok := time.Time{}, false
		if e.hybrid != nil {
			lastSeen, ok = e.hybrid.LastDriverSeen(route.ID)
		}
		if ok && now.Sub(lastSeen) <= CoverageAbsenceLimit {
			continue
		}

		e.log.Warn().Str("route", route.ID).Msg("route has no active coverage")
		if e.OnCoverageGap != nil {
			e.OnCoverageGap(route.ID, lastSeen)
		}
	}
}
