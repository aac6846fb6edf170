package graph

import (
	"math"
	"time"

	"github.com/citytransit/realtime-core/geo"
	"github.com/citytransit/realtime-core/model"
)

// WalkSpeedMetersPerMin is the pace used to time serialized walking
// legs, independent of the graph builder's own walking-edge speed.
const WalkSpeedMetersPerMin = 80.0

// MaxWalkLegMinutes discards a route outright if any single walking
// leg's raw (uncapped) time exceeds this.
const MaxWalkLegMinutes = 25.0

// MaxTotalWalkKm discards a route if its walking legs sum past this.
const MaxTotalWalkKm = 2.0

type LegType string

const (
	LegWalk LegType = "WALK"
	LegBus  LegType = "BUS"
)

// Leg is one serialized segment of an Itinerary.
type Leg struct {
	Type        LegType
	RouteID     string
	RouteNumber string
	FromName    string
	ToName      string
	DistanceKm  float64
	ETAMinutes  float64
}

// Itinerary is a fully serialized, rider-facing route plan result.
type Itinerary struct {
	Legs              []Leg
	TotalETAMinutes   float64
	ArrivalTime       time.Time
	ReliabilityScore  int
	Confidence        float64
	Transfers         int
}

// Serialize turns a Dijkstra path into a rider-facing Itinerary:
// inserts origin/destination walking legs, groups consecutive
// same-route edges into BUS legs, and discards the whole path if a
// walk cap is blown. ok is false when the path was discarded.
func Serialize(idx *Index, p Path, originLat, originLng, destLat, destLng float64, now time.Time) (Itinerary, bool) {
	if len(p.Edges) == 0 {
		return Itinerary{}, false
	}

	var legs []Leg
	var totalWalkKm float64

	firstNode := idx.Nodes[p.Edges[0].FromNodeID]
	originLegKm := geo.HaversineDistance(originLat, originLng, firstNode.Lat, firstNode.Lng)
	if originLegKm*1000 > 30 {
		leg, ok := walkLeg("", firstNode.Name, originLegKm)
		if !ok {
			return Itinerary{}, false
		}
		legs = append(legs, leg)
		totalWalkKm += originLegKm
	}

	edges := p.Edges
	for i := 0; i < len(edges); {
		routeID := edges[i].RouteID
		j := i
		var segDistKm, segTime float64
		for j < len(edges) && edges[j].RouteID == routeID {
			segDistKm += edges[j].DistanceKm
			segTime += edges[j].AvgTravelTime
			j++
		}

		fromName := idx.Nodes[edges[i].FromNodeID].Name
		toName := idx.Nodes[edges[j-1].ToNodeID].Name

		if routeID == model.TransferRouteID {
			leg, ok := walkLeg(fromName, toName, segDistKm)
			if !ok {
				return Itinerary{}, false
			}
			legs = append(legs, leg)
			totalWalkKm += segDistKm
		} else {
			legs = append(legs, Leg{
				Type: LegBus, RouteID: routeID, RouteNumber: edges[i].RouteNumber,
				FromName: fromName, ToName: toName, DistanceKm: segDistKm, ETAMinutes: segTime,
			})
		}

		i = j
	}

	lastNode := idx.Nodes[edges[len(edges)-1].ToNodeID]
	destLegKm := geo.HaversineDistance(destLat, destLng, lastNode.Lat, lastNode.Lng)
	if destLegKm*1000 > 30 {
		leg, ok := walkLeg(lastNode.Name, "", destLegKm)
		if !ok {
			return Itinerary{}, false
		}
		legs = append(legs, leg)
		totalWalkKm += destLegKm
	}

	if totalWalkKm > MaxTotalWalkKm {
		return Itinerary{}, false
	}

	var totalETA float64
	for _, l := range legs {
		totalETA += l.ETAMinutes
	}

	return Itinerary{
		Legs:             legs,
		TotalETAMinutes:  totalETA,
		ArrivalTime:      now.Add(time.Duration(totalETA * float64(time.Minute))),
		ReliabilityScore: reliabilityByTransfers(p.Transfers),
		Confidence:       confidenceFloor(p.Transfers, totalETA),
		Transfers:        p.Transfers,
	}, true
}

// walkLeg builds a WALK leg for distKm, rejecting (ok=false) if its
// raw, uncapped time exceeds MaxWalkLegMinutes.
func walkLeg(from, to string, distKm float64) (Leg, bool) {
	rawMinutes := (distKm * 1000) / WalkSpeedMetersPerMin
	if rawMinutes > MaxWalkLegMinutes {
		return Leg{}, false
	}
	return Leg{Type: LegWalk, FromName: from, ToName: to, DistanceKm: distKm, ETAMinutes: math.Round(rawMinutes)}, true
}

func reliabilityByTransfers(transfers int) int {
	switch {
	case transfers == 0:
		return 85
	case transfers == 1:
		return 72
	default:
		return 60
	}
}

func confidenceFloor(transfers int, totalETAMinutes float64) float64 {
	conf := 0.90 - 0.1*float64(transfers)
	if totalETAMinutes > 60 {
		conf -= 0.1
	}
	if conf < 0.45 {
		conf = 0.45
	}
	return conf
}
