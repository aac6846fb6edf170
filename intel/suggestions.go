package intel

import "math"

// Candidate is one bus under consideration for the suggestion ranking.
type Candidate struct {
	BusID            string
	ETAMinutes       float64
	DistanceMeters   float64
	OccupancyPercent float64
	TrafficFactor    float64
	Confidence       float64
}

// Suggestion is a ranked candidate with a human-readable reason.
type Suggestion struct {
	BusID  string
	Rank   int
	Score  float64
	Reason string
}

// RankSuggestions implements §4.7: score ascending (lower is better),
// take the top 3, and attach a reason string per rank.
func RankSuggestions(candidates []Candidate) []Suggestion {
	type scored struct {
		c     Candidate
		score float64
	}

	scoredList := make([]scored, len(candidates))
	for i, c := range candidates {
		score := 0.4*(c.ETAMinutes*60) +
			0.2*c.DistanceMeters +
			0.15*c.OccupancyPercent +
			0.15*(c.TrafficFactor*100) -
			120*c.Confidence
		if math.IsNaN(score) || math.IsInf(score, 0) {
			score = math.Inf(1)
		}
		scoredList[i] = scored{c: c, score: score}
	}

	for i := 1; i < len(scoredList); i++ {
		for j := i; j > 0 && scoredList[j].score < scoredList[j-1].score; j-- {
			scoredList[j], scoredList[j-1] = scoredList[j-1], scoredList[j]
		}
	}

	if len(scoredList) > 3 {
		scoredList = scoredList[:3]
	}

	out := make([]Suggestion, len(scoredList))
	for i, s := range scoredList {
		out[i] = Suggestion{
			BusID:  s.c.BusID,
			Rank:   i + 1,
			Score:  s.score,
			Reason: suggestionReason(i+1, s.c),
		}
	}
	return out
}

func suggestionReason(rank int, c Candidate) string {
	if rank == 1 {
		switch {
		case c.ETAMinutes <= 3 && c.OccupancyPercent < 50:
			return "Arriving soon with plenty of seats"
		case c.ETAMinutes <= 3:
			return "Arriving soon"
		case c.OccupancyPercent < 30:
			return "Fastest option with empty seats"
		case c.DistanceMeters < 200:
			return "Very close by"
		default:
			return "Best overall option"
		}
	}

	switch {
	case c.OccupancyPercent < 30:
		return "Less crowded alternative"
	case c.DistanceMeters < 300:
		return "Close alternative"
	default:
		return "Alternative option"
	}
}
