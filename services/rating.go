package services

import "math"

const (
	DefaultKFactor     = 32.0
	DefaultEloBaseline = 1200.0
)

// ExpectedScore is the logistic win expectation of a rated ra against rb.
func ExpectedScore(ra, rb float64) float64 {
	return 1 / (1 + math.Pow(10, (rb-ra)/400))
}

// EloDelta is the rating change for a player scoring actual (1, 0.5 or 0)
// against an opponent, using K-factor k.
func EloDelta(ra, rb, actual, k float64) float64 {
	return k * (actual - ExpectedScore(ra, rb))
}

// Standing is one agent's final position in a match.
type Standing struct {
	AgentID        string  `json:"agent_id"`
	Total          float64 `json:"total"`
	MeanResponseMs float64 `json:"mean_response_ms"`
	// Place is 1-based; agents sharing a place tied.
	Place int `json:"place"`
}

// RatingChanges applies pairwise ELO over every unordered pair of standings.
// A better place scores 1, a shared place 0.5. Each pair's delta uses
// k/(n-1) and the pre-match ratings, so the sum of changes is zero and the
// two-player case reduces to the standard update.
func RatingChanges(standings []Standing, ratings map[string]float64, k float64) map[string]float64 {
	n := len(standings)
	deltas := make(map[string]float64, n)
	if n < 2 {
		return deltas
	}
	pairK := k / float64(n-1)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			a, b := standings[i], standings[j]
			var actual float64
			switch {
			case a.Place < b.Place:
				actual = 1
			case a.Place == b.Place:
				actual = 0.5
			}
			d := EloDelta(ratings[a.AgentID], ratings[b.AgentID], actual, pairK)
			deltas[a.AgentID] += d
			deltas[b.AgentID] -= d
		}
	}
	return deltas
}
