package services

import (
	"math"
	"sort"

	"endgame-arena/models"
)

const scoreEpsilon = 1e-9

// RankStandings aggregates submissions into final placements. Totals are the
// sum of each agent's round scores; missed rounds count as zero.
func RankStandings(policy GamePolicy, participantIDs []string, subs []models.Submission) []Standing {
	type agg struct {
		total    float64
		respSum  float64
		answered int
		joinIdx  int
	}
	byAgent := make(map[string]*agg, len(participantIDs))
	for i, id := range participantIDs {
		byAgent[id] = &agg{joinIdx: i}
	}
	for _, s := range subs {
		a, ok := byAgent[s.AgentID]
		if !ok {
			continue
		}
		a.total += s.TotalScore
		a.respSum += float64(s.ResponseTimeMs)
		a.answered++
	}

	standings := make([]Standing, 0, len(participantIDs))
	for _, id := range participantIDs {
		a := byAgent[id]
		mean := math.MaxFloat64
		if a.answered > 0 {
			mean = a.respSum / float64(a.answered)
		}
		standings = append(standings, Standing{AgentID: id, Total: a.total, MeanResponseMs: mean})
	}

	sort.SliceStable(standings, func(i, j int) bool {
		a, b := standings[i], standings[j]
		if !sameScore(a.Total, b.Total) {
			return a.Total > b.Total
		}
		if !policy.AllowsDraw && a.MeanResponseMs != b.MeanResponseMs {
			return a.MeanResponseMs < b.MeanResponseMs
		}
		return byAgent[a.AgentID].joinIdx < byAgent[b.AgentID].joinIdx
	})

	for i := range standings {
		switch {
		case i == 0:
			standings[i].Place = 1
		case policy.AllowsDraw && sameScore(standings[i].Total, standings[i-1].Total):
			standings[i].Place = standings[i-1].Place
		default:
			standings[i].Place = i + 1
		}
	}
	return standings
}

func sameScore(a, b float64) bool {
	return math.Abs(a-b) < scoreEpsilon
}

// WinnerOf returns the sole first-place agent, or "" for a draw.
func WinnerOf(standings []Standing) string {
	if len(standings) == 0 {
		return ""
	}
	if len(standings) > 1 && standings[1].Place == 1 {
		return ""
	}
	return standings[0].AgentID
}
