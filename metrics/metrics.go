// metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "endgame_api_request_duration_seconds",
			Help:    "HTTP request duration in seconds, by route, method and status.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method", "status"},
	)

	RequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "endgame_requests_in_flight",
			Help: "Number of HTTP requests currently being served.",
		},
	)

	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "endgame_submissions_total",
			Help: "Scored submissions, by game type and correctness.",
		},
		[]string{"game_type", "correct"},
	)

	MatchesFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "endgame_matches_finished_total",
			Help: "Matches reaching a terminal state, by game type and status.",
		},
		[]string{"game_type", "status"},
	)

	SettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "endgame_settlements_total",
			Help: "Settlement outcomes, by transaction type and status.",
		},
		[]string{"type", "status"},
	)

	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "endgame_rate_limited_total",
			Help: "Requests rejected by the rate limiter, by policy.",
		},
		[]string{"policy"},
	)

	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "endgame_cache_lookups_total",
			Help: "Leaderboard cache lookups, by result.",
		},
		[]string{"result"},
	)
)

// Register adds every collector to reg. Call once at startup.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		RequestDuration,
		RequestsInFlight,
		SubmissionsTotal,
		MatchesFinished,
		SettlementsTotal,
		RateLimited,
		CacheLookups,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
