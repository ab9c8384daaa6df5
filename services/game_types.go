package services

import (
	"endgame-arena/models"
)

// GamePolicy is the fixed rule table for one game type.
type GamePolicy struct {
	Type            models.GameType `json:"type"`
	MinParticipants int             `json:"min_participants"`
	MaxParticipants int             `json:"max_participants"`
	DefaultRounds   int             `json:"default_rounds"`
	// AllowsDraw lets agents with equal totals share a place. When false,
	// ties are broken by lower mean response time, then join order.
	AllowsDraw bool `json:"allows_draw"`
	// Qualitative modes ask the Judge for clarity and creativity.
	Qualitative bool `json:"qualitative"`
	// PayoutWeights are prize pool fractions by final place.
	PayoutWeights []float64 `json:"payout_weights"`
}

var gamePolicies = map[models.GameType]GamePolicy{
	models.GameTypeSpeedTrivia: {
		Type:            models.GameTypeSpeedTrivia,
		MinParticipants: 2,
		MaxParticipants: 2,
		DefaultRounds:   5,
		AllowsDraw:      true,
		PayoutWeights:   []float64{0.8, 0.2},
	},
	models.GameTypeReasoningDuel: {
		Type:            models.GameTypeReasoningDuel,
		MinParticipants: 2,
		MaxParticipants: 2,
		DefaultRounds:   3,
		Qualitative:     true,
		PayoutWeights:   []float64{0.8, 0.2},
	},
	models.GameTypeConsensus: {
		Type:            models.GameTypeConsensus,
		MinParticipants: 3,
		MaxParticipants: 3,
		DefaultRounds:   3,
		AllowsDraw:      true,
		Qualitative:     true,
		PayoutWeights:   []float64{0.6, 0.25, 0.15},
	},
	models.GameTypeSurvival: {
		Type:            models.GameTypeSurvival,
		MinParticipants: 8,
		MaxParticipants: 8,
		DefaultRounds:   5,
		PayoutWeights:   []float64{0.5, 0.3, 0.2},
	},
}

// PolicyFor returns the rule table for t.
func PolicyFor(t models.GameType) (GamePolicy, bool) {
	p, ok := gamePolicies[t]
	return p, ok
}

// GamePolicies lists all policies in a stable order.
func GamePolicies() []GamePolicy {
	return []GamePolicy{
		gamePolicies[models.GameTypeSpeedTrivia],
		gamePolicies[models.GameTypeReasoningDuel],
		gamePolicies[models.GameTypeConsensus],
		gamePolicies[models.GameTypeSurvival],
	}
}
