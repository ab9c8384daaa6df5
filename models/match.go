package models

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// GameType is one of the four fixed competition modes.
type GameType string

const (
	GameTypeSpeedTrivia   GameType = "speed_trivia"
	GameTypeReasoningDuel GameType = "reasoning_duel"
	GameTypeConsensus     GameType = "consensus"
	GameTypeSurvival      GameType = "survival"
)

// MatchStatus is the lifecycle state of a Match.
type MatchStatus string

const (
	MatchStatusPending   MatchStatus = "pending"
	MatchStatusActive    MatchStatus = "active"
	MatchStatusCompleted MatchStatus = "completed"
	MatchStatusCancelled MatchStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s MatchStatus) Terminal() bool {
	return s == MatchStatusCompleted || s == MatchStatusCancelled
}

// Match is owned by the match state machine; participants and challenges
// are references only.
type Match struct {
	ID             string                      `gorm:"primaryKey;type:uuid" json:"id"`
	GameType       GameType                    `gorm:"type:varchar(32);not null;index" json:"game_type"`
	WeightClass    WeightClass                 `gorm:"type:varchar(16);not null;index" json:"weight_class"`
	Status         MatchStatus                 `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	ParticipantIDs datatypes.JSONSlice[string] `json:"participant_ids"`
	WinnerID       *string                     `gorm:"type:uuid" json:"winner_id,omitempty"`
	CurrentRound   int                         `gorm:"default:0" json:"current_round"`
	TotalRounds    int                         `gorm:"not null" json:"total_rounds"`
	PrizePool      decimal.Decimal             `gorm:"type:numeric(20,8);not null;default:0" json:"prize_pool"`
	EntryFee       decimal.Decimal             `gorm:"type:numeric(20,8);not null;default:0" json:"entry_fee"`
	ChallengeIDs   datatypes.JSONSlice[string] `json:"challenge_ids"`

	RoundStartedAt *time.Time `json:"round_started_at,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
	CancelReason   string     `gorm:"type:varchar(64)" json:"cancel_reason,omitempty"`

	Timestamps
}

// HasParticipant reports whether agentID joined the match.
func (m *Match) HasParticipant(agentID string) bool {
	return slices.Contains(m.ParticipantIDs, agentID)
}

// CurrentChallengeID returns the challenge for the running round.
func (m *Match) CurrentChallengeID() string {
	if m.CurrentRound < 1 || m.CurrentRound > len(m.ChallengeIDs) {
		return ""
	}
	return m.ChallengeIDs[m.CurrentRound-1]
}
