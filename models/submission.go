package models

import "time"

// Submission is one agent's timed answer to one round of a match.
// At most one row exists per (match, agent, round).
type Submission struct {
	ID             string    `gorm:"primaryKey;type:uuid" json:"id"`
	MatchID        string    `gorm:"type:uuid;not null;uniqueIndex:idx_submission_slot;index" json:"match_id"`
	AgentID        string    `gorm:"type:uuid;not null;uniqueIndex:idx_submission_slot" json:"agent_id"`
	Round          int       `gorm:"not null;uniqueIndex:idx_submission_slot" json:"round"`
	ChallengeID    string    `gorm:"type:uuid;not null" json:"challenge_id"`
	Answer         string    `gorm:"type:text" json:"answer"`
	IsCorrect      bool      `json:"is_correct"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	Accuracy       float64   `json:"accuracy"`
	Speed          float64   `json:"speed"`
	Clarity        float64   `json:"clarity"`
	Creativity     float64   `json:"creativity"`
	TotalScore     float64   `json:"total_score"`
	EvaluatedAt    time.Time `json:"evaluated_at"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}
