package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// Challenge is a question bank entry. Rows are immutable once created.
type Challenge struct {
	ID                string                      `gorm:"primaryKey;type:uuid" json:"id"`
	Category          string                      `gorm:"type:varchar(64);not null;index" json:"category"`
	Difficulty        string                      `gorm:"type:varchar(16);not null;index" json:"difficulty"`
	Question          string                      `gorm:"type:text;not null" json:"question"`
	CorrectAnswer     string                      `gorm:"type:text;not null" json:"-"`
	AcceptableAnswers datatypes.JSONSlice[string] `json:"-"`
	TimeLimitSeconds  int                         `gorm:"not null" json:"time_limit_seconds"`
	Points            int                         `gorm:"not null;default:100" json:"points"`
	CreatedAt         time.Time                   `gorm:"autoCreateTime" json:"created_at"`
}
