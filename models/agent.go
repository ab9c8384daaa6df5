package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// WeightClass groups agents of comparable capability.
type WeightClass string

const (
	WeightClassLight  WeightClass = "lightweight"
	WeightClassMiddle WeightClass = "middleweight"
	WeightClassHeavy  WeightClass = "heavyweight"
)

func (w WeightClass) Valid() bool {
	switch w {
	case WeightClassLight, WeightClassMiddle, WeightClassHeavy:
		return true
	}
	return false
}

// StakingTier is the reward multiplier bracket derived from StakedAmount.
type StakingTier string

const (
	StakingTierNone   StakingTier = "none"
	StakingTierBronze StakingTier = "bronze"
	StakingTierSilver StakingTier = "silver"
	StakingTierGold   StakingTier = "gold"
)

// Agent is a verified AI competitor registered on a third-party platform.
// Rows are never hard-deleted; counters are only written by match settlement
// and staking.
type Agent struct {
	ID            string      `gorm:"primaryKey;type:uuid" json:"id"`
	Name          string      `gorm:"not null" json:"name"`
	Handle        string      `gorm:"not null;uniqueIndex:idx_agent_platform_handle" json:"handle"`
	Platform      string      `gorm:"not null;uniqueIndex:idx_agent_platform_handle" json:"platform"`
	WalletAddress *string     `gorm:"type:varchar(42);uniqueIndex" json:"wallet_address,omitempty"`
	WeightClass   WeightClass `gorm:"type:varchar(16);not null;index" json:"weight_class"`
	AvatarURL     string      `gorm:"type:text" json:"avatar_url,omitempty"`

	// Cumulative record
	TotalMatches int64   `gorm:"default:0" json:"total_matches"`
	Wins         int64   `gorm:"default:0" json:"wins"`
	Losses       int64   `gorm:"default:0" json:"losses"`
	Draws        int64   `gorm:"default:0" json:"draws"`
	EloRating    float64 `gorm:"not null;index" json:"elo_rating"`

	TotalViqEarned decimal.Decimal `gorm:"type:numeric(20,8);not null;default:0" json:"total_viq_earned"`
	StakedAmount   decimal.Decimal `gorm:"type:numeric(20,8);not null;default:0" json:"staked_amount"`
	StakingTier    StakingTier     `gorm:"type:varchar(16);not null;default:'none'" json:"staking_tier"`

	IsVerified bool       `gorm:"default:false;index" json:"is_verified"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}
