package models

import "time"

const (
	IdentityProviderTwitter = "twitter"
	IdentityProviderGloabi  = "gloabi"
)

// VerificationState is the single-use lifecycle of a code.
type VerificationState string

const (
	VerificationPending VerificationState = "pending"
	VerificationUsed    VerificationState = "used"
	VerificationExpired VerificationState = "expired"
)

// VerificationCode binds a third-party identity to a pending agent registration.
type VerificationCode struct {
	ID          string            `gorm:"primaryKey;type:uuid" json:"id"`
	Code        string            `gorm:"type:varchar(32);not null;uniqueIndex" json:"code"`
	Provider    string            `gorm:"type:varchar(16);not null" json:"provider"`
	Subject     string            `gorm:"not null" json:"subject"`
	AgentName   string            `gorm:"not null" json:"agent_name"`
	Platform    string            `gorm:"not null" json:"platform"`
	WeightClass WeightClass       `gorm:"type:varchar(16);not null" json:"weight_class"`
	State       VerificationState `gorm:"type:varchar(16);not null;default:'pending';index" json:"state"`
	ExpiresAt   time.Time         `gorm:"not null;index" json:"expires_at"`
	UsedAt      *time.Time        `json:"used_at,omitempty"`
	AgentID     *string           `gorm:"type:uuid" json:"agent_id,omitempty"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
}
