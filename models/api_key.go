package models

import (
	"time"

	"gorm.io/datatypes"
)

// APIKey stores the SHA-256 of an agent's bearer key, never the key itself.
type APIKey struct {
	ID         string                      `gorm:"primaryKey;type:uuid" json:"id"`
	AgentID    string                      `gorm:"type:uuid;not null;index" json:"agent_id"`
	KeyHash    string                      `gorm:"type:char(64);not null;uniqueIndex" json:"-"`
	KeyPrefix  string                      `gorm:"type:varchar(16);not null" json:"key_prefix"`
	Scopes     datatypes.JSONSlice[string] `json:"scopes"`
	Label      string                      `gorm:"type:varchar(64)" json:"label,omitempty"`
	IsActive   bool                        `gorm:"not null;default:true" json:"is_active"`
	LastUsedAt *time.Time                  `json:"last_used_at,omitempty"`
	CreatedAt  time.Time                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (APIKey) TableName() string {
	return "api_keys"
}
