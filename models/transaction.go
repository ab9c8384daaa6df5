package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType indicates what token movement a ledger entry records.
type TransactionType string

const (
	TransactionTypeReward   TransactionType = "reward"
	TransactionTypeEntryFee TransactionType = "entry_fee"
	TransactionTypeRefund   TransactionType = "refund"
	TransactionTypeStake    TransactionType = "stake"
	TransactionTypeUnstake  TransactionType = "unstake"
)

// TransactionStatus tracks settlement by the external provider.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusConfirmed TransactionStatus = "confirmed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Transaction is an append-only ledger intent. Only Status and the
// settlement bookkeeping columns change after insert.
type Transaction struct {
	ID             string            `gorm:"primaryKey;type:uuid" json:"id"`
	AgentID        string            `gorm:"type:uuid;not null;index" json:"agent_id"`
	MatchID        *string           `gorm:"type:uuid;index" json:"match_id,omitempty"`
	Type           TransactionType   `gorm:"type:varchar(16);not null" json:"type"`
	Amount         decimal.Decimal   `gorm:"type:numeric(20,8);not null" json:"amount"`
	Status         TransactionStatus `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	IdempotencyKey string            `gorm:"type:varchar(128);not null;uniqueIndex" json:"idempotency_key"`
	SettlementRef  string            `gorm:"type:varchar(128)" json:"settlement_ref,omitempty"`
	FailureReason  string            `gorm:"type:text" json:"failure_reason,omitempty"`
	SubmittedAt    *time.Time        `gorm:"index" json:"submitted_at,omitempty"`
	SettledAt      *time.Time        `json:"settled_at,omitempty"`
	CreatedAt      time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}
