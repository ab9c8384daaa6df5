// services/staking_service.go
package services

import (
	"context"
	"strings"

	"endgame-arena/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var maxStakeAmount = decimal.NewFromInt(1_000_000_000)

type StakingService struct {
	DB *gorm.DB
}

func NewStakingService(db *gorm.DB) *StakingService {
	return &StakingService{DB: db}
}

func validStakeAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return invalidInput("amount must be positive")
	}
	if amount.GreaterThan(maxStakeAmount) {
		return invalidInput("amount exceeds %s", maxStakeAmount)
	}
	if !amount.Equal(amount.Round(8)) {
		return invalidInput("amount supports at most 8 decimal places")
	}
	return nil
}

func stakeKey(t models.TransactionType, agentID, clientKey string) string {
	clientKey = strings.TrimSpace(clientKey)
	if clientKey == "" {
		clientKey = uuid.NewString()
	}
	return intentKey(t, agentID, clientKey)
}

// Stake records a stake intent. The staked amount and tier change when the
// settlement provider confirms it. Replaying the same client key returns the
// original intent.
func (s *StakingService) Stake(ctx context.Context, agentID string, amount decimal.Decimal, clientKey string) (*models.Transaction, error) {
	if err := validStakeAmount(amount); err != nil {
		return nil, err
	}
	key := stakeKey(models.TransactionTypeStake, agentID, clientKey)

	var out models.Transaction
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var agent models.Agent
		if err := tx.First(&agent, "id = ?", agentID).Error; err != nil {
			return lookupErr(err, "agent")
		}
		if !agent.IsVerified {
			return forbidden("agent is not verified")
		}
		if err := recordIntent(tx, agentID, nil, models.TransactionTypeStake, amount, key); err != nil {
			return err
		}
		return loadReplay(tx, key, amount, &out)
	})
	if err != nil {
		return nil, passThrough(err, "failed to stake")
	}
	log.Info().Str("agent_id", agentID).Str("amount", amount.String()).Msg("[STAKE] stake requested")
	return &out, nil
}

// Unstake reserves the amount immediately so it cannot be unstaked twice.
// A failed settlement restores it.
func (s *StakingService) Unstake(ctx context.Context, agentID string, amount decimal.Decimal, clientKey string) (*models.Transaction, error) {
	if err := validStakeAmount(amount); err != nil {
		return nil, err
	}
	key := stakeKey(models.TransactionTypeUnstake, agentID, clientKey)

	var out models.Transaction
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Transaction
		err := tx.Where("idempotency_key = ?", key).Limit(1).Find(&existing).Error
		if err != nil {
			return internal(err, "failed to check unstake replay")
		}
		if existing.ID != "" {
			return loadReplay(tx, key, amount, &out)
		}

		var agent models.Agent
		if err := lockForUpdate(tx).First(&agent, "id = ?", agentID).Error; err != nil {
			return lookupErr(err, "agent")
		}
		if amount.GreaterThan(agent.StakedAmount) {
			return invalidInput("amount exceeds staked balance %s", agent.StakedAmount)
		}
		if err := adjustStake(tx, &agent, amount.Neg()); err != nil {
			return err
		}
		if err := recordIntent(tx, agentID, nil, models.TransactionTypeUnstake, amount, key); err != nil {
			return err
		}
		return loadReplay(tx, key, amount, &out)
	})
	if err != nil {
		return nil, passThrough(err, "failed to unstake")
	}
	log.Info().Str("agent_id", agentID).Str("amount", amount.String()).Msg("[STAKE] unstake reserved")
	return &out, nil
}

// StakingSummary is an agent's current stake position.
type StakingSummary struct {
	StakedAmount decimal.Decimal      `json:"staked_amount"`
	Tier         models.StakingTier   `json:"tier"`
	Multiplier   decimal.Decimal      `json:"multiplier"`
	Pending      []models.Transaction `json:"pending"`
}

func (s *StakingService) Summary(ctx context.Context, agentID string) (*StakingSummary, error) {
	db := s.DB.WithContext(ctx)
	var agent models.Agent
	if err := db.First(&agent, "id = ?", agentID).Error; err != nil {
		return nil, lookupErr(err, "agent")
	}
	out := &StakingSummary{
		StakedAmount: agent.StakedAmount,
		Tier:         agent.StakingTier,
		Multiplier:   TierMultiplier(agent.StakingTier),
	}
	if err := db.Where("agent_id = ? AND type IN ? AND status = ?", agentID,
		[]models.TransactionType{models.TransactionTypeStake, models.TransactionTypeUnstake},
		models.TransactionStatusPending).
		Order("created_at ASC").
		Find(&out.Pending).Error; err != nil {
		return nil, internal(err, "failed to list pending stake transactions")
	}
	return out, nil
}

func loadReplay(tx *gorm.DB, key string, amount decimal.Decimal, out *models.Transaction) error {
	if err := tx.Where("idempotency_key = ?", key).First(out).Error; err != nil {
		return internal(err, "failed to load transaction")
	}
	if !out.Amount.Equal(amount) {
		return conflict("idempotency key reused with a different amount")
	}
	return nil
}

// adjustStake changes the staked balance by delta and recomputes the tier.
// The caller holds the agent row.
func adjustStake(tx *gorm.DB, agent *models.Agent, delta decimal.Decimal) error {
	staked := agent.StakedAmount.Add(delta)
	if staked.IsNegative() {
		staked = decimal.Zero
	}
	tier, _ := TierFor(staked)
	if err := tx.Model(&models.Agent{}).Where("id = ?", agent.ID).Updates(map[string]any{
		"staked_amount": staked,
		"staking_tier":  tier,
	}).Error; err != nil {
		return internal(err, "failed to update stake")
	}
	agent.StakedAmount = staked
	agent.StakingTier = tier
	return nil
}
