package services

import (
	"sort"

	"endgame-arena/models"

	"github.com/shopspring/decimal"
)

type tierRule struct {
	tier       models.StakingTier
	min        decimal.Decimal
	multiplier decimal.Decimal
}

// Highest threshold first.
var stakingTiers = []tierRule{
	{models.StakingTierGold, decimal.NewFromInt(10000), decimal.RequireFromString("1.5")},
	{models.StakingTierSilver, decimal.NewFromInt(5000), decimal.RequireFromString("1.25")},
	{models.StakingTierBronze, decimal.NewFromInt(1000), decimal.RequireFromString("1.1")},
}

// TierFor maps a staked amount to its tier and reward multiplier.
func TierFor(staked decimal.Decimal) (models.StakingTier, decimal.Decimal) {
	for _, r := range stakingTiers {
		if staked.GreaterThanOrEqual(r.min) {
			return r.tier, r.multiplier
		}
	}
	return models.StakingTierNone, decimal.NewFromInt(1)
}

// TierMultiplier returns the reward multiplier of a tier.
func TierMultiplier(tier models.StakingTier) decimal.Decimal {
	for _, r := range stakingTiers {
		if r.tier == tier {
			return r.multiplier
		}
	}
	return decimal.NewFromInt(1)
}

// Payout is one agent's share of a prize pool.
type Payout struct {
	AgentID    string          `json:"agent_id"`
	Place      int             `json:"place"`
	Weight     decimal.Decimal `json:"weight"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Amount     decimal.Decimal `json:"amount"`
}

// DistributePrize splits pool across standings by placement weight. Agents
// sharing a place split the weights of the positions they occupy. Each share
// is then multiplied by the agent's staking tier multiplier. Zero shares are
// omitted.
func DistributePrize(pool decimal.Decimal, standings []Standing, weights []float64, tiers map[string]models.StakingTier) []Payout {
	if !pool.IsPositive() || len(standings) == 0 {
		return nil
	}
	sorted := make([]Standing, len(standings))
	copy(sorted, standings)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Place < sorted[j].Place })

	var payouts []Payout
	for start := 0; start < len(sorted); {
		end := start + 1
		for end < len(sorted) && sorted[end].Place == sorted[start].Place {
			end++
		}
		group := sorted[start:end]

		sum := decimal.Zero
		for pos := start; pos < end; pos++ {
			if pos < len(weights) {
				sum = sum.Add(decimal.NewFromFloat(weights[pos]))
			}
		}
		share := sum.Div(decimal.NewFromInt(int64(len(group))))

		if share.IsPositive() {
			for _, st := range group {
				mult := TierMultiplier(tiers[st.AgentID])
				payouts = append(payouts, Payout{
					AgentID:    st.AgentID,
					Place:      st.Place,
					Weight:     share,
					Multiplier: mult,
					Amount:     pool.Mul(share).Mul(mult).Round(8),
				})
			}
		}
		start = end
	}
	return payouts
}
