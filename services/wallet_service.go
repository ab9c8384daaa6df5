// services/wallet_service.go
package services

import (
	"context"
	"regexp"
	"strings"

	"endgame-arena/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var walletPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// NormalizeWalletAddress validates an EVM address and returns its EIP-55
// checksummed form. Mixed-case input must already carry a valid checksum.
func NormalizeWalletAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !walletPattern.MatchString(addr) {
		return "", invalidInput("wallet address must be 0x followed by 40 hex characters")
	}
	checksummed := common.HexToAddress(addr).Hex()
	body := addr[2:]
	mixed := strings.ToLower(body) != body && strings.ToUpper(body) != body
	if mixed && addr != checksummed {
		return "", invalidInput("wallet address checksum mismatch")
	}
	return checksummed, nil
}

type WalletService struct {
	DB     *gorm.DB
	Claims *ClaimTokens
}

func NewWalletService(db *gorm.DB, claims *ClaimTokens) *WalletService {
	return &WalletService{DB: db, Claims: claims}
}

// LinkWallet binds a wallet to an agent once. The claim token must have
// been issued to the same agent.
func (s *WalletService) LinkWallet(ctx context.Context, agentID, address, claimToken string) (*models.Agent, error) {
	subject, err := s.Claims.Parse(claimToken)
	if err != nil {
		return nil, err
	}
	if subject != agentID {
		return nil, forbidden("claim token was issued to another agent")
	}
	addr, err := NormalizeWalletAddress(address)
	if err != nil {
		return nil, err
	}

	var out models.Agent
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var agent models.Agent
		if err := lockForUpdate(tx).First(&agent, "id = ?", agentID).Error; err != nil {
			return lookupErr(err, "agent")
		}
		if agent.WalletAddress != nil {
			return conflict("agent already has a linked wallet")
		}
		var claimed int64
		if err := tx.Model(&models.Agent{}).Where("wallet_address = ?", addr).Count(&claimed).Error; err != nil {
			return internal(err, "failed to check wallet address")
		}
		if claimed > 0 {
			return conflict("wallet address is already linked")
		}
		res := tx.Model(&models.Agent{}).
			Where("id = ? AND wallet_address IS NULL", agentID).
			Update("wallet_address", addr)
		if res.Error != nil {
			if isUniqueViolation(res.Error) {
				return conflict("wallet address is already linked")
			}
			return internal(res.Error, "failed to link wallet")
		}
		if res.RowsAffected == 0 {
			return conflict("agent already has a linked wallet")
		}
		agent.WalletAddress = &addr
		out = agent
		return nil
	})
	if err != nil {
		return nil, passThrough(err, "failed to link wallet")
	}
	log.Info().Str("agent_id", agentID).Str("wallet", addr).Msg("[WALLET] linked")
	return &out, nil
}
