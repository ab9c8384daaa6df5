// services/settlement_service.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"endgame-arena/metrics"
	"endgame-arena/models"
	"endgame-arena/utils"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Receipt statuses returned by the settlement provider.
const (
	ReceiptAccepted  = "accepted"
	ReceiptConfirmed = "confirmed"
	ReceiptFailed    = "failed"
)

// SettlementInstruction is one ledger intent sent for on-chain settlement.
type SettlementInstruction struct {
	IdempotencyKey string                 `json:"idempotency_key"`
	AgentID        string                 `json:"agent_id"`
	WalletAddress  string                 `json:"wallet_address,omitempty"`
	MatchID        string                 `json:"match_id,omitempty"`
	Type           models.TransactionType `json:"type"`
	Amount         decimal.Decimal        `json:"amount"`
}

// SettlementReceipt is the provider's answer to Submit.
type SettlementReceipt struct {
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Reason    string `json:"reason,omitempty"`
}

type SettlementProvider interface {
	Submit(ctx context.Context, in SettlementInstruction) (*SettlementReceipt, error)
}

// SettlementClient posts instructions to the settlement provider over HTTP.
type SettlementClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewSettlementClient(baseURL, token string) *SettlementClient {
	return &SettlementClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  utils.NewHTTPClient(15 * time.Second),
	}
}

func (c *SettlementClient) Submit(ctx context.Context, in SettlementInstruction) (*SettlementReceipt, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode instruction: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/settlements", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", in.IdempotencyKey)
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call settlement provider: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("settlement provider returned %d: %s", resp.StatusCode, string(body))
	}

	var out SettlementReceipt
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	switch out.Status {
	case ReceiptAccepted, ReceiptConfirmed, ReceiptFailed:
	default:
		return nil, fmt.Errorf("unknown receipt status %q", out.Status)
	}
	return &out, nil
}

// SettlementService moves pending transactions through the provider and
// applies the side effects of their outcomes.
type SettlementService struct {
	DB          *gorm.DB
	Provider    SettlementProvider
	Limiter     *rate.Limiter
	BatchSize   int
	Invalidator CacheInvalidator
	Now         func() time.Time
}

func NewSettlementService(db *gorm.DB, provider SettlementProvider, perSecond float64, batch int) *SettlementService {
	if perSecond <= 0 {
		perSecond = 5
	}
	if batch <= 0 {
		batch = 50
	}
	return &SettlementService{
		DB:        db,
		Provider:  provider,
		Limiter:   rate.NewLimiter(rate.Limit(perSecond), 1),
		BatchSize: batch,
		Now:       time.Now,
	}
}

// DispatchPending submits unsent pending transactions, oldest first. Each is
// claimed by setting submitted_at before the call, so concurrent workers do
// not send it twice. Transport failures release the claim for a later retry
// under the same idempotency key.
func (s *SettlementService) DispatchPending(ctx context.Context) (int, error) {
	if s.Provider == nil {
		return 0, nil
	}
	db := s.DB.WithContext(ctx)

	var batch []models.Transaction
	if err := db.Where("status = ? AND submitted_at IS NULL", models.TransactionStatusPending).
		Order("created_at ASC").
		Limit(s.BatchSize).
		Find(&batch).Error; err != nil {
		return 0, internal(err, "failed to load pending transactions")
	}

	sent := 0
	for i := range batch {
		txn := &batch[i]
		if s.Limiter != nil {
			if err := s.Limiter.Wait(ctx); err != nil {
				return sent, nil
			}
		}

		now := s.now()
		res := db.Model(&models.Transaction{}).
			Where("id = ? AND submitted_at IS NULL", txn.ID).
			Update("submitted_at", now)
		if res.Error != nil {
			return sent, internal(res.Error, "failed to claim transaction")
		}
		if res.RowsAffected == 0 {
			continue
		}

		instr := SettlementInstruction{
			IdempotencyKey: txn.IdempotencyKey,
			AgentID:        txn.AgentID,
			Type:           txn.Type,
			Amount:         txn.Amount,
		}
		if txn.MatchID != nil {
			instr.MatchID = *txn.MatchID
		}
		var agent models.Agent
		if err := db.Select("wallet_address").First(&agent, "id = ?", txn.AgentID).Error; err == nil && agent.WalletAddress != nil {
			instr.WalletAddress = *agent.WalletAddress
		}

		receipt, err := s.Provider.Submit(ctx, instr)
		if err != nil {
			log.Error().Err(err).Str("key", txn.IdempotencyKey).Msg("[SETTLE] submit failed, will retry")
			if rerr := db.Model(&models.Transaction{}).Where("id = ?", txn.ID).
				Update("submitted_at", nil).Error; rerr != nil {
				log.Error().Err(rerr).Str("key", txn.IdempotencyKey).Msg("[SETTLE] failed to release claim")
			}
			continue
		}
		sent++

		switch receipt.Status {
		case ReceiptAccepted:
			if err := db.Model(&models.Transaction{}).Where("id = ?", txn.ID).
				Update("settlement_ref", receipt.Reference).Error; err != nil {
				log.Error().Err(err).Str("key", txn.IdempotencyKey).Msg("[SETTLE] failed to store reference")
			}
		case ReceiptConfirmed, ReceiptFailed:
			if _, err := s.ApplySettlementResult(ctx, txn.IdempotencyKey, models.TransactionStatus(receipt.Status), receipt.Reference, receipt.Reason); err != nil {
				log.Error().Err(err).Str("key", txn.IdempotencyKey).Msg("[SETTLE] failed to apply receipt")
			}
		}
	}
	return sent, nil
}

// ApplySettlementResult moves a pending transaction to confirmed or failed
// and applies its balance effects. Only the first result for a key counts.
func (s *SettlementService) ApplySettlementResult(ctx context.Context, key string, status models.TransactionStatus, ref, reason string) (*models.Transaction, error) {
	if status != models.TransactionStatusConfirmed && status != models.TransactionStatusFailed {
		return nil, invalidInput("status must be confirmed or failed")
	}
	if strings.TrimSpace(key) == "" {
		return nil, invalidInput("idempotency_key is required")
	}

	var out models.Transaction
	applied := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).First(&out, "idempotency_key = ?", key).Error; err != nil {
			return lookupErr(err, "transaction")
		}
		if out.Status != models.TransactionStatusPending {
			if out.Status == status {
				return nil
			}
			return invalidState("transaction is already %s", out.Status)
		}

		now := s.now()
		updates := map[string]any{"status": status, "settled_at": now}
		if ref != "" {
			updates["settlement_ref"] = ref
		}
		if reason != "" {
			updates["failure_reason"] = reason
		}
		res := tx.Model(&models.Transaction{}).
			Where("id = ? AND status = ?", out.ID, models.TransactionStatusPending).
			Updates(updates)
		if res.Error != nil {
			return internal(res.Error, "failed to update transaction")
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := applySettlementEffects(tx, &out, status); err != nil {
			return err
		}
		applied = true
		return tx.First(&out, "id = ?", out.ID).Error
	})
	if err != nil {
		return nil, passThrough(err, "failed to apply settlement result")
	}

	if applied {
		metrics.SettlementsTotal.WithLabelValues(string(out.Type), string(status)).Inc()
		log.Info().
			Str("key", key).
			Str("type", string(out.Type)).
			Str("status", string(status)).
			Msg("[SETTLE] result applied")
		if out.Type == models.TransactionTypeReward && status == models.TransactionStatusConfirmed && s.Invalidator != nil {
			s.Invalidator.Invalidate(ctx)
		}
	}
	return &out, nil
}

func applySettlementEffects(tx *gorm.DB, txn *models.Transaction, status models.TransactionStatus) error {
	switch {
	case status == models.TransactionStatusConfirmed && txn.Type == models.TransactionTypeReward:
		if err := tx.Model(&models.Agent{}).Where("id = ?", txn.AgentID).
			Update("total_viq_earned", gorm.Expr("total_viq_earned + ?", txn.Amount)).Error; err != nil {
			return internal(err, "failed to credit reward")
		}
	case status == models.TransactionStatusConfirmed && txn.Type == models.TransactionTypeStake,
		status == models.TransactionStatusFailed && txn.Type == models.TransactionTypeUnstake:
		var agent models.Agent
		if err := lockForUpdate(tx).First(&agent, "id = ?", txn.AgentID).Error; err != nil {
			return lookupErr(err, "agent")
		}
		return adjustStake(tx, &agent, txn.Amount)
	}
	return nil
}

// ListTransactions returns an agent's ledger, newest first.
func (s *SettlementService) ListTransactions(ctx context.Context, agentID string, limit int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []models.Transaction
	if err := s.DB.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, internal(err, "failed to list transactions")
	}
	return out, nil
}

func (s *SettlementService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
