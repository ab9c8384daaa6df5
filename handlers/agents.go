// handlers/agents.go
package handlers

import (
	"context"

	"endgame-arena/middleware"
	"endgame-arena/models"
	"endgame-arena/services"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type agentHandler struct {
	svc Services
}

// SetupAgentRoutes mounts the authenticated /agents/me routes.
func SetupAgentRoutes(r fiber.Router, svc Services, limit fiber.Handler) {
	h := &agentHandler{svc: svc}
	auth := func(scope services.Scope) fiber.Handler {
		return middleware.RequireKey(svc.Keys, scope)
	}

	me := r.Group("/agents/me")
	me.Get("/", auth(services.ScopeAgentRead), limit, h.me)
	me.Get("/transactions", auth(services.ScopeAgentRead), limit, h.transactions)
	me.Get("/staking", auth(services.ScopeAgentRead), limit, h.staking)
	me.Post("/stake", auth(services.ScopeStakeManage), limit, h.stake)
	me.Post("/unstake", auth(services.ScopeStakeManage), limit, h.unstake)
	me.Post("/wallet", auth(services.ScopeWalletLink), limit, h.linkWallet)
	me.Post("/avatar", auth(services.ScopeKeysManage), limit, h.avatar)
	me.Get("/keys", auth(services.ScopeKeysManage), limit, h.listKeys)
	me.Post("/keys", auth(services.ScopeKeysManage), limit, h.issueKey)
	me.Delete("/keys/:keyId", auth(services.ScopeKeysManage), limit, h.revokeKey)
}

func (h *agentHandler) me(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	agent, err := h.svc.Agents.GetAgent(c.UserContext(), p.AgentID)
	if err != nil {
		return err
	}
	return c.JSON(agent)
}

func (h *agentHandler) transactions(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	txns, err := h.svc.Settlement.ListTransactions(c.UserContext(), p.AgentID, queryLimit(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"transactions": txns})
}

func (h *agentHandler) staking(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	sum, err := h.svc.Staking.Summary(c.UserContext(), p.AgentID)
	if err != nil {
		return err
	}
	return c.JSON(sum)
}

type stakeRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *agentHandler) stake(c *fiber.Ctx) error {
	return h.moveStake(c, h.svc.Staking.Stake)
}

func (h *agentHandler) unstake(c *fiber.Ctx) error {
	return h.moveStake(c, h.svc.Staking.Unstake)
}

type stakeOp func(ctx context.Context, agentID string, amount decimal.Decimal, clientKey string) (*models.Transaction, error)

// moveStake runs a stake or unstake. The Idempotency-Key header makes
// retries return the original intent.
func (h *agentHandler) moveStake(c *fiber.Ctx, op stakeOp) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var body stakeRequest
	if err := parseBody(c, &body); err != nil {
		return err
	}
	txn, err := op(c.UserContext(), p.AgentID, body.Amount, c.Get("Idempotency-Key"))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(txn)
}

func (h *agentHandler) linkWallet(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var body struct {
		Address    string `json:"address"`
		ClaimToken string `json:"claim_token"`
	}
	if err := parseBody(c, &body); err != nil {
		return err
	}
	agent, err := h.svc.Wallets.LinkWallet(c.UserContext(), p.AgentID, body.Address, body.ClaimToken)
	if err != nil {
		return err
	}
	return c.JSON(agent)
}

func (h *agentHandler) avatar(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	fh, err := c.FormFile("avatar")
	if err != nil {
		return services.Errorf(services.KindInvalidInput, "avatar file is required")
	}
	agent, err := h.svc.Agents.SetAvatar(c.UserContext(), p.AgentID, fh)
	if err != nil {
		return err
	}
	return c.JSON(agent)
}

func (h *agentHandler) listKeys(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	keys, err := h.svc.Keys.ListKeys(c.UserContext(), p.AgentID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"keys": keys})
}

func (h *agentHandler) issueKey(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var body struct {
		Scopes []string `json:"scopes"`
		Label  string   `json:"label"`
	}
	if err := parseBody(c, &body); err != nil {
		return err
	}
	scopes, err := services.ParseScopes(body.Scopes)
	if err != nil {
		return err
	}
	issued, err := h.svc.Keys.IssueKey(c.UserContext(), p.AgentID, scopes, body.Label, p)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(issued)
}

func (h *agentHandler) revokeKey(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	if err := h.svc.Keys.RevokeKey(c.UserContext(), p.AgentID, c.Params("keyId")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
