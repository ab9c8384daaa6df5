// handlers/admin.go
package handlers

import (
	"endgame-arena/models"
	"endgame-arena/services"

	"github.com/gofiber/fiber/v2"
)

// SetupAdminRoutes mounts operator routes. The caller guards the group with
// the service token.
func SetupAdminRoutes(r fiber.Router, svc Services) {
	r.Post("/challenges", func(c *fiber.Ctx) error {
		var in services.CreateChallengeInput
		if err := parseBody(c, &in); err != nil {
			return err
		}
		ch, err := svc.Challenges.CreateChallenge(c.UserContext(), in)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(ch)
	})

	r.Get("/challenges", func(c *fiber.Ctx) error {
		list, err := svc.Challenges.ListChallenges(c.UserContext(), c.Query("category"), c.Query("difficulty"), queryLimit(c))
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"challenges": list})
	})

	r.Get("/challenges/:id", func(c *fiber.Ctx) error {
		ch, err := svc.Challenges.GetChallenge(c.UserContext(), c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(ch)
	})

	r.Post("/matches", func(c *fiber.Ctx) error {
		var in services.CreateMatchInput
		if err := parseBody(c, &in); err != nil {
			return err
		}
		m, err := svc.Matches.CreateMatch(c.UserContext(), in)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(m)
	})

	r.Post("/matches/:id/cancel", func(c *fiber.Ctx) error {
		var body struct {
			Reason string `json:"reason"`
		}
		if len(c.Body()) > 0 {
			if err := parseBody(c, &body); err != nil {
				return err
			}
		}
		m, err := svc.Matches.CancelMatch(c.UserContext(), c.Params("id"), body.Reason)
		if err != nil {
			return err
		}
		return c.JSON(m)
	})

	// Settlement provider callback for intents it accepted asynchronously.
	r.Post("/settlement/callback", func(c *fiber.Ctx) error {
		var body struct {
			IdempotencyKey string                   `json:"idempotency_key"`
			Status         models.TransactionStatus `json:"status"`
			Reference      string                   `json:"reference"`
			Reason         string                   `json:"reason"`
		}
		if err := parseBody(c, &body); err != nil {
			return err
		}
		txn, err := svc.Settlement.ApplySettlementResult(c.UserContext(), body.IdempotencyKey, body.Status, body.Reference, body.Reason)
		if err != nil {
			return err
		}
		return c.JSON(txn)
	})

	r.Post("/settlement/dispatch", func(c *fiber.Ctx) error {
		n, err := svc.Settlement.DispatchPending(c.UserContext())
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"dispatched": n})
	})
}
