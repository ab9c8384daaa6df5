// handlers/verification.go
package handlers

import (
	"endgame-arena/services"

	"github.com/gofiber/fiber/v2"
)

func SetupVerificationRoutes(r fiber.Router, vs *services.VerificationService) {
	r.Post("/start", func(c *fiber.Ctx) error {
		var in services.StartVerificationInput
		if err := parseBody(c, &in); err != nil {
			return err
		}
		vc, err := vs.StartVerification(c.UserContext(), in)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"code":       vc.Code,
			"handle":     services.AgentHandle(vc.AgentName),
			"expires_at": vc.ExpiresAt,
		})
	})

	r.Post("/confirm", func(c *fiber.Ctx) error {
		var body struct {
			Code string `json:"code"`
		}
		if err := parseBody(c, &body); err != nil {
			return err
		}
		res, err := vs.ConfirmVerification(c.UserContext(), body.Code)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(res)
	})
}
