// handlers/competition.go
package handlers

import (
	"endgame-arena/middleware"
	"endgame-arena/services"

	"github.com/gofiber/fiber/v2"
)

// SetupCompetitionRoutes mounts join and submit for authenticated agents.
func SetupCompetitionRoutes(r fiber.Router, matches *services.MatchService, keys middleware.KeyVerifier, limit fiber.Handler) {
	compete := middleware.RequireKey(keys, services.ScopeMatchCompete)

	r.Post("/matches/:id/join", compete, limit, func(c *fiber.Ctx) error {
		p, err := principal(c)
		if err != nil {
			return err
		}
		m, err := matches.JoinMatch(c.UserContext(), c.Params("id"), p.AgentID)
		if err != nil {
			return err
		}
		return c.JSON(m)
	})

	r.Post("/matches/:id/submit", compete, limit, func(c *fiber.Ctx) error {
		p, err := principal(c)
		if err != nil {
			return err
		}
		var body struct {
			Round  int    `json:"round"`
			Answer string `json:"answer"`
		}
		if err := parseBody(c, &body); err != nil {
			return err
		}
		res, err := matches.SubmitAnswer(c.UserContext(), services.SubmitInput{
			MatchID: c.Params("id"),
			AgentID: p.AgentID,
			Round:   body.Round,
			Answer:  body.Answer,
		})
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(res)
	})
}
