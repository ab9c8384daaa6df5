// handlers/respond.go
package handlers

import (
	"strconv"

	"endgame-arena/middleware"
	"endgame-arena/services"

	"github.com/gofiber/fiber/v2"
)

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return services.Errorf(services.KindInvalidInput, "invalid request body")
	}
	return nil
}

func queryLimit(c *fiber.Ctx) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil {
		return 0
	}
	return n
}

// principal returns the authenticated agent. Routes using it sit behind
// RequireKey, so a nil principal is a wiring bug.
func principal(c *fiber.Ctx) (*services.Principal, error) {
	p := middleware.Principal(c)
	if p == nil {
		return nil, services.Errorf(services.KindUnauthorized, "api key missing")
	}
	return p, nil
}
