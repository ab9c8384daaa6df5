// handlers/leaderboard.go
package handlers

import (
	"endgame-arena/models"
	"endgame-arena/services"

	"github.com/gofiber/fiber/v2"
)

func SetupLeaderboardRoutes(r fiber.Router, lb *services.LeaderboardService, limit fiber.Handler) {
	r.Get("/leaderboard", limit, func(c *fiber.Ctx) error {
		entries, err := lb.Leaderboard(c.UserContext(), services.LeaderboardQuery{
			WeightClass: models.WeightClass(c.Query("weight_class")),
			Sort:        services.LeaderboardSort(c.Query("sort")),
			Limit:       queryLimit(c),
		})
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"leaderboard": entries})
	})

	r.Get("/game-types", limit, func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"game_types": services.GamePolicies()})
	})
}
