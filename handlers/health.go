// handlers/health.go
package handlers

import (
	"context"
	"time"

	"endgame-arena/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

func SetupHealthRoutes(app *fiber.App, db *gorm.DB, cache *services.Cache) {
	app.Get("/health", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		status := fiber.Map{"status": "ok", "database": "ok", "cache": "disabled"}
		code := fiber.StatusOK

		if db != nil {
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(ctx)
			}
			if err != nil {
				status["status"] = "degraded"
				status["database"] = "unreachable"
				code = fiber.StatusServiceUnavailable
			}
		}
		if rdb := cache.Client(); rdb != nil {
			status["cache"] = "ok"
			if err := rdb.Ping(ctx).Err(); err != nil {
				status["cache"] = "unreachable"
			}
		}
		return c.Status(code).JSON(status)
	})
}

func SetupMetricsRoutes(app *fiber.App, g prometheus.Gatherer) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))
}
