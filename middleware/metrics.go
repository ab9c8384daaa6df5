// middleware/metrics.go
package middleware

import (
	"strconv"
	"time"

	"endgame-arena/metrics"

	"github.com/gofiber/fiber/v2"
)

// Metrics records request latency by route template.
func Metrics() fiber.Handler {
	return func(c *fiber.Ctx) error {
		metrics.RequestsInFlight.Inc()
		start := time.Now()
		err := c.Next()
		metrics.RequestsInFlight.Dec()

		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}
		metrics.RequestDuration.
			WithLabelValues(c.Route().Path, c.Method(), strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
		return err
	}
}
