// middleware/service_token.go
package middleware

import (
	"crypto/subtle"
	"strings"

	"endgame-arena/services"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// ServiceToken guards operator routes with a shared secret sent as
// "Authorization: Bearer <token>" or "X-Service-Token".
func ServiceToken(expected string) fiber.Handler {
	want := []byte(expected)
	return func(c *fiber.Ctx) error {
		token := c.Get("X-Service-Token")
		if token == "" {
			token = bearerToken(c)
		}
		if token == "" {
			log.Warn().Str("path", c.Path()).Msg("[SERVICE_AUTH] missing service token")
			return services.Errorf(services.KindUnauthorized, "service token missing")
		}
		if len(want) == 0 || subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			log.Warn().Str("path", c.Path()).Msg("[SERVICE_AUTH] invalid service token")
			return services.Errorf(services.KindUnauthorized, "invalid service token")
		}
		return c.Next()
	}
}

func bearerToken(c *fiber.Ctx) string {
	h := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
