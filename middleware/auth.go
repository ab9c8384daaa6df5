// middleware/auth.go
package middleware

import (
	"context"

	"endgame-arena/services"

	"github.com/gofiber/fiber/v2"
)

const principalKey = "principal"

// KeyVerifier resolves bearer API keys.
type KeyVerifier interface {
	Verify(ctx context.Context, key string, scope services.Scope) (*services.Principal, error)
}

// RequireKey authenticates the request's bearer API key and checks that it
// carries scope. The principal is available through Principal(c).
func RequireKey(keys KeyVerifier, scope services.Scope) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			return services.Errorf(services.KindUnauthorized, "api key missing")
		}
		p, err := keys.Verify(c.UserContext(), token, scope)
		if err != nil {
			return err
		}
		c.Locals(principalKey, p)
		return c.Next()
	}
}

// Principal returns the authenticated agent, or nil on public routes.
func Principal(c *fiber.Ctx) *services.Principal {
	p, _ := c.Locals(principalKey).(*services.Principal)
	return p
}
