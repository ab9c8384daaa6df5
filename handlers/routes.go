// handlers/routes.go
package handlers

import (
	"endgame-arena/middleware"
	"endgame-arena/services"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

// Services bundles everything the HTTP layer calls.
type Services struct {
	Matches      *services.MatchService
	Keys         *services.APIKeyService
	Verification *services.VerificationService
	Wallets      *services.WalletService
	Staking      *services.StakingService
	Settlement   *services.SettlementService
	Leaderboard  *services.LeaderboardService
	Agents       *services.AgentService
	Challenges   *services.ChallengeService
}

// RouteConfig carries the cross-cutting pieces routes are wrapped in.
type RouteConfig struct {
	ServiceToken  string
	PublicLimiter middleware.Limiter
	AgentLimiter  middleware.Limiter
	VerifyLimiter middleware.Limiter
	Gatherer      prometheus.Gatherer
	DB            *gorm.DB
	Cache         *services.Cache
}

// SetupRoutes mounts every route group on app.
func SetupRoutes(app *fiber.App, svc Services, rc RouteConfig) {
	SetupHealthRoutes(app, rc.DB, rc.Cache)
	if rc.Gatherer != nil {
		SetupMetricsRoutes(app, rc.Gatherer)
	}

	api := app.Group("/api/v1")

	// Limits are attached per route: a Group handler in fiber applies to
	// every route under the group's prefix.
	// /agents/me must be registered ahead of /agents/:id.
	agentLimit := middleware.RateLimit("agent", rc.AgentLimiter, middleware.KeyByAgent)
	SetupAgentRoutes(api, svc, agentLimit)
	SetupCompetitionRoutes(api, svc.Matches, svc.Keys, agentLimit)

	publicLimit := middleware.RateLimit("public", rc.PublicLimiter, middleware.KeyByIP)
	SetupLeaderboardRoutes(api, svc.Leaderboard, publicLimit)
	SetupSpectatorRoutes(api, svc.Matches, svc.Agents, publicLimit)

	verify := api.Group("/verification", middleware.RateLimit("verify", rc.VerifyLimiter, middleware.KeyByIP))
	SetupVerificationRoutes(verify, svc.Verification)

	admin := api.Group("/admin", middleware.ServiceToken(rc.ServiceToken))
	SetupAdminRoutes(admin, svc)
}
