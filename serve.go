package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"endgame-arena/handlers"
	"endgame-arena/metrics"
	"endgame-arena/middleware"
	"endgame-arena/services"
	"endgame-arena/utils"
	"endgame-arena/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveRun(cmd.Context())
		},
	}
}

func serveRun(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase()
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(reg); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	cache := services.NewCache(cfg.RedisURL)
	defer cache.Close()

	var files services.FileStore
	if cfg.R2AccountID != "" {
		store, err := utils.NewR2Store(ctx, utils.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			AccessKeySecret: cfg.R2AccessKeySecret,
			Bucket:          cfg.R2Bucket,
			CDNBaseURL:      cfg.CDNBaseURL,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize R2: %w", err)
		}
		files = store
	} else {
		store, err := utils.NewLocalStore(cfg.UploadDir, cfg.PublicBaseURL+"/uploads")
		if err != nil {
			return fmt.Errorf("failed to prepare upload dir: %w", err)
		}
		files = store
		log.Warn().Str("dir", cfg.UploadDir).Msg("R2 is not configured, storing uploads on local disk")
	}

	claims := services.NewClaimTokens(cfg.ClaimTokenSecret, cfg.ClaimTokenTTL)

	leaderboard := services.NewLeaderboardService(db, cache, cfg.LeaderboardTTL)

	matches := services.NewMatchService(db)
	matches.KFactor = cfg.EloKFactor
	matches.RoundGrace = cfg.RoundGrace
	matches.PendingTimeout = cfg.PendingMatchTimeout
	matches.Invalidator = leaderboard

	verification := services.NewVerificationService(db, services.NewIdentityClient(cfg.IdentityProviderURL, cfg.IdentityProviderToken), claims)
	verification.CodeTTL = cfg.VerificationCodeTTL
	verification.EloBaseline = cfg.EloBaseline

	var provider services.SettlementProvider
	if cfg.SettlementURL != "" {
		provider = services.NewSettlementClient(cfg.SettlementURL, cfg.SettlementToken)
	} else {
		log.Warn().Msg("SETTLEMENT_URL is not set, ledger intents stay pending")
	}
	settlement := services.NewSettlementService(db, provider, cfg.SettlementRate, cfg.SettlementBatchSize)
	settlement.Invalidator = leaderboard

	svc := handlers.Services{
		Matches:      matches,
		Keys:         services.NewAPIKeyService(db),
		Verification: verification,
		Wallets:      services.NewWalletService(db, claims),
		Staking:      services.NewStakingService(db),
		Settlement:   settlement,
		Leaderboard:  leaderboard,
		Agents:       services.NewAgentService(db, files),
		Challenges:   services.NewChallengeService(db),
	}

	app := fiber.New(fiber.Config{
		AppName:      programName,
		ErrorHandler: middleware.ErrorHandler,
		BodyLimit:    4 * 1024 * 1024,
		ReadTimeout:  15 * time.Second,
	})
	app.Use(cors.New(cors.Config{
		AllowOrigins:  allowOrigins(cfg.Origins()),
		AllowMethods:  "GET,POST,DELETE,OPTIONS",
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, Idempotency-Key, X-Service-Token",
		ExposeHeaders: "X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset, Retry-After",
		MaxAge:        86400,
	}))
	app.Use(middleware.Metrics(), middleware.RequestLogger())

	if cfg.R2AccountID == "" {
		app.Static("/uploads", cfg.UploadDir)
	}

	rdb := cache.Client()
	handlers.SetupRoutes(app, svc, handlers.RouteConfig{
		ServiceToken:  cfg.ServiceToken,
		PublicLimiter: middleware.NewLimiter(rdb, "public", cfg.PublicRateLimit, cfg.RateLimitWindow),
		AgentLimiter:  middleware.NewLimiter(rdb, "agent", cfg.AgentRateLimit, cfg.RateLimitWindow),
		VerifyLimiter: middleware.NewLimiter(rdb, "verify", cfg.VerifyRateLimit, cfg.RateLimitWindow),
		Gatherer:      reg,
		DB:            db,
		Cache:         cache,
	})

	sched, err := workers.NewScheduler(workers.ArenaTasks(matches, verification, settlement, cfg.SweepInterval, cfg.SettlementInterval))
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	sched.Start()
	defer func() {
		if err := sched.Shutdown(); err != nil {
			log.Error().Err(err).Msg("scheduler shutdown failed")
		}
	}()

	if cfg.SettlementURL != "" {
		go workers.NewSettlementSyncWorker(settlement, cfg.SettlementURL, cfg.SettlementToken, cfg.SettlementInterval*6).Run(ctx)
	}

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(":" + cfg.Port)
	}()
	log.Info().Str("port", cfg.Port).Strs("origins", cfg.Origins()).Msg("server running")

	select {
	case err := <-listenErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	return nil
}

func allowOrigins(origins []string) string {
	if len(origins) == 0 {
		return "*"
	}
	return strings.Join(origins, ",")
}
