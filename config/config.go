// config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the arena service.
// Precedence: defaults < YAML file < .env < process environment.
type Config struct {
	Port           string `yaml:"port"           envconfig:"PORT"`
	DatabaseURL    string `yaml:"databaseUrl"    envconfig:"DATABASE_URL"`
	RedisURL       string `yaml:"redisUrl"       envconfig:"REDIS_URL"`
	LogLevel       string `yaml:"logLevel"       envconfig:"LOG_LEVEL"`
	AllowedOrigins string `yaml:"allowedOrigins" envconfig:"ALLOWED_ORIGINS"`

	// ServiceToken protects admin and settlement callback routes.
	ServiceToken string `yaml:"serviceToken" envconfig:"ARENA_SERVICE_TOKEN"`

	ClaimTokenSecret    string        `yaml:"claimTokenSecret"    envconfig:"CLAIM_TOKEN_SECRET"`
	ClaimTokenTTL       time.Duration `yaml:"claimTokenTtl"       envconfig:"CLAIM_TOKEN_TTL"`
	VerificationCodeTTL time.Duration `yaml:"verificationCodeTtl" envconfig:"VERIFICATION_CODE_TTL"`

	PendingMatchTimeout time.Duration `yaml:"pendingMatchTimeout" envconfig:"PENDING_MATCH_TIMEOUT"`
	RoundGrace          time.Duration `yaml:"roundGrace"          envconfig:"ROUND_GRACE"`
	SweepInterval       time.Duration `yaml:"sweepInterval"       envconfig:"SWEEP_INTERVAL"`

	EloKFactor  float64 `yaml:"eloKFactor"  envconfig:"ELO_K_FACTOR"`
	EloBaseline float64 `yaml:"eloBaseline" envconfig:"ELO_BASELINE"`

	IdentityProviderURL   string `yaml:"identityProviderUrl"   envconfig:"IDENTITY_PROVIDER_URL"`
	IdentityProviderToken string `yaml:"identityProviderToken" envconfig:"IDENTITY_PROVIDER_TOKEN"`

	SettlementURL       string        `yaml:"settlementUrl"       envconfig:"SETTLEMENT_URL"`
	SettlementToken     string        `yaml:"settlementToken"     envconfig:"SETTLEMENT_TOKEN"`
	SettlementRate      float64       `yaml:"settlementRate"      envconfig:"SETTLEMENT_RATE"`
	SettlementBatchSize int           `yaml:"settlementBatchSize" envconfig:"SETTLEMENT_BATCH_SIZE"`
	SettlementInterval  time.Duration `yaml:"settlementInterval"  envconfig:"SETTLEMENT_INTERVAL"`

	PublicRateLimit   int           `yaml:"publicRateLimit"   envconfig:"PUBLIC_RATE_LIMIT"`
	AgentRateLimit    int           `yaml:"agentRateLimit"    envconfig:"AGENT_RATE_LIMIT"`
	VerifyRateLimit   int           `yaml:"verifyRateLimit"   envconfig:"VERIFY_RATE_LIMIT"`
	RateLimitWindow   time.Duration `yaml:"rateLimitWindow"   envconfig:"RATE_LIMIT_WINDOW"`
	LeaderboardTTL    time.Duration `yaml:"leaderboardTtl"    envconfig:"LEADERBOARD_TTL"`

	R2AccountID       string `yaml:"r2AccountId"       envconfig:"CLOUDFLARE_ACCOUNT_ID"`
	R2AccessKeyID     string `yaml:"r2AccessKeyId"     envconfig:"R2_ACCESS_KEY_ID"`
	R2AccessKeySecret string `yaml:"r2AccessKeySecret" envconfig:"R2_ACCESS_KEY_SECRET"`
	R2Bucket          string `yaml:"r2Bucket"          envconfig:"R2_BUCKET_NAME"`
	CDNBaseURL        string `yaml:"cdnBaseUrl"        envconfig:"CDN_BASE_URL"`

	// Local avatar storage when R2 is not configured.
	UploadDir     string `yaml:"uploadDir"     envconfig:"UPLOAD_DIR"`
	PublicBaseURL string `yaml:"publicBaseUrl" envconfig:"PUBLIC_BASE_URL"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:                "5200",
		LogLevel:            "info",
		AllowedOrigins:      "http://localhost:3000",
		ClaimTokenTTL:       15 * time.Minute,
		VerificationCodeTTL: 30 * time.Minute,
		PendingMatchTimeout: 30 * time.Minute,
		RoundGrace:          15 * time.Second,
		SweepInterval:       30 * time.Second,
		EloKFactor:          32,
		EloBaseline:         1200,
		SettlementRate:      5,
		SettlementBatchSize: 50,
		SettlementInterval:  10 * time.Second,
		PublicRateLimit:     100,
		AgentRateLimit:      60,
		VerifyRateLimit:     5,
		RateLimitWindow:     time.Minute,
		LeaderboardTTL:      30 * time.Second,
		UploadDir:           "uploads",
		PublicBaseURL:       "http://localhost:5200",
	}
}

// Load builds the configuration. configFile may be empty.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("[CONFIG] no .env file found, reading environment variables directly")
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.EloKFactor <= 0 {
		errs = append(errs, errors.New("eloKFactor must be positive"))
	}
	if c.EloBaseline <= 0 {
		errs = append(errs, errors.New("eloBaseline must be positive"))
	}
	if c.VerificationCodeTTL <= 0 {
		errs = append(errs, errors.New("verificationCodeTtl must be positive"))
	}
	if c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("rateLimitWindow must be positive"))
	}
	if c.SettlementRate <= 0 {
		errs = append(errs, errors.New("settlementRate must be positive"))
	}
	return errors.Join(errs...)
}

// ValidateServe adds the requirements of the HTTP server on top of Validate.
func (c *Config) ValidateServe() error {
	if c.ClaimTokenSecret == "" {
		return errors.New("claimTokenSecret (CLAIM_TOKEN_SECRET) is required to serve")
	}
	return nil
}

// Origins splits AllowedOrigins into trimmed entries.
func (c *Config) Origins() []string {
	var out []string
	for _, origin := range strings.Split(c.AllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}
