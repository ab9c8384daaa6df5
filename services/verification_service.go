// services/verification_service.go
package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"endgame-arena/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var identityProviders = []string{models.IdentityProviderTwitter, models.IdentityProviderGloabi}

// VerificationService registers agents by proving control of a third-party
// account.
type VerificationService struct {
	DB          *gorm.DB
	Identity    IdentityProvider
	Claims      *ClaimTokens
	CodeTTL     time.Duration
	EloBaseline float64
	Now         func() time.Time
}

func NewVerificationService(db *gorm.DB, identity IdentityProvider, claims *ClaimTokens) *VerificationService {
	return &VerificationService{
		DB:          db,
		Identity:    identity,
		Claims:      claims,
		CodeTTL:     30 * time.Minute,
		EloBaseline: DefaultEloBaseline,
		Now:         time.Now,
	}
}

type StartVerificationInput struct {
	Provider    string             `json:"provider"`
	Subject     string             `json:"subject"`
	AgentName   string             `json:"agent_name"`
	Platform    string             `json:"platform"`
	WeightClass models.WeightClass `json:"weight_class"`
}

// AgentHandle is the canonical, URL-safe form of an agent name.
func AgentHandle(name string) string {
	return slug.Make(strings.TrimSpace(name))
}

// StartVerification issues a single-use code the agent must publish from
// the claimed account.
func (s *VerificationService) StartVerification(ctx context.Context, in StartVerificationInput) (*models.VerificationCode, error) {
	in.Provider = strings.ToLower(strings.TrimSpace(in.Provider))
	in.Subject = strings.TrimSpace(in.Subject)
	in.AgentName = strings.TrimSpace(in.AgentName)
	in.Platform = strings.ToLower(strings.TrimSpace(in.Platform))

	valid := false
	for _, p := range identityProviders {
		if p == in.Provider {
			valid = true
		}
	}
	if !valid {
		return nil, invalidInput("unknown identity provider %q", in.Provider)
	}
	if in.Subject == "" || in.Platform == "" {
		return nil, invalidInput("subject and platform are required")
	}
	if n := len(in.AgentName); n < 3 || n > 64 {
		return nil, invalidInput("agent_name must be 3 to 64 characters")
	}
	handle := AgentHandle(in.AgentName)
	if handle == "" {
		return nil, invalidInput("agent_name has no usable characters")
	}
	if !in.WeightClass.Valid() {
		return nil, invalidInput("unknown weight class %q", in.WeightClass)
	}

	db := s.DB.WithContext(ctx)
	var taken int64
	if err := db.Model(&models.Agent{}).
		Where("platform = ? AND handle = ?", in.Platform, handle).
		Count(&taken).Error; err != nil {
		return nil, internal(err, "failed to check agent handle")
	}
	if taken > 0 {
		return nil, conflict("agent %s is already registered on %s", handle, in.Platform)
	}

	code, err := newVerificationCode()
	if err != nil {
		return nil, internal(err, "failed to generate verification code")
	}
	vc := &models.VerificationCode{
		ID:          uuid.NewString(),
		Code:        code,
		Provider:    in.Provider,
		Subject:     in.Subject,
		AgentName:   in.AgentName,
		Platform:    in.Platform,
		WeightClass: in.WeightClass,
		State:       models.VerificationPending,
		ExpiresAt:   s.now().Add(s.CodeTTL),
	}
	if err := db.Create(vc).Error; err != nil {
		return nil, internal(err, "failed to store verification code")
	}
	log.Info().Str("provider", vc.Provider).Str("agent_name", vc.AgentName).Msg("[VERIFY] code issued")
	return vc, nil
}

// VerificationResult is returned exactly once, when an agent is created.
type VerificationResult struct {
	Agent          *models.Agent `json:"agent"`
	APIKey         *IssuedKey    `json:"api_key"`
	ClaimToken     string        `json:"claim_token"`
	ClaimExpiresAt time.Time     `json:"claim_expires_at"`
}

// ConfirmVerification checks the published code with the identity provider,
// consumes it and creates the verified agent with an initial key.
func (s *VerificationService) ConfirmVerification(ctx context.Context, code string) (*VerificationResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, invalidInput("code is required")
	}
	db := s.DB.WithContext(ctx)

	var vc models.VerificationCode
	if err := db.First(&vc, "code = ?", code).Error; err != nil {
		return nil, lookupErr(err, "verification code")
	}
	if vc.State != models.VerificationPending {
		return nil, invalidState("verification code is %s", vc.State)
	}
	if !s.now().Before(vc.ExpiresAt) {
		return nil, invalidState("verification code expired")
	}

	ident, err := s.Identity.Resolve(ctx, vc.Provider, vc.Subject, vc.Code)
	if err != nil {
		return nil, passThrough(err, "identity lookup failed")
	}
	if !ident.CodePublished {
		return nil, forbidden("verification code was not found on %s", vc.Provider)
	}
	if AgentHandle(ident.Handle) != AgentHandle(vc.AgentName) {
		return nil, forbidden("account handle does not match agent name")
	}

	now := s.now()
	result := &VerificationResult{}
	err = db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.VerificationCode{}).
			Where("id = ? AND state = ?", vc.ID, models.VerificationPending).
			Updates(map[string]any{"state": models.VerificationUsed, "used_at": now})
		if res.Error != nil {
			return internal(res.Error, "failed to consume verification code")
		}
		if res.RowsAffected == 0 {
			return conflict("verification code already used")
		}

		agent := &models.Agent{
			ID:          uuid.NewString(),
			Name:        vc.AgentName,
			Handle:      AgentHandle(vc.AgentName),
			Platform:    vc.Platform,
			WeightClass: vc.WeightClass,
			EloRating:   s.EloBaseline,
			StakingTier: models.StakingTierNone,
			IsVerified:  true,
			VerifiedAt:  &now,
		}
		if err := tx.Create(agent).Error; err != nil {
			if isUniqueViolation(err) {
				return conflict("agent %s is already registered on %s", agent.Handle, agent.Platform)
			}
			return internal(err, "failed to create agent")
		}
		if err := tx.Model(&models.VerificationCode{}).Where("id = ?", vc.ID).
			Update("agent_id", agent.ID).Error; err != nil {
			return internal(err, "failed to link verification code")
		}

		key, err := issueKeyTx(tx, agent.ID, AllScopes, "initial")
		if err != nil {
			return err
		}
		result.Agent = agent
		result.APIKey = key
		return nil
	})
	if err != nil {
		return nil, passThrough(err, "failed to confirm verification")
	}

	result.ClaimToken, result.ClaimExpiresAt, err = s.Claims.Issue(result.Agent.ID)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("agent_id", result.Agent.ID).
		Str("handle", result.Agent.Handle).
		Str("platform", result.Agent.Platform).
		Msg("[VERIFY] agent verified")
	return result, nil
}

// ExpireVerificationCodes marks stale pending codes as expired.
func (s *VerificationService) ExpireVerificationCodes(ctx context.Context) (int64, error) {
	res := s.DB.WithContext(ctx).Model(&models.VerificationCode{}).
		Where("state = ? AND expires_at <= ?", models.VerificationPending, s.now()).
		Update("state", models.VerificationExpired)
	if res.Error != nil {
		return 0, internal(res.Error, "failed to expire verification codes")
	}
	return res.RowsAffected, nil
}

func (s *VerificationService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func newVerificationCode() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "endgame-" + hex.EncodeToString(buf), nil
}
