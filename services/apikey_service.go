// services/apikey_service.go
package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"slices"
	"strings"
	"time"

	"endgame-arena/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Scope is a permission carried by an API key.
type Scope string

const (
	ScopeAgentRead    Scope = "agent:read"
	ScopeMatchCompete Scope = "match:compete"
	ScopeWalletLink   Scope = "wallet:link"
	ScopeStakeManage  Scope = "stake:manage"
	ScopeKeysManage   Scope = "keys:manage"
)

// AllScopes is the closed scope set; new agents get all of them.
var AllScopes = []Scope{ScopeAgentRead, ScopeMatchCompete, ScopeWalletLink, ScopeStakeManage, ScopeKeysManage}

const (
	apiKeyPrefix    = "viq_"
	apiKeyRandBytes = 32
	apiKeyShownLen  = 12
	maxKeysPerAgent = 10
)

// ParseScopes validates raw scope names. Empty input yields nil.
func ParseScopes(raw []string) ([]Scope, error) {
	out := make([]Scope, 0, len(raw))
	for _, r := range raw {
		s := Scope(strings.TrimSpace(r))
		if !slices.Contains(AllScopes, s) {
			return nil, invalidInput("unknown scope %q", r)
		}
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// GenerateAPIKey returns a fresh "viq_" + 64 hex key.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, apiKeyRandBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return apiKeyPrefix + hex.EncodeToString(buf), nil
}

// HashAPIKey is the SHA-256 hex digest stored in place of the key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func wellFormedKey(key string) bool {
	if len(key) != len(apiKeyPrefix)+2*apiKeyRandBytes || !strings.HasPrefix(key, apiKeyPrefix) {
		return false
	}
	for _, c := range key[len(apiKeyPrefix):] {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// Principal is the authenticated agent behind a key.
type Principal struct {
	AgentID string
	KeyID   string
	Scopes  []Scope
}

func (p *Principal) Has(scope Scope) bool {
	return slices.Contains(p.Scopes, scope)
}

// IssuedKey is returned once at creation; the plaintext key is never stored.
type IssuedKey struct {
	Key    string        `json:"key"`
	Record models.APIKey `json:"record"`
}

type APIKeyService struct {
	DB  *gorm.DB
	Now func() time.Time
}

func NewAPIKeyService(db *gorm.DB) *APIKeyService {
	return &APIKeyService{DB: db, Now: time.Now}
}

// Verify resolves a bearer key to its agent and checks scope. Absent,
// malformed, unknown or revoked keys are Unauthorized; a valid key without
// the scope is Forbidden.
func (s *APIKeyService) Verify(ctx context.Context, key string, scope Scope) (*Principal, error) {
	key = strings.TrimSpace(key)
	if !wellFormedKey(key) {
		return nil, unauthorized("invalid api key")
	}
	hash := HashAPIKey(key)

	var rec models.APIKey
	err := s.DB.WithContext(ctx).Where("key_hash = ?", hash).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, unauthorized("invalid api key")
		}
		return nil, internal(err, "failed to look up api key")
	}
	if subtle.ConstantTimeCompare([]byte(rec.KeyHash), []byte(hash)) != 1 || !rec.IsActive {
		return nil, unauthorized("invalid api key")
	}

	p := &Principal{AgentID: rec.AgentID, KeyID: rec.ID}
	for _, sc := range rec.Scopes {
		p.Scopes = append(p.Scopes, Scope(sc))
	}
	if scope != "" && !p.Has(scope) {
		return nil, forbidden("api key lacks scope %s", scope)
	}

	now := s.now()
	if err := s.DB.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ?", rec.ID).
		UpdateColumn("last_used_at", now).Error; err != nil {
		log.Warn().Err(err).Str("key_id", rec.ID).Msg("[KEYS] failed to record last use")
	}
	return p, nil
}

// IssueKey creates a key for agentID. When issuer is non-nil the new key may
// only carry scopes the issuer already holds.
func (s *APIKeyService) IssueKey(ctx context.Context, agentID string, scopes []Scope, label string, issuer *Principal) (*IssuedKey, error) {
	if len(scopes) == 0 {
		scopes = AllScopes
	}
	if issuer != nil {
		for _, sc := range scopes {
			if !issuer.Has(sc) {
				return nil, forbidden("cannot grant scope %s", sc)
			}
		}
	}
	label = strings.TrimSpace(label)
	if len(label) > 64 {
		return nil, invalidInput("label exceeds 64 characters")
	}

	var out *IssuedKey
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = issueKeyTx(tx, agentID, scopes, label)
		return err
	})
	if err != nil {
		return nil, passThrough(err, "failed to issue api key")
	}
	log.Info().Str("agent_id", agentID).Str("key_prefix", out.Record.KeyPrefix).Msg("[KEYS] issued")
	return out, nil
}

// issueKeyTx is shared with agent verification, which issues the first key
// inside its own transaction.
func issueKeyTx(tx *gorm.DB, agentID string, scopes []Scope, label string) (*IssuedKey, error) {
	var agent models.Agent
	if err := tx.First(&agent, "id = ?", agentID).Error; err != nil {
		return nil, lookupErr(err, "agent")
	}
	var active int64
	if err := tx.Model(&models.APIKey{}).Where("agent_id = ? AND is_active = ?", agentID, true).Count(&active).Error; err != nil {
		return nil, internal(err, "failed to count api keys")
	}
	if active >= maxKeysPerAgent {
		return nil, conflict("agent already has %d active keys", maxKeysPerAgent)
	}

	key, err := GenerateAPIKey()
	if err != nil {
		return nil, internal(err, "failed to generate api key")
	}
	names := make(datatypes.JSONSlice[string], 0, len(scopes))
	for _, sc := range scopes {
		names = append(names, string(sc))
	}
	rec := models.APIKey{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		KeyHash:   HashAPIKey(key),
		KeyPrefix: key[:apiKeyShownLen],
		Scopes:    names,
		Label:     label,
		IsActive:  true,
	}
	if err := tx.Create(&rec).Error; err != nil {
		return nil, internal(err, "failed to store api key")
	}
	return &IssuedKey{Key: key, Record: rec}, nil
}

// ListKeys returns an agent's keys, newest first. Hashes are never exposed.
func (s *APIKeyService) ListKeys(ctx context.Context, agentID string) ([]models.APIKey, error) {
	var keys []models.APIKey
	if err := s.DB.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("created_at DESC").
		Find(&keys).Error; err != nil {
		return nil, internal(err, "failed to list api keys")
	}
	return keys, nil
}

// RevokeKey deactivates one of the agent's keys. Revoking twice is harmless.
func (s *APIKeyService) RevokeKey(ctx context.Context, agentID, keyID string) error {
	res := s.DB.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ? AND agent_id = ?", keyID, agentID).
		Update("is_active", false)
	if res.Error != nil {
		return internal(res.Error, "failed to revoke api key")
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := s.DB.WithContext(ctx).Model(&models.APIKey{}).
			Where("id = ? AND agent_id = ?", keyID, agentID).Count(&n).Error; err != nil {
			return internal(err, "failed to revoke api key")
		}
		if n == 0 {
			return notFound("api key not found")
		}
	}
	log.Info().Str("agent_id", agentID).Str("key_id", keyID).Msg("[KEYS] revoked")
	return nil
}

func (s *APIKeyService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
