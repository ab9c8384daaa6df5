// services/claim_tokens.go
package services

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	claimIssuer   = "endgame-arena"
	claimAudience = "wallet-link"
)

// ClaimTokens signs short-lived HS256 tokens that let a freshly verified
// agent link a wallet.
type ClaimTokens struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

func NewClaimTokens(secret string, ttl time.Duration) *ClaimTokens {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &ClaimTokens{Secret: []byte(secret), TTL: ttl, Now: time.Now}
}

var errNoClaimSecret = errors.New("claim token secret is empty")

// Issue returns a signed token for agentID and its expiry.
func (c *ClaimTokens) Issue(agentID string) (string, time.Time, error) {
	if len(c.Secret) == 0 {
		return "", time.Time{}, internal(errNoClaimSecret, "claim tokens are not configured")
	}
	now := c.now()
	exp := now.Add(c.TTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    claimIssuer,
		Subject:   agentID,
		Audience:  jwt.ClaimStrings{claimAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	})
	signed, err := token.SignedString(c.Secret)
	if err != nil {
		return "", time.Time{}, internal(err, "failed to sign claim token")
	}
	return signed, exp, nil
}

// Parse validates a token and returns the agent it was issued to.
func (c *ClaimTokens) Parse(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) {
			if len(c.Secret) == 0 {
				return nil, errNoClaimSecret
			}
			return c.Secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(claimIssuer),
		jwt.WithAudience(claimAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return "", unauthorized("invalid claim token")
	}
	if claims.Subject == "" {
		return "", unauthorized("invalid claim token")
	}
	return claims.Subject, nil
}

func (c *ClaimTokens) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
