// services/identity_client.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"endgame-arena/utils"

	"github.com/rs/zerolog/log"
)

// Identity is what an identity provider knows about a subject.
type Identity struct {
	Handle        string `json:"handle"`
	CodePublished bool   `json:"code_published"`
}

// IdentityProvider resolves a third-party account and checks that it
// published a verification code.
type IdentityProvider interface {
	Resolve(ctx context.Context, provider, subject, code string) (*Identity, error)
}

// IdentityClient calls the identity service over HTTP.
type IdentityClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewIdentityClient(baseURL, token string) *IdentityClient {
	return &IdentityClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  utils.NewHTTPClient(10 * time.Second),
	}
}

// Resolve calls POST /identity/resolve.
func (c *IdentityClient) Resolve(ctx context.Context, provider, subject, code string) (*Identity, error) {
	url := fmt.Sprintf("%s/identity/resolve", c.BaseURL)

	reqBody := map[string]string{
		"provider": provider,
		"subject":  subject,
		"code":     code,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, internal(err, "failed to encode identity request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, internal(err, "failed to build identity request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, internal(err, "identity provider unreachable")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, invalidInput("identity %s/%s not found", provider, subject)
	case resp.StatusCode != http.StatusOK:
		log.Error().Int("status", resp.StatusCode).Str("body", string(body)).Msg("[IDENTITY] resolve failed")
		return nil, internal(fmt.Errorf("identity provider returned %d", resp.StatusCode), "identity provider error")
	}

	var out Identity
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, internal(err, "failed to decode identity response")
	}
	return &out, nil
}
