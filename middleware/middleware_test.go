package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"endgame-arena/services"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp() *fiber.App {
	return fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeError(t *testing.T, body io.Reader) errorBody {
	t.Helper()
	var out errorBody
	require.NoError(t, json.NewDecoder(body).Decode(&out))
	return out
}

func TestMemoryLimiterAllowsUpToMax(t *testing.T) {
	l := NewMemoryLimiter(5, time.Minute)
	for i := 0; i < 5; i++ {
		d, err := l.Allow(context.Background(), "ip")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i+1)
		assert.Equal(t, 4-i, d.Remaining)
	}
	d, err := l.Allow(context.Background(), "ip")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	l := NewMemoryLimiter(1, time.Minute)
	d, _ := l.Allow(context.Background(), "a")
	assert.True(t, d.Allowed)
	d, _ = l.Allow(context.Background(), "a")
	assert.False(t, d.Allowed)
	d, _ = l.Allow(context.Background(), "b")
	assert.True(t, d.Allowed)
}

func TestMemoryLimiterWindowResets(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(2, time.Minute)
	l.now = func() time.Time { return now }

	l.Allow(context.Background(), "k")
	l.Allow(context.Background(), "k")
	d, _ := l.Allow(context.Background(), "k")
	assert.False(t, d.Allowed)

	now = now.Add(time.Minute)
	d, _ = l.Allow(context.Background(), "k")
	assert.True(t, d.Allowed)
	assert.Len(t, l.entries, 1)
}

func TestRateLimitMiddlewareHeaders(t *testing.T) {
	app := newTestApp()
	app.Get("/", RateLimit("test", NewMemoryLimiter(1, time.Minute), KeyByIP), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))

	resp, err = app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, 429, resp.StatusCode)
	retry, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retry, 1)
	assert.Equal(t, "RATE_LIMITED", decodeError(t, resp.Body).Error.Code)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (Decision, error) {
	return Decision{}, errors.New("redis down")
}

func TestRateLimitFailsOpen(t *testing.T) {
	app := newTestApp()
	app.Get("/", RateLimit("test", failingLimiter{}, KeyByIP), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestServiceToken(t *testing.T) {
	app := newTestApp()
	app.Get("/admin", ServiceToken("op-secret"), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	cases := []struct {
		header, value string
		want          int
	}{
		{"", "", 401},
		{"Authorization", "Bearer wrong", 401},
		{"Authorization", "Bearer op-secret", 200},
		{"X-Service-Token", "op-secret", 200},
	}
	for _, tc := range cases {
		req := httptest.NewRequest("GET", "/admin", nil)
		if tc.header != "" {
			req.Header.Set(tc.header, tc.value)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, tc.want, resp.StatusCode, "%s=%s", tc.header, tc.value)
	}
}

type stubVerifier struct {
	scopes []services.Scope
}

func (s stubVerifier) Verify(_ context.Context, key string, scope services.Scope) (*services.Principal, error) {
	if key != "viq_good" {
		return nil, services.Errorf(services.KindUnauthorized, "invalid api key")
	}
	p := &services.Principal{AgentID: "agent-1", Scopes: s.scopes}
	if !p.Has(scope) {
		return nil, services.Errorf(services.KindForbidden, "api key lacks scope %s", scope)
	}
	return p, nil
}

func TestRequireKey(t *testing.T) {
	app := newTestApp()
	verifier := stubVerifier{scopes: []services.Scope{services.ScopeAgentRead}}
	app.Get("/me", RequireKey(verifier, services.ScopeAgentRead), func(c *fiber.Ctx) error {
		return c.SendString(Principal(c).AgentID)
	})
	app.Post("/stake", RequireKey(verifier, services.ScopeStakeManage), func(c *fiber.Ctx) error {
		return c.SendStatus(204)
	})

	req := httptest.NewRequest("GET", "/me", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)

	req = httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer viq_good")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "agent-1", string(body))

	req = httptest.NewRequest("POST", "/stake", nil)
	req.Header.Set("Authorization", "bearer viq_good")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 403, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", decodeError(t, resp.Body).Error.Code)
}

func TestErrorHandlerHidesInternalCause(t *testing.T) {
	app := newTestApp()
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("pq: password authentication failed for user admin")
	})
	app.Get("/state", func(c *fiber.Ctx) error {
		return services.Errorf(services.KindInvalidState, "match is completed")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/boom", nil))
	require.NoError(t, err)
	assert.Equal(t, 500, resp.StatusCode)
	body := decodeError(t, resp.Body)
	assert.Equal(t, "INTERNAL", body.Error.Code)
	assert.Equal(t, "internal error", body.Error.Message)

	resp, err = app.Test(httptest.NewRequest("GET", "/state", nil))
	require.NoError(t, err)
	assert.Equal(t, 409, resp.StatusCode)
	assert.Equal(t, "INVALID_STATE", decodeError(t, resp.Body).Error.Code)

	resp, err = app.Test(httptest.NewRequest("GET", "/nowhere", nil))
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", decodeError(t, resp.Body).Error.Code)
}

func TestRequestLoggerRendersErrors(t *testing.T) {
	InitLogger("error", "test")
	app := newTestApp()
	app.Use(Metrics(), RequestLogger())
	app.Get("/matches/:id", func(c *fiber.Ctx) error {
		return services.Errorf(services.KindNotFound, "match not found")
	})
	resp, err := app.Test(httptest.NewRequest("GET", "/matches/abc", nil))
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestSanitizePath(t *testing.T) {
	assert.Equal(t, "/api/v1/matches/:matchId/submit", sanitizePath("/api/v1/matches/123/submit"))
	assert.Equal(t, "/api/v1/agents/me/keys/:keyId", sanitizePath("/api/v1/agents/me/keys/k1"))
	assert.Equal(t, "/api/v1/agents/:agentId", sanitizePath("/api/v1/agents/42"))
}
