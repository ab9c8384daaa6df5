package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"endgame-arena/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAPIKeyFormat(t *testing.T) {
	key, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "viq_"))
	assert.Len(t, key, 68)
	assert.True(t, wellFormedKey(key))
	assert.Len(t, HashAPIKey(key), 64)

	other, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}

func TestParseScopes(t *testing.T) {
	got, err := ParseScopes([]string{"agent:read", " match:compete", "agent:read"})
	require.NoError(t, err)
	assert.Equal(t, []Scope{ScopeAgentRead, ScopeMatchCompete}, got)

	_, err = ParseScopes([]string{"admin:everything"})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	got, err = ParseScopes(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestVerifyAPIKey(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	agent := seedAgent(t, db, "keyholder", models.WeightClassLight)
	used := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	svc := NewAPIKeyService(db)
	svc.Now = func() time.Time { return used }

	issued, err := svc.IssueKey(ctx, agent.ID, []Scope{ScopeAgentRead}, "ci", nil)
	require.NoError(t, err)
	assert.Equal(t, issued.Key[:12], issued.Record.KeyPrefix)

	var stored models.APIKey
	require.NoError(t, db.First(&stored, "id = ?", issued.Record.ID).Error)
	assert.Equal(t, HashAPIKey(issued.Key), stored.KeyHash)
	assert.NotContains(t, stored.KeyHash, issued.Key)

	p, err := svc.Verify(ctx, issued.Key, ScopeAgentRead)
	require.NoError(t, err)
	assert.Equal(t, agent.ID, p.AgentID)

	require.NoError(t, db.First(&stored, "id = ?", issued.Record.ID).Error)
	require.NotNil(t, stored.LastUsedAt)
	assert.True(t, stored.LastUsedAt.Equal(used))

	_, err = svc.Verify(ctx, issued.Key, ScopeMatchCompete)
	assert.True(t, errors.Is(err, ErrForbidden), "got %v", err)

	unknown, err := GenerateAPIKey()
	require.NoError(t, err)
	for _, bad := range []string{"", "viq_short", "sk_" + strings.Repeat("a", 64), unknown} {
		_, err = svc.Verify(ctx, bad, ScopeAgentRead)
		assert.True(t, errors.Is(err, ErrUnauthorized), "key %q: got %v", bad, err)
	}

	require.NoError(t, svc.RevokeKey(ctx, agent.ID, issued.Record.ID))
	_, err = svc.Verify(ctx, issued.Key, ScopeAgentRead)
	assert.True(t, errors.Is(err, ErrUnauthorized), "got %v", err)
}

func TestIssueKeyScopeSubset(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	agent := seedAgent(t, db, "delegator", models.WeightClassLight)
	svc := NewAPIKeyService(db)

	issuer := &Principal{AgentID: agent.ID, Scopes: []Scope{ScopeKeysManage, ScopeAgentRead}}
	_, err := svc.IssueKey(ctx, agent.ID, []Scope{ScopeAgentRead}, "", issuer)
	require.NoError(t, err)

	_, err = svc.IssueKey(ctx, agent.ID, []Scope{ScopeStakeManage}, "", issuer)
	assert.True(t, errors.Is(err, ErrForbidden), "got %v", err)

	_, err = svc.IssueKey(ctx, "00000000-0000-0000-0000-000000000000", nil, "", nil)
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestListAndRevokeKeys(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	agent := seedAgent(t, db, "lister", models.WeightClassLight)
	other := seedAgent(t, db, "other", models.WeightClassLight)
	svc := NewAPIKeyService(db)

	k1, err := svc.IssueKey(ctx, agent.ID, nil, "one", nil)
	require.NoError(t, err)
	_, err = svc.IssueKey(ctx, agent.ID, nil, "two", nil)
	require.NoError(t, err)

	keys, err := svc.ListKeys(ctx, agent.ID)
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	err = svc.RevokeKey(ctx, other.ID, k1.Record.ID)
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

	require.NoError(t, svc.RevokeKey(ctx, agent.ID, k1.Record.ID))
	require.NoError(t, svc.RevokeKey(ctx, agent.ID, k1.Record.ID))
}
