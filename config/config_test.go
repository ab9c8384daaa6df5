package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 32.0, cfg.EloKFactor)
	assert.Equal(t, 1200.0, cfg.EloBaseline)
	assert.Equal(t, 30*time.Minute, cfg.VerificationCodeTTL)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arena.yaml")
	body := "port: \"9000\"\neloKFactor: 24\nroundGrace: 5s\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("PORT", "9100")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Port, "environment overrides the file")
	assert.Equal(t, 24.0, cfg.EloKFactor)
	assert.Equal(t, 5*time.Second, cfg.RoundGrace)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.EloKFactor = 0
	cfg.SettlementRate = -1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "eloKFactor")
	assert.Contains(t, err.Error(), "settlementRate")
}

func TestOrigins(t *testing.T) {
	cfg := Default()
	cfg.AllowedOrigins = " https://a.example , ,https://b.example"
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Origins())
}

func TestValidateServeRequiresClaimSecret(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate(), "other commands run without the secret")
	err := cfg.ValidateServe()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CLAIM_TOKEN_SECRET")

	t.Setenv("CLAIM_TOKEN_SECRET", "s3cret")
	loaded, err := Load("")
	require.NoError(t, err)
	assert.NoError(t, loaded.ValidateServe())
}
