package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, 2000, cfg.Budget.TotalTokens)
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conductor.yaml")
	data := []byte("budget:\n  total_tokens: 800\n  max_full_inject: 2\nretry:\n  max_retries: 5\n")
	require.NoError(t, os.WriteFile(path, data, 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 800, cfg.Budget.TotalTokens)
	require.Equal(t, 5, cfg.Retry.MaxRetries)
	// Untouched sections keep defaults.
	require.Equal(t, 0.5, cfg.Weights.Keyword)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CONDUCTOR_LOGGER_LEVEL", "debug")
	t.Setenv("CONDUCTOR_RETRY_MAX", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Logger.Level)
	require.Equal(t, 7, cfg.Retry.MaxRetries)
}

func TestValidateRejectsBadWeights(t *testing.T) {
	cfg := Default()
	cfg.Weights.Keyword = 0.9 // sum now 1.4
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsBadTierTable(t *testing.T) {
	cfg := Default()
	cfg.Tiers.Dispatch = []TierBoundary{{Min: 50, Tier: "a"}, {Min: 70, Tier: "b"}, {Min: 0, Tier: "none"}}
	require.Error(t, cfg.Validate(), "non-descending boundaries")

	cfg = Default()
	cfg.Tiers.Skill = []TierBoundary{{Min: 90, Tier: "silent-inject"}}
	require.Error(t, cfg.Validate(), "table not ending at 0")
}

func TestValidateRejectsBadDecay(t *testing.T) {
	cfg := Default()
	cfg.Calibration.DecayFactor = 1.0
	require.Error(t, cfg.Validate(), "decay_factor >= 1")
}
