package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/quantfold/bulwark/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRiskConfig_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadRiskConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Len(t, cfg.DrawdownActions.Tiers, 4)
	assert.Equal(t, domain.ActionLocked, cfg.DrawdownActions.Tiers[0].Action)
	assert.NotNil(t, cfg.DrawdownActions.Recovery)
	assert.Contains(t, cfg.AssetClassLimits, domain.AssetCrypto)
}

func TestLoadRiskConfig_SortsTiersAscending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk_config.json")
	content := `{
		"drawdown_actions": {
			"tiers": [
				{"threshold": -5, "action": "warning"},
				{"threshold": -20, "action": "locked"},
				{"threshold": -10, "action": "reduce", "position_size_multiplier": 0.5}
			]
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadRiskConfig(path)
	require.NoError(t, err)

	require.Len(t, cfg.DrawdownActions.Tiers, 3)
	assert.Equal(t, -20.0, cfg.DrawdownActions.Tiers[0].Threshold)
	assert.Equal(t, -10.0, cfg.DrawdownActions.Tiers[1].Threshold)
	assert.Equal(t, -5.0, cfg.DrawdownActions.Tiers[2].Threshold)
}

func TestLoadRiskConfig_RejectsInvalidConfig(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{
			name:    "Positive threshold",
			content: `{"drawdown_actions": {"tiers": [{"threshold": 5, "action": "warning"}]}}`,
		},
		{
			name:    "Unknown action",
			content: `{"drawdown_actions": {"tiers": [{"threshold": -5, "action": "panic"}]}}`,
		},
		{
			name:    "Multiplier above one",
			content: `{"drawdown_actions": {"tiers": [{"threshold": -5, "action": "reduce", "position_size_multiplier": 1.5}]}}`,
		},
		{
			name:    "Empty tier list",
			content: `{"drawdown_actions": {"tiers": []}}`,
		},
		{
			name: "Inverted recovery band",
			content: `{"drawdown_actions": {
				"tiers": [{"threshold": -5, "action": "warning"}],
				"recovery_rules": {"trigger_percent": -3, "exit_percent": -10, "max_position_size": 0.5}
			}}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "risk_config.json")
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0644))

			_, err := LoadRiskConfig(path)
			assert.Error(t, err)
		})
	}
}
