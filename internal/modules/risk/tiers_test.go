package risk

import (
	"testing"

	"github.com/quantfold/bulwark/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mult(v float64) *float64 { return &v }

// tierTable mirrors the canonical four-tier configuration
func tierTable() domain.DrawdownActions {
	return domain.DrawdownActions{
		Tiers: []domain.DrawdownTier{
			{Threshold: -20, Action: domain.ActionLocked},
			{Threshold: -15, Action: domain.ActionDefensive, PositionSizeMultiplier: mult(0.25)},
			{Threshold: -10, Action: domain.ActionReduce, PositionSizeMultiplier: mult(0.5)},
			{Threshold: -5, Action: domain.ActionWarning},
		},
		Recovery: &domain.RecoveryRules{
			TriggerPercent:  -15,
			ExitPercent:     -3,
			MaxPositionSize: 0.5,
		},
	}
}

func TestActionForDrawdown(t *testing.T) {
	actions := tierTable()

	testCases := []struct {
		name     string
		drawdown float64
		expected domain.RiskAction
		none     bool
	}{
		{name: "Beyond deepest tier", drawdown: -22, expected: domain.ActionLocked},
		{name: "Exactly at locked threshold", drawdown: -20, expected: domain.ActionLocked},
		{name: "Between defensive and locked", drawdown: -17, expected: domain.ActionDefensive},
		{name: "Between reduce and defensive", drawdown: -12, expected: domain.ActionReduce},
		{name: "Between warning and reduce", drawdown: -7, expected: domain.ActionWarning},
		{name: "Exactly at warning threshold", drawdown: -5, expected: domain.ActionWarning},
		{name: "Shallower than all tiers", drawdown: -3, none: true},
		{name: "Flat", drawdown: 0, none: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tier := ActionForDrawdown(tc.drawdown, actions)
			if tc.none {
				assert.Nil(t, tier)
				return
			}
			require.NotNil(t, tier)
			assert.Equal(t, tc.expected, tier.Action)
		})
	}
}

func TestPositionSizeAdjustment(t *testing.T) {
	actions := tierTable()

	// No active tier: base passes through
	assert.Equal(t, 1000.0, PositionSizeAdjustment(1000, -2, actions))

	// Reduce tier halves the size
	assert.Equal(t, 500.0, PositionSizeAdjustment(1000, -12, actions))

	// Defensive tier quarters the size
	assert.Equal(t, 250.0, PositionSizeAdjustment(1000, -17, actions))

	// Tier without a multiplier passes the base through
	assert.Equal(t, 1000.0, PositionSizeAdjustment(1000, -6, actions))
}

func TestShouldBlockNewPositions(t *testing.T) {
	actions := tierTable()

	// Locked account always blocks, regardless of drawdown
	assert.True(t, ShouldBlockNewPositions(domain.AccountLocked, 0, actions))

	// Defensive and locked tiers block
	assert.True(t, ShouldBlockNewPositions(domain.AccountActive, -17, actions))
	assert.True(t, ShouldBlockNewPositions(domain.AccountActive, -25, actions))

	// Warning and reduce tiers do not block
	assert.False(t, ShouldBlockNewPositions(domain.AccountWarning, -7, actions))
	assert.False(t, ShouldBlockNewPositions(domain.AccountWarning, -12, actions))

	// No tier does not block
	assert.False(t, ShouldBlockNewPositions(domain.AccountActive, -1, actions))
}

func TestLimitForAssetClass(t *testing.T) {
	limits := map[domain.AssetClass]domain.AssetClassLimit{
		domain.AssetCrypto: {AssetClass: domain.AssetCrypto, MaxDrawdownPercent: -25},
	}

	limit := LimitForAssetClass(domain.AssetCrypto, limits)
	require.NotNil(t, limit)
	assert.Equal(t, -25.0, limit.MaxDrawdownPercent)

	// Absence means no override: caller falls back to portfolio limits
	assert.Nil(t, LimitForAssetClass(domain.AssetForex, limits))
}
