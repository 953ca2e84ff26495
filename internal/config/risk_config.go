package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/quantfold/bulwark/internal/domain"
)

// RiskConfig is the configuration surface for the risk tier engine.
// Drawdown tiers and asset class limits are data, not code: they can be
// replaced per portfolio or asset class without a rebuild.
type RiskConfig struct {
	AssetClassLimits map[domain.AssetClass]domain.AssetClassLimit `json:"asset_class_limits"`
	DrawdownActions  domain.DrawdownActions                       `json:"drawdown_actions"`
}

// DefaultRiskConfig returns the built-in tier table used when no
// configuration file is present.
func DefaultRiskConfig() *RiskConfig {
	mult := func(v float64) *float64 { return &v }
	lev := func(v float64) *float64 { return &v }

	return &RiskConfig{
		DrawdownActions: domain.DrawdownActions{
			Tiers: []domain.DrawdownTier{
				{Threshold: -20, Action: domain.ActionLocked, Notification: true},
				{Threshold: -15, Action: domain.ActionDefensive, PositionSizeMultiplier: mult(0.25), Notification: true},
				{Threshold: -10, Action: domain.ActionReduce, PositionSizeMultiplier: mult(0.5), Notification: true},
				{Threshold: -5, Action: domain.ActionWarning, Notification: true},
			},
			Recovery: &domain.RecoveryRules{
				TriggerPercent:  -15,
				ExitPercent:     -3,
				MaxPositionSize: 0.5,
			},
		},
		AssetClassLimits: map[domain.AssetClass]domain.AssetClassLimit{
			domain.AssetCrypto: {
				AssetClass:              domain.AssetCrypto,
				MaxDrawdownPercent:      -25,
				MaxVolatilityMultiplier: 3.0,
				CoolingOffPeriodHours:   24,
				MaxLeverage:             lev(3),
			},
			domain.AssetEquities: {
				AssetClass:              domain.AssetEquities,
				MaxDrawdownPercent:      -15,
				MaxVolatilityMultiplier: 2.0,
				CoolingOffPeriodHours:   48,
			},
			domain.AssetForex: {
				AssetClass:              domain.AssetForex,
				MaxDrawdownPercent:      -10,
				MaxVolatilityMultiplier: 2.5,
				CoolingOffPeriodHours:   12,
				MaxLeverage:             lev(10),
			},
			domain.AssetCommodities: {
				AssetClass:              domain.AssetCommodities,
				MaxDrawdownPercent:      -12,
				MaxVolatilityMultiplier: 2.0,
				CoolingOffPeriodHours:   24,
			},
		},
	}
}

// LoadRiskConfig reads the risk configuration file. A missing file is not an
// error: the built-in defaults are returned so the engine always has a
// complete tier table.
func LoadRiskConfig(path string) (*RiskConfig, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultRiskConfig(), nil
		}
		return nil, fmt.Errorf("failed to read risk config %s: %w", path, err)
	}

	var cfg RiskConfig
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse risk config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid risk config %s: %w", path, err)
	}

	// Tiers are matched severity-first: keep them sorted ascending by
	// threshold so the most negative tier is scanned first.
	sort.SliceStable(cfg.DrawdownActions.Tiers, func(i, j int) bool {
		return cfg.DrawdownActions.Tiers[i].Threshold < cfg.DrawdownActions.Tiers[j].Threshold
	})

	return &cfg, nil
}

// Validate checks tier thresholds, multipliers, and asset class limits
func (c *RiskConfig) Validate() error {
	if len(c.DrawdownActions.Tiers) == 0 {
		return fmt.Errorf("drawdown actions must define at least one tier")
	}

	for _, tier := range c.DrawdownActions.Tiers {
		if tier.Threshold > 0 {
			return fmt.Errorf("tier threshold must be <= 0, got %v", tier.Threshold)
		}
		switch tier.Action {
		case domain.ActionWarning, domain.ActionReduce, domain.ActionDefensive, domain.ActionLocked:
		default:
			return fmt.Errorf("unknown tier action: %s", tier.Action)
		}
		if tier.PositionSizeMultiplier != nil {
			m := *tier.PositionSizeMultiplier
			if m <= 0 || m > 1 {
				return fmt.Errorf("position size multiplier must be in (0,1], got %v", m)
			}
		}
	}

	if rec := c.DrawdownActions.Recovery; rec != nil {
		if rec.ExitPercent > 0 {
			return fmt.Errorf("recovery exit percent must be <= 0, got %v", rec.ExitPercent)
		}
		// Exit must be shallower than the trigger or the hysteresis band
		// is inverted and recovery never ends.
		if rec.TriggerPercent > rec.ExitPercent {
			return fmt.Errorf("recovery trigger (%v) must be deeper than exit (%v)", rec.TriggerPercent, rec.ExitPercent)
		}
	}

	for class, limit := range c.AssetClassLimits {
		if limit.MaxDrawdownPercent > 0 {
			return fmt.Errorf("asset class %s: max drawdown percent must be <= 0, got %v", class, limit.MaxDrawdownPercent)
		}
		if limit.MaxLeverage != nil && *limit.MaxLeverage <= 0 {
			return fmt.Errorf("asset class %s: max leverage must be positive, got %v", class, *limit.MaxLeverage)
		}
	}

	return nil
}
