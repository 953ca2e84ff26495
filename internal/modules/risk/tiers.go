// Package risk implements the drawdown tier engine and account status
// derivation. Everything here is a pure function of configuration plus
// observable portfolio state, so it is safe to call from any number of
// concurrent request handlers.
package risk

import "github.com/quantfold/bulwark/internal/domain"

// ActionForDrawdown returns the most severe tier the drawdown has reached,
// or nil when no tier threshold is crossed.
//
// Tiers are ordered ascending by threshold (most negative first), and the
// scan returns the first tier whose threshold the drawdown has reached.
// Severity-first scanning over the ordered list avoids a stored "active
// tier" field that could drift from configuration.
func ActionForDrawdown(drawdown float64, actions domain.DrawdownActions) *domain.DrawdownTier {
	for i := range actions.Tiers {
		if drawdown <= actions.Tiers[i].Threshold {
			return &actions.Tiers[i]
		}
	}
	return nil
}

// PositionSizeAdjustment scales a nominal position size by the active
// tier's multiplier. With no active tier, or a tier without a multiplier,
// the base size passes through unchanged.
func PositionSizeAdjustment(baseSize, currentDrawdown float64, actions domain.DrawdownActions) float64 {
	tier := ActionForDrawdown(currentDrawdown, actions)
	if tier == nil {
		return baseSize
	}
	if tier.PositionSizeMultiplier == nil {
		return baseSize
	}
	return baseSize * *tier.PositionSizeMultiplier
}

// ShouldBlockNewPositions reports whether new positions must be refused:
// a locked account always blocks, as does an active defensive or locked tier.
func ShouldBlockNewPositions(accountStatus domain.AccountStatus, currentDrawdown float64, actions domain.DrawdownActions) bool {
	if accountStatus == domain.AccountLocked {
		return true
	}

	tier := ActionForDrawdown(currentDrawdown, actions)
	if tier == nil {
		return false
	}

	return tier.Action == domain.ActionDefensive || tier.Action == domain.ActionLocked
}

// LimitForAssetClass returns the per-class limit override, or nil when the
// caller should fall back to portfolio-level limits.
func LimitForAssetClass(class domain.AssetClass, limits map[domain.AssetClass]domain.AssetClassLimit) *domain.AssetClassLimit {
	limit, ok := limits[class]
	if !ok {
		return nil
	}
	return &limit
}
