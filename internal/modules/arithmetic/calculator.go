// Package arithmetic provides pure position sizing and P&L calculations.
// Every function validates its inputs and fails fast with a typed
// ValidationError naming the offending field. Nothing in this package
// holds state or touches a database.
package arithmetic

import (
	"fmt"
	"math"

	"github.com/quantfold/bulwark/internal/domain"
)

// Rounding precision is fixed and deterministic because financial
// reporting depends on it.
const (
	// CurrencyPrecision is the decimal precision for monetary amounts
	CurrencyPrecision = 2
	// PercentPrecision is the decimal precision for percentages
	PercentPrecision = 2
	// QuantityPrecision is the decimal precision for position quantities
	QuantityPrecision = 6
)

// roundTo rounds half away from zero at the given decimal precision
func roundTo(value float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(value*factor) / factor
}

// PositionSize is the result of a position sizing calculation
type PositionSize struct {
	RiskRewardRatio *float64 `json:"risk_reward_ratio,omitempty"`
	Quantity        float64  `json:"quantity"`
	PositionSizeUSD float64  `json:"position_size_usd"`
	RiskAmount      float64  `json:"risk_amount"`
	RiskPercent     float64  `json:"risk_percent"`
}

// CalculatePositionSize derives a bounded position size from entry, stop,
// and the dollar amount the caller is willing to lose. targetPrice is
// optional; when supplied and positive it yields the risk/reward ratio.
func CalculatePositionSize(entryPrice, stopLoss, riskAmount, accountBalance float64, targetPrice *float64) (*PositionSize, error) {
	if entryPrice <= 0 {
		return nil, domain.NewValidationError("entry_price", entryPrice, "must be positive")
	}
	if stopLoss <= 0 {
		return nil, domain.NewValidationError("stop_loss", stopLoss, "must be positive")
	}
	if riskAmount <= 0 {
		return nil, domain.NewValidationError("risk_amount", riskAmount, "must be positive")
	}
	if accountBalance <= 0 {
		return nil, domain.NewValidationError("account_balance", accountBalance, "must be positive")
	}
	if entryPrice == stopLoss {
		return nil, domain.NewValidationError("stop_loss", stopLoss, "must differ from entry price")
	}

	riskPerUnit := math.Abs(entryPrice - stopLoss)
	quantity := riskAmount / riskPerUnit

	result := &PositionSize{
		Quantity:        roundTo(quantity, QuantityPrecision),
		PositionSizeUSD: roundTo(quantity*entryPrice, CurrencyPrecision),
		RiskAmount:      roundTo(riskAmount, CurrencyPrecision),
		RiskPercent:     roundTo(riskAmount/accountBalance*100, PercentPrecision),
	}

	if targetPrice != nil && *targetPrice > 0 {
		rr := roundTo(math.Abs(*targetPrice-entryPrice)/riskPerUnit, PercentPrecision)
		result.RiskRewardRatio = &rr
	}

	return result, nil
}

// PnL is the realized outcome of a closed trade
type PnL struct {
	Amount  float64 `json:"pnl_amount"`
	Percent float64 `json:"pnl_percent"`
}

// CalculatePnL computes profit or loss for a filled trade.
// Commission is subtracted from the gross amount.
func CalculatePnL(entryPrice, exitPrice, quantity float64, direction domain.Direction, commission float64) (*PnL, error) {
	if entryPrice <= 0 {
		return nil, domain.NewValidationError("entry_price", entryPrice, "must be positive")
	}
	if exitPrice <= 0 {
		return nil, domain.NewValidationError("exit_price", exitPrice, "must be positive")
	}
	if quantity <= 0 {
		return nil, domain.NewValidationError("quantity", quantity, "must be positive")
	}
	if commission < 0 {
		return nil, domain.NewValidationError("commission", commission, "must not be negative")
	}

	var gross float64
	switch direction {
	case domain.DirectionLong:
		gross = (exitPrice - entryPrice) * quantity
	case domain.DirectionShort:
		gross = (entryPrice - exitPrice) * quantity
	default:
		return nil, domain.NewValidationError("direction", 0, fmt.Sprintf("unknown direction %q", direction))
	}

	amount := gross - commission

	return &PnL{
		Amount:  roundTo(amount, CurrencyPrecision),
		Percent: roundTo(amount/(entryPrice*quantity)*100, PercentPrecision),
	}, nil
}

// CalculateRMultiple expresses P&L as a multiple of the initial dollar risk.
// This is the unit used throughout reporting to normalize outcomes across
// different risk sizes.
func CalculateRMultiple(pnlAmount, initialRisk float64) (float64, error) {
	if initialRisk <= 0 {
		return 0, domain.NewValidationError("initial_risk", initialRisk, "must be positive")
	}
	return roundTo(pnlAmount/initialRisk, 2), nil
}

// RiskLimitResult reports every violated limit, not just the first
type RiskLimitResult struct {
	Violations []string `json:"violations"`
	IsValid    bool     `json:"is_valid"`
}

// ValidateRiskLimits checks a proposed trade's risk against per-trade, daily,
// and weekly budgets. All three checks are evaluated (never short-circuited)
// so every violation is reported, with the offending numbers embedded for
// auditability.
func ValidateRiskLimits(riskPercent, dailyRiskUsed, weeklyRiskUsed, maxRiskPerTrade, maxDailyRisk, maxWeeklyRisk float64) RiskLimitResult {
	var violations []string

	if riskPercent > maxRiskPerTrade {
		violations = append(violations, fmt.Sprintf(
			"trade risk %.2f%% exceeds per-trade limit %.2f%%", riskPercent, maxRiskPerTrade))
	}

	if dailyRiskUsed+riskPercent > maxDailyRisk {
		violations = append(violations, fmt.Sprintf(
			"daily risk %.2f%% + trade risk %.2f%% exceeds daily limit %.2f%%",
			dailyRiskUsed, riskPercent, maxDailyRisk))
	}

	if weeklyRiskUsed+riskPercent > maxWeeklyRisk {
		violations = append(violations, fmt.Sprintf(
			"weekly risk %.2f%% + trade risk %.2f%% exceeds weekly limit %.2f%%",
			weeklyRiskUsed, riskPercent, maxWeeklyRisk))
	}

	return RiskLimitResult{
		IsValid:    len(violations) == 0,
		Violations: violations,
	}
}
