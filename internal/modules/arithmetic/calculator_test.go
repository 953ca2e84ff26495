package arithmetic

import (
	"errors"
	"testing"

	"github.com/quantfold/bulwark/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestCalculatePositionSize_Example(t *testing.T) {
	// entry 100, stop 95, risk 500, balance 10000, target 110
	result, err := CalculatePositionSize(100, 95, 500, 10000, ptr(110))
	require.NoError(t, err)

	assert.Equal(t, 100.0, result.Quantity)
	assert.Equal(t, 10000.0, result.PositionSizeUSD)
	assert.Equal(t, 500.0, result.RiskAmount)
	assert.Equal(t, 5.0, result.RiskPercent)
	require.NotNil(t, result.RiskRewardRatio)
	assert.Equal(t, 2.0, *result.RiskRewardRatio)
}

func TestCalculatePositionSize_ShortSetup(t *testing.T) {
	// Stop above entry (short): riskPerUnit uses absolute distance
	result, err := CalculatePositionSize(50, 52, 200, 20000, nil)
	require.NoError(t, err)

	assert.Equal(t, 100.0, result.Quantity)
	assert.Equal(t, 5000.0, result.PositionSizeUSD)
	assert.Equal(t, 1.0, result.RiskPercent)
	assert.Nil(t, result.RiskRewardRatio)
}

func TestCalculatePositionSize_RiskIdentity(t *testing.T) {
	// quantity * |entry - stop| == riskAmount within rounding tolerance
	testCases := []struct {
		entry, stop, risk, balance float64
	}{
		{100, 95, 500, 10000},
		{1.2345, 1.2295, 75, 5000},
		{43500, 42000, 300, 25000},
		{0.081, 0.0795, 40, 1500},
	}

	for _, tc := range testCases {
		result, err := CalculatePositionSize(tc.entry, tc.stop, tc.risk, tc.balance, nil)
		require.NoError(t, err)

		riskPerUnit := tc.entry - tc.stop
		if riskPerUnit < 0 {
			riskPerUnit = -riskPerUnit
		}
		assert.InDelta(t, tc.risk, result.Quantity*riskPerUnit, tc.risk*0.001)
	}
}

func TestCalculatePositionSize_Validation(t *testing.T) {
	testCases := []struct {
		name    string
		entry   float64
		stop    float64
		risk    float64
		balance float64
		field   string
	}{
		{name: "Zero entry", entry: 0, stop: 95, risk: 500, balance: 10000, field: "entry_price"},
		{name: "Negative entry", entry: -10, stop: 95, risk: 500, balance: 10000, field: "entry_price"},
		{name: "Zero stop", entry: 100, stop: 0, risk: 500, balance: 10000, field: "stop_loss"},
		{name: "Zero risk", entry: 100, stop: 95, risk: 0, balance: 10000, field: "risk_amount"},
		{name: "Zero balance", entry: 100, stop: 95, risk: 500, balance: 0, field: "account_balance"},
		{name: "Entry equals stop", entry: 100, stop: 100, risk: 500, balance: 10000, field: "stop_loss"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CalculatePositionSize(tc.entry, tc.stop, tc.risk, tc.balance, nil)
			require.Error(t, err)

			var vErr *domain.ValidationError
			require.True(t, errors.As(err, &vErr), "expected ValidationError, got %T", err)
			assert.Equal(t, tc.field, vErr.Field)
		})
	}
}

func TestCalculatePositionSize_NonPositiveTargetIgnored(t *testing.T) {
	result, err := CalculatePositionSize(100, 95, 500, 10000, ptr(0))
	require.NoError(t, err)
	assert.Nil(t, result.RiskRewardRatio)
}

func TestCalculatePnL_Directions(t *testing.T) {
	// Long with exit above entry is a profit
	long, err := CalculatePnL(100, 110, 10, domain.DirectionLong, 0)
	require.NoError(t, err)
	assert.Equal(t, 100.0, long.Amount)
	assert.Equal(t, 10.0, long.Percent)

	// Short with exit below entry is a profit of equal magnitude
	short, err := CalculatePnL(100, 90, 10, domain.DirectionShort, 0)
	require.NoError(t, err)
	assert.Equal(t, 100.0, short.Amount)
	assert.Equal(t, 10.0, short.Percent)

	// Long with exit below entry is a loss
	losingLong, err := CalculatePnL(100, 90, 10, domain.DirectionLong, 0)
	require.NoError(t, err)
	assert.Equal(t, -100.0, losingLong.Amount)
}

func TestCalculatePnL_Commission(t *testing.T) {
	result, err := CalculatePnL(100, 110, 10, domain.DirectionLong, 7.5)
	require.NoError(t, err)
	assert.Equal(t, 92.5, result.Amount)
	assert.Equal(t, 9.25, result.Percent)
}

func TestCalculatePnL_Validation(t *testing.T) {
	_, err := CalculatePnL(0, 110, 10, domain.DirectionLong, 0)
	var vErr *domain.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "entry_price", vErr.Field)

	_, err = CalculatePnL(100, 110, 10, domain.DirectionLong, -1)
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "commission", vErr.Field)

	_, err = CalculatePnL(100, 110, 10, "sideways", 0)
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "direction", vErr.Field)
}

func TestCalculateRMultiple(t *testing.T) {
	r, err := CalculateRMultiple(250, 100)
	require.NoError(t, err)
	assert.Equal(t, 2.5, r)

	r, err = CalculateRMultiple(-100, 100)
	require.NoError(t, err)
	assert.Equal(t, -1.0, r)

	r, err = CalculateRMultiple(33.333, 100)
	require.NoError(t, err)
	assert.Equal(t, 0.33, r)

	_, err = CalculateRMultiple(100, 0)
	var vErr *domain.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "initial_risk", vErr.Field)
}

func TestValidateRiskLimits_AllViolationsReported(t *testing.T) {
	// Inputs violating all three checks must report three violations,
	// never short-circuiting.
	result := ValidateRiskLimits(5, 8, 15, 2, 10, 18)

	assert.False(t, result.IsValid)
	require.Len(t, result.Violations, 3)
	assert.Contains(t, result.Violations[0], "per-trade limit")
	assert.Contains(t, result.Violations[1], "daily limit")
	assert.Contains(t, result.Violations[2], "weekly limit")
}

func TestValidateRiskLimits_Passing(t *testing.T) {
	result := ValidateRiskLimits(1, 2, 4, 2, 10, 20)
	assert.True(t, result.IsValid)
	assert.Empty(t, result.Violations)
}

func TestValidateRiskLimits_BoundaryIsAllowed(t *testing.T) {
	// Exactly at the limit is not a violation
	result := ValidateRiskLimits(2, 8, 18, 2, 10, 20)
	assert.True(t, result.IsValid)
}
