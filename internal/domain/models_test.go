package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPortfolioDrawdown(t *testing.T) {
	testCases := []struct {
		name     string
		current  float64
		peak     float64
		expected float64
	}{
		{name: "At peak", current: 10000, peak: 10000, expected: 0},
		{name: "10 percent down", current: 9000, peak: 10000, expected: -10},
		{name: "Above peak clamps to zero", current: 11000, peak: 10000, expected: 0},
		{name: "Zero peak", current: 5000, peak: 0, expected: 0},
		{name: "Deep drawdown", current: 2500, peak: 10000, expected: -75},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := Portfolio{CurrentBalance: tc.current, PeakBalance: tc.peak}
			assert.InDelta(t, tc.expected, p.Drawdown(), 0.0001)
		})
	}
}

func TestCircuitBreakerEventActive(t *testing.T) {
	now := time.Now()
	past := now.Add(-1 * time.Hour)
	future := now.Add(1 * time.Hour)

	cleared := CircuitBreakerEvent{TriggeredAt: past, ClearedAt: &past}
	assert.False(t, cleared.Active(now), "cleared event must be inactive")

	expired := CircuitBreakerEvent{TriggeredAt: past, ExpiresAt: &past}
	assert.False(t, expired.Active(now), "expired event must be inactive")

	open := CircuitBreakerEvent{TriggeredAt: past}
	assert.True(t, open.Active(now), "uncleared unexpired event must be active")

	pending := CircuitBreakerEvent{TriggeredAt: past, ExpiresAt: &future}
	assert.True(t, pending.Active(now), "event expiring in the future must be active")

	// Expiry boundary is inclusive: an event is inactive exactly at ExpiresAt
	boundary := CircuitBreakerEvent{TriggeredAt: past, ExpiresAt: &now}
	assert.False(t, boundary.Active(now))
}

func TestRuleSetValidate(t *testing.T) {
	valid := RuleSet{Kind: RuleKindIndicator, Params: map[string]any{"rsi_period": 14.0}}
	assert.NoError(t, valid.Validate())

	missing := RuleSet{}
	assert.Error(t, missing.Validate())

	unknown := RuleSet{Kind: "astrology"}
	assert.Error(t, unknown.Validate())
}

func TestTypedErrorsDiscriminate(t *testing.T) {
	var wrapped error = fmt.Errorf("sizing rejected: %w",
		NewValidationError("entry_price", -5, "must be positive"))

	var vErr *ValidationError
	assert.True(t, errors.As(wrapped, &vErr))
	assert.Equal(t, "entry_price", vErr.Field)
	assert.Equal(t, -5.0, vErr.Value)

	var pErr *PreconditionError
	assert.False(t, errors.As(wrapped, &pErr))

	pe := &PreconditionError{Op: "archive", Reason: "3 open positions", OpenPositions: 3}
	assert.Contains(t, pe.Error(), "archive")
	assert.Contains(t, pe.Error(), "3 open positions")

	iv := &InvariantViolation{Op: "lineage", Reason: "cycle detected"}
	assert.Contains(t, iv.Error(), "cycle detected")
}
