// Package domain provides core domain models and types.
package domain

import "time"

// AccountStatus is the coarse trading permission state of a portfolio.
// It is always derived from drawdown tiers and circuit breaker events,
// never set directly.
type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountWarning  AccountStatus = "warning"
	AccountRecovery AccountStatus = "recovery"
	AccountLocked   AccountStatus = "locked"
)

// StrategyStatus represents the lifecycle state of a strategy
type StrategyStatus string

const (
	StrategyActive  StrategyStatus = "active"
	StrategyPaused  StrategyStatus = "paused"
	StrategyBlocked StrategyStatus = "blocked"
	StrategyClosed  StrategyStatus = "closed"
	StrategyTesting StrategyStatus = "testing"
)

// PositionStatus represents whether a position is open or closed
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// Direction is the side of an exposure
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// RiskAction is the action a drawdown tier prescribes
type RiskAction string

const (
	ActionWarning   RiskAction = "warning"
	ActionReduce    RiskAction = "reduce"
	ActionDefensive RiskAction = "defensive"
	ActionLocked    RiskAction = "locked"
)

// BreakerLevel is the scope of a circuit breaker event
type BreakerLevel string

const (
	BreakerPortfolio BreakerLevel = "portfolio"
	BreakerStrategy  BreakerLevel = "strategy"
	BreakerPosition  BreakerLevel = "position"
)

// AssetClass identifies an asset class for per-class risk limits
type AssetClass string

const (
	AssetCrypto      AssetClass = "crypto"
	AssetEquities    AssetClass = "equities"
	AssetForex       AssetClass = "forex"
	AssetCommodities AssetClass = "commodities"
)

// Portfolio represents aggregate financial state for one account
type Portfolio struct {
	LastUpdated    time.Time     `json:"last_updated"`
	CreatedAt      time.Time     `json:"created_at"`
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	AccountStatus  AccountStatus `json:"account_status"`
	CurrentBalance float64       `json:"current_balance"`
	PeakBalance    float64       `json:"peak_balance"`
}

// Drawdown returns the current drawdown percent, always <= 0.
// The value is recomputed from balances on every call so a stored
// tier identifier can never go stale.
func (p *Portfolio) Drawdown() float64 {
	if p.PeakBalance <= 0 {
		return 0
	}
	dd := (p.CurrentBalance - p.PeakBalance) / p.PeakBalance * 100
	if dd > 0 {
		return 0
	}
	return dd
}

// Strategy represents a named trading ruleset and its lifecycle state
type Strategy struct {
	CreatedAt        time.Time      `json:"created_at"`
	ClosedAt         *time.Time     `json:"closed_at,omitempty"`
	ParentStrategyID *string        `json:"parent_strategy_id,omitempty"`
	ID               string         `json:"id"`
	PortfolioID      string         `json:"portfolio_id"`
	Name             string         `json:"name"`
	Status           StrategyStatus `json:"status"`
	BlockedReason    string         `json:"blocked_reason,omitempty"`
	EntryRules       RuleSet        `json:"entry_rules"`
	ExitRules        RuleSet        `json:"exit_rules"`
	SizingRules      RuleSet        `json:"position_sizing_rules"`
	MaxPositions     int            `json:"max_positions"`
	MaxRiskPercent   float64        `json:"max_risk_percent"`
	MaxDrawdown      float64        `json:"max_drawdown"`
	AllocatedCapital float64        `json:"allocated_capital"`
}

// Position represents one open or closed exposure
type Position struct {
	OpenedAt      time.Time      `json:"opened_at"`
	ClosedAt      *time.Time     `json:"closed_at,omitempty"`
	AvgExitPrice  *float64       `json:"avg_exit_price,omitempty"`
	ID            string         `json:"id"`
	StrategyID    string         `json:"strategy_id"`
	Symbol        string         `json:"symbol"`
	Direction     Direction      `json:"direction"`
	Status        PositionStatus `json:"status"`
	Quantity      float64        `json:"quantity"`
	AvgEntryPrice float64        `json:"avg_entry_price"`
	StopLoss      float64        `json:"stop_loss"`
	TakeProfit    float64        `json:"take_profit"`
	RealizedPnl   float64        `json:"realized_pnl"`
	UnrealizedPnl float64        `json:"unrealized_pnl"`
	NetPnl        float64        `json:"net_pnl"`
	TotalFees     float64        `json:"total_fees"`
	RMultiple     float64        `json:"r_multiple"`
}

// CircuitBreakerEvent records a trading suspension at some scope.
// Events are append-only: clearing sets ClearedAt, nothing is deleted.
type CircuitBreakerEvent struct {
	TriggeredAt time.Time    `json:"triggered_at"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty"`
	ClearedAt   *time.Time   `json:"cleared_at,omitempty"`
	ID          string       `json:"id"`
	PortfolioID string       `json:"portfolio_id"`
	Level       BreakerLevel `json:"level"`
	TriggeredBy string       `json:"triggered_by"`
	Reason      string       `json:"reason"`
	Action      RiskAction   `json:"action"`
}

// Active reports whether the event is uncleared and unexpired at the given time
func (e *CircuitBreakerEvent) Active(now time.Time) bool {
	if e.ClearedAt != nil {
		return false
	}
	if e.ExpiresAt != nil && !now.Before(*e.ExpiresAt) {
		return false
	}
	return true
}

// DrawdownTier maps a drawdown threshold to a risk action
type DrawdownTier struct {
	PositionSizeMultiplier *float64   `json:"position_size_multiplier,omitempty"`
	Threshold              float64    `json:"threshold"` // always <= 0
	Action                 RiskAction `json:"action"`
	Notification           bool       `json:"notification,omitempty"`
}

// RecoveryRules controls the hysteresis band for exiting recovery status
type RecoveryRules struct {
	TriggerPercent  float64 `json:"trigger_percent"`
	ExitPercent     float64 `json:"exit_percent"`
	MaxPositionSize float64 `json:"max_position_size"`
}

// DrawdownActions is the tier table plus optional recovery rules.
// Tiers must be ordered ascending by threshold (most severe first).
type DrawdownActions struct {
	Recovery *RecoveryRules `json:"recovery_rules,omitempty"`
	Tiers    []DrawdownTier `json:"tiers"`
}

// AssetClassLimit holds per-asset-class risk overrides
type AssetClassLimit struct {
	MaxLeverage             *float64   `json:"max_leverage,omitempty"`
	AssetClass              AssetClass `json:"asset_class"`
	MaxDrawdownPercent      float64    `json:"max_drawdown_percent"`
	MaxVolatilityMultiplier float64    `json:"max_volatility_multiplier"`
	CoolingOffPeriodHours   int        `json:"cooling_off_period_hours"`
}
