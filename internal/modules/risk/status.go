package risk

import (
	"time"

	"github.com/quantfold/bulwark/internal/domain"
)

// DeriveAccountStatus computes the portfolio's account status from the
// current drawdown, the tier configuration, and the breaker audit trail.
// Account status is a derived view; it is never set directly.
//
// Precedence, most severe first:
//  1. Any active (uncleared, unexpired) portfolio-level breaker event with a
//     locked action forces locked, regardless of drawdown.
//  2. Otherwise the active tier maps: locked -> locked,
//     defensive -> recovery, reduce/warning -> warning, no tier -> active.
//  3. Recovery hysteresis: a portfolio already in recovery stays there until
//     drawdown recovers above RecoveryRules.ExitPercent, then returns to
//     active even if a shallower tier is still matched. This prevents
//     oscillation exactly at a tier boundary.
func DeriveAccountStatus(
	previous domain.AccountStatus,
	drawdown float64,
	actions domain.DrawdownActions,
	events []domain.CircuitBreakerEvent,
	now time.Time,
) domain.AccountStatus {
	for i := range events {
		e := &events[i]
		if e.Level == domain.BreakerPortfolio && e.Action == domain.ActionLocked && e.Active(now) {
			return domain.AccountLocked
		}
	}

	base := statusForTier(ActionForDrawdown(drawdown, actions))

	if previous == domain.AccountRecovery && actions.Recovery != nil {
		switch base {
		case domain.AccountLocked, domain.AccountRecovery:
			// Deeper states always win over the hysteresis band
			return base
		default:
			if drawdown > actions.Recovery.ExitPercent {
				return domain.AccountActive
			}
			return domain.AccountRecovery
		}
	}

	return base
}

// statusForTier maps a tier action to the coarse account status
func statusForTier(tier *domain.DrawdownTier) domain.AccountStatus {
	if tier == nil {
		return domain.AccountActive
	}

	switch tier.Action {
	case domain.ActionLocked:
		return domain.AccountLocked
	case domain.ActionDefensive:
		return domain.AccountRecovery
	case domain.ActionReduce, domain.ActionWarning:
		return domain.AccountWarning
	default:
		return domain.AccountActive
	}
}
