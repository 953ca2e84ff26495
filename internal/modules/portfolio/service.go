package portfolio

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/quantfold/bulwark/internal/database"
	"github.com/quantfold/bulwark/internal/domain"
	"github.com/quantfold/bulwark/internal/modules/risk"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// Service owns portfolio state transitions. Account status is always
// derived through the risk package; nothing here sets it directly.
type Service struct {
	repo         *Repository
	breakerRepo  *BreakerRepository
	snapshotRepo *SnapshotRepository
	actions      domain.DrawdownActions
	limits       map[domain.AssetClass]domain.AssetClassLimit
	log          zerolog.Logger
}

// NewService creates a new portfolio service
func NewService(
	repo *Repository,
	breakerRepo *BreakerRepository,
	snapshotRepo *SnapshotRepository,
	actions domain.DrawdownActions,
	limits map[domain.AssetClass]domain.AssetClassLimit,
	log zerolog.Logger,
) *Service {
	return &Service{
		repo:         repo,
		breakerRepo:  breakerRepo,
		snapshotRepo: snapshotRepo,
		actions:      actions,
		limits:       limits,
		log:          log.With().Str("service", "portfolio").Logger(),
	}
}

// CreatePortfolio creates a new portfolio with an initial balance
func (s *Service) CreatePortfolio(name string, initialBalance float64) (*domain.Portfolio, error) {
	if name == "" {
		return nil, &domain.PreconditionError{Op: "create_portfolio", Reason: "name must not be empty"}
	}
	if initialBalance < 0 {
		return nil, domain.NewValidationError("initial_balance", initialBalance, "must not be negative")
	}

	p := &domain.Portfolio{
		ID:             uuid.NewString(),
		Name:           name,
		CurrentBalance: initialBalance,
		PeakBalance:    initialBalance,
		AccountStatus:  domain.AccountActive,
	}

	if err := s.repo.Create(p); err != nil {
		return nil, err
	}

	s.log.Info().Str("portfolio_id", p.ID).Float64("balance", initialBalance).Msg("Portfolio created")
	return p, nil
}

// GetPortfolio returns a portfolio by id, or nil when not found
func (s *Service) GetPortfolio(portfolioID string) (*domain.Portfolio, error) {
	return s.repo.GetByID(portfolioID)
}

// ListPortfolios returns all portfolios
func (s *Service) ListPortfolios() ([]domain.Portfolio, error) {
	return s.repo.GetAll()
}

// BreakerHistory returns the breaker audit trail for a portfolio, newest first
func (s *Service) BreakerHistory(portfolioID string, limit int) ([]domain.CircuitBreakerEvent, error) {
	return s.breakerRepo.HistoryForPortfolio(portfolioID, limit)
}

// SnapshotHistory returns decoded snapshots for a portfolio, oldest first
func (s *Service) SnapshotHistory(portfolioID string, limit int) ([]Snapshot, error) {
	return s.snapshotRepo.History(portfolioID, limit)
}

// RecordBalance updates the portfolio balance, ratchets the peak, derives
// the new account status, and appends a snapshot - all in one transaction.
// A tier transition into defensive or locked also records a breaker event.
func (s *Service) RecordBalance(portfolioID string, balance float64) (*domain.Portfolio, error) {
	if balance < 0 {
		return nil, domain.NewValidationError("balance", balance, "must not be negative")
	}

	var updated *domain.Portfolio

	err := database.WithTransaction(s.repo.DB(), func(tx *sql.Tx) error {
		p, err := s.repo.GetByIDTx(tx, portfolioID)
		if err != nil {
			return err
		}
		if p == nil {
			return &domain.PreconditionError{Op: "record_balance", Reason: fmt.Sprintf("portfolio %s not found", portfolioID)}
		}

		previous := p.AccountStatus

		p.CurrentBalance = balance
		if balance > p.PeakBalance {
			p.PeakBalance = balance
		}

		now := time.Now().UTC()
		p.LastUpdated = now

		events, err := s.breakerRepo.ActiveForPortfolioTx(tx, portfolioID, now)
		if err != nil {
			return err
		}

		drawdown := p.Drawdown()
		p.AccountStatus = risk.DeriveAccountStatus(previous, drawdown, s.actions, events, now)

		if err := s.repo.UpdateStateTx(tx, p); err != nil {
			return err
		}

		// A transition into recovery or locked leaves a breaker event in
		// the audit trail. Locked events carry no expiry: resuming after a
		// hard lock requires an explicit clear.
		if p.AccountStatus != previous &&
			(p.AccountStatus == domain.AccountRecovery || p.AccountStatus == domain.AccountLocked) {
			action := domain.ActionDefensive
			if p.AccountStatus == domain.AccountLocked {
				action = domain.ActionLocked
			}

			event := &domain.CircuitBreakerEvent{
				ID:          uuid.NewString(),
				PortfolioID: p.ID,
				Level:       domain.BreakerPortfolio,
				Action:      action,
				TriggeredBy: "drawdown_tier",
				Reason:      fmt.Sprintf("drawdown %.2f%% crossed into %s", drawdown, p.AccountStatus),
				TriggeredAt: now,
			}
			if err := s.breakerRepo.CreateTx(tx, event); err != nil {
				return err
			}

			s.log.Warn().
				Str("portfolio_id", p.ID).
				Float64("drawdown", drawdown).
				Str("status", string(p.AccountStatus)).
				Msg("Drawdown tier transition tripped circuit breaker")
		}

		snap := Snapshot{
			TakenAt:  now,
			Status:   p.AccountStatus,
			Balance:  p.CurrentBalance,
			Peak:     p.PeakBalance,
			Drawdown: drawdown,
		}
		if err := s.snapshotRepo.SaveTx(tx, p.ID, snap); err != nil {
			return err
		}

		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// TripBreaker records an externally triggered breaker event and re-derives
// account status atomically.
func (s *Service) TripBreaker(portfolioID string, level domain.BreakerLevel, action domain.RiskAction, triggeredBy, reason string, expiresAt *time.Time) (*domain.CircuitBreakerEvent, error) {
	if reason == "" {
		return nil, &domain.PreconditionError{Op: "trip_breaker", Reason: "reason must not be empty"}
	}

	event := &domain.CircuitBreakerEvent{
		ID:          uuid.NewString(),
		PortfolioID: portfolioID,
		Level:       level,
		Action:      action,
		TriggeredBy: triggeredBy,
		Reason:      reason,
		TriggeredAt: time.Now().UTC(),
		ExpiresAt:   expiresAt,
	}

	err := database.WithTransaction(s.repo.DB(), func(tx *sql.Tx) error {
		p, err := s.repo.GetByIDTx(tx, portfolioID)
		if err != nil {
			return err
		}
		if p == nil {
			return &domain.PreconditionError{Op: "trip_breaker", Reason: fmt.Sprintf("portfolio %s not found", portfolioID)}
		}

		if err := s.breakerRepo.CreateTx(tx, event); err != nil {
			return err
		}

		return s.rederiveStatusTx(tx, p, event.TriggeredAt)
	})
	if err != nil {
		return nil, err
	}

	s.log.Warn().
		Str("portfolio_id", portfolioID).
		Str("level", string(level)).
		Str("action", string(action)).
		Str("reason", reason).
		Msg("Circuit breaker tripped")

	return event, nil
}

// ClearBreaker marks an event cleared and re-derives the account status.
// The event row is preserved for the audit trail.
func (s *Service) ClearBreaker(eventID string) error {
	event, err := s.breakerRepo.GetByID(eventID)
	if err != nil {
		return err
	}
	if event == nil {
		return &domain.PreconditionError{Op: "clear_breaker", Reason: fmt.Sprintf("breaker event %s not found", eventID)}
	}

	return database.WithTransaction(s.repo.DB(), func(tx *sql.Tx) error {
		now := time.Now().UTC()
		if err := s.breakerRepo.ClearTx(tx, eventID, now); err != nil {
			return err
		}

		p, err := s.repo.GetByIDTx(tx, event.PortfolioID)
		if err != nil {
			return err
		}
		if p == nil {
			return &domain.InvariantViolation{Op: "clear_breaker", Reason: fmt.Sprintf("breaker event %s references missing portfolio %s", eventID, event.PortfolioID)}
		}

		return s.rederiveStatusTx(tx, p, now)
	})
}

// rederiveStatusTx recomputes and persists account status from current state
func (s *Service) rederiveStatusTx(tx *sql.Tx, p *domain.Portfolio, now time.Time) error {
	events, err := s.breakerRepo.ActiveForPortfolioTx(tx, p.ID, now)
	if err != nil {
		return err
	}

	p.AccountStatus = risk.DeriveAccountStatus(p.AccountStatus, p.Drawdown(), s.actions, events, now)
	p.LastUpdated = now

	return s.repo.UpdateStateTx(tx, p)
}

// SweepExpiredBreakers marks expired events cleared and re-derives status
// for every affected portfolio. Returns the number of events swept.
func (s *Service) SweepExpiredBreakers(now time.Time) (int, error) {
	expired, err := s.breakerRepo.ExpiredUncleared(now)
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	affected := make(map[string]bool)

	err = database.WithTransaction(s.repo.DB(), func(tx *sql.Tx) error {
		for i := range expired {
			if err := s.breakerRepo.ClearTx(tx, expired[i].ID, now); err != nil {
				return err
			}
			affected[expired[i].PortfolioID] = true
		}

		for portfolioID := range affected {
			p, err := s.repo.GetByIDTx(tx, portfolioID)
			if err != nil {
				return err
			}
			if p == nil {
				continue
			}
			if err := s.rederiveStatusTx(tx, p, now); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	s.log.Info().
		Int("events", len(expired)).
		Int("portfolios", len(affected)).
		Msg("Swept expired circuit breaker events")

	return len(expired), nil
}

// StatusReport is the derived risk view of a portfolio
type StatusReport struct {
	Portfolio         *domain.Portfolio            `json:"portfolio"`
	ActiveTier        *domain.DrawdownTier         `json:"active_tier,omitempty"`
	ActiveBreakers    []domain.CircuitBreakerEvent `json:"active_breakers"`
	Drawdown          float64                      `json:"drawdown"`
	SizeMultiplier    float64                      `json:"size_multiplier"`
	BlockNewPositions bool                         `json:"block_new_positions"`
}

// Status returns the full derived risk view for a portfolio
func (s *Service) Status(portfolioID string) (*StatusReport, error) {
	p, err := s.repo.GetByID(portfolioID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &domain.PreconditionError{Op: "status", Reason: fmt.Sprintf("portfolio %s not found", portfolioID)}
	}

	now := time.Now().UTC()
	events, err := s.breakerRepo.ActiveForPortfolio(portfolioID, now)
	if err != nil {
		return nil, err
	}

	drawdown := p.Drawdown()
	tier := risk.ActionForDrawdown(drawdown, s.actions)

	return &StatusReport{
		Portfolio:         p,
		Drawdown:          drawdown,
		ActiveTier:        tier,
		ActiveBreakers:    events,
		SizeMultiplier:    risk.PositionSizeAdjustment(1.0, drawdown, s.actions),
		BlockNewPositions: risk.ShouldBlockNewPositions(p.AccountStatus, drawdown, s.actions),
	}, nil
}

// AccountStatus returns the stored account status for a portfolio.
// Used by the strategy lifecycle checks.
func (s *Service) AccountStatus(portfolioID string) (domain.AccountStatus, error) {
	p, err := s.repo.GetByID(portfolioID)
	if err != nil {
		return "", err
	}
	if p == nil {
		return "", &domain.PreconditionError{Op: "account_status", Reason: fmt.Sprintf("portfolio %s not found", portfolioID)}
	}
	return p.AccountStatus, nil
}

// AdjustPositionSize scales a nominal size by the active tier multiplier
func (s *Service) AdjustPositionSize(portfolioID string, baseSize float64) (float64, error) {
	p, err := s.repo.GetByID(portfolioID)
	if err != nil {
		return 0, err
	}
	if p == nil {
		return 0, &domain.PreconditionError{Op: "adjust_position_size", Reason: fmt.Sprintf("portfolio %s not found", portfolioID)}
	}

	return risk.PositionSizeAdjustment(baseSize, p.Drawdown(), s.actions), nil
}

// LimitForAssetClass exposes the configured per-class override, if any
func (s *Service) LimitForAssetClass(class domain.AssetClass) *domain.AssetClassLimit {
	return risk.LimitForAssetClass(class, s.limits)
}

// BalanceStats summarizes the snapshot history of a portfolio
type BalanceStats struct {
	Samples       int     `json:"samples"`
	MeanReturn    float64 `json:"mean_return"`
	ReturnStdDev  float64 `json:"return_std_dev"`
	WorstDrawdown float64 `json:"worst_drawdown"`
}

// BalanceHistoryStats computes simple return statistics over the snapshot
// history. Returns nil when there are not enough samples.
func (s *Service) BalanceHistoryStats(portfolioID string, limit int) (*BalanceStats, error) {
	snapshots, err := s.snapshotRepo.History(portfolioID, limit)
	if err != nil {
		return nil, err
	}
	if len(snapshots) < 2 {
		return nil, nil
	}

	returns := make([]float64, 0, len(snapshots)-1)
	worst := 0.0
	for i := 1; i < len(snapshots); i++ {
		prev := snapshots[i-1].Balance
		if prev > 0 {
			returns = append(returns, (snapshots[i].Balance-prev)/prev)
		}
		if snapshots[i].Drawdown < worst {
			worst = snapshots[i].Drawdown
		}
	}
	if snapshots[0].Drawdown < worst {
		worst = snapshots[0].Drawdown
	}

	if len(returns) == 0 {
		return nil, nil
	}

	return &BalanceStats{
		Samples:       len(snapshots),
		MeanReturn:    stat.Mean(returns, nil),
		ReturnStdDev:  stat.StdDev(returns, nil),
		WorstDrawdown: worst,
	}, nil
}
