package strategy

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/quantfold/bulwark/internal/database"
	"github.com/quantfold/bulwark/internal/domain"
	"github.com/quantfold/bulwark/internal/modules/arithmetic"
	"github.com/rs/zerolog"
)

// maxLineageDepth bounds the parent walk. Lineage chains are produced by
// successive clones, so anything deeper than this is malformed data, and
// the walk must not hang on it.
const maxLineageDepth = 64

// AccountStatusProvider reports the owning portfolio's account status.
// Defined here so this package does not depend on the portfolio module
// directly, which also keeps the service testable with a stub.
type AccountStatusProvider interface {
	AccountStatus(portfolioID string) (domain.AccountStatus, error)
}

// Service is the strategy lifecycle state machine. Clone, Block, and
// Archive each run as one transaction: a partial result (source blocked but
// no clone created, or vice versa) is never observable.
type Service struct {
	repo         *Repository
	positionRepo *PositionRepository
	portfolios   AccountStatusProvider
	log          zerolog.Logger
}

// NewService creates a new strategy lifecycle service
func NewService(
	repo *Repository,
	positionRepo *PositionRepository,
	portfolios AccountStatusProvider,
	log zerolog.Logger,
) *Service {
	return &Service{
		repo:         repo,
		positionRepo: positionRepo,
		portfolios:   portfolios,
		log:          log.With().Str("service", "strategy").Logger(),
	}
}

// CreateInput holds the fields for direct strategy creation
type CreateInput struct {
	PortfolioID      string                `json:"portfolio_id"`
	Name             string                `json:"name"`
	Status           domain.StrategyStatus `json:"status,omitempty"`
	EntryRules       domain.RuleSet        `json:"entry_rules"`
	ExitRules        domain.RuleSet        `json:"exit_rules"`
	SizingRules      domain.RuleSet        `json:"position_sizing_rules"`
	MaxPositions     int                   `json:"max_positions"`
	MaxRiskPercent   float64               `json:"max_risk_percent"`
	MaxDrawdown      float64               `json:"max_drawdown"`
	AllocatedCapital float64               `json:"allocated_capital"`
}

// Create creates a new strategy in active or testing status
func (s *Service) Create(input CreateInput) (*domain.Strategy, error) {
	if input.Name == "" {
		return nil, &domain.PreconditionError{Op: "create", Reason: "name must not be empty"}
	}
	if input.PortfolioID == "" {
		return nil, &domain.PreconditionError{Op: "create", Reason: "portfolio id must not be empty"}
	}
	if input.MaxPositions <= 0 {
		return nil, domain.NewValidationError("max_positions", float64(input.MaxPositions), "must be positive")
	}

	status := input.Status
	if status == "" {
		status = domain.StrategyActive
	}
	if status != domain.StrategyActive && status != domain.StrategyTesting {
		return nil, &domain.PreconditionError{Op: "create", Reason: fmt.Sprintf("new strategies start active or testing, not %s", status)}
	}

	for _, rules := range []*domain.RuleSet{&input.EntryRules, &input.ExitRules, &input.SizingRules} {
		if rules.IsZero() {
			continue
		}
		if err := rules.Validate(); err != nil {
			return nil, &domain.PreconditionError{Op: "create", Reason: err.Error()}
		}
	}

	strat := &domain.Strategy{
		ID:               uuid.NewString(),
		PortfolioID:      input.PortfolioID,
		Name:             input.Name,
		Status:           status,
		EntryRules:       input.EntryRules,
		ExitRules:        input.ExitRules,
		SizingRules:      input.SizingRules,
		MaxPositions:     input.MaxPositions,
		MaxRiskPercent:   input.MaxRiskPercent,
		MaxDrawdown:      input.MaxDrawdown,
		AllocatedCapital: input.AllocatedCapital,
		CreatedAt:        time.Now().UTC(),
	}

	if err := s.repo.Create(strat); err != nil {
		return nil, err
	}

	s.log.Info().Str("strategy_id", strat.ID).Str("status", string(status)).Msg("Strategy created")
	return strat, nil
}

// Get returns a strategy by id, or nil when not found
func (s *Service) Get(strategyID string) (*domain.Strategy, error) {
	return s.repo.GetByID(strategyID)
}

// List returns all strategies, oldest first
func (s *Service) List() ([]domain.Strategy, error) {
	return s.repo.GetAll()
}

// OpenPositions returns the open positions of a strategy
func (s *Service) OpenPositions(strategyID string) ([]domain.Position, error) {
	return s.positionRepo.OpenByStrategy(strategyID)
}

// CloneUpdates carries the rule overrides applied to a clone.
// Nil fields are copied from the source strategy.
type CloneUpdates struct {
	Name             *string         `json:"name,omitempty"`
	EntryRules       *domain.RuleSet `json:"entry_rules,omitempty"`
	ExitRules        *domain.RuleSet `json:"exit_rules,omitempty"`
	SizingRules      *domain.RuleSet `json:"position_sizing_rules,omitempty"`
	MaxPositions     *int            `json:"max_positions,omitempty"`
	MaxRiskPercent   *float64        `json:"max_risk_percent,omitempty"`
	MaxDrawdown      *float64        `json:"max_drawdown,omitempty"`
	AllocatedCapital *float64        `json:"allocated_capital,omitempty"`
}

// CloneResult reports both halves of a completed clone
type CloneResult struct {
	Source *domain.Strategy `json:"source"`
	Clone  *domain.Strategy `json:"clone"`
}

// Clone supersedes a strategy with a modified copy without losing its
// historical performance attribution. A source with open positions is
// blocked (keeping its positions and history); a source without open
// positions is closed. The source transition and the clone creation commit
// as one unit.
func (s *Service) Clone(strategyID string, updates CloneUpdates) (*CloneResult, error) {
	var result *CloneResult

	err := database.WithTransaction(s.repo.DB(), func(tx *sql.Tx) error {
		source, err := s.repo.GetByIDTx(tx, strategyID)
		if err != nil {
			return err
		}
		if source == nil {
			return &domain.PreconditionError{Op: "clone", Reason: fmt.Sprintf("strategy %s not found", strategyID)}
		}
		if source.Status == domain.StrategyClosed {
			return &domain.PreconditionError{Op: "clone", Reason: fmt.Sprintf("strategy %s is closed", strategyID)}
		}

		openCount, err := s.positionRepo.CountOpenTx(tx, strategyID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()

		if openCount > 0 {
			// Open positions stay attributed to the source; it is blocked,
			// not closed, so its history remains intact.
			source.Status = domain.StrategyBlocked
			source.BlockedReason = "superseded"
			if err := s.repo.UpdateStatusTx(tx, source.ID, source.Status, source.BlockedReason, nil); err != nil {
				return err
			}
		} else {
			source.Status = domain.StrategyClosed
			source.ClosedAt = &now
			if err := s.repo.UpdateStatusTx(tx, source.ID, source.Status, source.BlockedReason, source.ClosedAt); err != nil {
				return err
			}
		}

		clone := &domain.Strategy{
			ID:               uuid.NewString(),
			PortfolioID:      source.PortfolioID,
			ParentStrategyID: &source.ID,
			Name:             source.Name,
			Status:           domain.StrategyActive,
			EntryRules:       source.EntryRules,
			ExitRules:        source.ExitRules,
			SizingRules:      source.SizingRules,
			MaxPositions:     source.MaxPositions,
			MaxRiskPercent:   source.MaxRiskPercent,
			MaxDrawdown:      source.MaxDrawdown,
			AllocatedCapital: source.AllocatedCapital,
			CreatedAt:        now,
		}
		applyCloneUpdates(clone, updates)

		if clone.MaxPositions <= 0 {
			return domain.NewValidationError("max_positions", float64(clone.MaxPositions), "must be positive")
		}

		if err := s.repo.CreateTx(tx, clone); err != nil {
			// The source transition already happened inside this
			// transaction; failing here rolls both back together.
			return &domain.InvariantViolation{Op: "clone", Reason: fmt.Sprintf("source %s transitioned but clone creation failed: %v", source.ID, err)}
		}

		result = &CloneResult{Source: source, Clone: clone}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("source_id", result.Source.ID).
		Str("clone_id", result.Clone.ID).
		Str("source_status", string(result.Source.Status)).
		Msg("Strategy cloned")

	return result, nil
}

func applyCloneUpdates(clone *domain.Strategy, updates CloneUpdates) {
	if updates.Name != nil {
		clone.Name = *updates.Name
	}
	if updates.EntryRules != nil {
		clone.EntryRules = *updates.EntryRules
	}
	if updates.ExitRules != nil {
		clone.ExitRules = *updates.ExitRules
	}
	if updates.SizingRules != nil {
		clone.SizingRules = *updates.SizingRules
	}
	if updates.MaxPositions != nil {
		clone.MaxPositions = *updates.MaxPositions
	}
	if updates.MaxRiskPercent != nil {
		clone.MaxRiskPercent = *updates.MaxRiskPercent
	}
	if updates.MaxDrawdown != nil {
		clone.MaxDrawdown = *updates.MaxDrawdown
	}
	if updates.AllocatedCapital != nil {
		clone.AllocatedCapital = *updates.AllocatedCapital
	}
}

// Block suspends a strategy. Idempotent: blocking an already-blocked
// strategy overwrites the reason.
func (s *Service) Block(strategyID, reason string) (*domain.Strategy, error) {
	if reason == "" {
		return nil, &domain.PreconditionError{Op: "block", Reason: "reason must not be empty"}
	}

	var blocked *domain.Strategy

	err := database.WithTransaction(s.repo.DB(), func(tx *sql.Tx) error {
		strat, err := s.repo.GetByIDTx(tx, strategyID)
		if err != nil {
			return err
		}
		if strat == nil {
			return &domain.PreconditionError{Op: "block", Reason: fmt.Sprintf("strategy %s not found", strategyID)}
		}
		if strat.Status == domain.StrategyClosed {
			return &domain.PreconditionError{Op: "block", Reason: fmt.Sprintf("strategy %s is closed", strategyID)}
		}

		strat.Status = domain.StrategyBlocked
		strat.BlockedReason = reason
		if err := s.repo.UpdateStatusTx(tx, strat.ID, strat.Status, strat.BlockedReason, nil); err != nil {
			return err
		}

		blocked = strat
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("strategy_id", strategyID).Str("reason", reason).Msg("Strategy blocked")
	return blocked, nil
}

// Archive retires a strategy. Allowed only with zero open positions;
// archive is the only operation that sets status closed.
func (s *Service) Archive(strategyID string) (*domain.Strategy, error) {
	var archived *domain.Strategy

	err := database.WithTransaction(s.repo.DB(), func(tx *sql.Tx) error {
		strat, err := s.repo.GetByIDTx(tx, strategyID)
		if err != nil {
			return err
		}
		if strat == nil {
			return &domain.PreconditionError{Op: "archive", Reason: fmt.Sprintf("strategy %s not found", strategyID)}
		}
		if strat.Status == domain.StrategyClosed {
			// Already archived
			archived = strat
			return nil
		}

		openCount, err := s.positionRepo.CountOpenTx(tx, strategyID)
		if err != nil {
			return err
		}
		if openCount > 0 {
			return &domain.PreconditionError{
				Op:            "archive",
				Reason:        fmt.Sprintf("strategy %s has %d open positions", strategyID, openCount),
				OpenPositions: openCount,
			}
		}

		now := time.Now().UTC()
		strat.Status = domain.StrategyClosed
		strat.ClosedAt = &now
		if err := s.repo.UpdateStatusTx(tx, strat.ID, strat.Status, strat.BlockedReason, strat.ClosedAt); err != nil {
			return err
		}

		archived = strat
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("strategy_id", strategyID).Msg("Strategy archived")
	return archived, nil
}

// Lineage returns the full version history of a strategy: the root of its
// clone chain followed by every descendant, ordered root-first then by
// creation time. The walk tracks visited ids and bounds its depth so a
// cyclic parent chain (malformed data) fails instead of hanging.
func (s *Service) Lineage(strategyID string) ([]domain.Strategy, error) {
	strat, err := s.repo.GetByID(strategyID)
	if err != nil {
		return nil, err
	}
	if strat == nil {
		return nil, &domain.PreconditionError{Op: "lineage", Reason: fmt.Sprintf("strategy %s not found", strategyID)}
	}

	// Walk up to the root
	root := strat
	visited := map[string]bool{root.ID: true}
	for depth := 0; root.ParentStrategyID != nil; depth++ {
		if depth >= maxLineageDepth {
			return nil, &domain.InvariantViolation{Op: "lineage", Reason: fmt.Sprintf("parent chain exceeds depth %d", maxLineageDepth)}
		}

		parentID := *root.ParentStrategyID
		if visited[parentID] {
			return nil, &domain.InvariantViolation{Op: "lineage", Reason: fmt.Sprintf("cycle detected at strategy %s", parentID)}
		}

		parent, err := s.repo.GetByID(parentID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			// Dangling parent pointer: treat the current node as root
			break
		}

		visited[parentID] = true
		root = parent
	}

	// Collect every descendant of the root, including siblings spawned by
	// later clones.
	lineage := []domain.Strategy{*root}
	seen := map[string]bool{root.ID: true}
	queue := []string{root.ID}

	for len(queue) > 0 {
		if len(seen) > maxLineageDepth*maxLineageDepth {
			return nil, &domain.InvariantViolation{Op: "lineage", Reason: "descendant walk exceeded bound"}
		}

		id := queue[0]
		queue = queue[1:]

		children, err := s.repo.ChildrenOf(id)
		if err != nil {
			return nil, err
		}

		for _, child := range children {
			if seen[child.ID] {
				return nil, &domain.InvariantViolation{Op: "lineage", Reason: fmt.Sprintf("cycle detected at strategy %s", child.ID)}
			}
			seen[child.ID] = true
			lineage = append(lineage, child)
			queue = append(queue, child.ID)
		}
	}

	// Root first, then version order
	sort.SliceStable(lineage[1:], func(i, j int) bool {
		return lineage[1:][i].CreatedAt.Before(lineage[1:][j].CreatedAt)
	})

	return lineage, nil
}

// Permission is the answer to a canOpenPositions check
type Permission struct {
	Reason  string `json:"reason,omitempty"`
	Allowed bool   `json:"allowed"`
}

// CanOpenPositions decides whether a strategy may open a new position.
// Checks run in order and the first failure wins. The caller must treat any
// non-allowed result as a hard stop - no trade may bypass this check.
func (s *Service) CanOpenPositions(strategyID string) (*Permission, error) {
	strat, err := s.repo.GetByID(strategyID)
	if err != nil {
		return nil, err
	}

	return s.evaluatePermission(strat, func() (int, error) {
		return s.positionRepo.CountOpen(strategyID)
	})
}

// evaluatePermission runs the ordered permission checks against a loaded
// strategy, with the open-position count supplied by the caller so the
// transactional path can count inside its own transaction.
func (s *Service) evaluatePermission(strat *domain.Strategy, countOpen func() (int, error)) (*Permission, error) {
	if strat == nil {
		return &Permission{Allowed: false, Reason: "strategy not found"}, nil
	}

	switch strat.Status {
	case domain.StrategyBlocked:
		reason := strat.BlockedReason
		if reason == "" {
			reason = "strategy is blocked"
		}
		return &Permission{Allowed: false, Reason: reason}, nil
	case domain.StrategyClosed:
		return &Permission{Allowed: false, Reason: "strategy is closed"}, nil
	case domain.StrategyPaused:
		return &Permission{Allowed: false, Reason: "strategy is paused"}, nil
	}

	accountStatus, err := s.portfolios.AccountStatus(strat.PortfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to get account status for portfolio %s: %w", strat.PortfolioID, err)
	}
	if accountStatus == domain.AccountLocked {
		return &Permission{Allowed: false, Reason: "portfolio account is locked"}, nil
	}

	openCount, err := countOpen()
	if err != nil {
		return nil, err
	}
	if openCount >= strat.MaxPositions {
		return &Permission{
			Allowed: false,
			Reason:  fmt.Sprintf("open positions (%d) at max (%d)", openCount, strat.MaxPositions),
		}, nil
	}

	return &Permission{Allowed: true}, nil
}

// OpenPositionInput holds the fields for accepting a new position
type OpenPositionInput struct {
	StrategyID string           `json:"strategy_id"`
	Symbol     string           `json:"symbol"`
	Direction  domain.Direction `json:"direction"`
	Quantity   float64          `json:"quantity"`
	EntryPrice float64          `json:"entry_price"`
	StopLoss   float64          `json:"stop_loss"`
	TakeProfit float64          `json:"take_profit"`
}

// OpenPosition accepts a new position for a strategy. The permission check
// is re-evaluated inside the same transaction that creates the position,
// closing the time-of-check/time-of-use gap where two concurrent trades
// could both pass the position-count check.
func (s *Service) OpenPosition(input OpenPositionInput) (*domain.Position, error) {
	if input.Quantity <= 0 {
		return nil, domain.NewValidationError("quantity", input.Quantity, "must be positive")
	}
	if input.EntryPrice <= 0 {
		return nil, domain.NewValidationError("entry_price", input.EntryPrice, "must be positive")
	}
	if input.Direction != domain.DirectionLong && input.Direction != domain.DirectionShort {
		return nil, domain.NewValidationError("direction", 0, fmt.Sprintf("unknown direction %q", input.Direction))
	}

	var position *domain.Position

	err := database.WithTransaction(s.repo.DB(), func(tx *sql.Tx) error {
		strat, err := s.repo.GetByIDTx(tx, input.StrategyID)
		if err != nil {
			return err
		}

		permission, err := s.evaluatePermission(strat, func() (int, error) {
			return s.positionRepo.CountOpenTx(tx, input.StrategyID)
		})
		if err != nil {
			return err
		}
		if !permission.Allowed {
			return &domain.PreconditionError{Op: "open_position", Reason: permission.Reason}
		}

		position = &domain.Position{
			ID:            uuid.NewString(),
			StrategyID:    input.StrategyID,
			Symbol:        input.Symbol,
			Direction:     input.Direction,
			Status:        domain.PositionOpen,
			Quantity:      input.Quantity,
			AvgEntryPrice: input.EntryPrice,
			StopLoss:      input.StopLoss,
			TakeProfit:    input.TakeProfit,
			OpenedAt:      time.Now().UTC(),
		}

		return s.positionRepo.CreateTx(tx, position)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("position_id", position.ID).
		Str("strategy_id", input.StrategyID).
		Str("symbol", input.Symbol).
		Msg("Position opened")

	return position, nil
}

// ClosePosition closes a position at the given exit price, computing its
// realized economics.
func (s *Service) ClosePosition(positionID string, exitPrice, commission float64) (*domain.Position, error) {
	var closed *domain.Position

	err := database.WithTransaction(s.repo.DB(), func(tx *sql.Tx) error {
		p, err := s.positionRepo.GetByIDTx(tx, positionID)
		if err != nil {
			return err
		}
		if p == nil {
			return &domain.PreconditionError{Op: "close_position", Reason: fmt.Sprintf("position %s not found", positionID)}
		}
		if p.Status == domain.PositionClosed {
			return &domain.PreconditionError{Op: "close_position", Reason: fmt.Sprintf("position %s is already closed", positionID)}
		}

		pnl, err := arithmetic.CalculatePnL(p.AvgEntryPrice, exitPrice, p.Quantity, p.Direction, commission)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		p.Status = domain.PositionClosed
		p.AvgExitPrice = &exitPrice
		p.ClosedAt = &now
		p.RealizedPnl = pnl.Amount
		p.UnrealizedPnl = 0
		p.TotalFees = commission
		p.NetPnl = pnl.Amount

		// R-multiple only when an initial stop defined the risk
		if p.StopLoss > 0 && p.StopLoss != p.AvgEntryPrice {
			initialRisk := p.AvgEntryPrice - p.StopLoss
			if initialRisk < 0 {
				initialRisk = -initialRisk
			}
			r, err := arithmetic.CalculateRMultiple(pnl.Amount, initialRisk*p.Quantity)
			if err != nil {
				return err
			}
			p.RMultiple = r
		}

		if err := s.positionRepo.CloseTx(tx, p); err != nil {
			return err
		}

		closed = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("position_id", positionID).
		Float64("realized_pnl", closed.RealizedPnl).
		Msg("Position closed")

	return closed, nil
}
