// Package strategy implements the strategy lifecycle state machine:
// creation, clone-on-change, blocking, archival, lineage queries, and the
// permission check consulted before every new trade.
package strategy

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quantfold/bulwark/internal/domain"
	"github.com/rs/zerolog"
)

// querier is satisfied by both *sql.DB and *sql.Tx so repository methods
// can run standalone or inside a lifecycle transaction.
type querier interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

const strategyColumns = `id, portfolio_id, parent_strategy_id, name, status, blocked_reason,
	entry_rules, exit_rules, position_sizing_rules,
	max_positions, max_risk_percent, max_drawdown, allocated_capital,
	created_at, closed_at`

// Repository handles strategy database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new strategy repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "strategy").Logger(),
	}
}

// DB exposes the underlying connection for transactional service flows
func (r *Repository) DB() *sql.DB {
	return r.db
}

// Create inserts a new strategy
func (r *Repository) Create(s *domain.Strategy) error {
	return createStrategy(r.db, s)
}

// CreateTx inserts a new strategy inside a transaction
func (r *Repository) CreateTx(tx *sql.Tx, s *domain.Strategy) error {
	return createStrategy(tx, s)
}

func createStrategy(q querier, s *domain.Strategy) error {
	entryRules, err := json.Marshal(s.EntryRules)
	if err != nil {
		return fmt.Errorf("failed to encode entry rules: %w", err)
	}
	exitRules, err := json.Marshal(s.ExitRules)
	if err != nil {
		return fmt.Errorf("failed to encode exit rules: %w", err)
	}
	sizingRules, err := json.Marshal(s.SizingRules)
	if err != nil {
		return fmt.Errorf("failed to encode sizing rules: %w", err)
	}

	var parentID interface{}
	if s.ParentStrategyID != nil {
		parentID = *s.ParentStrategyID
	}
	var closedAt interface{}
	if s.ClosedAt != nil {
		closedAt = s.ClosedAt.Format(time.RFC3339)
	}

	_, err = q.Exec(`INSERT INTO strategies
		(id, portfolio_id, parent_strategy_id, name, status, blocked_reason,
		entry_rules, exit_rules, position_sizing_rules,
		max_positions, max_risk_percent, max_drawdown, allocated_capital,
		created_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.PortfolioID, parentID, s.Name, string(s.Status), s.BlockedReason,
		string(entryRules), string(exitRules), string(sizingRules),
		s.MaxPositions, s.MaxRiskPercent, s.MaxDrawdown, s.AllocatedCapital,
		s.CreatedAt.Format(time.RFC3339), closedAt)
	if err != nil {
		return fmt.Errorf("failed to insert strategy: %w", err)
	}

	return nil
}

// GetByID returns a strategy by id, or nil when not found
func (r *Repository) GetByID(id string) (*domain.Strategy, error) {
	return getStrategy(r.db, id)
}

// GetByIDTx returns a strategy by id inside a transaction
func (r *Repository) GetByIDTx(tx *sql.Tx, id string) (*domain.Strategy, error) {
	return getStrategy(tx, id)
}

func getStrategy(q querier, id string) (*domain.Strategy, error) {
	rows, err := q.Query(`SELECT `+strategyColumns+` FROM strategies WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query strategy: %w", err)
	}
	defer rows.Close()

	strategies, err := collectStrategies(rows)
	if err != nil {
		return nil, err
	}
	if len(strategies) == 0 {
		return nil, nil
	}
	return &strategies[0], nil
}

// GetAll returns all strategies, oldest first
func (r *Repository) GetAll() ([]domain.Strategy, error) {
	rows, err := r.db.Query(`SELECT ` + strategyColumns + ` FROM strategies ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query strategies: %w", err)
	}
	defer rows.Close()

	return collectStrategies(rows)
}

// ChildrenOf returns the direct children of a strategy, oldest first
func (r *Repository) ChildrenOf(id string) ([]domain.Strategy, error) {
	rows, err := r.db.Query(`SELECT `+strategyColumns+` FROM strategies
		WHERE parent_strategy_id = ? ORDER BY created_at`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query child strategies: %w", err)
	}
	defer rows.Close()

	return collectStrategies(rows)
}

// UpdateStatusTx persists a lifecycle transition inside a transaction
func (r *Repository) UpdateStatusTx(tx *sql.Tx, id string, status domain.StrategyStatus, blockedReason string, closedAt *time.Time) error {
	var closed interface{}
	if closedAt != nil {
		closed = closedAt.Format(time.RFC3339)
	}

	result, err := tx.Exec(`UPDATE strategies
		SET status = ?, blocked_reason = ?, closed_at = ? WHERE id = ?`,
		string(status), blockedReason, closed, id)
	if err != nil {
		return fmt.Errorf("failed to update strategy %s status: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check status update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("strategy %s not found", id)
	}

	return nil
}

func collectStrategies(rows *sql.Rows) ([]domain.Strategy, error) {
	var strategies []domain.Strategy
	for rows.Next() {
		var s domain.Strategy
		var parentID, closedAt sql.NullString
		var status, entryRules, exitRules, sizingRules, createdAt string

		if err := rows.Scan(&s.ID, &s.PortfolioID, &parentID, &s.Name, &status, &s.BlockedReason,
			&entryRules, &exitRules, &sizingRules,
			&s.MaxPositions, &s.MaxRiskPercent, &s.MaxDrawdown, &s.AllocatedCapital,
			&createdAt, &closedAt); err != nil {
			return nil, fmt.Errorf("failed to scan strategy: %w", err)
		}

		s.Status = domain.StrategyStatus(status)
		if parentID.Valid {
			s.ParentStrategyID = &parentID.String
		}

		if err := json.Unmarshal([]byte(entryRules), &s.EntryRules); err != nil {
			return nil, fmt.Errorf("failed to decode entry rules: %w", err)
		}
		if err := json.Unmarshal([]byte(exitRules), &s.ExitRules); err != nil {
			return nil, fmt.Errorf("failed to decode exit rules: %w", err)
		}
		if err := json.Unmarshal([]byte(sizingRules), &s.SizingRules); err != nil {
			return nil, fmt.Errorf("failed to decode sizing rules: %w", err)
		}

		var err error
		if s.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		if closedAt.Valid {
			t, err := time.Parse(time.RFC3339, closedAt.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse closed_at: %w", err)
			}
			s.ClosedAt = &t
		}

		strategies = append(strategies, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating strategies: %w", err)
	}

	return strategies, nil
}
