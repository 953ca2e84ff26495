package strategy

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/quantfold/bulwark/internal/domain"
	"github.com/rs/zerolog"
)

const positionColumns = `id, strategy_id, symbol, direction, status,
	quantity, avg_entry_price, avg_exit_price, stop_loss, take_profit,
	realized_pnl, unrealized_pnl, net_pnl, total_fees, r_multiple,
	opened_at, closed_at`

// PositionRepository handles position database operations
type PositionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(db *sql.DB, log zerolog.Logger) *PositionRepository {
	return &PositionRepository{
		db:  db,
		log: log.With().Str("repo", "position").Logger(),
	}
}

// Create inserts a new open position
func (r *PositionRepository) Create(p *domain.Position) error {
	return createPosition(r.db, p)
}

// CreateTx inserts a new open position inside a transaction
func (r *PositionRepository) CreateTx(tx *sql.Tx, p *domain.Position) error {
	return createPosition(tx, p)
}

func createPosition(q querier, p *domain.Position) error {
	if p.Quantity <= 0 {
		return fmt.Errorf("position quantity must be positive")
	}
	if p.AvgEntryPrice <= 0 {
		return fmt.Errorf("position entry price must be positive")
	}
	if p.OpenedAt.IsZero() {
		p.OpenedAt = time.Now().UTC()
	}
	if p.Status == "" {
		p.Status = domain.PositionOpen
	}

	_, err := q.Exec(`INSERT INTO positions
		(id, strategy_id, symbol, direction, status,
		quantity, avg_entry_price, avg_exit_price, stop_loss, take_profit,
		realized_pnl, unrealized_pnl, net_pnl, total_fees, r_multiple,
		opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		p.ID, p.StrategyID, p.Symbol, string(p.Direction), string(p.Status),
		p.Quantity, p.AvgEntryPrice, p.StopLoss, p.TakeProfit,
		p.RealizedPnl, p.UnrealizedPnl, p.NetPnl, p.TotalFees, p.RMultiple,
		p.OpenedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert position: %w", err)
	}

	return nil
}

// GetByID returns a position by id, or nil when not found
func (r *PositionRepository) GetByID(id string) (*domain.Position, error) {
	return getPosition(r.db, id)
}

// GetByIDTx returns a position by id inside a transaction
func (r *PositionRepository) GetByIDTx(tx *sql.Tx, id string) (*domain.Position, error) {
	return getPosition(tx, id)
}

func getPosition(q querier, id string) (*domain.Position, error) {
	rows, err := q.Query(`SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query position: %w", err)
	}
	defer rows.Close()

	positions, err := collectPositions(rows)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, nil
	}
	return &positions[0], nil
}

// OpenByStrategy returns all open positions for a strategy
func (r *PositionRepository) OpenByStrategy(strategyID string) ([]domain.Position, error) {
	rows, err := r.db.Query(`SELECT `+positionColumns+` FROM positions
		WHERE strategy_id = ? AND status = 'open' ORDER BY opened_at`, strategyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

// CountOpen returns the number of open positions for a strategy
func (r *PositionRepository) CountOpen(strategyID string) (int, error) {
	return countOpen(r.db, strategyID)
}

// CountOpenTx counts open positions inside a transaction. The lifecycle
// checks run this in the same transaction that mutates state so two
// concurrent trades cannot both pass the position-count check.
func (r *PositionRepository) CountOpenTx(tx *sql.Tx, strategyID string) (int, error) {
	return countOpen(tx, strategyID)
}

func countOpen(q querier, strategyID string) (int, error) {
	var count int
	err := q.QueryRow(`SELECT COUNT(*) FROM positions WHERE strategy_id = ? AND status = 'open'`,
		strategyID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count open positions: %w", err)
	}
	return count, nil
}

// CloseTx marks a position closed with its final economics
func (r *PositionRepository) CloseTx(tx *sql.Tx, p *domain.Position) error {
	if p.ClosedAt == nil || p.AvgExitPrice == nil {
		return fmt.Errorf("closing a position requires exit price and close time")
	}

	result, err := tx.Exec(`UPDATE positions
		SET status = 'closed', avg_exit_price = ?, realized_pnl = ?, unrealized_pnl = 0,
			net_pnl = ?, total_fees = ?, r_multiple = ?, closed_at = ?
		WHERE id = ? AND status = 'open'`,
		*p.AvgExitPrice, p.RealizedPnl, p.NetPnl, p.TotalFees, p.RMultiple,
		p.ClosedAt.Format(time.RFC3339), p.ID)
	if err != nil {
		return fmt.Errorf("failed to close position %s: %w", p.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check close result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("position %s not found or already closed", p.ID)
	}

	return nil
}

func collectPositions(rows *sql.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		var direction, status, openedAt string
		var avgExitPrice sql.NullFloat64
		var closedAt sql.NullString

		if err := rows.Scan(&p.ID, &p.StrategyID, &p.Symbol, &direction, &status,
			&p.Quantity, &p.AvgEntryPrice, &avgExitPrice, &p.StopLoss, &p.TakeProfit,
			&p.RealizedPnl, &p.UnrealizedPnl, &p.NetPnl, &p.TotalFees, &p.RMultiple,
			&openedAt, &closedAt); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}

		p.Direction = domain.Direction(direction)
		p.Status = domain.PositionStatus(status)
		if avgExitPrice.Valid {
			p.AvgExitPrice = &avgExitPrice.Float64
		}

		var err error
		if p.OpenedAt, err = time.Parse(time.RFC3339, openedAt); err != nil {
			return nil, fmt.Errorf("failed to parse opened_at: %w", err)
		}
		if closedAt.Valid {
			t, err := time.Parse(time.RFC3339, closedAt.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse closed_at: %w", err)
			}
			p.ClosedAt = &t
		}

		positions = append(positions, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}

	return positions, nil
}
