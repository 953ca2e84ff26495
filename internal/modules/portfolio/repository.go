// Package portfolio manages aggregate account state: balances, peak
// tracking, derived account status, and the circuit breaker audit trail.
package portfolio

import (
	"database/sql"
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

// Repository handles portfolio database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new portfolio repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "portfolio").Logger(),
	}
}

// DB exposes the underlying connection for transactional service flows
func (r *Repository) DB() *sql.DB {
	return r.db
}

// Create inserts a new portfolio
func (r *Repository) Create(p *domain.Portfolio) error {
	if p.CurrentBalance < 0 {
		return fmt.Errorf("current balance must not be negative")
	}

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.LastUpdated = now
	if p.PeakBalance < p.CurrentBalance {
		p.PeakBalance = p.CurrentBalance
	}
	if p.AccountStatus == "" {
		p.AccountStatus = domain.AccountActive
	}

	_, err := r.db.Exec(`INSERT INTO portfolios
		(id, name, current_balance, peak_balance, account_status, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.CurrentBalance, p.PeakBalance, string(p.AccountStatus),
		p.CreatedAt.Format(time.RFC3339), p.LastUpdated.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert portfolio: %w", err)
	}

	return nil
}

// GetByID returns a portfolio by id, or nil when not found
func (r *Repository) GetByID(id string) (*domain.Portfolio, error) {
	return getPortfolio(r.db, id)
}

// GetByIDTx returns a portfolio by id inside a transaction
func (r *Repository) GetByIDTx(tx *sql.Tx, id string) (*domain.Portfolio, error) {
	return getPortfolio(tx, id)
}

func getPortfolio(q querier, id string) (*domain.Portfolio, error) {
	row := q.QueryRow(`SELECT id, name, current_balance, peak_balance, account_status,
		created_at, last_updated FROM portfolios WHERE id = ?`, id)

	p, err := scanPortfolio(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}

	return p, nil
}

// GetAll returns all portfolios
func (r *Repository) GetAll() ([]domain.Portfolio, error) {
	rows, err := r.db.Query(`SELECT id, name, current_balance, peak_balance, account_status,
		created_at, last_updated FROM portfolios ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolios: %w", err)
	}
	defer rows.Close()

	var portfolios []domain.Portfolio
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan portfolio: %w", err)
		}
		portfolios = append(portfolios, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating portfolios: %w", err)
	}

	return portfolios, nil
}

// UpdateStateTx persists balance, peak, and derived status inside a transaction
func (r *Repository) UpdateStateTx(tx *sql.Tx, p *domain.Portfolio) error {
	result, err := tx.Exec(`UPDATE portfolios
		SET current_balance = ?, peak_balance = ?, account_status = ?, last_updated = ?
		WHERE id = ?`,
		p.CurrentBalance, p.PeakBalance, string(p.AccountStatus),
		p.LastUpdated.Format(time.RFC3339), p.ID)
	if err != nil {
		return fmt.Errorf("failed to update portfolio %s: %w", p.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("portfolio %s not found", p.ID)
	}

	return nil
}

// scannable abstracts *sql.Row and *sql.Rows for shared scan logic
type scannable interface {
	Scan(dest ...interface{}) error
}

func scanPortfolio(row scannable) (*domain.Portfolio, error) {
	var p domain.Portfolio
	var status, createdAt, lastUpdated string

	if err := row.Scan(&p.ID, &p.Name, &p.CurrentBalance, &p.PeakBalance,
		&status, &createdAt, &lastUpdated); err != nil {
		return nil, err
	}

	p.AccountStatus = domain.AccountStatus(status)

	var err error
	if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if p.LastUpdated, err = time.Parse(time.RFC3339, lastUpdated); err != nil {
		return nil, fmt.Errorf("failed to parse last_updated: %w", err)
	}

	return &p, nil
}
