package portfolio

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/quantfold/bulwark/internal/domain"
	"github.com/rs/zerolog"
)

// BreakerRepository handles circuit breaker event persistence.
// The table is append-only: clearing an event sets cleared_at, rows are
// never deleted. This preserves the audit trail.
type BreakerRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewBreakerRepository creates a new circuit breaker event repository
func NewBreakerRepository(db *sql.DB, log zerolog.Logger) *BreakerRepository {
	return &BreakerRepository{
		db:  db,
		log: log.With().Str("repo", "breaker").Logger(),
	}
}

// Create appends a breaker event
func (r *BreakerRepository) Create(e *domain.CircuitBreakerEvent) error {
	return createBreakerEvent(r.db, e)
}

// CreateTx appends a breaker event inside a transaction
func (r *BreakerRepository) CreateTx(tx *sql.Tx, e *domain.CircuitBreakerEvent) error {
	return createBreakerEvent(tx, e)
}

func createBreakerEvent(q querier, e *domain.CircuitBreakerEvent) error {
	if e.Reason == "" {
		return fmt.Errorf("breaker event reason must not be empty")
	}
	if e.TriggeredAt.IsZero() {
		e.TriggeredAt = time.Now().UTC()
	}

	var expiresAt interface{}
	if e.ExpiresAt != nil {
		expiresAt = e.ExpiresAt.Format(time.RFC3339)
	}

	_, err := q.Exec(`INSERT INTO circuit_breaker_events
		(id, portfolio_id, level, action, triggered_by, reason, triggered_at, expires_at, cleared_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		e.ID, e.PortfolioID, string(e.Level), string(e.Action),
		e.TriggeredBy, e.Reason, e.TriggeredAt.Format(time.RFC3339), expiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert breaker event: %w", err)
	}

	return nil
}

// ActiveForPortfolio returns uncleared, unexpired events for a portfolio
func (r *BreakerRepository) ActiveForPortfolio(portfolioID string, now time.Time) ([]domain.CircuitBreakerEvent, error) {
	return activeBreakers(r.db, portfolioID, now)
}

// ActiveForPortfolioTx returns active events inside a transaction
func (r *BreakerRepository) ActiveForPortfolioTx(tx *sql.Tx, portfolioID string, now time.Time) ([]domain.CircuitBreakerEvent, error) {
	return activeBreakers(tx, portfolioID, now)
}

func activeBreakers(q querier, portfolioID string, now time.Time) ([]domain.CircuitBreakerEvent, error) {
	rows, err := q.Query(`SELECT id, portfolio_id, level, action, triggered_by, reason,
		triggered_at, expires_at, cleared_at
		FROM circuit_breaker_events
		WHERE portfolio_id = ? AND cleared_at IS NULL
			AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY triggered_at`, portfolioID, now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to query active breaker events: %w", err)
	}
	defer rows.Close()

	return collectBreakerEvents(rows)
}

// HistoryForPortfolio returns the full audit trail, newest first
func (r *BreakerRepository) HistoryForPortfolio(portfolioID string, limit int) ([]domain.CircuitBreakerEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(`SELECT id, portfolio_id, level, action, triggered_by, reason,
		triggered_at, expires_at, cleared_at
		FROM circuit_breaker_events
		WHERE portfolio_id = ?
		ORDER BY triggered_at DESC LIMIT ?`, portfolioID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query breaker history: %w", err)
	}
	defer rows.Close()

	return collectBreakerEvents(rows)
}

// GetByID returns a single event, or nil when not found
func (r *BreakerRepository) GetByID(id string) (*domain.CircuitBreakerEvent, error) {
	rows, err := r.db.Query(`SELECT id, portfolio_id, level, action, triggered_by, reason,
		triggered_at, expires_at, cleared_at
		FROM circuit_breaker_events WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query breaker event: %w", err)
	}
	defer rows.Close()

	events, err := collectBreakerEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

// ClearTx marks an event cleared inside a transaction
func (r *BreakerRepository) ClearTx(tx *sql.Tx, id string, clearedAt time.Time) error {
	result, err := tx.Exec(`UPDATE circuit_breaker_events SET cleared_at = ?
		WHERE id = ? AND cleared_at IS NULL`,
		clearedAt.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to clear breaker event %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check clear result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("breaker event %s not found or already cleared", id)
	}

	return nil
}

// ExpiredUncleared returns events whose expiry has passed but which are not
// yet marked cleared, grouped for the sweep job.
func (r *BreakerRepository) ExpiredUncleared(now time.Time) ([]domain.CircuitBreakerEvent, error) {
	rows, err := r.db.Query(`SELECT id, portfolio_id, level, action, triggered_by, reason,
		triggered_at, expires_at, cleared_at
		FROM circuit_breaker_events
		WHERE cleared_at IS NULL AND expires_at IS NOT NULL AND expires_at <= ?
		ORDER BY portfolio_id, triggered_at`, now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to query expired breaker events: %w", err)
	}
	defer rows.Close()

	return collectBreakerEvents(rows)
}

func collectBreakerEvents(rows *sql.Rows) ([]domain.CircuitBreakerEvent, error) {
	var events []domain.CircuitBreakerEvent
	for rows.Next() {
		var e domain.CircuitBreakerEvent
		var level, action, triggeredAt string
		var expiresAt, clearedAt sql.NullString

		if err := rows.Scan(&e.ID, &e.PortfolioID, &level, &action, &e.TriggeredBy,
			&e.Reason, &triggeredAt, &expiresAt, &clearedAt); err != nil {
			return nil, fmt.Errorf("failed to scan breaker event: %w", err)
		}

		e.Level = domain.BreakerLevel(level)
		e.Action = domain.RiskAction(action)

		var err error
		if e.TriggeredAt, err = time.Parse(time.RFC3339, triggeredAt); err != nil {
			return nil, fmt.Errorf("failed to parse triggered_at: %w", err)
		}
		if expiresAt.Valid {
			t, err := time.Parse(time.RFC3339, expiresAt.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse expires_at: %w", err)
			}
			e.ExpiresAt = &t
		}
		if clearedAt.Valid {
			t, err := time.Parse(time.RFC3339, clearedAt.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse cleared_at: %w", err)
			}
			e.ClearedAt = &t
		}

		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating breaker events: %w", err)
	}

	return events, nil
}
