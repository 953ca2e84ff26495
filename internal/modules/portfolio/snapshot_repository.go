package portfolio

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/quantfold/bulwark/internal/domain"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Snapshot is one serialized point of portfolio state, kept for the
// balance-history analytics surface.
type Snapshot struct {
	TakenAt  time.Time            `msgpack:"taken_at" json:"taken_at"`
	Status   domain.AccountStatus `msgpack:"status" json:"status"`
	Balance  float64              `msgpack:"balance" json:"balance"`
	Peak     float64              `msgpack:"peak" json:"peak"`
	Drawdown float64              `msgpack:"drawdown" json:"drawdown"`
}

// SnapshotRepository stores msgpack-encoded portfolio snapshots.
// msgpack keeps the state column compact; snapshots are written on every
// balance change so row volume matters.
type SnapshotRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *sql.DB, log zerolog.Logger) *SnapshotRepository {
	return &SnapshotRepository{
		db:  db,
		log: log.With().Str("repo", "snapshot").Logger(),
	}
}

// SaveTx appends a snapshot inside a transaction
func (r *SnapshotRepository) SaveTx(tx *sql.Tx, portfolioID string, snap Snapshot) error {
	encoded, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	_, err = tx.Exec(`INSERT INTO portfolio_snapshots (portfolio_id, taken_at, state)
		VALUES (?, ?, ?)`,
		portfolioID, snap.TakenAt.UTC().Format(time.RFC3339), encoded)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	return nil
}

// History returns snapshots for a portfolio, oldest first
func (r *SnapshotRepository) History(portfolioID string, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 500
	}

	// id breaks ties between snapshots taken within the same second
	rows, err := r.db.Query(`SELECT state FROM (
			SELECT id, taken_at, state FROM portfolio_snapshots
			WHERE portfolio_id = ?
			ORDER BY taken_at DESC, id DESC LIMIT ?
		) ORDER BY taken_at ASC, id ASC`, portfolioID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}

		var snap Snapshot
		if err := msgpack.Unmarshal(blob, &snap); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot: %w", err)
		}
		snapshots = append(snapshots, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return snapshots, nil
}
