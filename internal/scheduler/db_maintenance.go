package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/quantfold/bulwark/internal/database"
	"github.com/rs/zerolog"
)

// DBHealthJob runs integrity checks against every registered database
type DBHealthJob struct {
	databases []*database.DB
	log       zerolog.Logger
}

// NewDBHealthJob creates a new database health check job
func NewDBHealthJob(databases []*database.DB, log zerolog.Logger) *DBHealthJob {
	return &DBHealthJob{
		databases: databases,
		log:       log.With().Str("job", "db_health").Logger(),
	}
}

// Name returns the job name
func (j *DBHealthJob) Name() string {
	return "db_health"
}

// Run checks integrity of every database; the first failure aborts
func (j *DBHealthJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, db := range j.databases {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("health check failed for %s: %w", db.Name(), err)
		}
		j.log.Debug().Str("database", db.Name()).Msg("Health check passed")
	}

	return nil
}

// WALCheckpointJob periodically checkpoints the write-ahead logs so they
// do not grow unbounded between restarts.
type WALCheckpointJob struct {
	databases []*database.DB
	log       zerolog.Logger
}

// NewWALCheckpointJob creates a new WAL checkpoint job
func NewWALCheckpointJob(databases []*database.DB, log zerolog.Logger) *WALCheckpointJob {
	return &WALCheckpointJob{
		databases: databases,
		log:       log.With().Str("job", "wal_checkpoint").Logger(),
	}
}

// Name returns the job name
func (j *WALCheckpointJob) Name() string {
	return "wal_checkpoint"
}

// Run checkpoints every database, continuing past individual failures
func (j *WALCheckpointJob) Run() error {
	var firstErr error
	for _, db := range j.databases {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		j.log.Debug().Str("database", db.Name()).Msg("WAL checkpoint complete")
	}

	return firstErr
}
