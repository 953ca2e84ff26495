package scheduler

import (
	"time"

	"github.com/rs/zerolog"
)

// BreakerSweeper clears expired circuit breaker events and re-derives
// account status for the portfolios they covered.
type BreakerSweeper interface {
	SweepExpiredBreakers(now time.Time) (int, error)
}

// BreakerSweepJob periodically sweeps expired breaker events so that
// time-boxed suspensions lift without an API call.
type BreakerSweepJob struct {
	sweeper BreakerSweeper
	log     zerolog.Logger
}

// NewBreakerSweepJob creates a new breaker sweep job
func NewBreakerSweepJob(sweeper BreakerSweeper, log zerolog.Logger) *BreakerSweepJob {
	return &BreakerSweepJob{
		sweeper: sweeper,
		log:     log.With().Str("job", "breaker_sweep").Logger(),
	}
}

// Name returns the job name
func (j *BreakerSweepJob) Name() string {
	return "breaker_sweep"
}

// Run sweeps expired breaker events
func (j *BreakerSweepJob) Run() error {
	swept, err := j.sweeper.SweepExpiredBreakers(time.Now().UTC())
	if err != nil {
		return err
	}

	if swept > 0 {
		j.log.Info().Int("swept", swept).Msg("Cleared expired breaker events")
	}

	return nil
}
