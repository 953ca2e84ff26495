package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSweeper struct {
	swept int
	err   error
	calls int
}

func (f *fakeSweeper) SweepExpiredBreakers(now time.Time) (int, error) {
	f.calls++
	return f.swept, f.err
}

func TestBreakerSweepJob_Run(t *testing.T) {
	sweeper := &fakeSweeper{swept: 2}
	job := NewBreakerSweepJob(sweeper, zerolog.Nop())

	assert.Equal(t, "breaker_sweep", job.Name())
	require.NoError(t, job.Run())
	assert.Equal(t, 1, sweeper.calls)
}

func TestBreakerSweepJob_PropagatesError(t *testing.T) {
	sweeper := &fakeSweeper{err: errors.New("database locked")}
	job := NewBreakerSweepJob(sweeper, zerolog.Nop())

	assert.Error(t, job.Run())
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(zerolog.Nop())
	sweeper := &fakeSweeper{}
	job := NewBreakerSweepJob(sweeper, zerolog.Nop())

	require.NoError(t, s.RunNow(job))
	assert.Equal(t, 1, sweeper.calls)
}

func TestScheduler_AddJob_BadSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	job := NewBreakerSweepJob(&fakeSweeper{}, zerolog.Nop())

	assert.Error(t, s.AddJob("not a schedule", job))
	assert.NoError(t, s.AddJob("@every 5m", job))
}
