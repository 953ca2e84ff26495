package portfolio

import (
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/bulwark/internal/domain"

	_ "modernc.org/sqlite"
)

func setupPortfolioTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// Every connection to :memory: is a separate database, so the pool
	// must stay on one connection.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE portfolios (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			current_balance REAL NOT NULL DEFAULT 0,
			peak_balance REAL NOT NULL DEFAULT 0,
			account_status TEXT NOT NULL DEFAULT 'active',
			created_at TEXT NOT NULL,
			last_updated TEXT NOT NULL
		);

		CREATE TABLE circuit_breaker_events (
			id TEXT PRIMARY KEY,
			portfolio_id TEXT NOT NULL,
			level TEXT NOT NULL,
			action TEXT NOT NULL,
			triggered_by TEXT NOT NULL,
			reason TEXT NOT NULL,
			triggered_at TEXT NOT NULL,
			expires_at TEXT,
			cleared_at TEXT
		);

		CREATE TABLE portfolio_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			portfolio_id TEXT NOT NULL,
			taken_at TEXT NOT NULL,
			state BLOB NOT NULL
		);
	`)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return db
}

func testDrawdownActions() domain.DrawdownActions {
	quarter := 0.25
	half := 0.5
	return domain.DrawdownActions{
		Tiers: []domain.DrawdownTier{
			{Threshold: -20, Action: domain.ActionLocked},
			{Threshold: -15, Action: domain.ActionDefensive, PositionSizeMultiplier: &quarter},
			{Threshold: -10, Action: domain.ActionReduce, PositionSizeMultiplier: &half},
			{Threshold: -5, Action: domain.ActionWarning, Notification: true},
		},
		Recovery: &domain.RecoveryRules{
			TriggerPercent:  -15,
			ExitPercent:     -3,
			MaxPositionSize: 0.5,
		},
	}
}

func newTestPortfolioService(t *testing.T) (*Service, *sql.DB) {
	db := setupPortfolioTestDB(t)
	log := zerolog.Nop()
	repo := NewRepository(db, log)
	breakerRepo := NewBreakerRepository(db, log)
	snapshotRepo := NewSnapshotRepository(db, log)

	limits := map[domain.AssetClass]domain.AssetClassLimit{
		domain.AssetCrypto: {AssetClass: domain.AssetCrypto, MaxDrawdownPercent: -10, MaxVolatilityMultiplier: 2.0, CoolingOffPeriodHours: 24},
	}

	svc := NewService(repo, breakerRepo, snapshotRepo, testDrawdownActions(), limits, log)
	return svc, db
}

func TestCreatePortfolio(t *testing.T) {
	svc, _ := newTestPortfolioService(t)

	p, err := svc.CreatePortfolio("main", 10000)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountActive, p.AccountStatus)
	assert.Equal(t, 10000.0, p.CurrentBalance)
	assert.Equal(t, 10000.0, p.PeakBalance)
	assert.Zero(t, p.Drawdown())

	_, err = svc.CreatePortfolio("", 100)
	assert.Error(t, err)

	_, err = svc.CreatePortfolio("bad", -1)
	var validation *domain.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestRecordBalance_PeakRatchet(t *testing.T) {
	svc, _ := newTestPortfolioService(t)
	p, err := svc.CreatePortfolio("main", 10000)
	require.NoError(t, err)

	// New high moves the peak
	updated, err := svc.RecordBalance(p.ID, 12000)
	require.NoError(t, err)
	assert.Equal(t, 12000.0, updated.PeakBalance)

	// A drop never moves the peak back down
	updated, err = svc.RecordBalance(p.ID, 11000)
	require.NoError(t, err)
	assert.Equal(t, 12000.0, updated.PeakBalance)
	assert.InDelta(t, -8.333, updated.Drawdown(), 0.01)
}

func TestRecordBalance_TierTransitions(t *testing.T) {
	svc, _ := newTestPortfolioService(t)
	p, err := svc.CreatePortfolio("main", 10000)
	require.NoError(t, err)

	steps := []struct {
		balance float64
		status  domain.AccountStatus
	}{
		{9600, domain.AccountActive},   // -4%, above every tier
		{9400, domain.AccountWarning},  // -6%, warning tier
		{8800, domain.AccountWarning},  // -12%, reduce tier still maps to warning
		{8400, domain.AccountRecovery}, // -16%, defensive tier
		{9400, domain.AccountRecovery}, // -6%, hysteresis holds below exit
		{9600, domain.AccountRecovery}, // -4%, still below -3% exit
		{9800, domain.AccountActive},   // -2%, above exit threshold
	}

	for _, step := range steps {
		updated, err := svc.RecordBalance(p.ID, step.balance)
		require.NoError(t, err)
		assert.Equal(t, step.status, updated.AccountStatus, "balance %.0f", step.balance)
	}
}

func TestRecordBalance_RecoveryTransitionLeavesAuditEvent(t *testing.T) {
	svc, _ := newTestPortfolioService(t)
	p, err := svc.CreatePortfolio("main", 10000)
	require.NoError(t, err)

	_, err = svc.RecordBalance(p.ID, 8400) // -16% -> recovery
	require.NoError(t, err)

	history, err := svc.breakerRepo.HistoryForPortfolio(p.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.ActionDefensive, history[0].Action)
	assert.Equal(t, "drawdown_tier", history[0].TriggeredBy)
	assert.Equal(t, domain.BreakerPortfolio, history[0].Level)
}

func TestRecordBalance_HardLockRequiresExplicitClear(t *testing.T) {
	svc, _ := newTestPortfolioService(t)
	p, err := svc.CreatePortfolio("main", 10000)
	require.NoError(t, err)

	// -21% crosses the locked tier and trips a breaker with no expiry
	updated, err := svc.RecordBalance(p.ID, 7900)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountLocked, updated.AccountStatus)

	active, err := svc.breakerRepo.ActiveForPortfolio(p.ID, time.Now().UTC())
	require.NoError(t, err)
	require.NotEmpty(t, active)
	lockedEvent := active[len(active)-1]
	assert.Equal(t, domain.ActionLocked, lockedEvent.Action)
	assert.Nil(t, lockedEvent.ExpiresAt)

	// Balance recovery alone does not unlock while the breaker is active
	updated, err = svc.RecordBalance(p.ID, 9900)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountLocked, updated.AccountStatus)

	// Clearing the breaker re-derives status from the (now shallow) drawdown
	require.NoError(t, svc.ClearBreaker(lockedEvent.ID))

	status, err := svc.AccountStatus(p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountActive, status)

	// The cleared event stays in the audit trail
	history, err := svc.breakerRepo.HistoryForPortfolio(p.ID, 10)
	require.NoError(t, err)
	var found bool
	for _, e := range history {
		if e.ID == lockedEvent.ID {
			found = true
			assert.NotNil(t, e.ClearedAt)
		}
	}
	assert.True(t, found)
}

func TestTripBreaker_ExternalLock(t *testing.T) {
	svc, _ := newTestPortfolioService(t)
	p, err := svc.CreatePortfolio("main", 10000)
	require.NoError(t, err)

	event, err := svc.TripBreaker(p.ID, domain.BreakerPortfolio, domain.ActionLocked,
		"operator", "exchange outage", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, event.ID)

	// Zero drawdown, but the breaker forces locked
	status, err := svc.AccountStatus(p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountLocked, status)
}

func TestTripBreaker_StrategyLevelDoesNotLockAccount(t *testing.T) {
	svc, _ := newTestPortfolioService(t)
	p, err := svc.CreatePortfolio("main", 10000)
	require.NoError(t, err)

	_, err = svc.TripBreaker(p.ID, domain.BreakerStrategy, domain.ActionLocked,
		"risk_engine", "strategy drawdown breach", nil)
	require.NoError(t, err)

	status, err := svc.AccountStatus(p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountActive, status)
}

func TestTripBreaker_EmptyReasonRejected(t *testing.T) {
	svc, _ := newTestPortfolioService(t)
	p, err := svc.CreatePortfolio("main", 10000)
	require.NoError(t, err)

	_, err = svc.TripBreaker(p.ID, domain.BreakerPortfolio, domain.ActionLocked, "operator", "", nil)
	var precondition *domain.PreconditionError
	require.ErrorAs(t, err, &precondition)
}

func TestSweepExpiredBreakers(t *testing.T) {
	svc, _ := newTestPortfolioService(t)
	p, err := svc.CreatePortfolio("main", 10000)
	require.NoError(t, err)

	expires := time.Now().UTC().Add(time.Hour)
	_, err = svc.TripBreaker(p.ID, domain.BreakerPortfolio, domain.ActionLocked,
		"operator", "cooling off", &expires)
	require.NoError(t, err)

	status, err := svc.AccountStatus(p.ID)
	require.NoError(t, err)
	require.Equal(t, domain.AccountLocked, status)

	// Sweeping before expiry does nothing
	swept, err := svc.SweepExpiredBreakers(time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, swept)

	// After the expiry passes, the sweep clears the event and unlocks
	swept, err = svc.SweepExpiredBreakers(expires.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	status, err = svc.AccountStatus(p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountActive, status)
}

func TestStatus_Report(t *testing.T) {
	svc, _ := newTestPortfolioService(t)
	p, err := svc.CreatePortfolio("main", 10000)
	require.NoError(t, err)

	_, err = svc.RecordBalance(p.ID, 8800) // -12%, reduce tier
	require.NoError(t, err)

	report, err := svc.Status(p.ID)
	require.NoError(t, err)
	assert.InDelta(t, -12.0, report.Drawdown, 0.001)
	require.NotNil(t, report.ActiveTier)
	assert.Equal(t, domain.ActionReduce, report.ActiveTier.Action)
	assert.InDelta(t, 0.5, report.SizeMultiplier, 0.001)
	assert.False(t, report.BlockNewPositions)
	assert.Equal(t, domain.AccountWarning, report.Portfolio.AccountStatus)
}

func TestStatus_NotFound(t *testing.T) {
	svc, _ := newTestPortfolioService(t)

	_, err := svc.Status("missing")
	var precondition *domain.PreconditionError
	require.ErrorAs(t, err, &precondition)
}

func TestAdjustPositionSize(t *testing.T) {
	svc, _ := newTestPortfolioService(t)
	p, err := svc.CreatePortfolio("main", 10000)
	require.NoError(t, err)

	_, err = svc.RecordBalance(p.ID, 8400) // -16%, defensive tier, 0.25x
	require.NoError(t, err)

	size, err := svc.AdjustPositionSize(p.ID, 1000)
	require.NoError(t, err)
	assert.InDelta(t, 250.0, size, 0.001)
}

func TestLimitForAssetClass(t *testing.T) {
	svc, _ := newTestPortfolioService(t)

	limit := svc.LimitForAssetClass(domain.AssetCrypto)
	require.NotNil(t, limit)
	assert.Equal(t, -10.0, limit.MaxDrawdownPercent)

	assert.Nil(t, svc.LimitForAssetClass(domain.AssetForex))
}

func TestBalanceHistoryStats(t *testing.T) {
	svc, _ := newTestPortfolioService(t)
	p, err := svc.CreatePortfolio("main", 10000)
	require.NoError(t, err)

	// Not enough snapshots yet
	stats, err := svc.BalanceHistoryStats(p.ID, 100)
	require.NoError(t, err)
	assert.Nil(t, stats)

	for _, balance := range []float64{10000, 10500, 9800, 10200} {
		_, err = svc.RecordBalance(p.ID, balance)
		require.NoError(t, err)
	}

	stats, err = svc.BalanceHistoryStats(p.ID, 100)
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 4, stats.Samples)
	// 9800 against the 10500 peak
	assert.InDelta(t, -6.67, stats.WorstDrawdown, 0.01)
	assert.NotZero(t, stats.ReturnStdDev)
}

func TestSnapshotRoundTrip(t *testing.T) {
	svc, _ := newTestPortfolioService(t)
	p, err := svc.CreatePortfolio("main", 10000)
	require.NoError(t, err)

	_, err = svc.RecordBalance(p.ID, 9400)
	require.NoError(t, err)

	snapshots, err := svc.snapshotRepo.History(p.ID, 10)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, 9400.0, snapshots[0].Balance)
	assert.Equal(t, 10000.0, snapshots[0].Peak)
	assert.Equal(t, domain.AccountWarning, snapshots[0].Status)
	assert.InDelta(t, -6.0, snapshots[0].Drawdown, 0.001)
}
