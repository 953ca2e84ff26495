// Package main is the entry point for the Bulwark risk and lifecycle engine.
// Bulwark owns the risk state of a trading account: it tracks balances and
// drawdown, derives account status through the circuit breaker model, and
// gates every new position behind the strategy lifecycle checks.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/quantfold/bulwark/internal/config"
	"github.com/quantfold/bulwark/internal/database"
	"github.com/quantfold/bulwark/internal/modules/portfolio"
	"github.com/quantfold/bulwark/internal/modules/strategy"
	"github.com/quantfold/bulwark/internal/scheduler"
	"github.com/quantfold/bulwark/internal/server"
	"github.com/quantfold/bulwark/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting Bulwark")

	riskCfg, err := config.LoadRiskConfig(cfg.RiskConfigPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load risk configuration")
	}

	// Two-database architecture:
	// - portfolio.db: account state plus the append-only breaker audit trail
	// - strategies.db: strategy lifecycle state and positions
	portfolioDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "portfolio.db"),
		Profile: database.ProfileLedger,
		Name:    "portfolio",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open portfolio database")
	}
	defer portfolioDB.Close()

	strategiesDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "strategies.db"),
		Profile: database.ProfileStandard,
		Name:    "strategies",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open strategies database")
	}
	defer strategiesDB.Close()

	for _, db := range []*database.DB{portfolioDB, strategiesDB} {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Str("database", db.Name()).Msg("Failed to migrate database")
		}
	}

	// Repositories
	portfolioRepo := portfolio.NewRepository(portfolioDB.Conn(), log)
	breakerRepo := portfolio.NewBreakerRepository(portfolioDB.Conn(), log)
	snapshotRepo := portfolio.NewSnapshotRepository(portfolioDB.Conn(), log)
	strategyRepo := strategy.NewRepository(strategiesDB.Conn(), log)
	positionRepo := strategy.NewPositionRepository(strategiesDB.Conn(), log)

	// Services
	portfolioService := portfolio.NewService(
		portfolioRepo, breakerRepo, snapshotRepo,
		riskCfg.DrawdownActions, riskCfg.AssetClassLimits, log)
	strategyService := strategy.NewService(strategyRepo, positionRepo, portfolioService, log)

	// Background jobs
	databases := []*database.DB{portfolioDB, strategiesDB}
	sweepJob := scheduler.NewBreakerSweepJob(portfolioService, log)
	healthJob := scheduler.NewDBHealthJob(databases, log)
	checkpointJob := scheduler.NewWALCheckpointJob(databases, log)

	sched := scheduler.New(log)
	sweepSchedule := fmt.Sprintf("@every %dm", cfg.SweepIntervalMin)
	if err := sched.AddJob(sweepSchedule, sweepJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register breaker sweep job")
	}
	if err := sched.AddJob("@hourly", healthJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register database health job")
	}
	if err := sched.AddJob("@every 6h", checkpointJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register WAL checkpoint job")
	}
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Port:             cfg.Port,
		Log:              log,
		PortfolioDB:      portfolioDB,
		StrategiesDB:     strategiesDB,
		Config:           cfg,
		RiskConfig:       riskCfg,
		PortfolioService: portfolioService,
		StrategyService:  strategyService,
		Jobs:             []scheduler.Job{sweepJob, healthJob, checkpointJob},
		DevMode:          cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
