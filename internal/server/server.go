// Package server provides the HTTP server and routing for Bulwark.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/quantfold/bulwark/internal/config"
	"github.com/quantfold/bulwark/internal/database"
	"github.com/quantfold/bulwark/internal/modules/portfolio"
	portfoliohandlers "github.com/quantfold/bulwark/internal/modules/portfolio/handlers"
	riskhandlers "github.com/quantfold/bulwark/internal/modules/risk/handlers"
	"github.com/quantfold/bulwark/internal/modules/strategy"
	strategyhandlers "github.com/quantfold/bulwark/internal/modules/strategy/handlers"
	"github.com/quantfold/bulwark/internal/scheduler"
)

// Config holds server configuration
type Config struct {
	Log              zerolog.Logger
	PortfolioDB      *database.DB
	StrategiesDB     *database.DB
	Config           *config.Config
	RiskConfig       *config.RiskConfig
	PortfolioService *portfolio.Service
	StrategyService  *strategy.Service
	Jobs             []scheduler.Job
	Port             int
	DevMode          bool
}

// Server represents the HTTP server
type Server struct {
	router           *chi.Mux
	server           *http.Server
	log              zerolog.Logger
	portfolioDB      *database.DB
	strategiesDB     *database.DB
	cfg              *config.Config
	riskCfg          *config.RiskConfig
	portfolioService *portfolio.Service
	strategyService  *strategy.Service
	systemHandlers   *SystemHandlers
	jobs             []scheduler.Job
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:           chi.NewRouter(),
		log:              cfg.Log.With().Str("component", "server").Logger(),
		portfolioDB:      cfg.PortfolioDB,
		strategiesDB:     cfg.StrategiesDB,
		cfg:              cfg.Config,
		riskCfg:          cfg.RiskConfig,
		portfolioService: cfg.PortfolioService,
		strategyService:  cfg.StrategyService,
		jobs:             cfg.Jobs,
	}

	s.systemHandlers = NewSystemHandlers(
		cfg.Log,
		cfg.Config.DataDir,
		[]*database.DB{cfg.PortfolioDB, cfg.StrategiesDB},
	)

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		portfolioHandler := portfoliohandlers.NewHandler(s.portfolioService, s.log)
		portfolioHandler.RegisterRoutes(r)

		strategyHandler := strategyhandlers.NewHandler(s.strategyService, s.log)
		strategyHandler.RegisterRoutes(r)

		riskHandler := riskhandlers.NewHandler(
			s.riskCfg.DrawdownActions, s.riskCfg.AssetClassLimits, s.log)
		riskHandler.RegisterRoutes(r)

		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.systemHandlers.HandleSystemStatus)
			r.Get("/database/stats", s.systemHandlers.HandleDatabaseStats)
			r.Get("/disk", s.systemHandlers.HandleDiskUsage)

			// Manual job triggers
			r.Route("/jobs", func(r chi.Router) {
				for _, job := range s.jobs {
					job := job
					r.Post("/"+job.Name(), func(w http.ResponseWriter, req *http.Request) {
						s.handleTriggerJob(w, req, job)
					})
				}
			})
		})
	})
}

// handleTriggerJob runs a background job immediately
func (s *Server) handleTriggerJob(w http.ResponseWriter, r *http.Request, job scheduler.Job) {
	s.log.Info().Str("job", job.Name()).Msg("Manual job trigger")

	if err := job.Run(); err != nil {
		s.log.Error().Err(err).Str("job", job.Name()).Msg("Manually triggered job failed")
		http.Error(w, fmt.Sprintf("Job %s failed: %v", job.Name(), err), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "completed",
		"job":    job.Name(),
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
