// Command api serves the deal-hunting pipeline over HTTP: webhook-driven
// ingestion, deal ranking, listing queries and outreach marking, with
// scheduled background runs.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"car-deal-hunter/internal/app"
	"car-deal-hunter/internal/config"
	"car-deal-hunter/internal/handlers"
	"car-deal-hunter/internal/pipeline"
	"car-deal-hunter/internal/scheduler"
)

func main() {
	_ = godotenv.Load()

	logger := app.NewLogger()

	configPath := app.GetEnv("CONFIG_PATH", "config.yaml")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Warn().Err(err).Str("path", configPath).Msg("Config file not loaded, using defaults")
		cfg = config.DefaultConfig()
	} else {
		logger.Info().Str("path", configPath).Msg("Configuration loaded")
	}
	logger = app.ApplyLogLevel(logger, cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Startup failed")
	}
	defer stack.Close()

	sched := scheduler.NewScheduler(stack.Pipeline, stack.Repo, scheduler.Config{
		Enabled:         cfg.Schedule.Enabled,
		Schedule:        cfg.Schedule.Cron,
		ChangeRetention: cfg.Schedule.ChangeRetention(),
		RunTimeout:      cfg.Schedule.RunTimeout(),
		Run: pipeline.RunOptions{
			Scrape:        pipeline.ScrapeOptions{UnreadOnly: true, MarkRead: true},
			EstimateLimit: cfg.Estimator.BatchSize,
		},
	}, logger)
	if err := sched.Start(); err != nil {
		logger.Warn().Err(err).Msg("Failed to start scheduler")
	}
	defer sched.Stop()

	if cfg.Schedule.WorkerEnabled {
		worker := scheduler.NewEstimationWorker(stack.Pipeline, cfg.Schedule.WorkerPollInterval(), cfg.Schedule.WorkerBatchSize, logger)
		worker.Start()
		defer worker.Stop()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowOrigins,
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		AllowCredentials: true,
	}))

	h := handlers.New(stack.Repo, stack.Pipeline, stack.Tracker, stack.Search, stack.Limiter, cfg.Offer.DealThresholdPct, logger)
	h.Register(router)

	port := app.GetEnv("PORT", strconv.Itoa(cfg.Server.Port))
	server := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", port).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Shutdown failed")
	}
}
