// Package app wires the pipeline and its collaborators from
// configuration. Both binaries (the API server and the CLI) build the
// same stack through it.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"car-deal-hunter/internal/cache"
	"car-deal-hunter/internal/config"
	"car-deal-hunter/internal/database"
	"car-deal-hunter/internal/extractor"
	"car-deal-hunter/internal/pipeline"
	"car-deal-hunter/internal/pricing"
	"car-deal-hunter/internal/publisher"
	"car-deal-hunter/internal/ratelimit"
	"car-deal-hunter/internal/search"
	"car-deal-hunter/internal/snapshot"
	"car-deal-hunter/internal/sources"
)

// App is the assembled pipeline stack.
type App struct {
	Config    *config.Config
	Repo      database.Repository
	Search    *search.SearchClient // nil when disabled
	Limiter   *ratelimit.Limiter
	Estimator pricing.Estimator
	Publisher publisher.Publisher // nil when disabled
	Sources   []sources.Source
	Tracker   *snapshot.Tracker
	Pipeline  *pipeline.Pipeline
}

// New connects every configured collaborator and assembles the pipeline.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	repo, err := openRepository(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	if err := repo.InitSchema(); err != nil {
		repo.Close()
		return nil, fmt.Errorf("schema: %w", err)
	}

	a := &App{
		Config: cfg,
		Repo:   repo,
	}

	if cfg.Search.Enabled {
		a.Search = search.NewSearchClient(
			getEnvOrConfig(cfg.Search.Meilisearch.Host, "MEILISEARCH_HOST", "http://localhost:7700"),
			getEnvOrConfig(cfg.Search.Meilisearch.APIKey, "MEILISEARCH_KEY", ""),
		)
		if err := a.Search.InitIndex(); err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize search index")
		}
	}

	a.Limiter = ratelimit.New(
		cfg.Estimator.RateLimit.RequestsPerMinute,
		cfg.Estimator.RateLimit.RequestsPerHour,
		cfg.Estimator.RateLimit.RequestsPerDay,
		cfg.Estimator.RateLimit.Enabled,
	)

	a.Estimator = buildEstimator(cfg, logger)
	a.Sources = buildSources(ctx, cfg, logger)
	a.Tracker = snapshot.NewTracker(repo, logger)

	if cfg.Publisher.Enabled {
		a.Publisher = publisher.NewRedisPublisher(
			getEnvOrConfig(cfg.Cache.Redis.Addr, "REDIS_ADDR", "localhost:6379"),
			cfg.Cache.Redis.Password,
			cfg.Cache.Redis.DB,
			cfg.Publisher.Stream,
			cfg.Publisher.MaxLength,
			logger,
		)
	}

	pipe := pipeline.New(repo, extractor.New(logger), pipeline.Config{
		MinDiscountPct:   cfg.Offer.MinDiscountPct,
		MaxDiscountPct:   cfg.Offer.MaxDiscountPct,
		DealThresholdPct: cfg.Offer.DealThresholdPct,
		EstimateDelay:    cfg.Estimator.EstimateDelay(),
	}, logger)
	pipe.WithEstimator(a.Estimator).WithLimiter(a.Limiter).WithSources(a.Sources...)
	if a.Search != nil {
		pipe.WithSearch(a.Search)
	}
	if a.Publisher != nil {
		pipe.WithPublisher(a.Publisher)
	}
	a.Pipeline = pipe

	return a, nil
}

// Close releases every connected collaborator.
func (a *App) Close() {
	for _, s := range a.Sources {
		s.Close()
	}
	if a.Estimator != nil {
		a.Estimator.Close()
	}
	if a.Publisher != nil {
		a.Publisher.Close()
	}
	if a.Repo != nil {
		a.Repo.Close()
	}
}

// NewLogger builds the console logger used by the binaries.
func NewLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}

// ApplyLogLevel reshapes the logger per configuration.
func ApplyLogLevel(logger zerolog.Logger, cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	if !cfg.Pretty {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return logger.Level(level)
}

func openRepository(cfg *config.Config, logger zerolog.Logger) (database.Repository, error) {
	dbType := getEnvOrConfig(cfg.Database.Type, "DB_TYPE", "postgres")

	if dbType == "mysql" {
		logger.Info().Msg("Using MySQL with GORM")
		mysqlCfg := cfg.Database.MySQL
		return database.NewGormDB(
			getEnvOrConfig(mysqlCfg.Host, "DB_HOST", "localhost"),
			getEnvOrConfig(portString(mysqlCfg.Port), "DB_PORT", "3306"),
			getEnvOrConfig(mysqlCfg.User, "DB_USER", "cardeal_user"),
			getEnvOrConfig(mysqlCfg.Password, "DB_PASSWORD", "cardeal_pass"),
			getEnvOrConfig(mysqlCfg.Database, "DB_NAME", "cardeal_db"),
		)
	}

	logger.Info().Msg("Using PostgreSQL")
	pgCfg := cfg.Database.Postgres
	return database.NewPostgresDB(
		getEnvOrConfig(pgCfg.Host, "DB_HOST", "localhost"),
		getEnvOrConfig(portString(pgCfg.Port), "DB_PORT", "5432"),
		getEnvOrConfig(pgCfg.User, "DB_USER", "cardeal_user"),
		getEnvOrConfig(pgCfg.Password, "DB_PASSWORD", "cardeal_pass"),
		getEnvOrConfig(pgCfg.Database, "DB_NAME", "cardeal_db"),
	)
}

// buildEstimator assembles the browser estimator behind its cache and
// circuit breaker decorators.
func buildEstimator(cfg *config.Config, logger zerolog.Logger) pricing.Estimator {
	var opts []pricing.BrowserOption
	if cfg.Estimator.URL != "" {
		opts = append(opts, pricing.WithEstimateURL(cfg.Estimator.URL))
	}
	if cfg.Estimator.ChromePath != "" {
		opts = append(opts, pricing.WithChromePath(cfg.Estimator.ChromePath))
	}
	opts = append(opts,
		pricing.WithHeadless(cfg.Estimator.Headless),
		pricing.WithTimeout(cfg.Estimator.Timeout()),
	)

	var est pricing.Estimator = pricing.NewBrowserEstimator(logger, opts...)

	if svc := buildCache(cfg, logger); svc != nil {
		est = pricing.NewCachedEstimator(est, svc, cfg.Cache.CacheTTL(), logger)
	}

	breaker := pricing.NewCircuitBreaker(cfg.Estimator.FailureThreshold, cfg.Estimator.ResetTimeout(), logger)
	return pricing.NewBreakerEstimator(est, breaker)
}

func buildCache(cfg *config.Config, logger zerolog.Logger) cache.Service {
	switch cfg.Cache.Type {
	case "redis":
		logger.Info().Str("addr", cfg.Cache.Redis.Addr).Msg("Valuation cache: Redis")
		return cache.NewRedisService(
			getEnvOrConfig(cfg.Cache.Redis.Addr, "REDIS_ADDR", "localhost:6379"),
			cfg.Cache.Redis.Password,
			cfg.Cache.Redis.DB,
		)
	case "memcached":
		logger.Info().Str("addr", cfg.Cache.Memcached.Addr).Msg("Valuation cache: Memcached")
		return cache.NewMemcacheService(
			getEnvOrConfig(cfg.Cache.Memcached.Addr, "MEMCACHED_ADDR", "localhost:11211"),
		)
	default:
		return nil
	}
}

func buildSources(ctx context.Context, cfg *config.Config, logger zerolog.Logger) []sources.Source {
	var srcs []sources.Source

	if cfg.Sources.FileDir != "" {
		srcs = append(srcs, sources.NewDirSource(cfg.Sources.FileDir, logger))
	}
	if cfg.Mail.IMAP.Enabled {
		imapCfg := cfg.Mail.IMAP
		srcs = append(srcs, sources.NewImapSource(
			imapCfg.Addr,
			getEnvOrConfig(imapCfg.Username, "IMAP_USERNAME", ""),
			getEnvOrConfig(imapCfg.Password, "IMAP_PASSWORD", ""),
			imapCfg.Mailbox,
			imapCfg.FromFilter,
			logger,
		))
	}
	if cfg.Mail.Gmail.Enabled {
		gmailCfg := cfg.Mail.Gmail
		src, err := sources.NewGmailSource(ctx, gmailCfg.CredentialsFile, gmailCfg.TokenFile, gmailCfg.Query, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Gmail source unavailable")
		} else {
			srcs = append(srcs, src)
		}
	}
	if cfg.Web.Enabled {
		srcs = append(srcs, sources.NewWebSource(cfg.Web.SearchURLs, cfg.Web.AllowedDomains, cfg.Web.RandomDelay(), logger))
	}

	if len(srcs) == 0 {
		logger.Warn().Msg("No ingestion sources configured")
	}
	return srcs
}

func portString(port int) string {
	if port <= 0 {
		return ""
	}
	return fmt.Sprintf("%d", port)
}

// GetEnv returns an environment value or the default.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrConfig prefers the config value, falls back to the environment,
// then the default.
func getEnvOrConfig(configValue, envKey, defaultValue string) string {
	if configValue != "" {
		return configValue
	}
	return GetEnv(envKey, defaultValue)
}
