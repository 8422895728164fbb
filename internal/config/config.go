package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Cache     CacheConfig     `yaml:"cache"`
	Search    SearchConfig    `yaml:"search"`
	Mail      MailConfig      `yaml:"mail"`
	Web       WebConfig       `yaml:"web"`
	Estimator EstimatorConfig `yaml:"estimator"`
	Offer     OfferConfig     `yaml:"offer"`
	Publisher PublisherConfig `yaml:"publisher"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Sources   SourcesConfig   `yaml:"sources"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int      `yaml:"port"`
	AllowOrigins []string `yaml:"allow_origins"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Type     string         `yaml:"type"` // "mysql" or "postgres"
	MySQL    MySQLConfig    `yaml:"mysql"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// MySQLConfig contains MySQL connection settings
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// PostgresConfig contains PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// CacheConfig selects and configures the valuation cache backend
type CacheConfig struct {
	Type      string          `yaml:"type"` // "redis", "memcached" or "" (disabled)
	Redis     RedisConfig     `yaml:"redis"`
	Memcached MemcachedConfig `yaml:"memcached"`
	TTLHours  int             `yaml:"ttl_hours"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MemcachedConfig contains Memcached connection settings
type MemcachedConfig struct {
	Addr string `yaml:"addr"`
}

// SearchConfig contains search engine settings
type SearchConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Meilisearch MeilisearchConfig `yaml:"meilisearch"`
}

// MeilisearchConfig contains Meilisearch connection settings
type MeilisearchConfig struct {
	Host   string `yaml:"host"`
	APIKey string `yaml:"api_key"`
}

// MailConfig configures the alert-mail sources
type MailConfig struct {
	IMAP  IMAPConfig  `yaml:"imap"`
	Gmail GmailConfig `yaml:"gmail"`
}

// IMAPConfig contains IMAP mailbox settings
type IMAPConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"` // host:port, TLS assumed
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Mailbox    string `yaml:"mailbox"`
	FromFilter string `yaml:"from_filter"`
}

// GmailConfig contains Gmail API settings
type GmailConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CredentialsFile string `yaml:"credentials_file"`
	TokenFile       string `yaml:"token_file"`
	Query           string `yaml:"query"`
}

// WebConfig configures the live listing-page source
type WebConfig struct {
	Enabled        bool     `yaml:"enabled"`
	SearchURLs     []string `yaml:"search_urls"`
	AllowedDomains []string `yaml:"allowed_domains"`
	RandomDelayMS  int      `yaml:"random_delay_ms"`
}

// SourcesConfig configures the local-file source
type SourcesConfig struct {
	FileDir string `yaml:"file_dir"`
}

// EstimatorConfig configures the browser-driven value estimator and its
// protective decorators
type EstimatorConfig struct {
	URL              string          `yaml:"url"`
	ChromePath       string          `yaml:"chrome_path"`
	Headless         bool            `yaml:"headless"`
	TimeoutSeconds   int             `yaml:"timeout_seconds"`
	DelaySeconds     int             `yaml:"delay_seconds"` // pause between estimations
	BatchSize        int             `yaml:"batch_size"`
	FailureThreshold int             `yaml:"failure_threshold"` // circuit breaker trip count
	ResetMinutes     int             `yaml:"reset_minutes"`     // circuit breaker cool-down
	RateLimit        RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig contains request budget settings
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	RequestsPerHour   int  `yaml:"requests_per_hour"`
	RequestsPerDay    int  `yaml:"requests_per_day"`
}

// OfferConfig bounds the offer engine
type OfferConfig struct {
	MinDiscountPct   float64 `yaml:"min_discount_pct"`
	MaxDiscountPct   float64 `yaml:"max_discount_pct"`
	DealThresholdPct float64 `yaml:"deal_threshold_pct"`
}

// PublisherConfig configures the deal stream
type PublisherConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Stream    string `yaml:"stream"`
	MaxLength int64  `yaml:"max_length"`
}

// ScheduleConfig controls periodic pipeline runs and the estimation worker
type ScheduleConfig struct {
	Enabled             bool   `yaml:"enabled"`
	Cron                string `yaml:"cron"` // cron spec or daily "HH:MM"
	RunTimeoutMinutes   int    `yaml:"run_timeout_minutes"`
	ChangeRetentionDays int    `yaml:"change_retention_days"`
	WorkerEnabled       bool   `yaml:"worker_enabled"`
	WorkerPollMinutes   int    `yaml:"worker_poll_minutes"`
	WorkerBatchSize     int    `yaml:"worker_batch_size"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8084,
			AllowOrigins: []string{"http://localhost:5173"},
		},
		Database: DatabaseConfig{
			Type: "postgres",
			MySQL: MySQLConfig{
				Host:     "localhost",
				Port:     3306,
				User:     "cardeal_user",
				Password: "cardeal_pass",
				Database: "cardeal_db",
			},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "cardeal_user",
				Password: "cardeal_pass",
				Database: "cardeal_db",
				SSLMode:  "disable",
			},
		},
		Cache: CacheConfig{
			Type:      "",
			Redis:     RedisConfig{Addr: "localhost:6379"},
			Memcached: MemcachedConfig{Addr: "localhost:11211"},
			TTLHours:  24 * 7,
		},
		Search: SearchConfig{
			Enabled: false,
			Meilisearch: MeilisearchConfig{
				Host: "http://localhost:7700",
			},
		},
		Mail: MailConfig{
			IMAP: IMAPConfig{
				Addr:       "imap.gmail.com:993",
				Mailbox:    "INBOX",
				FromFilter: "autoscout24",
			},
			Gmail: GmailConfig{
				CredentialsFile: "credentials.json",
				TokenFile:       "token.json",
				Query:           "from:autoscout24 is:unread",
			},
		},
		Web: WebConfig{
			AllowedDomains: []string{"www.autoscout24.be", "autoscout24.be"},
			RandomDelayMS:  2000,
		},
		Sources: SourcesConfig{
			FileDir: "",
		},
		Estimator: EstimatorConfig{
			Headless:         true,
			TimeoutSeconds:   90,
			DelaySeconds:     2,
			BatchSize:        5,
			FailureThreshold: 3,
			ResetMinutes:     10,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 5,
				RequestsPerHour:   60,
				RequestsPerDay:    300,
			},
		},
		Offer: OfferConfig{
			MinDiscountPct:   10,
			MaxDiscountPct:   20,
			DealThresholdPct: 15,
		},
		Publisher: PublisherConfig{
			Enabled:   false,
			Stream:    "deals",
			MaxLength: 1000,
		},
		Schedule: ScheduleConfig{
			Enabled:             false,
			Cron:                "@hourly",
			RunTimeoutMinutes:   30,
			ChangeRetentionDays: 90,
			WorkerEnabled:       false,
			WorkerPollMinutes:   15,
			WorkerBatchSize:     5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// CacheTTL returns the valuation cache TTL as a duration.
func (c *CacheConfig) CacheTTL() time.Duration {
	if c.TTLHours <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(c.TTLHours) * time.Hour
}

// EstimateDelay returns the pause between browser estimations.
func (c *EstimatorConfig) EstimateDelay() time.Duration {
	if c.DelaySeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.DelaySeconds) * time.Second
}

// Timeout returns the per-estimation browser timeout.
func (c *EstimatorConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 90 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ResetTimeout returns the circuit breaker cool-down.
func (c *EstimatorConfig) ResetTimeout() time.Duration {
	if c.ResetMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.ResetMinutes) * time.Minute
}

// ChangeRetention returns how long listing changes are kept.
func (c *ScheduleConfig) ChangeRetention() time.Duration {
	if c.ChangeRetentionDays <= 0 {
		return 90 * 24 * time.Hour
	}
	return time.Duration(c.ChangeRetentionDays) * 24 * time.Hour
}

// RunTimeout bounds one scheduled pipeline run.
func (c *ScheduleConfig) RunTimeout() time.Duration {
	if c.RunTimeoutMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.RunTimeoutMinutes) * time.Minute
}

// WorkerPollInterval returns the estimation worker polling interval.
func (c *ScheduleConfig) WorkerPollInterval() time.Duration {
	if c.WorkerPollMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.WorkerPollMinutes) * time.Minute
}

// RandomDelay returns the web source pacing delay.
func (c *WebConfig) RandomDelay() time.Duration {
	if c.RandomDelayMS <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.RandomDelayMS) * time.Millisecond
}
