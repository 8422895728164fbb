package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, 8084, cfg.Server.Port)
	assert.Equal(t, 10.0, cfg.Offer.MinDiscountPct)
	assert.Equal(t, 20.0, cfg.Offer.MaxDiscountPct)
	assert.Equal(t, 15.0, cfg.Offer.DealThresholdPct)
	assert.Equal(t, 5, cfg.Estimator.BatchSize)
	assert.False(t, cfg.Search.Enabled)
	assert.False(t, cfg.Schedule.Enabled)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	content := `
database:
  type: mysql
  mysql:
    host: db.internal
    port: 3307
offer:
  min_discount_pct: 12
  deal_threshold_pct: 18
estimator:
  delay_seconds: 5
  batch_size: 3
schedule:
  enabled: true
  cron: "09:30"
  change_retention_days: 30
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Database.Type)
	assert.Equal(t, "db.internal", cfg.Database.MySQL.Host)
	assert.Equal(t, 3307, cfg.Database.MySQL.Port)
	assert.Equal(t, 12.0, cfg.Offer.MinDiscountPct)
	assert.Equal(t, 18.0, cfg.Offer.DealThresholdPct)
	assert.Equal(t, 5*time.Second, cfg.Estimator.EstimateDelay())
	assert.Equal(t, 3, cfg.Estimator.BatchSize)
	assert.True(t, cfg.Schedule.Enabled)
	assert.Equal(t, "09:30", cfg.Schedule.Cron)
	assert.Equal(t, 30*24*time.Hour, cfg.Schedule.ChangeRetention())

	// Sections absent from the file keep their defaults.
	assert.Equal(t, 20.0, cfg.Offer.MaxDiscountPct)
	assert.Equal(t, "INBOX", cfg.Mail.IMAP.Mailbox)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database: [not a map"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestDurationHelpersGuardZeroValues(t *testing.T) {
	var est EstimatorConfig
	assert.Equal(t, 2*time.Second, est.EstimateDelay())
	assert.Equal(t, 90*time.Second, est.Timeout())
	assert.Equal(t, 10*time.Minute, est.ResetTimeout())

	var sched ScheduleConfig
	assert.Equal(t, 90*24*time.Hour, sched.ChangeRetention())
	assert.Equal(t, 30*time.Minute, sched.RunTimeout())
	assert.Equal(t, 15*time.Minute, sched.WorkerPollInterval())

	var c CacheConfig
	assert.Equal(t, 7*24*time.Hour, c.CacheTTL())
}
