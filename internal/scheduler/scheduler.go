// Package scheduler owns the recurring work: periodic pipeline runs and
// retention pruning on the change log, plus a background worker that
// drains the estimation backlog.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"car-deal-hunter/internal/database"
	"car-deal-hunter/internal/pipeline"
	"car-deal-hunter/internal/snapshot"
)

// Config controls the scheduler.
type Config struct {
	Enabled bool

	// Schedule is a cron spec, or a daily "HH:MM" time.
	Schedule string

	// ChangeRetention bounds how long listing changes are kept.
	ChangeRetention time.Duration

	// RunTimeout bounds one scheduled pipeline run.
	RunTimeout time.Duration

	Run pipeline.RunOptions
}

// Scheduler triggers pipeline runs on a cron schedule.
type Scheduler struct {
	cron      *cron.Cron
	pipeline  *pipeline.Pipeline
	tracker   *snapshot.Tracker
	cfg       Config
	logger    zerolog.Logger
	isRunning bool
}

func NewScheduler(p *pipeline.Pipeline, repo database.Repository, cfg Config, logger zerolog.Logger) *Scheduler {
	if cfg.Schedule == "" {
		cfg.Schedule = "@hourly"
	}
	if cfg.ChangeRetention <= 0 {
		cfg.ChangeRetention = 90 * 24 * time.Hour
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 30 * time.Minute
	}
	return &Scheduler{
		cron:     cron.New(),
		pipeline: p,
		tracker:  snapshot.NewTracker(repo, logger),
		cfg:      cfg,
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start registers the jobs and launches the cron loop.
func (s *Scheduler) Start() error {
	if !s.cfg.Enabled {
		s.logger.Info().Msg("Scheduled runs are disabled in configuration")
		return nil
	}

	spec := normalizeSchedule(s.cfg.Schedule)
	if _, err := s.cron.AddFunc(spec, s.runScheduled); err != nil {
		return fmt.Errorf("adding pipeline job: %w", err)
	}

	// Retention pruning runs nightly, off the busy hours.
	if _, err := s.cron.AddFunc("30 3 * * *", s.pruneChanges); err != nil {
		return fmt.Errorf("adding prune job: %w", err)
	}

	s.cron.Start()
	s.isRunning = true
	s.logger.Info().Str("schedule", spec).Msg("Scheduler started")
	return nil
}

// Stop halts the cron loop; running jobs finish on their own.
func (s *Scheduler) Stop() {
	if s.isRunning {
		s.cron.Stop()
		s.isRunning = false
		s.logger.Info().Msg("Scheduler stopped")
	}
}

// RunNow triggers a pipeline run outside the schedule, for the webhook
// and manual runs.
func (s *Scheduler) RunNow(ctx context.Context) (*pipeline.Report, error) {
	return s.pipeline.Run(ctx, s.cfg.Run)
}

func (s *Scheduler) runScheduled() {
	s.logger.Info().Msg("Starting scheduled pipeline run")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RunTimeout)
	defer cancel()

	report, err := s.pipeline.Run(ctx, s.cfg.Run)
	if err != nil {
		s.logger.Error().Err(err).Msg("Scheduled run failed")
		return
	}
	s.logger.Info().
		Int("inserted", report.Inserted).
		Int("updated", report.Updated).
		Int("estimated", report.Estimated).
		Int("offers", report.Offers).
		Msg("Scheduled run finished")
}

func (s *Scheduler) pruneChanges() {
	if _, err := s.tracker.Prune(s.cfg.ChangeRetention); err != nil {
		s.logger.Error().Err(err).Msg("Pruning change history failed")
	}
}

// normalizeSchedule accepts either a cron spec or a daily "HH:MM" time;
// "08:30" becomes "30 8 * * *".
func normalizeSchedule(schedule string) string {
	var hour, minute int
	if n, _ := fmt.Sscanf(schedule, "%d:%d", &hour, &minute); n == 2 &&
		hour >= 0 && hour < 24 && minute >= 0 && minute < 60 {
		return fmt.Sprintf("%d %d * * *", minute, hour)
	}
	return schedule
}
