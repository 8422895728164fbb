package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"car-deal-hunter/internal/pipeline"
)

// EstimationWorker drains the estimation backlog in small batches so
// valuations trickle in between pipeline runs without hammering the
// valuation site. Pacing and circuit breaking live in the estimator
// stack; the worker only decides when and how much.
type EstimationWorker struct {
	pipeline     *pipeline.Pipeline
	logger       zerolog.Logger
	pollInterval time.Duration
	batchSize    int
	batchTimeout time.Duration

	stopChan  chan struct{}
	isRunning bool
}

func NewEstimationWorker(p *pipeline.Pipeline, pollInterval time.Duration, batchSize int, logger zerolog.Logger) *EstimationWorker {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 5
	}
	return &EstimationWorker{
		pipeline:     p,
		logger:       logger.With().Str("component", "estimation-worker").Logger(),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		batchTimeout: 15 * time.Minute,
		stopChan:     make(chan struct{}),
	}
}

func (w *EstimationWorker) Start() {
	if w.isRunning {
		w.logger.Warn().Msg("Worker already running")
		return
	}
	w.isRunning = true
	w.logger.Info().
		Dur("poll_interval", w.pollInterval).
		Int("batch_size", w.batchSize).
		Msg("Estimation worker started")

	go w.run()
}

func (w *EstimationWorker) Stop() {
	if !w.isRunning {
		return
	}
	w.isRunning = false
	close(w.stopChan)
	w.logger.Info().Msg("Estimation worker stopped")
}

func (w *EstimationWorker) run() {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.processBatch()
		}
	}
}

func (w *EstimationWorker) processBatch() {
	ctx, cancel := context.WithTimeout(context.Background(), w.batchTimeout)
	defer cancel()

	report, err := w.pipeline.Estimate(ctx, w.batchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("Estimation batch failed")
		return
	}
	if report.Estimated == 0 {
		return
	}

	// Fresh estimates unlock offers right away instead of waiting for
	// the next scheduled run.
	offerReport, err := w.pipeline.ComputeOffers(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("Offer pass after estimation failed")
		return
	}
	w.logger.Info().
		Int("estimated", report.Estimated).
		Int("offers", offerReport.Offers).
		Int("published", offerReport.Published).
		Msg("Background estimation batch finished")
}
