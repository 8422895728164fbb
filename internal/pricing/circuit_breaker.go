package pricing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"car-deal-hunter/internal/apperr"
)

// ErrCircuitOpen is returned while the breaker refuses requests. Callers
// draining a backlog should stop the run instead of retrying per item.
var ErrCircuitOpen = errors.New("estimation circuit open")

// CircuitBreaker halts estimation when the valuation site starts
// rejecting the browser. Repeated consecutive failures open it
// immediately; a high failure rate over a window opens it gradually.
type CircuitBreaker struct {
	failureThreshold int
	resetTimeout     time.Duration
	logger           zerolog.Logger

	mu                  sync.Mutex
	failures            int
	successes           int
	totalRequests       int
	consecutiveFailures int
	isOpen              bool
	lastFailureTime     time.Time
}

func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration, logger zerolog.Logger) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Minute
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		logger:           logger.With().Str("component", "estimator.breaker").Logger(),
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successes++
	cb.totalRequests++
	cb.consecutiveFailures = 0
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.consecutiveFailures++
	cb.totalRequests++
	cb.lastFailureTime = time.Now()

	if cb.consecutiveFailures >= cb.failureThreshold {
		cb.isOpen = true
		cb.logger.Warn().
			Int("consecutive_failures", cb.consecutiveFailures).
			Dur("reset_timeout", cb.resetTimeout).
			Msg("Circuit open, estimation halted")
		return
	}

	// Rate check over at least 20 requests catches intermittent blocks
	// that never string together enough consecutive failures.
	if cb.totalRequests >= 20 {
		failureRate := float64(cb.failures) / float64(cb.totalRequests)
		if failureRate >= 0.40 {
			cb.isOpen = true
			cb.logger.Warn().
				Float64("failure_rate", failureRate).
				Int("failures", cb.failures).
				Int("total", cb.totalRequests).
				Msg("Circuit open on failure rate, estimation halted")
		}
	}
}

// CanProceed reports whether a request is allowed. After the reset
// timeout the breaker half-opens and lets traffic probe again.
func (cb *CircuitBreaker) CanProceed() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.isOpen {
		return true
	}
	if time.Since(cb.lastFailureTime) > cb.resetTimeout {
		cb.logger.Info().Msg("Circuit half-open, probing again")
		cb.isOpen = false
		cb.failures = 0
		cb.successes = 0
		cb.totalRequests = 0
		cb.consecutiveFailures = 0
		return true
	}
	return false
}

// Status is a snapshot for the stats endpoint.
type Status struct {
	Open     bool `json:"open"`
	Failures int  `json:"failures"`
	Total    int  `json:"total_requests"`
}

func (cb *CircuitBreaker) GetStatus() Status {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Status{Open: cb.isOpen, Failures: cb.failures, Total: cb.totalRequests}
}

// BreakerEstimator gates an Estimator behind a CircuitBreaker. Input
// validation errors pass through without tripping the breaker; only
// real estimation failures count.
type BreakerEstimator struct {
	inner   Estimator
	breaker *CircuitBreaker
}

func NewBreakerEstimator(inner Estimator, breaker *CircuitBreaker) *BreakerEstimator {
	return &BreakerEstimator{inner: inner, breaker: breaker}
}

func (b *BreakerEstimator) Estimate(ctx context.Context, req EstimateRequest) (*Estimate, error) {
	if !b.breaker.CanProceed() {
		return nil, apperr.NewEstimation("breaker", "refusing estimate while circuit is open", ErrCircuitOpen)
	}
	estimate, err := b.inner.Estimate(ctx, req)
	if err != nil {
		if apperr.KindOf(err) != apperr.KindValidation {
			b.breaker.RecordFailure()
		}
		return nil, err
	}
	b.breaker.RecordSuccess()
	return estimate, nil
}

func (b *BreakerEstimator) Close() error {
	return b.inner.Close()
}

// Breaker exposes the underlying breaker for status reporting.
func (b *BreakerEstimator) Breaker() *CircuitBreaker {
	return b.breaker
}
