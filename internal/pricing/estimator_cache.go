package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"car-deal-hunter/internal/cache"
)

// CachedEstimator wraps an Estimator with a read-through cache. Browser
// estimation takes tens of seconds per vehicle, and market value moves
// slowly, so a day-scale TTL saves most of the work. Cache failures are
// logged and ignored; they must never block an estimate.
type CachedEstimator struct {
	inner  Estimator
	cache  cache.Service
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCachedEstimator(inner Estimator, cacheSvc cache.Service, ttl time.Duration, logger zerolog.Logger) *CachedEstimator {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedEstimator{
		inner:  inner,
		cache:  cacheSvc,
		ttl:    ttl,
		logger: logger.With().Str("component", "estimator.cache").Logger(),
	}
}

// estimateCacheKey buckets mileage to 10000 km so near-identical
// vehicles share one valuation entry.
func estimateCacheKey(req EstimateRequest) string {
	year := 0
	if req.Year != nil {
		year = *req.Year
	}
	mileageBucket := 0
	if req.Mileage != nil {
		mileageBucket = int(*req.Mileage) / 10000 * 10000
	}
	return fmt.Sprintf("valuation:%s:%s:%d:%d",
		strings.ToLower(strings.TrimSpace(req.Make)),
		strings.ToLower(strings.TrimSpace(req.Model)),
		year, mileageBucket)
}

func (c *CachedEstimator) Estimate(ctx context.Context, req EstimateRequest) (*Estimate, error) {
	key := estimateCacheKey(req)

	cached, err := c.cache.Get(ctx, key)
	if err == nil {
		var estimate Estimate
		if jsonErr := json.Unmarshal(cached, &estimate); jsonErr == nil {
			c.logger.Debug().Str("key", key).Msg("Valuation served from cache")
			return &estimate, nil
		}
		c.logger.Warn().Str("key", key).Msg("Corrupt cache entry, re-estimating")
	} else if !errors.Is(err, cache.ErrMiss) {
		c.logger.Warn().Err(err).Str("key", key).Msg("Cache read failed, estimating directly")
	}

	estimate, err := c.inner.Estimate(ctx, req)
	if err != nil {
		return nil, err
	}

	if payload, jsonErr := json.Marshal(estimate); jsonErr == nil {
		if setErr := c.cache.Set(ctx, key, payload, c.ttl); setErr != nil {
			c.logger.Warn().Err(setErr).Str("key", key).Msg("Cache write failed")
		}
	}
	return estimate, nil
}

func (c *CachedEstimator) Close() error {
	return c.inner.Close()
}
