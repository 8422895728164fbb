package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"car-deal-hunter/internal/cache"
)

type mapCache struct {
	entries map[string][]byte
	getErr  error
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string][]byte)}
}

func (m *mapCache) Get(ctx context.Context, key string) ([]byte, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	value, ok := m.entries[key]
	if !ok {
		return nil, cache.ErrMiss
	}
	return value, nil
}

func (m *mapCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.entries[key] = value
	return nil
}

func (m *mapCache) Delete(ctx context.Context, key string) error {
	delete(m.entries, key)
	return nil
}

func (m *mapCache) Close() error { return nil }

func TestCachedEstimatorServesSecondRequestFromCache(t *testing.T) {
	inner := &failingEstimator{}
	store := newMapCache()
	est := NewCachedEstimator(inner, store, time.Hour, zerolog.Nop())

	mileage := 116200.0
	year := 2018
	req := EstimateRequest{Make: "BMW", Model: "320d", Year: &year, Mileage: &mileage}
	ctx := context.Background()

	first, err := est.Estimate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)

	second, err := est.Estimate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, first.AvgPrice, second.AvgPrice)
	assert.Equal(t, first.MinPrice, second.MinPrice)
}

func TestCachedEstimatorSurvivesCacheFailure(t *testing.T) {
	inner := &failingEstimator{}
	store := newMapCache()
	store.getErr = errors.New("redis down")
	est := NewCachedEstimator(inner, store, time.Hour, zerolog.Nop())

	req := EstimateRequest{Make: "BMW", Model: "320d"}
	_, err := est.Estimate(context.Background(), req)
	require.NoError(t, err)
	_, err = est.Estimate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 2, inner.calls)
}

func TestCachedEstimatorPropagatesEstimationErrors(t *testing.T) {
	inner := &failingEstimator{err: errors.New("form never loaded")}
	est := NewCachedEstimator(inner, newMapCache(), time.Hour, zerolog.Nop())

	_, err := est.Estimate(context.Background(), EstimateRequest{Make: "BMW", Model: "320d"})
	assert.Error(t, err)
}

func TestEstimateCacheKey(t *testing.T) {
	mileage := 116200.0
	year := 2018

	key := estimateCacheKey(EstimateRequest{Make: " BMW ", Model: "320D", Year: &year, Mileage: &mileage})
	assert.Equal(t, "valuation:bmw:320d:2018:110000", key)

	// Vehicles in the same 10000 km band share one entry.
	closeMileage := 118900.0
	sameBand := estimateCacheKey(EstimateRequest{Make: "BMW", Model: "320d", Year: &year, Mileage: &closeMileage})
	assert.Equal(t, key, sameBand)

	bare := estimateCacheKey(EstimateRequest{Make: "Renault", Model: "Clio"})
	assert.Equal(t, "valuation:renault:clio:0:0", bare)
}
