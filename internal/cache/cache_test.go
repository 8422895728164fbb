package cache

import (
	"context"
	"testing"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests exercise live backends and skip when none is reachable.

func TestRedisService(t *testing.T) {
	ctx := context.Background()
	svc := NewRedisService("localhost:6379", "", 0)
	defer svc.Close()

	if err := svc.client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis is not available, skipping test")
	}

	require.NoError(t, svc.Set(ctx, "test_valuation", []byte(`{"avg":12500}`), time.Second))

	value, err := svc.Get(ctx, "test_valuation")
	require.NoError(t, err)
	assert.Equal(t, `{"avg":12500}`, string(value))

	require.NoError(t, svc.Delete(ctx, "test_valuation"))

	_, err = svc.Get(ctx, "test_valuation")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemcacheService(t *testing.T) {
	ctx := context.Background()
	svc := NewMemcacheService("localhost:11211")

	if _, err := svc.client.Get("probe"); err != nil && err != memcache.ErrCacheMiss {
		t.Skip("Memcached is not available, skipping test")
	}

	require.NoError(t, svc.Set(ctx, "test_valuation", []byte("9000"), time.Second))

	value, err := svc.Get(ctx, "test_valuation")
	require.NoError(t, err)
	assert.Equal(t, "9000", string(value))

	require.NoError(t, svc.Delete(ctx, "test_valuation"))

	_, err = svc.Get(ctx, "test_valuation")
	assert.ErrorIs(t, err, ErrMiss)

	// Deleting a missing key is not an error.
	assert.NoError(t, svc.Delete(ctx, "test_valuation"))
}
