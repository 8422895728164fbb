// Package cache abstracts the key/value store used for valuation results
// and scrape bookkeeping, with Redis and memcached backends.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key does not exist. Backends
// translate their own miss sentinels so callers can tell a miss from an
// infrastructure failure.
var ErrMiss = errors.New("cache miss")

// Service is a generic byte cache with per-entry expiration.
type Service interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}
