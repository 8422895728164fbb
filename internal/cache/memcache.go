package cache

import (
	"context"
	"errors"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"car-deal-hunter/internal/apperr"
)

// MemcacheService implements Service on memcached. Context is accepted
// for interface symmetry; the client has no context support.
type MemcacheService struct {
	client *memcache.Client
}

func NewMemcacheService(serverAddr string) *MemcacheService {
	return &MemcacheService{client: memcache.New(serverAddr)}
}

func (m *MemcacheService) Get(ctx context.Context, key string) ([]byte, error) {
	item, err := m.client.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, apperr.NewCache("memcache", "get "+key, err)
	}
	return item.Value, nil
}

func (m *MemcacheService) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := m.client.Set(&memcache.Item{
		Key:        key,
		Value:      value,
		Expiration: int32(ttl.Seconds()),
	})
	if err != nil {
		return apperr.NewCache("memcache", "set "+key, err)
	}
	return nil
}

func (m *MemcacheService) Delete(ctx context.Context, key string) error {
	err := m.client.Delete(key)
	if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return apperr.NewCache("memcache", "delete "+key, err)
	}
	return nil
}

func (m *MemcacheService) Close() error { return nil }
