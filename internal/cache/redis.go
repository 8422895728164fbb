package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"car-deal-hunter/internal/apperr"
)

// RedisService implements Service on a single Redis instance.
type RedisService struct {
	client *redis.Client
}

func NewRedisService(addr, password string, db int) *RedisService {
	return &RedisService{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func (r *RedisService) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, apperr.NewCache("redis", "get "+key, err)
	}
	return value, nil
}

func (r *RedisService) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return apperr.NewCache("redis", "set "+key, err)
	}
	return nil
}

func (r *RedisService) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return apperr.NewCache("redis", "delete "+key, err)
	}
	return nil
}

func (r *RedisService) Close() error {
	return r.client.Close()
}
