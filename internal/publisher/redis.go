package publisher

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"car-deal-hunter/internal/apperr"
	"car-deal-hunter/internal/models"
)

// RedisPublisher implements Publisher on a Redis stream. Every XAdd
// carries an approximate MAXLEN so the stream trims itself; Trim exists
// for the periodic exact pass.
type RedisPublisher struct {
	client    *redis.Client
	stream    string
	maxLength int64
	logger    zerolog.Logger
}

func NewRedisPublisher(addr, password string, db int, stream string, maxLength int64, logger zerolog.Logger) *RedisPublisher {
	if stream == "" {
		stream = "deals"
	}
	if maxLength <= 0 {
		maxLength = 1000
	}
	return &RedisPublisher{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		stream:    stream,
		maxLength: maxLength,
		logger:    logger.With().Str("component", "publisher").Logger(),
	}
}

func (p *RedisPublisher) PublishDeal(ctx context.Context, listing models.Listing) error {
	payload, err := json.Marshal(listing)
	if err != nil {
		return apperr.NewPublish("redis", "encoding deal", err)
	}
	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLength,
		Approx: true,
		Values: map[string]interface{}{
			"deal": string(payload),
		},
	}).Err()
	if err != nil {
		return apperr.NewPublish("redis", "publishing deal", err)
	}
	p.logger.Debug().Str("url", listing.CanonicalURL).Msg("Published deal")
	return nil
}

func (p *RedisPublisher) Trim(ctx context.Context) error {
	if err := p.client.XTrimMaxLen(ctx, p.stream, p.maxLength).Err(); err != nil {
		return apperr.NewPublish("redis", "trimming stream", err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
