package publisher

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"car-deal-hunter/internal/models"
)

// Requires a running Redis instance; skipped otherwise.
func TestRedisPublisherRoundTrip(t *testing.T) {
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis is not available, skipping test")
	}

	const stream = "test_deals_stream"
	client.Del(ctx, stream)

	pub := NewRedisPublisher("localhost:6379", "", 0, stream, 10, zerolog.Nop())
	defer pub.Close()

	price := 15000.0
	discount := 18.5
	listing := models.Listing{
		ID:                 models.ListingID("https://www.autoscout24.be/fr/offres/bmw-320d"),
		CanonicalURL:       "https://www.autoscout24.be/fr/offres/bmw-320d",
		Title:              "BMW 320d",
		Price:              &price,
		DiscountPercentage: &discount,
	}
	require.NoError(t, pub.PublishDeal(ctx, listing))

	entries, err := client.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	payload, ok := entries[0].Values["deal"].(string)
	require.True(t, ok)

	var decoded models.Listing
	require.NoError(t, json.Unmarshal([]byte(payload), &decoded))
	assert.Equal(t, listing.CanonicalURL, decoded.CanonicalURL)
	require.NotNil(t, decoded.DiscountPercentage)
	assert.InDelta(t, 18.5, *decoded.DiscountPercentage, 0.001)

	// Publishing more than maxLength entries keeps the stream bounded.
	for i := 0; i < 30; i++ {
		require.NoError(t, pub.PublishDeal(ctx, listing))
	}
	require.NoError(t, pub.Trim(ctx))

	length, err := client.XLen(ctx, stream).Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, length, int64(10))

	client.Del(ctx, stream)
}
