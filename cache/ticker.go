package cache

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
)

// LatestTickerPayload is the minimal shape cached per code in front of
// tick_archive; it is read far more often than it is written, so it
// carries only what order pricing and the leaderboard need.
type LatestTickerPayload struct {
	Code       string  `json:"code"`
	TradePrice float64 `json:"trade_price"`
	Timestamp  int64   `json:"timestamp"`
}

// GetLatestTicker reads the cached latest tick for code. A cache miss
// is reported through ErrNotFound so callers fall back to the archive
// table without treating it as an error.
func GetLatestTicker(ctx context.Context, c *RedisCache, code string) (*LatestTickerPayload, error) {
	key := NS_Ticker + ":latest:" + code
	data, err := c.client.Get(ctx, c.makeKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var payload LatestTickerPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// SetLatestTicker refreshes the 1-second latest-price cache on every
// ingested tick.
func SetLatestTicker(ctx context.Context, c *RedisCache, payload LatestTickerPayload) error {
	return c.Set(ctx, NS_Ticker+":latest:"+payload.Code, payload, TTL_Latest_Price)
}
