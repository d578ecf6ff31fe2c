package rates

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Cached keeps quotes in redis for ttl. Redis errors fall through to the
// wrapped provider.
type Cached struct {
	next   Provider
	rdb    redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

func NewCached(next Provider, rdb redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *Cached {
	return &Cached{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

func cacheKey(base, target string) string {
	return "rates:" + pair(base, target)
}

func (c *Cached) Rate(ctx context.Context, base, target string) (decimal.Decimal, error) {
	key := cacheKey(base, target)
	val, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		if r, perr := decimal.NewFromString(val); perr == nil {
			return r, nil
		}
		c.logger.Warn("discarding unparsable cached rate", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("rate cache read failed", zap.Error(err))
	}

	r, err := c.next.Rate(ctx, base, target)
	if err != nil {
		return decimal.Zero, err
	}
	if err := c.rdb.Set(ctx, key, r.String(), c.ttl).Err(); err != nil {
		c.logger.Warn("rate cache write failed", zap.Error(err))
	}
	return r, nil
}
