package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/meterline/internal/config"
	"go.uber.org/fx"
)

const keyConsumeEntity = "meterline:consume:%s"

// ConsumeLimiter caps how fast a single entity can hit the consume
// endpoint. Quota enforcement itself lives in the usage period ledger;
// this only absorbs bursts before they reach the database.
type ConsumeLimiter struct {
	enabled bool

	bucket *TokenBucket
	rate   float64
	burst  int
}

// NewConsumeLimiter returns a nil limiter when no redis address is
// configured; callers treat nil as always-allow.
func NewConsumeLimiter(cfg config.Config, lc fx.Lifecycle) (*ConsumeLimiter, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, nil
	}
	if cfg.ConsumeRateLimit <= 0 || cfg.ConsumeBurst <= 0 {
		return nil, fmt.Errorf("consume rate limit and burst must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	return &ConsumeLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    cfg.ConsumeRateLimit,
		burst:   cfg.ConsumeBurst,
	}, nil
}

func (l *ConsumeLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *ConsumeLimiter) Allow(ctx context.Context, entityID string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	key := fmt.Sprintf(keyConsumeEntity, strings.TrimSpace(entityID))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}
