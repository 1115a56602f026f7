// Package actioncheck implements ratelimit.ActionChecker against Redis, for
// application code that wants a per-IP, per-action sliding window on top of
// the core token bucket (e.g. "at most one password reset in 10
// minutes"). CheckRecentAction reports only whether any occurrence falls
// inside the window, not how many.
package actioncheck

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Config contains the Redis connection configuration.
type Config struct {
	RedisURL     string
	RedisDB      int
	PoolSize     int
	MinIdleConns int
	KeyPrefix    string
}

// Checker implements ratelimit.ActionChecker with a Redis sorted set per
// (ip, action): each occurrence is recorded as a member scored by its
// timestamp, and CheckRecentAction prunes anything older than the window
// before counting what remains.
type Checker struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// New connects to Redis and returns a Checker. The connection is verified
// with a bounded ping before returning.
func New(config Config, logger *zap.Logger) (*Checker, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("actioncheck: failed to parse redis url: %w", err)
	}
	if config.RedisDB != 0 {
		opts.DB = config.RedisDB
	}
	opts.PoolSize = config.PoolSize
	opts.MinIdleConns = config.MinIdleConns

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("actioncheck: failed to connect to redis: %w", err)
	}

	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = "admission:action"
	}

	logger.Info("action checker connected", zap.String("redis_url", maskRedisURL(config.RedisURL)))
	return &Checker{client: client, prefix: prefix, logger: logger}, nil
}

// RecordAction appends an occurrence of action for ip at the current time.
// It is the caller's responsibility to invoke this wherever the
// application considers the action to have happened; the checker never
// infers occurrences from the admission path itself.
func (c *Checker) RecordAction(ctx context.Context, ip, action string) error {
	key := c.key(ip, action)
	now := time.Now()
	member := fmt.Sprintf("%d", now.UnixNano())

	pipe := c.client.TxPipeline()
	pipe.ZAdd(ctx, key, &redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, key, 24*time.Hour)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("actioncheck: failed to record action: %w", err)
	}
	return nil
}

// CheckRecentAction implements ratelimit.ActionChecker: it prunes entries
// older than within, then reports whether any entries remain for
// (ip, action).
func (c *Checker) CheckRecentAction(ctx context.Context, ip, action string, within time.Duration) (bool, error) {
	key := c.key(ip, action)
	cutoff := time.Now().Add(-within).UnixNano()

	if err := c.client.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", cutoff)).Err(); err != nil {
		return false, fmt.Errorf("actioncheck: failed to prune window: %w", err)
	}

	count, err := c.client.ZCard(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("actioncheck: failed to count window: %w", err)
	}

	return count > 0, nil
}

// Close releases the underlying Redis connection pool.
func (c *Checker) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *Checker) key(ip, action string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, ip, action)
}

func maskRedisURL(url string) string {
	if !strings.Contains(url, "@") {
		return url
	}
	parts := strings.SplitN(url, "@", 2)
	userPart := parts[0]
	if idx := strings.LastIndex(userPart, ":"); idx != -1 {
		userPart = userPart[:idx] + ":***"
	}
	return userPart + "@" + parts[1]
}
