package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"pusher/internal/config"
	"pusher/internal/logger"
)

// InitRedis connects and pings. It returns nil when no address is configured.
func InitRedis(ctx context.Context, cfg config.RedisConfig, log logger.Logger) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	log.Infow("Redis connected successfully", "addr", cfg.Addr)
	return rdb, nil
}

func ShutdownRedis(rdb *redis.Client) []error {
	if rdb == nil {
		return nil
	}
	if err := rdb.Close(); err != nil {
		return []error{fmt.Errorf("redis close error: %w", err)}
	}
	return nil
}
