package deduplication

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pusher/internal/constants"
)

type Repository interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	GetCacheSize(ctx context.Context, prefix string) (int, error)
}

type RedisRepository struct {
	client redis.Cmdable
}

func NewRepository(client redis.Cmdable) Repository {
	return &RedisRepository{client: client}
}

func (r *RedisRepository) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	success, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SetNX failed: %w", err)
	}
	return success, nil
}

func (r *RedisRepository) GetCacheSize(ctx context.Context, prefix string) (int, error) {
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	count := 0
	for iter.Next(ctx) {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan failed: %w", err)
	}
	return count, nil
}

// RedisStore shares one dedup window between relay instances. Keys expire on
// their own after the window.
type RedisStore struct {
	repo   Repository
	window time.Duration
	now    func() time.Time
}

func NewRedisStore(repo Repository, window time.Duration) *RedisStore {
	return &RedisStore{repo: repo, window: window, now: time.Now}
}

func (s *RedisStore) Claim(ctx context.Context, id string) (bool, error) {
	return s.repo.SetNX(ctx, constants.CacheKeyPrefixDedup+id, s.now().Unix(), s.window)
}

func (s *RedisStore) Size(ctx context.Context) (int, error) {
	return s.repo.GetCacheSize(ctx, constants.CacheKeyPrefixDedup)
}
