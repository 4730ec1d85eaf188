package oauthstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/mo"

	"socialbackend/appctx"
)

// RedisStateStore keeps state server side, keyed by the signed-in user so one user can't
// consume another's pending authorization.
type RedisStateStore struct {
	client *redis.Client
	prefix string
}

func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

func NewRedisStateStore(client *redis.Client, prefix string) *RedisStateStore {
	return &RedisStateStore{client: client, prefix: prefix}
}

func (s *RedisStateStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.scopedKey(ctx, key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store oauth state: %w", err)
	}
	return nil
}

func (s *RedisStateStore) TakeOnce(ctx context.Context, key string) (mo.Option[string], error) {
	value, err := s.client.GetDel(ctx, s.scopedKey(ctx, key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return mo.None[string](), nil
		}
		return mo.None[string](), fmt.Errorf("failed to take oauth state: %w", err)
	}
	return mo.Some(value), nil
}

func (s *RedisStateStore) scopedKey(ctx context.Context, key string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, scopeOf(ctx), key)
}

func scopeOf(ctx context.Context) string {
	return appctx.UserID(ctx, "anonymous")
}
