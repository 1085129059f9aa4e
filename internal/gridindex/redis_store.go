package gridindex

import (
	"context"

	pkgredis "github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/redis"
)

// RedisStore keeps the grid sets in Redis.
type RedisStore struct {
	client *pkgredis.Client
}

func NewRedisStore(client *pkgredis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Add(ctx context.Context, keys []string, member string) error {
	return s.client.AddToSets(ctx, keys, member)
}

func (s *RedisStore) Remove(ctx context.Context, keys []string, member string) error {
	return s.client.RemoveFromSets(ctx, keys, member)
}

func (s *RedisStore) Members(ctx context.Context, keys []string) (map[string][]string, error) {
	return s.client.Members(ctx, keys)
}

func (s *RedisStore) Union(ctx context.Context, keys []string) ([]string, error) {
	return s.client.Union(ctx, keys...)
}
