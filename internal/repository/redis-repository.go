package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"permission_service/internal/database/redis"

	redis_v9 "github.com/redis/go-redis/v9"
)

type RedisRepo struct {
	client *redis_v9.Client
}

func NewRedisRepo() *RedisRepo {
	return &RedisRepo{
		client: redis.Redis_Client,
	}
}

func (r *RedisRepo) SaveStructCached(ctx context.Context, key string, model any, ttl time.Duration) error {
	val, err := json.Marshal(model)
	if err != nil {
		return fmt.Errorf("error marshaling struct for cache: %w", err)
	}
	if err := r.client.Set(ctx, key, val, ttl).Err(); err != nil {
		return fmt.Errorf("error saving struct to cache: %w", err)
	}
	return nil
}

func (r *RedisRepo) GetStructCached(ctx context.Context, key string, model any) error {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return fmt.Errorf("error getting struct from cache: %w", err)
	}
	return json.Unmarshal(raw, model)
}

func (r *RedisRepo) DeleteKey(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("error deleting cache key %s: %w", key, err)
	}
	return nil
}

// MembershipCacheKey is the cache key for an actor's membership set.
func MembershipCacheKey(tenantID, actorID string) string {
	return "memberships:" + tenantID + ":" + actorID
}
