package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
)

// CacheRepository stores short-lived JSON documents such as timetable proposals in Redis.
type CacheRepository struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewCacheRepository constructs a cache repository. Keys are namespaced with prefix.
func NewCacheRepository(client *redis.Client, prefix string, logger *zap.Logger) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRepository{client: client, prefix: prefix, logger: logger}
}

func (r *CacheRepository) key(id string) string {
	return r.prefix + id
}

// Get loads the document stored under id into dest. Missing keys yield ErrCacheMiss.
func (r *CacheRepository) Get(ctx context.Context, id string, dest interface{}) error {
	if r.client == nil {
		return appErrors.ErrCacheMiss
	}
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return appErrors.ErrCacheMiss
		}
		return fmt.Errorf("redis get %s: %w", r.key(id), err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode cached %s: %w", r.key(id), err)
	}
	return nil
}

// Set stores value under id until ttl elapses.
func (r *CacheRepository) Set(ctx context.Context, id string, value interface{}, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cached %s: %w", r.key(id), err)
	}
	if err := r.client.Set(ctx, r.key(id), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.key(id), err)
	}
	return nil
}

// Delete removes the document stored under id.
func (r *CacheRepository) Delete(ctx context.Context, id string) error {
	if r.client == nil {
		return nil
	}
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		r.logger.Warn("cache delete failed", zap.String("key", r.key(id)), zap.Error(err))
		return fmt.Errorf("redis delete %s: %w", r.key(id), err)
	}
	return nil
}
