// Package cache holds the caches that sit in front of the backing store:
// variable-set definitions in Redis and rating sets in process.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/report-variables-server/internal/domain"
	"github.com/report-variables-server/internal/remote"
)

const setKeyPrefix = "report_variables:variable_set:"

// SetCacheClient wraps a Redis client caching decoded variable sets
type SetCacheClient struct {
	redis      *redis.Client
	defaultTTL time.Duration
	log        *logrus.Logger
}

var _ remote.SetCache = (*SetCacheClient)(nil)

// NewSetCacheClient connects to the Redis server named by config.RedisURL
func NewSetCacheClient(ctx context.Context, config domain.CacheConfig, logger *logrus.Logger) (*SetCacheClient, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ttl := config.DefaultTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	logger.WithFields(logrus.Fields{
		"addr": opts.Addr,
		"ttl":  ttl,
	}).Info("Variable set cache connected")

	return &SetCacheClient{
		redis:      client,
		defaultTTL: ttl,
		log:        logger,
	}, nil
}

// CachedVariableSet is the Redis envelope of a cached set
type CachedVariableSet struct {
	Data      *domain.VariableSet `json:"data"`
	CachedAt  time.Time           `json:"cached_at"`
	ExpiresAt time.Time           `json:"expires_at"`
}

func setKey(key string) string {
	return setKeyPrefix + key
}

// GetVariableSet returns the cached set for key. Corrupt and expired
// entries are removed and reported as misses.
func (c *SetCacheClient) GetVariableSet(ctx context.Context, key string) (*domain.VariableSet, bool, error) {
	redisKey := setKey(key)

	val, err := c.redis.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get variable set cache: %w", err)
	}

	set, ok := decodeEntry(val, time.Now())
	if !ok {
		c.log.WithField("key", key).Debug("Dropping stale variable set cache entry")
		c.redis.Del(ctx, redisKey)
		return nil, false, nil
	}
	return set, true, nil
}

// SetVariableSet caches set under its key for the default TTL
func (c *SetCacheClient) SetVariableSet(ctx context.Context, set *domain.VariableSet) error {
	data, err := encodeEntry(set, time.Now(), c.defaultTTL)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, setKey(set.Key()), data, c.defaultTTL).Err()
}

// DeleteVariableSet drops the cached set for key
func (c *SetCacheClient) DeleteVariableSet(ctx context.Context, key string) error {
	return c.redis.Del(ctx, setKey(key)).Err()
}

// InvalidateEntity removes every cached set of one entity version.
func (c *SetCacheClient) InvalidateEntity(ctx context.Context, entityID, entityVersionID string) error {
	pattern := setKeyPrefix + domain.NewToken("", entityID, entityVersionID).EntityPrefix() + "*"

	var keys []string
	iter := c.redis.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan keys for pattern %s: %w", pattern, err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...).Err()
}

// Ping checks if Redis connection is alive
func (c *SetCacheClient) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *SetCacheClient) Close() error {
	return c.redis.Close()
}

func encodeEntry(set *domain.VariableSet, now time.Time, ttl time.Duration) ([]byte, error) {
	data, err := json.Marshal(CachedVariableSet{
		Data:      set,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal variable set cache data: %w", err)
	}
	return data, nil
}

func decodeEntry(val []byte, now time.Time) (*domain.VariableSet, bool) {
	var cached CachedVariableSet
	if err := json.Unmarshal(val, &cached); err != nil || cached.Data == nil {
		return nil, false
	}
	if now.After(cached.ExpiresAt) {
		return nil, false
	}
	return cached.Data, true
}
