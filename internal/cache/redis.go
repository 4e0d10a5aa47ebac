// Package cache provides the Redis-backed read-through cache for the
// inference gateway's embedding calls. The cache is best-effort: a
// missing or unreachable Redis degrades every lookup to a miss so the
// gateway keeps serving from the upstream runtime.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"dev.ragsuite.platform/internal/config"
	"dev.ragsuite.platform/internal/inference"
)

const embedKeyPrefix = "embeddings:"

// EmbeddingCache stores gateway embedding results keyed by the
// (model, inputs) hash the service computes. Implements
// inference.EmbedCache.
type EmbeddingCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func NewEmbeddingCache(cfg config.RedisConfig, ttl time.Duration, logger *logrus.Logger) *EmbeddingCache {
	if logger == nil {
		logger = logrus.New()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Host + ":" + cfg.Port,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	return &EmbeddingCache{client: client, ttl: ttl, logger: logger}
}

// GetEmbeddings returns the cached result for key, or a miss when the
// entry is absent, malformed, or Redis is unreachable.
func (c *EmbeddingCache) GetEmbeddings(ctx context.Context, key string) (*inference.EmbedResult, bool) {
	data, err := c.client.Get(ctx, embedKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).Debug("Embedding cache read failed")
		}
		return nil, false
	}

	var result inference.EmbedResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Dropping malformed embedding cache entry")
		_ = c.client.Del(ctx, embedKeyPrefix+key).Err()
		return nil, false
	}
	return &result, true
}

// SetEmbeddings stores result under key with the configured TTL.
// Failures only log; the response was already computed.
func (c *EmbeddingCache) SetEmbeddings(ctx context.Context, key string, result *inference.EmbedResult) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to encode embedding cache entry")
		return
	}
	if err := c.client.Set(ctx, embedKeyPrefix+key, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Debug("Embedding cache write failed")
	}
}

// Ping reports whether Redis answers; used by startup logging only,
// the cache itself tolerates an absent server.
func (c *EmbeddingCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *EmbeddingCache) Close() error {
	return c.client.Close()
}
