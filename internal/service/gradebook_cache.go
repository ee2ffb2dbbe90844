package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/grade-insight-api/internal/observability"
)

// GradebookCache stores rendered read models in Redis. Every key embeds the
// tenant's cache version, so bumping the version after an import invalidates
// all cached views of that tenant at once. A nil client disables caching.
type GradebookCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewGradebookCache constructs a cache helper.
func NewGradebookCache(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *GradebookCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &GradebookCache{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "gradebook_cache").Logger(),
	}
}

// Enabled reports whether a Redis client is configured.
func (c *GradebookCache) Enabled() bool {
	return c != nil && c.client != nil
}

func versionKey(tenantID string) string {
	return fmt.Sprintf("gradebook:%s:version", tenantID)
}

// Version returns the current cache generation for a tenant.
func (c *GradebookCache) Version(ctx context.Context, tenantID string) (int64, error) {
	if !c.Enabled() {
		return 0, nil
	}
	raw, err := c.client.Get(ctx, versionKey(tenantID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

// Bump invalidates every cached view of a tenant.
func (c *GradebookCache) Bump(ctx context.Context, tenantID string) {
	if !c.Enabled() {
		return
	}
	if err := c.client.Incr(ctx, versionKey(tenantID)).Err(); err != nil {
		c.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("failed to bump gradebook cache version")
	}
}

// Key builds a versioned cache key for a query.
func (c *GradebookCache) Key(ctx context.Context, tenantID, query string, params ...string) (string, bool) {
	if !c.Enabled() {
		return "", false
	}
	version, err := c.Version(ctx, tenantID)
	if err != nil {
		observability.CacheEvents().WithLabelValues(query, "error").Inc()
		c.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("failed to read gradebook cache version")
		return "", false
	}

	key := fmt.Sprintf("gradebook:%s:v%d:%s", tenantID, version, query)
	for _, param := range params {
		key += ":" + strconv.Quote(param)
	}
	return key, true
}

// Load decodes a cached value into dest and reports whether it was found.
func (c *GradebookCache) Load(ctx context.Context, query, key string, dest interface{}) bool {
	if !c.Enabled() || key == "" {
		return false
	}
	cached, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			observability.CacheEvents().WithLabelValues(query, "error").Inc()
			c.logger.Warn().Err(err).Str("key", key).Msg("failed to read gradebook cache")
		} else {
			observability.CacheEvents().WithLabelValues(query, "miss").Inc()
		}
		return false
	}
	if err := json.Unmarshal([]byte(cached), dest); err != nil {
		observability.CacheEvents().WithLabelValues(query, "error").Inc()
		return false
	}
	observability.CacheEvents().WithLabelValues(query, "hit").Inc()
	return true
}

// Store encodes value under key.
func (c *GradebookCache) Store(ctx context.Context, query, key string, value interface{}) {
	if !c.Enabled() || key == "" {
		return
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		observability.CacheEvents().WithLabelValues(query, "error").Inc()
		c.logger.Warn().Err(err).Str("key", key).Msg("failed to store gradebook cache")
	}
}
