package clarify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ledgerchat/ledgerchat-engine/pkg/models"
)

// OptionCache caches clarification options per (tenant, slot, hint). A cache
// is an optimization only: misses and cache errors fall through to the data
// store, and Invalidate exists so callers can drop entries after the
// underlying entity tables change.
type OptionCache interface {
	Get(ctx context.Context, tenantID uuid.UUID, slot, hint string) ([]models.ClarificationOption, bool)
	Set(ctx context.Context, tenantID uuid.UUID, slot, hint string, options []models.ClarificationOption)
	Invalidate(ctx context.Context, tenantID uuid.UUID, slot string) error
}

type redisOptionCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisOptionCache creates an OptionCache backed by client. Entries
// expire after ttl.
func NewRedisOptionCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) OptionCache {
	return &redisOptionCache{
		client: client,
		ttl:    ttl,
		logger: logger.Named("option-cache"),
	}
}

var _ OptionCache = (*redisOptionCache)(nil)

func cacheKey(tenantID uuid.UUID, slot, hint string) string {
	return fmt.Sprintf("clarify:%s:%s:%s", tenantID, slot, hint)
}

func (c *redisOptionCache) Get(ctx context.Context, tenantID uuid.UUID, slot, hint string) ([]models.ClarificationOption, bool) {
	data, err := c.client.Get(ctx, cacheKey(tenantID, slot, hint)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("option cache read failed", zap.Error(err))
		}
		return nil, false
	}

	var options []models.ClarificationOption
	if err := json.Unmarshal(data, &options); err != nil {
		c.logger.Warn("option cache entry corrupt", zap.Error(err))
		return nil, false
	}
	return options, true
}

func (c *redisOptionCache) Set(ctx context.Context, tenantID uuid.UUID, slot, hint string, options []models.ClarificationOption) {
	data, err := json.Marshal(options)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(tenantID, slot, hint), data, c.ttl).Err(); err != nil {
		c.logger.Warn("option cache write failed", zap.Error(err))
	}
}

// Invalidate removes every cached entry for the tenant's slot, across all
// hints.
func (c *redisOptionCache) Invalidate(ctx context.Context, tenantID uuid.UUID, slot string) error {
	pattern := fmt.Sprintf("clarify:%s:%s:*", tenantID, slot)

	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to invalidate option cache: %w", err)
		}
	}
	return iter.Err()
}

// noopOptionCache is used when Redis is not configured; every read misses.
type noopOptionCache struct{}

// NewNoopOptionCache returns a cache that stores nothing.
func NewNoopOptionCache() OptionCache {
	return noopOptionCache{}
}

func (noopOptionCache) Get(context.Context, uuid.UUID, string, string) ([]models.ClarificationOption, bool) {
	return nil, false
}
func (noopOptionCache) Set(context.Context, uuid.UUID, string, string, []models.ClarificationOption) {}
func (noopOptionCache) Invalidate(context.Context, uuid.UUID, string) error {
	return nil
}
