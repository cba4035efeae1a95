package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/reconcile"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// EntityCache caches record -> entity id lookups. Entries may point at a since-absorbed entity;
// readers follow forwarding, so a stale entry still resolves to the survivor.
type EntityCache struct {
	client    *Client
	keyPrefix string
	ttl       time.Duration
}

// NewEntityCache creates a lookup cache scoped to one dataset
func NewEntityCache(client *Client, datasetKey string, ttl time.Duration) *EntityCache {
	return &EntityCache{
		client:    client,
		keyPrefix: "sage:" + datasetKey + ":record:",
		ttl:       ttl,
	}
}

// GetEntityID implements identity.Cache
func (c *EntityCache) GetEntityID(ctx context.Context, recordID models.RecordID) (string, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "redis.EntityCache.GetEntityID")
	defer span.End()

	entityID, err := c.client.rdb.Get(ctx, c.keyPrefix+string(recordID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return entityID, true, nil
}

// SetEntityIDs implements identity.Cache
func (c *EntityCache) SetEntityIDs(ctx context.Context, assignments map[models.RecordID]string) error {
	ctx, span := tracing.StartSpan(ctx, "redis.EntityCache.SetEntityIDs")
	defer span.End()

	if len(assignments) == 0 {
		return nil
	}
	pipe := c.client.rdb.Pipeline()
	for recordID, entityID := range assignments {
		pipe.Set(ctx, c.keyPrefix+string(recordID), entityID, c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Name implements reconcile.Sink
func (c *EntityCache) Name() string {
	return "entity-cache"
}

// Publish refreshes the cache with the assignments a committed run wrote
func (c *EntityCache) Publish(ctx context.Context, result *reconcile.RunResult) error {
	if !result.Committed {
		return nil
	}
	return c.SetEntityIDs(ctx, result.Assignments)
}
