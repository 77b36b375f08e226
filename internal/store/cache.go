package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nidhogg/copperline/internal/chat"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const snapshotKeyPrefix = "copperline:crm:"

// SnapshotCache is a read-through Redis cache in front of a CRM snapshot
// source. Snapshots are rebuilt on every chat turn otherwise, and the
// aggregate queries are the most expensive part of a turn.
type SnapshotCache struct {
	rdb    *redis.Client
	inner  chat.CRMProvider
	ttl    time.Duration
	logger *zap.Logger
}

// NewSnapshotCache connects to Redis and wraps the given source. A zero
// ttl defaults to one minute.
func NewSnapshotCache(redisURL string, inner chat.CRMProvider, ttl time.Duration, logger *zap.Logger) (*SnapshotCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	logger.Info("Redis connected")
	return &SnapshotCache{rdb: rdb, inner: inner, ttl: ttl, logger: logger}, nil
}

// Snapshot returns the cached snapshot when fresh, otherwise rebuilds it
// from the source and stores it. Cache failures fall through to the source.
func (c *SnapshotCache) Snapshot(ctx context.Context, userID string) (*chat.CRMSnapshot, error) {
	key := snapshotKeyPrefix + userID

	data, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var snap chat.CRMSnapshot
		if json.Unmarshal(data, &snap) == nil {
			return &snap, nil
		}
	} else if err != redis.Nil {
		c.logger.Warn("snapshot cache read failed", zap.String("user_id", userID), zap.Error(err))
	}

	snap, err := c.inner.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(snap); err == nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("snapshot cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return snap, nil
}

// Invalidate drops the user's cached snapshot, for callers that just
// mutated CRM data.
func (c *SnapshotCache) Invalidate(ctx context.Context, userID string) error {
	return c.rdb.Del(ctx, snapshotKeyPrefix+userID).Err()
}

// Close shuts down the Redis connection.
func (c *SnapshotCache) Close() error {
	return c.rdb.Close()
}
