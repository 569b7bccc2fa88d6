package usage

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// continuityTTL bounds how long a cached continuity snapshot survives
	// an owner going unsampled (e.g. its element is stopped); past this the
	// next sample is treated as a fresh counter rather than stale state.
	continuityTTL = time.Hour

	continuityKeyPrefix = "tomato:usage:continuity:"
)

// ContinuityCache persists each owner's Continuity state to Redis between
// sampler ticks, a read-through warm-cache the same shape as
// alert.Deduplicator's Redis-then-fallback pattern: Redis holds the hot
// state a running sampler needs, and losing it just costs one discarded
// delta on the next tick rather than any correctness failure.
type ContinuityCache struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewContinuityCache wraps rdb for continuity persistence.
func NewContinuityCache(rdb *redis.Client, logger *slog.Logger) *ContinuityCache {
	return &ContinuityCache{rdb: rdb, logger: logger}
}

func continuityKey(owner uuid.UUID) string {
	return continuityKeyPrefix + owner.String()
}

// Warm restores each owner's last-observed-counter values into tracker
// before the first tick, so a sampler resuming after a restart doesn't
// report a full-counter jump as this tick's delta.
func (c *ContinuityCache) Warm(ctx context.Context, tracker *Tracker, owners []uuid.UUID) {
	for _, owner := range owners {
		val, err := c.rdb.Get(ctx, continuityKey(owner)).Result()
		if err != nil {
			if err != redis.Nil {
				c.logger.Warn("continuity cache warm failed", "owner", owner, "error", err)
			}
			continue
		}
		var values map[string]float64
		if err := json.Unmarshal([]byte(val), &values); err != nil {
			c.logger.Warn("continuity cache value corrupt", "owner", owner, "error", err)
			continue
		}
		tracker.Ring(owner).Continuity.Restore(values)
	}
}

// Save persists every owner's current continuity snapshot after a tick.
func (c *ContinuityCache) Save(ctx context.Context, tracker *Tracker, owners []uuid.UUID) {
	for _, owner := range owners {
		values := tracker.Ring(owner).Continuity.Snapshot()
		body, err := json.Marshal(values)
		if err != nil {
			c.logger.Warn("continuity cache marshal failed", "owner", owner, "error", err)
			continue
		}
		if err := c.rdb.Set(ctx, continuityKey(owner), body, continuityTTL).Err(); err != nil {
			c.logger.Warn("continuity cache save failed", "owner", owner, "error", err)
		}
	}
}
