package reaper

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/opentomato/tomato/pkg/topology"
)

// timeoutChannel is the Redis pub/sub channel a reaper step transition is
// broadcast on, grounded on escalation.Engine's "nightowl:alert:escalated"
// publish-after-persist pattern: consumers (a websocket push, another
// instance's cache) hear about the step change without polling storage.
const timeoutChannel = "tomato:topology:timeout"

// Broadcaster publishes a topology's timeout step transitions to Redis.
type Broadcaster struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewBroadcaster wraps rdb for step-transition broadcasts.
func NewBroadcaster(rdb *redis.Client, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{rdb: rdb, logger: logger}
}

type timeoutEvent struct {
	TopologyID string `json:"topology_id"`
	Step       int    `json:"step"`
}

func (b *Broadcaster) publish(ctx context.Context, t *topology.Topology) {
	payload, err := json.Marshal(timeoutEvent{TopologyID: t.ID.String(), Step: int(t.TimeoutStep)})
	if err != nil {
		b.logger.Warn("timeout event marshal failed", "topology", t.ID, "error", err)
		return
	}
	if err := b.rdb.Publish(ctx, timeoutChannel, payload).Err(); err != nil {
		b.logger.Warn("timeout event publish failed", "topology", t.ID, "error", err)
	}
}

// WithBroadcaster attaches b so the reaper publishes every successful step
// transition after persisting it.
func (r *Reaper) WithBroadcaster(b *Broadcaster) *Reaper {
	r.broadcaster = b
	return r
}
