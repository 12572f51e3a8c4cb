// Package coordination tracks worker liveness in Redis. Each worker refreshes
// a TTL key; anything readable under the prefix is a live worker. Purely
// advisory: queue claim safety never depends on this registry.
package coordination

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	workerKeyPrefix = "pipeline:workers:"
	heartbeatTTL    = 30 * time.Second
)

// Heartbeat maintains this worker's liveness key. A nil *Heartbeat is a
// no-op, so deployments without Redis skip the registry entirely.
type Heartbeat struct {
	rdb      *redis.Client
	workerID string
	log      *logrus.Entry
}

// NewHeartbeat connects to Redis at addr. Empty addr returns nil (disabled).
func NewHeartbeat(addr, workerID string, log *logrus.Entry) *Heartbeat {
	if addr == "" {
		return nil
	}
	return &Heartbeat{
		rdb:      redis.NewClient(&redis.Options{Addr: addr}),
		workerID: workerID,
		log:      log,
	}
}

// Run refreshes the liveness key until ctx is cancelled, then removes it.
// Redis failures are logged and retried on the next tick, never fatal.
func (h *Heartbeat) Run(ctx context.Context) {
	if h == nil {
		return
	}
	key := workerKeyPrefix + h.workerID

	ticker := time.NewTicker(heartbeatTTL / 3)
	defer ticker.Stop()

	h.beat(ctx, key)
	for {
		select {
		case <-ctx.Done():
			cleanup, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := h.rdb.Del(cleanup, key).Err(); err != nil {
				h.log.WithError(err).Debug("heartbeat key cleanup failed")
			}
			return
		case <-ticker.C:
			h.beat(ctx, key)
		}
	}
}

func (h *Heartbeat) beat(ctx context.Context, key string) {
	payload := fmt.Sprintf("%s|%s", h.workerID, time.Now().UTC().Format(time.RFC3339))
	if err := h.rdb.Set(ctx, key, payload, heartbeatTTL).Err(); err != nil {
		h.log.WithError(err).Warn("worker heartbeat failed")
	}
}

// LiveWorkers lists worker ids with a fresh heartbeat. Nil receiver returns
// an empty list.
func (h *Heartbeat) LiveWorkers(ctx context.Context) ([]string, error) {
	if h == nil {
		return nil, nil
	}
	var (
		workers []string
		cursor  uint64
	)
	for {
		keys, next, err := h.rdb.Scan(ctx, cursor, workerKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan worker registry: %w", err)
		}
		for _, k := range keys {
			workers = append(workers, strings.TrimPrefix(k, workerKeyPrefix))
		}
		if next == 0 {
			return workers, nil
		}
		cursor = next
	}
}

// Close releases the Redis connection.
func (h *Heartbeat) Close() error {
	if h == nil {
		return nil
	}
	return h.rdb.Close()
}
