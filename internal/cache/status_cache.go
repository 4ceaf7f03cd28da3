package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	statusdomain "github.com/adlift/trafficdesk/internal/status/domain"
)

const (
	statusKeyPrefix  = "tdesk:status:"
	defaultStatusTTL = 30 * time.Minute
	redisReadTimeout = 150 * time.Millisecond
)

// StatusCache holds tracker-status records keyed by (offer, buyer, source).
// Reads never fail: a missing or unreadable entry reports absent and the
// caller degrades to not_in_tracker. Ready is false until the first full
// refresh (or warm-start load) so the UI can show a loading indicator
// instead of misreporting fresh-boot emptiness as "not in tracker".
type StatusCache interface {
	statusdomain.Reader
	SetStatus(ctx context.Context, key statusdomain.Key, record statusdomain.Record)
	MarkRefreshed(at time.Time)
	Ready() bool
}

type statusCache struct {
	log       *zap.Logger
	memory    Cache[string, statusdomain.Record]
	rdb       *redis.Client
	ttl       time.Duration
	refreshed atomic.Bool
}

// NewStatusCache returns a status cache backed by Redis when a client is
// configured, with an in-memory layer in front. Without Redis the memory
// layer is the only store, which is fine for a single worker instance.
func NewStatusCache(rdb *redis.Client, log *zap.Logger) StatusCache {
	return &statusCache{
		log:    log.Named("status.cache"),
		memory: NewTTLCache[string, statusdomain.Record](),
		rdb:    rdb,
		ttl:    defaultStatusTTL,
	}
}

func (c *statusCache) GetStatus(key statusdomain.Key) (statusdomain.Record, bool) {
	if record, ok := c.memory.Get(key.String()); ok {
		return record, true
	}
	if c.rdb == nil {
		return statusdomain.Record{}, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisReadTimeout)
	defer cancel()

	raw, err := c.rdb.Get(ctx, statusKeyPrefix+key.String()).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Debug("redis status read failed", zap.String("key", key.String()), zap.Error(err))
		}
		return statusdomain.Record{}, false
	}
	var record statusdomain.Record
	if err := json.Unmarshal(raw, &record); err != nil {
		c.log.Warn("corrupt status cache entry", zap.String("key", key.String()), zap.Error(err))
		return statusdomain.Record{}, false
	}
	c.memory.Set(key.String(), record, c.ttl)
	return record, true
}

func (c *statusCache) SetStatus(ctx context.Context, key statusdomain.Key, record statusdomain.Record) {
	c.memory.Set(key.String(), record, c.ttl)
	if c.rdb == nil {
		return
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, statusKeyPrefix+key.String(), raw, c.ttl).Err(); err != nil {
		c.log.Warn("redis status write failed", zap.String("key", key.String()), zap.Error(err))
	}
}

func (c *statusCache) MarkRefreshed(time.Time) {
	c.refreshed.Store(true)
}

func (c *statusCache) Ready() bool {
	return c.refreshed.Load()
}
