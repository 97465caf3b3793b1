package master

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"hash/fnv"
	"time"

	"github.com/rs/zerolog"

	"github.com/medterm/masterdata/internal/platform/kv"
	"github.com/medterm/masterdata/internal/platform/metrics"
)

// DefaultCacheTTL is how long a cached list stays valid.
const DefaultCacheTTL = 300 * time.Second

// ListCache keeps short-lived copies of list results in the key-value store.
// Every failure is treated as a miss.
type ListCache struct {
	kv      kv.Store
	ttl     time.Duration
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewListCache returns nil when ttl is not positive, which disables caching.
func NewListCache(store kv.Store, ttl time.Duration, logger zerolog.Logger, m *metrics.Metrics) *ListCache {
	if store == nil || ttl <= 0 {
		return nil
	}
	return &ListCache{kv: store, ttl: ttl, logger: logger, metrics: m}
}

func cacheKey(t Type, f ListFilter) string {
	h := fnv.New64a()
	h.Write([]byte(string(f.Status)))
	h.Write([]byte{0})
	h.Write([]byte(f.Category))
	h.Write([]byte{0})
	h.Write([]byte(f.OrganizationID))
	return cachePrefix(t) + hex.EncodeToString(h.Sum(nil))
}

func (c *ListCache) Get(ctx context.Context, t Type, f ListFilter) ([]*Record, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := c.kv.Get(ctx, cacheKey(t, f))
	if err != nil {
		c.metrics.IncCache("miss")
		return nil, false
	}
	var recs []*Record
	if err := json.Unmarshal(raw, &recs); err != nil {
		c.logger.Debug().Err(err).Str("type", string(t)).Msg("discarding corrupt list cache entry")
		c.metrics.IncCache("corrupt")
		return nil, false
	}
	c.metrics.IncCache("hit")
	return recs, true
}

func (c *ListCache) Set(ctx context.Context, t Type, f ListFilter, recs []*Record) {
	if c == nil {
		return
	}
	if recs == nil {
		recs = []*Record{}
	}
	b, err := json.Marshal(recs)
	if err != nil {
		return
	}
	if err := c.kv.Put(ctx, cacheKey(t, f), b, c.ttl); err != nil {
		c.logger.Debug().Err(err).Str("type", string(t)).Msg("list cache write failed")
	}
}

// Invalidate drops every cached list of the type.
func (c *ListCache) Invalidate(ctx context.Context, t Type) {
	if c == nil {
		return
	}
	var keys []string
	err := kv.ListAll(ctx, c.kv, cachePrefix(t), kv.DefaultListLimit, func(key string) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("type", string(t)).Msg("list cache invalidation scan failed")
	}
	for _, k := range keys {
		if err := c.kv.Delete(ctx, k); err != nil {
			c.logger.Warn().Err(err).Str("key", k).Msg("list cache invalidation failed")
		}
	}
}
