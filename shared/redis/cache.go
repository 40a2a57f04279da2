package redis

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// setIfNewer writes KEYS[1] and its version KEYS[2] unless the stored version
// is already higher than ARGV[2]. ARGV[3] is the TTL in milliseconds, 0 for none.
var setIfNewer = goredis.NewScript(`
local current = redis.call('GET', KEYS[2])
if current and tonumber(current) > tonumber(ARGV[2]) then
	return 0
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ttl)
	redis.call('SET', KEYS[2], ARGV[2], 'PX', ttl)
else
	redis.call('SET', KEYS[1], ARGV[1])
	redis.call('SET', KEYS[2], ARGV[2])
end
return 1
`)

// ViewCache is a JSON-backed Redis cache for read model projections of type T.
// Keys are namespaced with prefix. A zero TTL means keys do not expire.
//
// Every entry carries a version next to it. A write with a lower version than
// the stored one is dropped, so a slow read-through fill cannot replace a
// projection written after a later commit.
type ViewCache[T any] struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

func NewViewCache[T any](client *goredis.Client, prefix string, ttl time.Duration) *ViewCache[T] {
	return &ViewCache[T]{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: slog.Default().With("cache", prefix),
	}
}

func (c *ViewCache[T]) versionKey(key string) string {
	return c.prefix + key + "#v"
}

// Get returns (nil, false) on any miss or deserialisation error.
func (c *ViewCache[T]) Get(ctx context.Context, key string) (*T, bool) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		c.logger.WarnContext(ctx, "dropping undecodable cache entry", "key", key, "error", err)
		c.Delete(ctx, key)
		return nil, false
	}
	return &v, true
}

// Set stores value under key unless a higher version is already cached.
// Write failures are logged, not returned.
func (c *ViewCache[T]) Set(ctx context.Context, key string, value *T, version int64) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.ErrorContext(ctx, "cache marshal failed", "key", key, "error", err)
		return
	}
	written, err := setIfNewer.Run(ctx, c.client,
		[]string{c.prefix + key, c.versionKey(key)},
		data, version, c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		c.logger.WarnContext(ctx, "cache write failed", "key", key, "error", err)
		return
	}
	if written == 0 {
		c.logger.DebugContext(ctx, "cache write skipped for older version", "key", key, "version", version)
	}
}

func (c *ViewCache[T]) Delete(ctx context.Context, key string) {
	if err := c.client.Del(ctx, c.prefix+key, c.versionKey(key)).Err(); err != nil {
		c.logger.WarnContext(ctx, "cache delete failed", "key", key, "error", err)
	}
}
