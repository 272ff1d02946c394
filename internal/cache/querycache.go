package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"homeops-platform/internal/telemetry"
)

const (
	entryPrefix = "cache:entry:"
	indexKey    = "cache:index"
	hitsPrefix  = "cache:stats:hits:"
	missPrefix  = "cache:stats:misses:"
)

// Entry is a stored query-cache record.
type Entry struct {
	Key          string    `json:"key"`
	Value        string    `json:"value"`
	QueryHash    string    `json:"query_hash,omitempty"`
	HitCount     int64     `json:"hit_count"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastAccessed time.Time `json:"last_accessed_at"`
}

// Stats is the windowed hit-rate aggregate.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	Window  string  `json:"window"`
}

// QueryCache is a TTL-based query-result cache in redis. An entry past
// its expiry is a miss but stays physically present until Evict removes
// it; hit accounting happens server-side so concurrent readers cannot
// lose increments.
type QueryCache struct {
	client *redis.Client
	window time.Duration
	logger *zap.SugaredLogger
}

// New constructs a query cache with the given stats window.
func New(client *redis.Client, statsWindow time.Duration, logger *zap.SugaredLogger) *QueryCache {
	if statsWindow <= 0 {
		statsWindow = 15 * time.Minute
	}
	return &QueryCache{client: client, window: statsWindow, logger: logger}
}

func entryKey(key string) string {
	return entryPrefix + key
}

// Get returns the cached value if present and unexpired, incrementing
// hit_count and last_accessed_at in the same script. Expired or absent
// entries are misses; hit_count never moves on a miss.
func (c *QueryCache) Get(ctx context.Context, key string) (string, bool, error) {
	now := time.Now().UnixMilli()
	res, err := getScript.Run(ctx, c.client, []string{entryKey(key)}, now).Result()
	if err != nil {
		return "", false, fmt.Errorf("cache get %q: %w", key, err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return "", false, fmt.Errorf("cache get %q: unexpected script result %T", key, res)
	}
	hit := arr[0].(int64) == 1
	c.recordOutcome(ctx, hit)
	if !hit {
		return "", false, nil
	}
	value, _ := arr[1].(string)
	return value, true, nil
}

// Put upserts the entry, overwriting any existing value for the key and
// resetting hit_count to zero.
func (c *QueryCache) Put(ctx context.Context, key, value, queryHash string, ttl time.Duration) error {
	now := time.Now()
	expires := now.Add(ttl)

	pipe := c.client.TxPipeline()
	ek := entryKey(key)
	pipe.Del(ctx, ek)
	pipe.HSet(ctx, ek, map[string]interface{}{
		"value":            value,
		"query_hash":       queryHash,
		"hit_count":        0,
		"expires_at_ms":    expires.UnixMilli(),
		"last_accessed_ms": now.UnixMilli(),
	})
	pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(expires.UnixMilli()), Member: key})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache put %q: %w", key, err)
	}
	return nil
}

// Invalidate expires the entry immediately. The record stays physically
// present until the next eviction sweep, matching Evict's contract.
func (c *QueryCache) Invalidate(ctx context.Context, key string) error {
	now := time.Now().UnixMilli()
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, entryKey(key), "expires_at_ms", now)
	pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(now), Member: key})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache invalidate %q: %w", key, err)
	}
	return nil
}

// GetEntry returns the raw stored entry without touching hit accounting.
func (c *QueryCache) GetEntry(ctx context.Context, key string) (Entry, bool, error) {
	fields, err := c.client.HGetAll(ctx, entryKey(key)).Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache entry %q: %w", key, err)
	}
	if len(fields) == 0 {
		return Entry{}, false, nil
	}
	hits, _ := strconv.ParseInt(fields["hit_count"], 10, 64)
	expiresMS, _ := strconv.ParseInt(fields["expires_at_ms"], 10, 64)
	accessedMS, _ := strconv.ParseInt(fields["last_accessed_ms"], 10, 64)
	return Entry{
		Key:          key,
		Value:        fields["value"],
		QueryHash:    fields["query_hash"],
		HitCount:     hits,
		ExpiresAt:    time.UnixMilli(expiresMS),
		LastAccessed: time.UnixMilli(accessedMS),
	}, true, nil
}

// Evict removes entries whose expiry has passed. Eviction is the only
// path that physically deletes expired entries.
func (c *QueryCache) Evict(ctx context.Context, now time.Time) (int, error) {
	keys, err := c.client.ZRangeByScore(ctx, indexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("cache evict scan: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	pipe := c.client.TxPipeline()
	for _, k := range keys {
		pipe.Del(ctx, entryKey(k))
		pipe.ZRem(ctx, indexKey, k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("cache evict: %w", err)
	}
	return len(keys), nil
}

// Stats sums per-minute hit/miss buckets over the configured window.
func (c *QueryCache) Stats(ctx context.Context) (Stats, error) {
	minutes := int(c.window / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	nowMin := time.Now().Unix() / 60

	hitKeys := make([]string, 0, minutes)
	missKeys := make([]string, 0, minutes)
	for i := 0; i < minutes; i++ {
		bucket := strconv.FormatInt(nowMin-int64(i), 10)
		hitKeys = append(hitKeys, hitsPrefix+bucket)
		missKeys = append(missKeys, missPrefix+bucket)
	}

	hits, err := c.sumBuckets(ctx, hitKeys)
	if err != nil {
		return Stats{}, err
	}
	misses, err := c.sumBuckets(ctx, missKeys)
	if err != nil {
		return Stats{}, err
	}

	st := Stats{Hits: hits, Misses: misses, Window: c.window.String()}
	if total := hits + misses; total > 0 {
		st.HitRate = float64(hits) / float64(total)
	}
	return st, nil
}

func (c *QueryCache) sumBuckets(ctx context.Context, keys []string) (int64, error) {
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("cache stats: %w", err)
	}
	var total int64
	for _, v := range vals {
		if s, ok := v.(string); ok {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				total += n
			}
		}
	}
	return total, nil
}

// recordOutcome bumps the current minute's bucket. Failures are swallowed
// and logged; stats accounting must never fail a lookup.
func (c *QueryCache) recordOutcome(ctx context.Context, hit bool) {
	bucket := strconv.FormatInt(time.Now().Unix()/60, 10)
	key := missPrefix + bucket
	if hit {
		key = hitsPrefix + bucket
		telemetry.CacheHits.Inc()
	} else {
		telemetry.CacheMisses.Inc()
	}
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, c.window+2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Debugw("cache stats bucket update failed", "error", err)
	}
}

var getScript = redis.NewScript(`
local entry = KEYS[1]
local now = tonumber(ARGV[1])

if redis.call('EXISTS', entry) == 0 then
  return {0, ''}
end

local exp = tonumber(redis.call('HGET', entry, 'expires_at_ms'))
if exp and now >= exp then
  return {0, ''}
end

redis.call('HINCRBY', entry, 'hit_count', 1)
redis.call('HSET', entry, 'last_accessed_ms', now)
return {1, redis.call('HGET', entry, 'value')}
`)
