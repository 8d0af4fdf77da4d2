// Package cache implements C5: a response cache middleware fronting the
// gateway's expensive downstream calls. Entries are fingerprinted by
// path plus sorted query parameters, carry an adaptive TTL that grows
// with popularity, and are zlib-compressed above a size threshold.
//
// Grounded on original_source/api/cache_middleware.py for the
// fingerprinting, adaptive-TTL, compression, eviction, and warm-up
// formulas (all read in full; the spec leaves their exact shape as an
// Open Question the original source resolves), and on internal/queue's
// Redis pipelining idiom for atomic multi-key writes.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/worthit/pipeline/internal/errors"
	"github.com/worthit/pipeline/internal/models"
)

const (
	entryKeyPrefix = "cache:"
	hitsSortedSet  = "cache:hits"
	sizeCounterKey = "cache:total_bytes"

	baseTTL    = 300 * time.Second
	maxTTL     = 3600 * time.Second
	ttlHitStep = 10

	// evictionBudgetBytes: once the tracked cache size exceeds this,
	// Evict drops the coldest evictionFraction of entries by hit count.
	evictionBudgetBytes = 100 * 1024 * 1024
	evictionFraction    = 0.20

	// warmUpMinSamples / warmUpMissRatio: a path becomes a warm-up
	// candidate once it has been requested at least warmUpMinSamples
	// times with a miss ratio above warmUpMissRatio.
	warmUpMinSamples  = 10
	warmUpMissRatio   = 0.30
)

// Cache is the Redis-backed response cache.
type Cache struct {
	client *redis.Client

	mu      sync.Mutex
	samples map[string]*pathStats
}

type pathStats struct {
	hits   int
	misses int
}

// New wraps an established Redis client as a Cache.
func New(client *redis.Client) *Cache {
	return &Cache{client: client, samples: make(map[string]*pathStats)}
}

// Fingerprint derives a cache key from a request path and its query
// parameters, sorted so parameter order never changes the fingerprint.
func Fingerprint(path string, query map[string][]string) string {
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(path))
	for _, k := range keys {
		values := append([]string(nil), query[k]...)
		sort.Strings(values)
		h.Write([]byte("|" + k + "="))
		for _, v := range values {
			h.Write([]byte(v + ","))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// entryKey/timestampKey follow the store key layout external tooling
// reads this Redis instance by: cache:<fingerprint> for the entry body,
// cache:<fingerprint>:timestamp for its insertion time as a companion
// key, rather than folding both into one blob.
func entryKey(fingerprint string) string {
	return entryKeyPrefix + fingerprint
}

func timestampKey(fingerprint string) string {
	return entryKeyPrefix + fingerprint + ":timestamp"
}

// Get returns the cached entry for a fingerprint, or (nil, false) on a
// miss. A hit increments the entry's hit count and records a popularity
// sample used by the hits sorted set for eviction ranking.
func (c *Cache) Get(ctx context.Context, path, fingerprint string) (*models.CacheEntry, bool, error) {
	val, err := c.client.Get(ctx, entryKey(fingerprint)).Bytes()
	if err == redis.Nil {
		c.recordSample(path, false)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, errors.ConnectionUnavailable)
	}

	raw, err := maybeDecompress(val)
	if err != nil {
		return nil, false, err
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, errors.Wrap(err, errors.Integrity)
	}

	entry.HitCount++
	if err := c.writeEntry(ctx, &entry); err != nil {
		return nil, false, err
	}
	c.client.ZAdd(ctx, hitsSortedSet, redis.Z{Score: float64(entry.HitCount), Member: fingerprint})

	c.recordSample(path, true)
	return &entry, true, nil
}

// Set stores a response body under fingerprint with an adaptive TTL
// seeded at baseTTL, compressing the body when it exceeds the
// compression threshold.
func (c *Cache) Set(ctx context.Context, fingerprint, contentType string, body []byte) error {
	entry := models.CacheEntry{
		Fingerprint: fingerprint,
		Body:        string(body),
		ContentType: contentType,
		InsertedAt:  time.Now(),
		TTL:         baseTTL,
		HitCount:    0,
	}
	if err := c.writeEntry(ctx, &entry); err != nil {
		return err
	}
	c.client.ZAdd(ctx, hitsSortedSet, redis.Z{Score: 0, Member: fingerprint})
	c.client.IncrBy(ctx, sizeCounterKey, int64(len(body)))
	return nil
}

func (c *Cache) writeEntry(ctx context.Context, entry *models.CacheEntry) error {
	entry.TTL = adaptiveTTL(entry.HitCount)

	raw, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, errors.Internal)
	}

	stored, err := maybeCompress(raw)
	if err != nil {
		return err
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, entryKey(entry.Fingerprint), stored, entry.TTL)
		pipe.Set(ctx, timestampKey(entry.Fingerprint), entry.InsertedAt.Unix(), entry.TTL)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, errors.ConnectionUnavailable)
	}
	return nil
}

// adaptiveTTL implements min(baseTTL*(1+hitCount/ttlHitStep), maxTTL),
// the popularity-scaled expiry from cache_middleware.py.
func adaptiveTTL(hitCount int64) time.Duration {
	ttl := time.Duration(float64(baseTTL) * (1 + float64(hitCount/ttlHitStep)))
	if ttl > maxTTL {
		return maxTTL
	}
	return ttl
}

func (c *Cache) recordSample(path string, hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.samples[path]
	if !ok {
		s = &pathStats{}
		c.samples[path] = s
	}
	if hit {
		s.hits++
	} else {
		s.misses++
	}
}

// HitRatio reports the fraction of sampled Get calls that were hits,
// across every path observed since the cache was constructed.
func (c *Cache) HitRatio(ctx context.Context) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var hits, total int
	for _, s := range c.samples {
		hits += s.hits
		total += s.hits + s.misses
	}
	if total == 0 {
		return 0, nil
	}
	return float64(hits) / float64(total), nil
}

// WarmUpCandidates returns the paths that have accumulated enough
// samples and a high enough miss ratio to justify pre-warming.
func (c *Cache) WarmUpCandidates() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []string
	for path, s := range c.samples {
		total := s.hits + s.misses
		if total < warmUpMinSamples {
			continue
		}
		if float64(s.misses)/float64(total) > warmUpMissRatio {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

// Evict drops the coldest evictionFraction of entries by hit count once
// the tracked cache size exceeds evictionBudgetBytes.
func (c *Cache) Evict(ctx context.Context) (int, error) {
	sizeStr, err := c.client.Get(ctx, sizeCounterKey).Result()
	if err != nil && err != redis.Nil {
		return 0, errors.Wrap(err, errors.ConnectionUnavailable)
	}
	size, _ := strconv.ParseInt(sizeStr, 10, 64)
	if size < evictionBudgetBytes {
		return 0, nil
	}

	total, err := c.client.ZCard(ctx, hitsSortedSet).Result()
	if err != nil {
		return 0, errors.Wrap(err, errors.ConnectionUnavailable)
	}
	if total == 0 {
		return 0, nil
	}

	evictCount := int64(float64(total) * evictionFraction)
	if evictCount == 0 {
		evictCount = 1
	}

	coldest, err := c.client.ZRange(ctx, hitsSortedSet, 0, evictCount-1).Result()
	if err != nil {
		return 0, errors.Wrap(err, errors.ConnectionUnavailable)
	}

	for _, fingerprint := range coldest {
		c.client.Del(ctx, entryKey(fingerprint), timestampKey(fingerprint))
		c.client.ZRem(ctx, hitsSortedSet, fingerprint)
	}
	return len(coldest), nil
}
