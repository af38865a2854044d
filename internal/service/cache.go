package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Cache is a byte-value cache with a fixed TTL chosen at construction.
// Implementations must be safe for concurrent use; a duplicate computation
// on a race is wasted work, not a correctness bug.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
	Delete(ctx context.Context, key string)
}

// memoryCache is an in-process LRU with per-cache expiry.
type memoryCache struct {
	lru *expirable.LRU[string, []byte]
}

// NewMemoryCache creates an in-process cache holding at most size entries
// for at most ttl each.
func NewMemoryCache(size int, ttl time.Duration) Cache {
	return &memoryCache{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	return c.lru.Get(key)
}

func (c *memoryCache) Set(_ context.Context, key string, value []byte) {
	c.lru.Add(key, value)
}

func (c *memoryCache) Delete(_ context.Context, key string) {
	c.lru.Remove(key)
}

// redisCache shares cache entries across replicas. Redis errors are treated
// as misses so the pipeline recomputes instead of failing.
type redisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisCache creates a Redis-backed cache under the given key prefix.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration, logger zerolog.Logger) Cache {
	return &redisCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With().Str("service", "redis_cache").Str("prefix", prefix).Logger(),
	}
}

func (c *redisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	value, err := c.client.Get(ctx, c.prefix+":"+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn().Err(err).Msg("cache read failed")
		}
		return nil, false
	}
	return value, true
}

func (c *redisCache) Set(ctx context.Context, key string, value []byte) {
	if err := c.client.Set(ctx, c.prefix+":"+key, value, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("cache write failed")
	}
}

func (c *redisCache) Delete(ctx context.Context, key string) {
	if err := c.client.Del(ctx, c.prefix+":"+key).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("cache delete failed")
	}
}

// Cache sizing and expiry. The feed cache is keyed by calendar date, so the
// 24h TTL is a backstop; keys invalidate naturally at midnight.
const (
	planCacheSize = 10000
	planCacheTTL  = time.Hour

	searchCacheSize = 5000
	searchCacheTTL  = 30 * time.Minute

	feedCacheSize = 1000
	feedCacheTTL  = 24 * time.Hour
)

// ResultCache bundles the three pipeline caches. None of them ever stores
// allergy-guard output keyed independently of the user: guard output is
// embedded in the per-user feed entry or recomputed fresh on the chat path.
type ResultCache struct {
	Plan   Cache
	Search Cache
	Feed   Cache
}

// NewMemoryResultCache builds the in-process cache set.
func NewMemoryResultCache() *ResultCache {
	return &ResultCache{
		Plan:   NewMemoryCache(planCacheSize, planCacheTTL),
		Search: NewMemoryCache(searchCacheSize, searchCacheTTL),
		Feed:   NewMemoryCache(feedCacheSize, feedCacheTTL),
	}
}

// NewRedisResultCache builds the Redis-backed cache set.
func NewRedisResultCache(client *redis.Client, logger zerolog.Logger) *ResultCache {
	return &ResultCache{
		Plan:   NewRedisCache(client, "agent:plan", planCacheTTL, logger),
		Search: NewRedisCache(client, "agent:search", searchCacheTTL, logger),
		Feed:   NewRedisCache(client, "agent:feed", feedCacheTTL, logger),
	}
}

// PlanKey derives the planning-cache key from the message and the profile
// tags that shape a plan. Tag lists are sorted so ordering never changes
// the key.
func PlanKey(message string, vibes, dietary []string) string {
	tags := make([]string, 0, len(vibes)+len(dietary))
	for _, v := range vibes {
		tags = append(tags, strings.ToLower(strings.TrimSpace(v)))
	}
	for _, d := range dietary {
		tags = append(tags, strings.ToLower(strings.TrimSpace(d)))
	}
	sort.Strings(tags)

	sum := sha256.Sum256([]byte(message + "|" + strings.Join(tags, ",")))
	return hex.EncodeToString(sum[:])[:16]
}

// SearchKey derives the search-cache key from normalized filters plus the
// semantic query text. Normalization sorts every list field first, so two
// filter sets differing only in order or casing share a key.
func SearchKey(filters SearchFilters, semanticQuery string) string {
	f := filters.Normalized()
	// Dietary never reaches the data layer as a predicate; keying on it
	// would split otherwise identical result sets.
	f.Dietary = nil
	normalized, err := json.Marshal(f)
	if err != nil {
		normalized = []byte("{}")
	}
	sum := sha256.Sum256([]byte(string(normalized) + "|" + strings.TrimSpace(semanticQuery)))
	return hex.EncodeToString(sum[:])[:16]
}

// FeedKey derives the feed-cache key from the user id and the calendar
// date, so entries invalidate at midnight without explicit eviction.
func FeedKey(uid string, day time.Time) string {
	sum := sha256.Sum256([]byte(uid + ":" + day.Format("2006-01-02")))
	return hex.EncodeToString(sum[:])[:20]
}
