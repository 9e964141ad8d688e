package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/threadwise/pkg/models"
)

// Cache defaults.
const (
	DefaultCacheTTL  = 5 * time.Minute
	DefaultCacheSize = 100
	cacheKeyMessages = 3
)

type cachedResponse struct {
	resp      Response
	createdAt time.Time
	expiresAt time.Time
}

// responseCache holds recent generations keyed by prompt fingerprint. When
// full, the oldest entry is evicted.
type responseCache struct {
	mu      sync.Mutex
	entries map[string]cachedResponse
	ttl     time.Duration
	maxSize int
	nowFunc func() time.Time

	hits   atomic.Uint64
	misses atomic.Uint64
	evicts atomic.Uint64
}

func newResponseCache(ttl time.Duration, maxSize int, now func() time.Time) *responseCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	return &responseCache{
		entries: make(map[string]cachedResponse),
		ttl:     ttl,
		maxSize: maxSize,
		nowFunc: now,
	}
}

func (c *responseCache) get(key string) (Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return Response{}, false
	}
	if c.nowFunc().After(e.expiresAt) {
		delete(c.entries, key)
		c.misses.Add(1)
		return Response{}, false
	}
	c.hits.Add(1)
	return e.resp, true
}

func (c *responseCache) set(key string, resp Response) {
	now := c.nowFunc()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.entries[key] = cachedResponse{resp: resp, createdAt: now, expiresAt: now.Add(c.ttl)}
}

func (c *responseCache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, e := range c.entries {
		if first || e.createdAt.Before(oldest) {
			oldestKey, oldest, first = k, e.createdAt, false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
		c.evicts.Add(1)
	}
}

// cleanup drops expired entries.
func (c *responseCache) cleanup() int {
	now := c.nowFunc()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// CacheStats reports response cache usage.
type CacheStats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Evicts  uint64  `json:"evicts"`
	HitRate float64 `json:"hit_rate"`
}

func (c *responseCache) stats() CacheStats {
	c.mu.Lock()
	size := len(c.entries)
	c.mu.Unlock()
	hits, misses := c.hits.Load(), c.misses.Load()
	var rate float64
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses)
	}
	return CacheStats{
		Size:    size,
		MaxSize: c.maxSize,
		Hits:    hits,
		Misses:  misses,
		Evicts:  c.evicts.Load(),
		HitRate: rate,
	}
}

// cacheKey fingerprints the newest thread messages, the system prompt and the
// user message.
func cacheKey(tc *models.ThreadContext, systemPrompt, userMessage string) string {
	h := sha256.New()
	if tc != nil {
		n := min(len(tc.Messages), cacheKeyMessages)
		// Messages are newest first.
		for _, m := range tc.Messages[:n] {
			h.Write([]byte(m.UserID))
			h.Write([]byte{0})
			h.Write([]byte(m.Text))
			h.Write([]byte{0})
		}
	}
	h.Write([]byte{1})
	h.Write([]byte(systemPrompt))
	h.Write([]byte{1})
	h.Write([]byte(userMessage))
	return hex.EncodeToString(h.Sum(nil))
}
