package data

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"hydropulse/internal/model"
)

type cacheEntry struct {
	response  *model.PriceSeriesResponse
	expiresAt time.Time
}

// ResponseCache is a TTL cache for price responses. A nil cache is valid
// and caches nothing.
type ResponseCache struct {
	mu    sync.RWMutex
	store map[string]*cacheEntry
	ttl   time.Duration
	now   func() time.Time
}

func NewResponseCache(ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ResponseCache{store: make(map[string]*cacheEntry), ttl: ttl, now: time.Now}
}

// Get retrieves a cached response if present and not expired.
func (c *ResponseCache) Get(key string) (*model.PriceSeriesResponse, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.store[key]
	if !ok || c.now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.response, true
}

func (c *ResponseCache) Set(key string, response *model.PriceSeriesResponse) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[key] = &cacheEntry{response: response, expiresAt: c.now().Add(c.ttl)}
}

func (c *ResponseCache) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = make(map[string]*cacheEntry)
}

func (c *ResponseCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// Evict drops expired entries and reports how many went.
func (c *ResponseCache) Evict() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for key, entry := range c.store {
		if now.After(entry.expiresAt) {
			delete(c.store, key)
			n++
		}
	}
	return n
}

// Run evicts expired entries every interval until ctx is done.
func (c *ResponseCache) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Evict()
		}
	}
}

// CacheKey hashes the query parameters into a fixed-size key.
func CacheKey(params QueryParams) string {
	keyStr := fmt.Sprintf("%s:%s:%s:%s",
		params.Market,
		params.Zone,
		params.StartTime.UTC().Format(time.RFC3339),
		params.EndTime.UTC().Format(time.RFC3339),
	)
	hash := sha256.Sum256([]byte(keyStr))
	return hex.EncodeToString(hash[:])
}
