package sourceclient

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const maxCacheEntries = 512

// responseCache holds successful response bodies keyed by URL, with one
// size-bounded expirable LRU per TTL class (list searches, detail lookups).
type responseCache struct {
	mu      sync.Mutex
	classes map[time.Duration]*expirable.LRU[string, []byte]
}

func newResponseCache() *responseCache {
	return &responseCache{classes: make(map[time.Duration]*expirable.LRU[string, []byte])}
}

func (c *responseCache) class(ttl time.Duration) *expirable.LRU[string, []byte] {
	c.mu.Lock()
	defer c.mu.Unlock()
	lru, ok := c.classes[ttl]
	if !ok {
		lru = expirable.NewLRU[string, []byte](maxCacheEntries, nil, ttl)
		c.classes[ttl] = lru
	}
	return lru
}

func (c *responseCache) get(key string, ttl time.Duration) ([]byte, bool) {
	if ttl <= 0 {
		return nil, false
	}
	return c.class(ttl).Get(key)
}

func (c *responseCache) set(key string, body []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.class(ttl).Add(key, body)
}

func (c *responseCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, lru := range c.classes {
		n += lru.Len()
	}
	return n
}
