package messagebus

import (
	"sync"
	"time"

	"github.com/swarmguard/lifecycle-engine/internal/model"
)

// preferenceCache caches an agent's communication preferences with a short
// TTL, per the design note that implementers may cache preferences and
// invalidate on explicit update. Adapted from the teacher's LRU+TTL result
// cache: a background goroutine periodically sweeps expired entries rather
// than checking expiry only on read.
type preferenceCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	stop    chan struct{}
}

type cacheEntry struct {
	prefs     model.CommunicationPreferences
	expiresAt time.Time
}

func newPreferenceCache(ttl time.Duration) *preferenceCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	c := &preferenceCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		stop:    make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

func (c *preferenceCache) cleanupLoop() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			for k, v := range c.entries {
				if now.After(v.expiresAt) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}

func (c *preferenceCache) get(agentID string) (model.CommunicationPreferences, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[agentID]
	if !ok || time.Now().After(e.expiresAt) {
		return model.CommunicationPreferences{}, false
	}
	return e.prefs, true
}

func (c *preferenceCache) put(agentID string, prefs model.CommunicationPreferences) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[agentID] = cacheEntry{prefs: prefs, expiresAt: time.Now().Add(c.ttl)}
}

// invalidate drops a cached entry, used on explicit preference updates.
func (c *preferenceCache) invalidate(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, agentID)
}

func (c *preferenceCache) close() {
	close(c.stop)
}
