package service

import (
	"sync"
	"time"
)

// verifyCache remembers verified payloads by token hash. It holds at most
// size entries: expired entries are purged on insert and, when still full,
// the entry closest to expiry is evicted.
type verifyCache struct {
	mu      sync.Mutex
	size    int
	entries map[string]verifyEntry
}

type verifyEntry struct {
	payload *Payload
	until   time.Time
}

func newVerifyCache(size int) *verifyCache {
	return &verifyCache{size: size, entries: make(map[string]verifyEntry, size)}
}

func (c *verifyCache) get(key string, now time.Time) (*Payload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !now.Before(e.until) {
		delete(c.entries, key)
		return nil, false
	}
	p := *e.payload
	p.Data = cloneData(e.payload.Data)
	return &p, true
}

// cloneData deep-copies a decoded JSON object so callers cannot reach the
// cached payload through it.
func cloneData(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return cloneData(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}

func (c *verifyCache) put(key string, p *Payload, until, now time.Time) {
	if !now.Before(until) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.size {
		for k, e := range c.entries {
			if !now.Before(e.until) {
				delete(c.entries, k)
			}
		}
		if len(c.entries) >= c.size {
			var victim string
			var soonest time.Time
			for k, e := range c.entries {
				if victim == "" || e.until.Before(soonest) {
					victim, soonest = k, e.until
				}
			}
			delete(c.entries, victim)
		}
	}
	own := *p
	own.Data = cloneData(p.Data)
	c.entries[key] = verifyEntry{payload: &own, until: until}
}

func (c *verifyCache) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
