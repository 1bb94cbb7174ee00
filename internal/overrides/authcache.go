package overrides

import (
	"sync"
	"time"
)

// authCache holds live ManagerAuthContext entries keyed by manager identity.
// Reads are concurrent; writes are atomic per key.
type authCache struct {
	mu      sync.RWMutex
	entries map[string]*ManagerAuthContext
}

func newAuthCache() *authCache {
	return &authCache{
		entries: make(map[string]*ManagerAuthContext),
	}
}

// get returns the cached context when present and not yet expired.
func (c *authCache) get(managerID string, now time.Time) (*ManagerAuthContext, bool) {
	c.mu.RLock()
	entry, ok := c.entries[managerID]
	c.mu.RUnlock()

	if !ok || now.After(entry.ExpiresAt) {
		return nil, false
	}

	clone := *entry
	return &clone, true
}

func (c *authCache) put(entry *ManagerAuthContext) {
	if entry == nil || entry.ManagerID == "" {
		return
	}

	clone := *entry

	c.mu.Lock()
	c.entries[entry.ManagerID] = &clone
	c.mu.Unlock()
}

func (c *authCache) invalidate(managerID string) {
	c.mu.Lock()
	delete(c.entries, managerID)
	c.mu.Unlock()
}

// prune drops expired entries and reports how many were removed.
func (c *authCache) prune(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}
