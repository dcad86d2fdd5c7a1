package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
)

type proposalEntry struct {
	payload   []byte
	expiresAt time.Time
}

// MemoryProposalCache keeps generated proposals in process when Redis is disabled.
// Values round-trip through JSON so callers observe the same copy semantics as the Redis cache.
type MemoryProposalCache struct {
	mu    sync.RWMutex
	items map[string]proposalEntry
	now   func() time.Time
}

// NewMemoryProposalCache builds an empty in-process proposal cache.
func NewMemoryProposalCache() *MemoryProposalCache {
	return &MemoryProposalCache{items: make(map[string]proposalEntry), now: time.Now}
}

// Get decodes the cached value into dest or returns ErrCacheMiss.
func (c *MemoryProposalCache) Get(_ context.Context, id string, dest interface{}) error {
	c.mu.RLock()
	entry, ok := c.items[id]
	c.mu.RUnlock()
	if !ok {
		return appErrors.ErrCacheMiss
	}
	if !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.items, id)
		c.mu.Unlock()
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(entry.payload, dest)
}

// Set stores value until ttl elapses. A non-positive ttl never expires.
func (c *MemoryProposalCache) Set(_ context.Context, id string, value interface{}, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	entry := proposalEntry{payload: payload}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.items[id] = entry
	c.mu.Unlock()
	return nil
}

// Delete drops a cached proposal.
func (c *MemoryProposalCache) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	delete(c.items, id)
	c.mu.Unlock()
	return nil
}
