package cache

import (
	"context"
	"sync"
	"time"
)

// CachedBuild records the outputs of one successful builder invocation
// for an unchanged entrypoint. Only file artifacts are cacheable;
// function packages carry live execution handles and are always
// rebuilt.
type CachedBuild struct {
	// Outputs maps normalized output paths to absolute file paths
	Outputs map[string]string `json:"outputs"`
}

// Cache stores build results keyed by content fingerprint
type Cache interface {
	// Get returns the cached build for a fingerprint, or nil on miss
	Get(ctx context.Context, fingerprint string) (*CachedBuild, error)

	// Set stores a build result under a fingerprint
	Set(ctx context.Context, fingerprint string, build *CachedBuild) error

	// Close releases cache resources
	Close() error
}

// MemoryCache is the default in-process cache
type MemoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]memoryEntry
}

type memoryEntry struct {
	build     *CachedBuild
	expiresAt time.Time
}

// NewMemoryCache creates an in-memory build cache. A zero ttl means
// entries never expire.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
	}
}

func (c *MemoryCache) Get(ctx context.Context, fingerprint string) (*CachedBuild, error) {
	c.mu.RLock()
	entry, ok := c.entries[fingerprint]
	c.mu.RUnlock()

	if !ok {
		return nil, nil
	}

	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, fingerprint)
		c.mu.Unlock()
		return nil, nil
	}

	return entry.build, nil
}

func (c *MemoryCache) Set(ctx context.Context, fingerprint string, build *CachedBuild) error {
	entry := memoryEntry{build: build}
	if c.ttl > 0 {
		entry.expiresAt = time.Now().Add(c.ttl)
	}

	c.mu.Lock()
	c.entries[fingerprint] = entry
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Close() error {
	c.mu.Lock()
	c.entries = make(map[string]memoryEntry)
	c.mu.Unlock()
	return nil
}
