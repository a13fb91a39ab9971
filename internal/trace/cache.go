package trace

import (
	"encoding/hex"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// ResultCache memoizes Replay results keyed by the blake2b digest of a
// trace file's raw bytes, so re-running an unmodified suite (e.g. under
// -watch) can skip replay entirely.
type ResultCache struct {
	mu    sync.Mutex
	byKey map[string]Result
}

// NewResultCache returns an empty cache.
func NewResultCache() *ResultCache {
	return &ResultCache{byKey: make(map[string]Result)}
}

// HashKey returns the cache key for a trace file's contents.
func HashKey(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Get returns a cached result for key, if any.
func (c *ResultCache) Get(key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.byKey[key]

	return r, ok
}

// Put stores a result under key.
func (c *ResultCache) Put(key string, r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.byKey[key] = r
}
