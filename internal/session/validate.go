package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/argon-hosting/daemon/internal/panelclient"
)

const validationTTL = 10 * time.Minute

type cacheEntry struct {
	result    *panelclient.ValidationResult
	expiresAt time.Time
}

// validationCache memoizes panel token validations for validationTTL, so
// a reconnecting tab (or a burst of tabs opened against the same token)
// doesn't hit the panel once per socket.
type validationCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

func newValidationCache() *validationCache {
	return &validationCache{entries: make(map[string]cacheEntry)}
}

// key hashes serverID and token together so raw tokens never sit in the
// cache map.
func (c *validationCache) key(serverID, token string) string {
	sum := sha256.Sum256([]byte(serverID + "\x00" + token))
	return hex.EncodeToString(sum[:])
}

// validate returns a cached result if still fresh, otherwise calls the
// panel and caches a successful validation. A failed validation is never
// cached — tokens can become valid shortly after being rejected (e.g. a
// freshly-issued token racing this request), and an empty cache entry for
// a temporarily-unvalidated token would otherwise pin that failure for
// the full TTL.
func (c *validationCache) validate(ctx context.Context, panel *panelclient.Client, serverID, token string) *panelclient.ValidationResult {
	k := c.key(serverID, token)

	c.mu.Lock()
	if e, ok := c.entries[k]; ok && time.Now().Before(e.expiresAt) {
		c.mu.Unlock()
		return e.result
	}
	c.mu.Unlock()

	result, err := panel.Validate(ctx, serverID, token)
	if err != nil || result == nil || !result.Validated {
		return result
	}

	c.mu.Lock()
	c.entries[k] = cacheEntry{result: result, expiresAt: time.Now().Add(validationTTL)}
	c.mu.Unlock()
	return result
}

// sweep evicts every expired entry. Called on a fixed interval by
// Hub.RunValidationSweep.
func (c *validationCache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}
