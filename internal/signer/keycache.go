package signer

import (
	"sync"
	"time"
)

// signingKeyTTL bounds how long a derived signing key is reused before being
// rederived. The date is part of the cache key, so a request for a new date
// derives a fresh key regardless of this TTL.
const signingKeyTTL = 24 * time.Hour

// maxKeyCacheEntries bounds the signing-key cache; on overflow the whole map
// is cleared rather than evicting individual entries, trading a burst of
// re-derivations for simplicity.
const maxKeyCacheEntries = 1000

type keyCacheEntry struct {
	key       []byte
	expiresAt time.Time
}

// KeyCache caches derived SigV4 signing keys by (secret, date, region,
// service). A single cache may be shared across a Signer and a Verifier
// that both operate on the same credential.
type KeyCache struct {
	mu      sync.RWMutex
	entries map[string]keyCacheEntry
}

// NewKeyCache returns an empty signing-key cache.
func NewKeyCache() *KeyCache {
	return &KeyCache{entries: make(map[string]keyCacheEntry)}
}

// Get returns the cached or freshly derived signing key for the given
// credential and date/region/service scope.
func (c *KeyCache) Get(secretKey, dateStr, region, service string) []byte {
	cacheKey := secretKey + "\x00" + dateStr + "\x00" + region + "\x00" + service
	now := time.Now()

	c.mu.RLock()
	if entry, ok := c.entries[cacheKey]; ok && now.Before(entry.expiresAt) {
		c.mu.RUnlock()
		return entry.key
	}
	c.mu.RUnlock()

	key := DeriveSigningKey(secretKey, dateStr, region, service)

	c.mu.Lock()
	if len(c.entries) >= maxKeyCacheEntries {
		c.entries = make(map[string]keyCacheEntry)
	}
	c.entries[cacheKey] = keyCacheEntry{key: key, expiresAt: now.Add(signingKeyTTL)}
	c.mu.Unlock()

	return key
}
