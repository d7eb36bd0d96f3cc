package authz

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/s3proxy/s3proxy/internal/metrics"
	"github.com/s3proxy/s3proxy/internal/s3proxyerr"
)

// cacheEntry records a prior decision. Only allow/deny outcomes are
// cached -- AuthzUnavailable is never cached, so a transient engine outage
// can't pin a subject to a stale 500 once the engine recovers.
type cacheEntry struct {
	denied    bool
	expiresAt time.Time
}

// cachingAuthorizer wraps an Authorizer with a bounded, time-limited
// decision cache, mirroring the same RWMutex-guarded map-with-overflow-clear
// shape internal/signer.KeyCache uses for signing keys.
type cachingAuthorizer struct {
	engine     Authorizer
	ttl        time.Duration
	maxEntries int

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

func newCachingAuthorizer(engine Authorizer, ttlSeconds, maxEntries int) *cachingAuthorizer {
	ttl := time.Duration(ttlSeconds) * time.Second
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &cachingAuthorizer{
		engine:     engine,
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]cacheEntry),
	}
}

func cacheKey(subject, action string, resource Resource) string {
	return subject + "\x00" + action + "\x00" + resource.Bucket + "\x00" + resource.Key
}

func (c *cachingAuthorizer) Authorize(ctx context.Context, subject, action string, resource Resource, r *http.Request) *s3proxyerr.Error {
	key := cacheKey(subject, action, resource)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		metrics.AuthzCacheHitsTotal.WithLabelValues("hit").Inc()
		if entry.denied {
			return s3proxyerr.New(s3proxyerr.AuthzDenied, "access denied by cached policy decision")
		}
		return nil
	}
	metrics.AuthzCacheHitsTotal.WithLabelValues("miss").Inc()

	serr := c.engine.Authorize(ctx, subject, action, resource, r)
	if serr != nil && serr.Kind == s3proxyerr.AuthzUnavailable {
		// Fail closed, but never cache the outage itself.
		return serr
	}

	c.mu.Lock()
	if len(c.entries) >= c.maxEntries {
		c.entries = make(map[string]cacheEntry)
	}
	c.entries[key] = cacheEntry{denied: serr != nil, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()

	return serr
}
