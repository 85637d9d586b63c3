// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"sync"
	"time"

	"github.com/xmidt-org/chronon"
)

// DefaultTTL is how long a materialized identity may be served from the
// cache before the factory must rebuild it from the stored record.
const DefaultTTL = 10 * time.Minute

type entry struct {
	identity *Identity
	created  time.Time
}

// Cache holds materialized TLS client identities keyed by principal. Eviction
// is lazy: expiry is checked on read rather than by a background sweep. A
// concurrent put/get race may return a just-replaced entry, which is fine
// because the factory is idempotent.
type Cache struct {
	lock    sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	clock   chronon.Clock
}

// NewCache creates an identity cache. A zero ttl selects DefaultTTL and a
// nil clock selects the system clock; tests inject a fake clock to drive
// expiry deterministically.
func NewCache(ttl time.Duration, clock chronon.Clock) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = chronon.SystemClock()
	}
	return &Cache{
		entries: map[string]entry{},
		ttl:     ttl,
		clock:   clock,
	}
}

// Get returns the identity for key, or nil if absent or past its TTL.
func (c *Cache) Get(key string) *Identity {
	c.lock.RLock()
	e, ok := c.entries[key]
	c.lock.RUnlock()
	if !ok {
		return nil
	}
	if c.clock.Now().Sub(e.created) >= c.ttl {
		c.Invalidate(key)
		return nil
	}
	return e.identity
}

// Put stores an identity, unconditionally overwriting any previous entry.
func (c *Cache) Put(key string, identity *Identity) {
	c.lock.Lock()
	c.entries[key] = entry{identity: identity, created: c.clock.Now()}
	c.lock.Unlock()
}

// Invalidate drops the entry immediately. Called whenever the backing
// certificate record is replaced or deleted so a rotated credential is never
// served stale.
func (c *Cache) Invalidate(key string) {
	c.lock.Lock()
	delete(c.entries, key)
	c.lock.Unlock()
}

// CacheKey derives the cache key for a principal.
func CacheKey(principal string) string {
	return "cert_" + principal
}
