package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"conto/internal/core"
)

// ViewCache is the reactive-binding-layer cache: the second cache the
// provider keeps in lockstep with the period cache. It is unbounded but
// aggressively expired, so a key dropped from the period cache never
// outlives its usefulness here.
type ViewCache struct {
	c *gocache.Cache
}

// NewViewCache creates a view cache with the given TTL. Background cleanup
// runs at twice the TTL.
func NewViewCache(ttl time.Duration) *ViewCache {
	return &ViewCache{c: gocache.New(ttl, 2*ttl)}
}

func (v *ViewCache) Get(key string) []core.Transaction {
	if cached, found := v.c.Get(key); found {
		return cached.([]core.Transaction)
	}
	return nil
}

func (v *ViewCache) Set(key string, data []core.Transaction) {
	v.c.Set(key, data, gocache.DefaultExpiration)
}

func (v *ViewCache) Invalidate(key string) {
	v.c.Delete(key)
}

// Clear drops every entry.
func (v *ViewCache) Clear() {
	v.c.Flush()
}
