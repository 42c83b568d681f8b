package cache

import "conto/internal/core"

// Provider is the narrow surface every cache consumer goes through. The
// period cache and the view-layer cache both implement it, and Tandem keeps
// the two in lockstep so there is one source of truth for "is this key
// cached".
type Provider interface {
	Get(key string) []core.Transaction
	Set(key string, data []core.Transaction)
	Invalidate(key string)
}

// Invalidate implements Provider for PeriodCache.
func (c *PeriodCache) Invalidate(key string) {
	c.Delete(key)
}

// Tandem fans writes and invalidations out to the period cache and the
// view cache. Reads prefer the period cache; the view cache only answers
// when the period cache has already lost the key.
type Tandem struct {
	Periods *PeriodCache
	Views   *ViewCache
}

// NewTandem pairs a period cache with a view cache.
func NewTandem(periods *PeriodCache, views *ViewCache) *Tandem {
	return &Tandem{Periods: periods, Views: views}
}

func (t *Tandem) Get(key string) []core.Transaction {
	if data := t.Periods.Get(key); data != nil {
		return data
	}
	if t.Views == nil {
		return nil
	}
	return t.Views.Get(key)
}

func (t *Tandem) Set(key string, data []core.Transaction) {
	t.Periods.Set(key, data)
	if t.Views != nil {
		t.Views.Set(key, data)
	}
}

func (t *Tandem) Invalidate(key string) {
	t.Periods.Delete(key)
	if t.Views != nil {
		t.Views.Invalidate(key)
	}
}

// InvalidateAll drops every entry from both caches.
func (t *Tandem) InvalidateAll() {
	t.Periods.Clear()
	if t.Views != nil {
		t.Views.Clear()
	}
}
