package cache

import (
	"container/list"
	"sync"
	"time"

	"conto/internal/core"
)

const (
	// DefaultCapacity bounds the number of period partitions held at once.
	DefaultCapacity = 10
	// DefaultTTL is how long a cached period list stays servable.
	DefaultTTL = time.Hour
)

// PeriodCache is the in-memory LRU+TTL cache of transaction lists keyed by
// period key. Entries are treated as immutable once stored; a miss is never
// an error, only a signal to refetch.
type PeriodCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*list.Element
	lru      *list.List
	now      func() time.Time
}

type periodEntry struct {
	key          string
	data         []core.Transaction
	storedAt     time.Time
	accessCount  int
	lastAccessed time.Time
}

// Entry is the exported view of a cached partition, used by the durable
// store when snapshotting.
type Entry struct {
	Data      []core.Transaction `json:"data"`
	Timestamp time.Time          `json:"timestamp"`
}

// NewPeriodCache creates a cache with the given capacity and TTL.
func NewPeriodCache(capacity int, ttl time.Duration) *PeriodCache {
	return &PeriodCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element),
		lru:      list.New(),
		now:      time.Now,
	}
}

// Get returns the cached list for key, or nil on miss. Expired entries are
// removed lazily. A hit refreshes the entry's recency.
func (c *PeriodCache) Get(key string) []core.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.items[key]
	if !exists {
		return nil
	}

	entry := elem.Value.(*periodEntry)
	if c.expired(entry) {
		c.removeElement(elem)
		return nil
	}

	entry.accessCount++
	entry.lastAccessed = c.now()
	c.lru.MoveToFront(elem)
	return entry.data
}

// Has reports whether key is cached and still within its TTL window.
func (c *PeriodCache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.items[key]
	if !exists {
		return false
	}
	if c.expired(elem.Value.(*periodEntry)) {
		c.removeElement(elem)
		return false
	}
	return true
}

// Set stores data under key, sweeping expired entries first and evicting
// the least recently accessed entry when over capacity.
func (c *PeriodCache) Set(key string, data []core.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweepLocked()

	now := c.now()
	if elem, exists := c.items[key]; exists {
		entry := elem.Value.(*periodEntry)
		entry.data = data
		entry.storedAt = now
		entry.lastAccessed = now
		c.lru.MoveToFront(elem)
		return
	}

	elem := c.lru.PushFront(&periodEntry{
		key:          key,
		data:         data,
		storedAt:     now,
		lastAccessed: now,
	})
	c.items[key] = elem

	if c.lru.Len() > c.capacity {
		if oldest := c.lru.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}
}

// Delete removes key from the cache.
func (c *PeriodCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.items[key]; exists {
		c.removeElement(elem)
	}
}

// Clear drops every entry.
func (c *PeriodCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.lru.Init()
}

// Len returns the number of live entries, expired ones included until the
// next sweep.
func (c *PeriodCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// ClearMonth invalidates the partition for one month.
func (c *PeriodCache) ClearMonth(year int, month time.Month) {
	c.Delete(core.MonthKey(year, month))
}

// ClearYear invalidates the year-level partition.
func (c *PeriodCache) ClearYear(year int) {
	c.Delete(core.YearKey(year))
}

// ClearRelated invalidates the month, both adjacent months and every year
// partition those months fall in. December and January hop the year
// boundary.
func (c *PeriodCache) ClearRelated(year int, month time.Month) {
	c.mu.Lock()
	defer c.mu.Unlock()

	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	months := []time.Time{first.AddDate(0, -1, 0), first, first.AddDate(0, 1, 0)}

	years := make(map[int]struct{}, 2)
	for _, m := range months {
		if elem, ok := c.items[core.MonthKey(m.Year(), m.Month())]; ok {
			c.removeElement(elem)
		}
		years[m.Year()] = struct{}{}
	}
	for y := range years {
		if elem, ok := c.items[core.YearKey(y)]; ok {
			c.removeElement(elem)
		}
	}
}

// Keys returns the cached keys, most recently used first.
func (c *PeriodCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.items))
	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*periodEntry).key)
	}
	return keys
}

// Entries snapshots the non-expired cache contents for persistence.
func (c *PeriodCache) Entries() map[string]Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]Entry, len(c.items))
	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		entry := elem.Value.(*periodEntry)
		if c.expired(entry) {
			continue
		}
		out[entry.key] = Entry{Data: entry.data, Timestamp: entry.storedAt}
	}
	return out
}

// Restore loads previously persisted entries, keeping their original store
// time so the TTL window carries across sessions. Returns the number of
// entries accepted.
func (c *PeriodCache) Restore(entries map[string]Entry) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	restored := 0
	for key, e := range entries {
		if c.now().Sub(e.Timestamp) >= c.ttl {
			continue
		}
		if c.lru.Len() >= c.capacity {
			break
		}
		elem := c.lru.PushBack(&periodEntry{
			key:          key,
			data:         e.Data,
			storedAt:     e.Timestamp,
			lastAccessed: e.Timestamp,
		})
		c.items[key] = elem
		restored++
	}
	return restored
}

// CleanExpired removes all expired entries and returns how many were
// dropped.
func (c *PeriodCache) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked()
}

// AccessCount returns how many times key has been read since it was
// stored. Zero for unknown keys.
func (c *PeriodCache) AccessCount(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		return elem.Value.(*periodEntry).accessCount
	}
	return 0
}

func (c *PeriodCache) sweepLocked() int {
	var toRemove []*list.Element
	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		if c.expired(elem.Value.(*periodEntry)) {
			toRemove = append(toRemove, elem)
		}
	}
	for _, elem := range toRemove {
		c.removeElement(elem)
	}
	return len(toRemove)
}

func (c *PeriodCache) expired(e *periodEntry) bool {
	return c.now().Sub(e.storedAt) >= c.ttl
}

func (c *PeriodCache) removeElement(elem *list.Element) {
	entry := elem.Value.(*periodEntry)
	delete(c.items, entry.key)
	c.lru.Remove(elem)
}
