// Package reconcile merges the three sources of change signals — local
// mutations, messages from other clients, and server polling — into a
// single cache invalidation path, and queues local changes while offline.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"conto/internal/cache"
	"conto/internal/core"
)

// Publisher broadcasts confirmed changes to other clients.
type Publisher interface {
	PublishChange(ctx context.Context, change core.ChangeEvent) error
}

// Bus routes change events into cache invalidation. While offline it
// queues local changes, one slot per transaction id; going back online
// drains the queue in order.
type Bus struct {
	cache     cache.Provider
	publisher Publisher

	mu       sync.Mutex
	online   bool
	queue    []core.ChangeEvent
	lastSync time.Time

	now func() time.Time
}

// Stats is a snapshot of the bus state.
type Stats struct {
	Online   bool
	Queued   int
	LastSync time.Time
}

func NewBus(cache cache.Provider, publisher Publisher) *Bus {
	return &Bus{
		cache:     cache,
		publisher: publisher,
		online:    true,
		now:       time.Now,
	}
}

// SetOnline records the connectivity state. Transitioning to online
// drains any changes queued while offline.
func (b *Bus) SetOnline(ctx context.Context, online bool) {
	b.mu.Lock()
	wasOnline := b.online
	b.online = online
	b.mu.Unlock()

	if online && !wasOnline {
		b.drain(ctx)
	}
}

// Apply is the single invalidation function. It drops every cache
// partition the change touches, records the sync time, and broadcasts
// the change unless it arrived by broadcast in the first place. While
// offline, locally produced changes are queued instead.
func (b *Bus) Apply(ctx context.Context, change core.ChangeEvent, fromBroadcast bool) error {
	b.mu.Lock()
	if !b.online && !fromBroadcast {
		b.enqueueLocked(change)
		queued := len(b.queue)
		b.mu.Unlock()
		slog.DebugContext(ctx, "Queued change while offline",
			"transaction_id", change.TransactionID,
			"queued", queued)
		return nil
	}
	b.mu.Unlock()

	for _, key := range change.AffectedKeys() {
		b.cache.Invalidate(key)
	}

	b.mu.Lock()
	b.lastSync = b.now()
	b.mu.Unlock()

	if fromBroadcast || b.publisher == nil {
		return nil
	}
	if err := b.publisher.PublishChange(ctx, change); err != nil {
		return fmt.Errorf("broadcast change: %w", err)
	}
	return nil
}

// enqueueLocked replaces any queued change for the same transaction
// instead of stacking; only the latest state of a record matters.
func (b *Bus) enqueueLocked(change core.ChangeEvent) {
	for i, queued := range b.queue {
		if queued.TransactionID == change.TransactionID {
			b.queue[i] = change
			return
		}
	}
	b.queue = append(b.queue, change)
}

// drain replays queued changes in order. Items that fail go back on
// the queue for the next online transition.
func (b *Bus) drain(ctx context.Context) {
	b.mu.Lock()
	pending := b.queue
	b.queue = nil
	b.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	slog.InfoContext(ctx, "Draining offline change queue", "count", len(pending))

	for _, change := range pending {
		if err := b.Apply(ctx, change, false); err != nil {
			slog.WarnContext(ctx, "Failed to replay queued change",
				"transaction_id", change.TransactionID,
				"error", err)
			b.mu.Lock()
			b.enqueueLocked(change)
			b.mu.Unlock()
		}
	}
}

// MarkSynced records a completed sync without invalidating anything.
func (b *Bus) MarkSynced() {
	b.mu.Lock()
	b.lastSync = b.now()
	b.mu.Unlock()
}

// LastSync returns the time of the most recent applied change or poll.
func (b *Bus) LastSync() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSync
}

func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Online:   b.online,
		Queued:   len(b.queue),
		LastSync: b.lastSync,
	}
}
