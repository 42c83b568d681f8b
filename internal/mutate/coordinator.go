// Package mutate performs add/update/delete against the remote store while
// keeping the caches synchronized. Every operation writes an optimistic
// version locally first, then confirms against the remote and either
// replaces the optimistic row or rolls the caches back.
package mutate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"conto/internal/cache"
	"conto/internal/core"
	"conto/internal/remote"
)

// Coordinator applies optimistic mutations.
type Coordinator struct {
	userID    string
	cache     cache.Provider
	store     remote.TransactionStore
	converter remote.CurrencyConverter

	// Revalidate, when set, is called after every confirmed mutation so
	// global aggregate entries (balances, category series) get refreshed.
	Revalidate func(ctx context.Context)

	// Notify, when set, receives every confirmed mutation.
	Notify func(ctx context.Context, ch core.ChangeEvent)

	now func() time.Time
}

// NewCoordinator builds a mutation coordinator for one user.
func NewCoordinator(userID string, provider cache.Provider, store remote.TransactionStore, converter remote.CurrencyConverter) *Coordinator {
	return &Coordinator{
		userID:    userID,
		cache:     provider,
		store:     store,
		converter: converter,
		now:       time.Now,
	}
}

// snapshot captures the pre-optimistic content of the cache entries a
// mutation touches, so a failed remote write can be undone exactly.
type snapshot map[string][]core.Transaction

func (c *Coordinator) capture(keys []string) snapshot {
	snap := make(snapshot, len(keys))
	for _, key := range keys {
		if data := c.cache.Get(key); data != nil {
			copied := make([]core.Transaction, len(data))
			copy(copied, data)
			snap[key] = copied
		}
	}
	return snap
}

func (c *Coordinator) rollback(snap snapshot, keys []string) {
	for _, key := range keys {
		if data, ok := snap[key]; ok {
			c.cache.Set(key, data)
		} else {
			c.cache.Invalidate(key)
		}
	}
}

// Add inserts a transaction. The cache sees a temporary row immediately;
// the confirmed server record replaces it on success.
func (c *Coordinator) Add(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, fmt.Errorf("validate transaction: %w", err)
	}

	tx.UserID = c.userID
	c.normalizeEUR(ctx, &tx)

	tempID := core.NewTempID(c.now())
	optimistic := tx
	optimistic.ID = tempID
	optimistic.CreatedAt = c.now()
	optimistic.UpdatedAt = optimistic.CreatedAt

	keys := core.AffectedKeys(tx.Date, time.Time{})
	snap := c.capture(keys)

	c.insertRow(core.MonthKey(tx.Date.Year(), tx.Date.Month()), optimistic)

	confirmed, err := c.store.Insert(ctx, tx)
	if err != nil {
		c.rollback(snap, keys)
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	c.replaceRow(core.MonthKey(tx.Date.Year(), tx.Date.Month()), tempID, confirmed)
	c.confirm(ctx, core.ChangeEvent{Op: core.OpInsert, TransactionID: confirmed.ID, NewDate: confirmed.Date})

	slog.InfoContext(ctx, "Transaction added",
		"id", confirmed.ID,
		"amount", confirmed.Amount,
		"currency", confirmed.Currency)

	return confirmed, nil
}

// Update applies a partial patch to prev. When the patch moves the
// business date across a period boundary, the row leaves the old month's
// partition and enters the new one.
func (c *Coordinator) Update(ctx context.Context, prev core.Transaction, patch core.TransactionPatch) (core.Transaction, error) {
	next := prev.Apply(patch)
	if patch.Amount != nil || patch.Currency != nil || patch.Date != nil {
		next.EURAmount = nil
		next.ExchangeRate = nil
		next.RateDate = ""
		c.normalizeEUR(ctx, &next)
		patch.EURAmount = next.EURAmount
		patch.ExchangeRate = next.ExchangeRate
		patch.RateDate = &next.RateDate
		// A pending re-normalization clears the stored EUR fields
		// rather than leaving them paired with the new amount.
		patch.ClearEUR = next.EURAmount == nil
	}

	keys := core.AffectedKeys(prev.Date, next.Date)
	snap := c.capture(keys)

	oldKey := core.MonthKey(prev.Date.Year(), prev.Date.Month())
	newKey := core.MonthKey(next.Date.Year(), next.Date.Month())
	if oldKey == newKey {
		c.replaceRow(oldKey, prev.ID, next)
	} else {
		c.removeRow(oldKey, prev.ID)
		c.insertRow(newKey, next)
	}

	confirmed, err := c.store.Update(ctx, prev.ID, patch)
	if err != nil {
		c.rollback(snap, keys)
		return core.Transaction{}, fmt.Errorf("update transaction %s: %w", prev.ID, err)
	}

	c.replaceRow(newKey, prev.ID, confirmed)
	c.confirm(ctx, core.ChangeEvent{Op: core.OpUpdate, TransactionID: confirmed.ID, OldDate: prev.Date, NewDate: confirmed.Date})

	return confirmed, nil
}

// Delete removes a transaction, restoring it locally if the remote
// delete fails.
func (c *Coordinator) Delete(ctx context.Context, tx core.Transaction) error {
	keys := core.AffectedKeys(tx.Date, time.Time{})
	snap := c.capture(keys)

	c.removeRow(core.MonthKey(tx.Date.Year(), tx.Date.Month()), tx.ID)

	if err := c.store.Delete(ctx, tx.ID); err != nil {
		c.rollback(snap, keys)
		return fmt.Errorf("delete transaction %s: %w", tx.ID, err)
	}

	c.confirm(ctx, core.ChangeEvent{Op: core.OpDelete, TransactionID: tx.ID, OldDate: tx.Date})

	slog.InfoContext(ctx, "Transaction deleted", "id", tx.ID)
	return nil
}

// confirm invalidates the year partitions a confirmed change touched,
// requests aggregate revalidation and notifies the reconciliation layer.
func (c *Coordinator) confirm(ctx context.Context, ch core.ChangeEvent) {
	years := make(map[int]struct{}, 2)
	if !ch.OldDate.IsZero() {
		years[ch.OldDate.Year()] = struct{}{}
	}
	if !ch.NewDate.IsZero() {
		years[ch.NewDate.Year()] = struct{}{}
	}
	for y := range years {
		c.cache.Invalidate(core.YearKey(y))
	}

	if c.Revalidate != nil {
		c.Revalidate(ctx)
	}
	if c.Notify != nil {
		c.Notify(ctx, ch)
	}
}

// normalizeEUR fills the EUR fields. EUR amounts normalize synchronously;
// other currencies go through the converter, and a failed or missing rate
// leaves eur_amount absent so the caller can see the conversion as
// pending.
func (c *Coordinator) normalizeEUR(ctx context.Context, tx *core.Transaction) {
	if tx.Currency == "EUR" {
		tx.EURAmount = core.Float64(tx.Amount)
		tx.ExchangeRate = core.Float64(1)
		return
	}
	if c.converter == nil {
		return
	}

	conv, err := c.converter.ConvertToEUR(ctx, tx.Amount, tx.Currency, tx.Date)
	if err != nil || conv == nil {
		slog.WarnContext(ctx, "Currency conversion unavailable, leaving EUR amount pending",
			"currency", tx.Currency,
			"error", err)
		return
	}
	tx.EURAmount = core.Float64(core.RoundEUR(conv.EURAmount))
	tx.ExchangeRate = core.Float64(conv.ExchangeRate)
	tx.RateDate = conv.RateDate
}

// insertRow adds a row to a cached month partition, keeping descending
// date order. A partition that is not cached stays uncached; the next
// read refetches it.
func (c *Coordinator) insertRow(key string, tx core.Transaction) {
	data := c.cache.Get(key)
	if data == nil {
		return
	}
	updated := make([]core.Transaction, 0, len(data)+1)
	updated = append(updated, data...)
	updated = append(updated, tx)
	core.SortByDateDesc(updated)
	c.cache.Set(key, updated)
}

func (c *Coordinator) removeRow(key, id string) {
	data := c.cache.Get(key)
	if data == nil {
		return
	}
	updated := make([]core.Transaction, 0, len(data))
	for _, tx := range data {
		if tx.ID == id {
			continue
		}
		updated = append(updated, tx)
	}
	c.cache.Set(key, updated)
}

func (c *Coordinator) replaceRow(key, id string, replacement core.Transaction) {
	data := c.cache.Get(key)
	if data == nil {
		return
	}
	updated := make([]core.Transaction, 0, len(data))
	replaced := false
	for _, tx := range data {
		if tx.ID == id {
			updated = append(updated, replacement)
			replaced = true
			continue
		}
		updated = append(updated, tx)
	}
	if !replaced {
		updated = append(updated, replacement)
	}
	core.SortByDateDesc(updated)
	c.cache.Set(key, updated)
}
