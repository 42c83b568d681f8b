// Package fetch composes the period cache with the remote store. Each
// period key has at most one remote query in flight; late callers share
// the first caller's result instead of issuing a duplicate.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"conto/internal/cache"
	"conto/internal/core"
	"conto/internal/remote"
	"conto/internal/split"
)

// Coordinator resolves period keys to transaction lists.
type Coordinator struct {
	userID string
	cache  cache.Provider
	store  remote.TransactionStore
	flight singleflight.Group
	now    func() time.Time
}

// NewCoordinator builds a coordinator for one user's transactions.
func NewCoordinator(userID string, provider cache.Provider, store remote.TransactionStore) *Coordinator {
	return &Coordinator{
		userID: userID,
		cache:  provider,
		store:  store,
		now:    time.Now,
	}
}

// Month returns the split-expanded transactions of a single month, from
// cache when possible.
func (c *Coordinator) Month(ctx context.Context, year int, month time.Month) ([]core.Transaction, error) {
	key := core.MonthKey(year, month)
	if data := c.cache.Get(key); data != nil {
		return data, nil
	}

	result, err, shared := c.flight.Do(key, func() (any, error) {
		return c.loadMonth(ctx, year, month)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		slog.DebugContext(ctx, "Joined in-flight fetch", "key", key)
	}
	return result.([]core.Transaction), nil
}

// Year returns the split-expanded transactions of a whole year.
func (c *Coordinator) Year(ctx context.Context, year int) ([]core.Transaction, error) {
	key := core.YearKey(year)
	if data := c.cache.Get(key); data != nil {
		return data, nil
	}

	result, err, _ := c.flight.Do(key, func() (any, error) {
		return c.loadYear(ctx, year)
	})
	if err != nil {
		return nil, err
	}
	return result.([]core.Transaction), nil
}

func (c *Coordinator) loadMonth(ctx context.Context, year int, month time.Month) ([]core.Transaction, error) {
	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	txs, err := remote.ListAll(ctx, c.store, remote.Query{
		UserID: c.userID,
		From:   from,
		To:     to,
	})
	if err != nil {
		return nil, fmt.Errorf("list month transactions: %w", err)
	}

	sources, err := c.splitSources(ctx, year)
	if err != nil {
		return nil, err
	}

	expanded := split.ExpandMonth(txs, sources, year, month, c.now())
	c.cache.Set(core.MonthKey(year, month), expanded)

	slog.DebugContext(ctx, "Fetched month partition",
		"key", core.MonthKey(year, month),
		"rows", len(expanded),
		"split_sources", len(sources))

	return expanded, nil
}

func (c *Coordinator) loadYear(ctx context.Context, year int) ([]core.Transaction, error) {
	from := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0)

	txs, err := remote.ListAll(ctx, c.store, remote.Query{
		UserID: c.userID,
		From:   from,
		To:     to,
	})
	if err != nil {
		return nil, fmt.Errorf("list year transactions: %w", err)
	}

	sources, err := c.splitSources(ctx, year)
	if err != nil {
		return nil, err
	}

	expanded := split.ExpandYear(txs, sources, year, c.now())
	c.cache.Set(core.YearKey(year), expanded)

	return expanded, nil
}

// splitSources fetches the year's recurring sources. Their instalments can
// land in any month, so every month load needs the full set.
func (c *Coordinator) splitSources(ctx context.Context, year int) ([]core.Transaction, error) {
	from := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	sources, err := c.store.List(ctx, remote.Query{
		UserID:    c.userID,
		From:      from,
		To:        from.AddDate(1, 0, 0),
		SplitOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("list split sources: %w", err)
	}
	return sources, nil
}
