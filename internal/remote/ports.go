// Package remote declares the ports to the engine's external
// collaborators: the hosted relational store, the authoritative balance
// RPC and the currency conversion service. The engine only ever sees
// these interfaces.
package remote

import (
	"context"
	"time"

	"conto/internal/core"
)

// PageSize is the fixed batch size for paginated queries.
const PageSize = 500

// Query filters a transaction listing. Zero values mean "no filter";
// From is inclusive, To exclusive.
type Query struct {
	UserID          string
	From            time.Time
	To              time.Time
	MainCategory    string
	SubCategory     string
	SplitOnly       bool
	Offset          int
	Limit           int
}

// Conversion is one resolved currency conversion.
type Conversion struct {
	EURAmount    float64
	ExchangeRate float64
	RateDate     string
}

// Ports for outbound collaborators.
type (
	// TransactionStore is the query and mutation surface of the hosted
	// store. Listings come back ordered date desc, created_at desc.
	TransactionStore interface {
		List(ctx context.Context, q Query) ([]core.Transaction, error)
		ListUpdatedSince(ctx context.Context, userID string, since time.Time) ([]core.Transaction, error)

		Insert(ctx context.Context, tx core.Transaction) (core.Transaction, error)
		Update(ctx context.Context, id string, patch core.TransactionPatch) (core.Transaction, error)
		Delete(ctx context.Context, id string) error
	}

	// BalanceReader exposes the authoritative prior-balance computation.
	// It is never re-derived client-side.
	BalanceReader interface {
		BalanceBeforeDate(ctx context.Context, userID string, date time.Time, includeHidden bool) (float64, error)
	}

	// CurrencyConverter normalizes an amount into EUR at the rate of the
	// given date. A nil result with a nil error means the rate was
	// unavailable and the conversion stays pending.
	CurrencyConverter interface {
		ConvertToEUR(ctx context.Context, amount float64, currency string, date time.Time) (*Conversion, error)
	}
)

// ListAll drains a paginated listing in fixed-size batches.
func ListAll(ctx context.Context, store TransactionStore, q Query) ([]core.Transaction, error) {
	q.Limit = PageSize
	q.Offset = 0

	var all []core.Transaction
	for {
		page, err := store.List(ctx, q)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < PageSize {
			return all, nil
		}
		q.Offset += PageSize
	}
}
