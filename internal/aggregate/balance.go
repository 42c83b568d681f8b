// Package aggregate derives running-balance and category time series from
// a split-expanded transaction stream. Both engines are single forward
// passes; the authoritative starting balance comes from the remote store
// and is never recomputed here.
package aggregate

import (
	"time"

	"conto/internal/core"
)

// Granularity selects the bucket width of a series.
type Granularity string

const (
	Daily   Granularity = "daily"
	Weekly  Granularity = "weekly"
	Monthly Granularity = "monthly"
	Yearly  Granularity = "yearly"
)

// BalancePoint is one bucket of a running-balance series.
type BalancePoint struct {
	Period  string  `json:"period"`
	Balance float64 `json:"balance"`
	Income  float64 `json:"income"`
	Expense float64 `json:"expense"`
	Count   int     `json:"count"`
}

// BucketKey formats the period label a date falls into. Weekly buckets
// start on Monday.
func BucketKey(d time.Time, g Granularity) string {
	switch g {
	case Daily:
		return d.Format("2006-01-02")
	case Weekly:
		return mondayOf(d).Format("2006-01-02")
	case Yearly:
		return d.Format("2006")
	default:
		return d.Format("2006-01")
	}
}

func mondayOf(d time.Time) time.Time {
	offset := (int(d.Weekday()) + 6) % 7
	return time.Date(d.Year(), d.Month(), d.Day()-offset, 0, 0, 0, 0, d.Location())
}

// effectiveEUR returns the EUR value a transaction contributes to totals.
// Expanded instalments contribute their display amount, everything else
// its normalized amount. False means the conversion is still pending and
// the row is excluded.
func effectiveEUR(tx core.Transaction) (float64, bool) {
	v := tx.EURAmount
	if tx.SplitDisplayEURAmount != nil {
		v = tx.SplitDisplayEURAmount
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}

// BalanceSeries folds an ascending, split-expanded stream into balance
// buckets. starting is the authoritative balance immediately before the
// stream's range (zero for the unbounded "all" range). Rows hidden from
// totals or without a EUR value are skipped. The input is re-sorted
// ascending; cached lists arrive descending.
func BalanceSeries(txs []core.Transaction, starting float64, g Granularity) []BalancePoint {
	ordered := make([]core.Transaction, len(txs))
	copy(ordered, txs)
	core.SortByDateAsc(ordered)

	var points []BalancePoint
	index := make(map[string]int)
	balance := starting

	for _, tx := range ordered {
		if tx.HideFromTotals {
			continue
		}
		eur, ok := effectiveEUR(tx)
		if !ok {
			continue
		}

		key := BucketKey(tx.Date, g)
		i, seen := index[key]
		if !seen {
			points = append(points, BalancePoint{Period: key})
			i = len(points) - 1
			index[key] = i
		}

		if tx.Type == core.TypeExpense {
			balance -= eur
			points[i].Expense = core.RoundEUR(points[i].Expense + eur)
		} else {
			balance += eur
			points[i].Income = core.RoundEUR(points[i].Income + eur)
		}
		points[i].Balance = core.RoundEUR(balance)
		points[i].Count++
	}

	return points
}

// EndingBalance returns the final running value of a series, or starting
// when the series is empty. The ending balance of one period equals the
// starting balance of the next adjacent one.
func EndingBalance(points []BalancePoint, starting float64) float64 {
	if len(points) == 0 {
		return starting
	}
	return points[len(points)-1].Balance
}
