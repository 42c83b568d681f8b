package aggregate

import (
	"time"

	"conto/internal/core"
)

// CategoryPoint is one bucket of a per-category series.
type CategoryPoint struct {
	Period string  `json:"period"`
	Total  float64 `json:"total"`
	Count  int     `json:"count"`
}

// CategorySeries groups spending by period for one category (optionally
// narrowed to a sub-category). Buckets are pre-seeded for every period
// between from and to so quiet months still appear with a zero value.
// Money transfers are excluded here on top of the balance-engine
// exclusions.
func CategorySeries(txs []core.Transaction, category, subCategory string, from, to time.Time, g Granularity) []CategoryPoint {
	points, index := seedBuckets(from, to, g)

	ordered := make([]core.Transaction, len(txs))
	copy(ordered, txs)
	core.SortByDateAsc(ordered)

	for _, tx := range ordered {
		if tx.HideFromTotals || tx.IsMoneyTransfer {
			continue
		}
		if tx.MainCategory != category {
			continue
		}
		if subCategory != "" && tx.SubCategory != subCategory {
			continue
		}
		eur, ok := effectiveEUR(tx)
		if !ok {
			continue
		}

		key := BucketKey(tx.Date, g)
		i, seen := index[key]
		if !seen {
			// Outside the seeded range; ignore rather than grow the series.
			continue
		}
		points[i].Total = core.RoundEUR(points[i].Total + eur)
		points[i].Count++
	}

	return points
}

// CategoryTotals sums per main/sub category over the whole stream, used
// for breakdown views that need totals rather than a time series.
func CategoryTotals(txs []core.Transaction) map[string]map[string]float64 {
	totals := make(map[string]map[string]float64)
	for _, tx := range txs {
		if tx.HideFromTotals || tx.IsMoneyTransfer {
			continue
		}
		eur, ok := effectiveEUR(tx)
		if !ok {
			continue
		}
		sub := totals[tx.MainCategory]
		if sub == nil {
			sub = make(map[string]float64)
			totals[tx.MainCategory] = sub
		}
		sub[tx.SubCategory] = core.RoundEUR(sub[tx.SubCategory] + eur)
	}
	return totals
}

func seedBuckets(from, to time.Time, g Granularity) ([]CategoryPoint, map[string]int) {
	var points []CategoryPoint
	index := make(map[string]int)

	add := func(key string) {
		if _, dup := index[key]; dup {
			return
		}
		points = append(points, CategoryPoint{Period: key})
		index[key] = len(points) - 1
	}

	switch g {
	case Daily:
		for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
			add(BucketKey(d, g))
		}
	case Weekly:
		for d := mondayOf(from); !d.After(to); d = d.AddDate(0, 0, 7) {
			add(BucketKey(d, g))
		}
	case Yearly:
		for y := from.Year(); y <= to.Year(); y++ {
			add(BucketKey(time.Date(y, 1, 1, 0, 0, 0, 0, from.Location()), g))
		}
	default:
		d := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, from.Location())
		for !d.After(to) {
			add(BucketKey(d, g))
			d = d.AddDate(0, 1, 0)
		}
	}

	return points, index
}
