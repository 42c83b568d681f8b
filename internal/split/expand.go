// Package split expands a transaction flagged as recurring into calendar
// instalments. The expansion is pure: the same source and the same "now"
// always produce the same instalments.
package split

import (
	"fmt"
	"time"

	"conto/internal/core"
)

// Instalments per split source: one per calendar month of the source's
// year.
const monthsPerYear = 12

// InstalmentID returns the composite identity of a synthetic instalment.
func InstalmentID(sourceID string, year int, month time.Month) string {
	return fmt.Sprintf("%s::split::%d-%d", sourceID, year, int(month))
}

// Amounts computes the instalment values for a split total in the given
// currency. Eleven instalments carry the regular value; January absorbs
// the remainder so the twelve sum back to the rounded total exactly.
func Amounts(total float64, currency string) (regular, january float64) {
	regular = core.RoundMinor(total/monthsPerYear, currency)
	january = core.RoundMinor(core.RoundMinor(total, currency)-11*regular, currency)
	return regular, january
}

// instalmentDate places the instalment in the target month on the source's
// day of month, clamped to the last valid day of shorter months, keeping
// the source's time of day.
func instalmentDate(src time.Time, year int, month time.Month) time.Time {
	lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, src.Location()).Day()
	day := src.Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(year, month, day,
		src.Hour(), src.Minute(), src.Second(), src.Nanosecond(), src.Location())
}

// ForMonth expands one split source into its instalment for a single
// month of the source's year. Returns false when no instalment
// materializes there: wrong year, or a computed date after now.
func ForMonth(src core.Transaction, year int, month time.Month, now time.Time) (core.Transaction, bool) {
	if !src.SplitAcrossYear || year != src.Date.Year() {
		return core.Transaction{}, false
	}

	date := instalmentDate(src.Date, year, month)
	if date.After(now) {
		return core.Transaction{}, false
	}

	regular, january := Amounts(src.Amount, src.Currency)
	amount := regular
	if month == time.January {
		amount = january
	}

	inst := src
	inst.Date = date
	inst.SplitDisplayAmount = core.Float64(amount)

	if src.EURAmount != nil {
		regularEUR, januaryEUR := Amounts(*src.EURAmount, "EUR")
		eur := regularEUR
		if month == time.January {
			eur = januaryEUR
		}
		inst.SplitDisplayEURAmount = core.Float64(eur)
	}

	if month == src.Date.Month() {
		// The origination month's instalment is the source record itself,
		// editable, with only its display amount overridden.
		inst.SplitIsReadOnly = false
		return inst, true
	}

	inst.ID = InstalmentID(src.ID, year, month)
	inst.SplitIsReadOnly = true
	inst.SplitSourceTransactionID = src.ID
	return inst, true
}

// ForYear expands one split source into every instalment of its year that
// is not in the future.
func ForYear(src core.Transaction, now time.Time) []core.Transaction {
	if !src.SplitAcrossYear {
		return nil
	}
	year := src.Date.Year()
	out := make([]core.Transaction, 0, monthsPerYear)
	for m := time.January; m <= time.December; m++ {
		if inst, ok := ForMonth(src, year, m, now); ok {
			out = append(out, inst)
		}
	}
	return out
}

// ExpandMonth merges a month's plain transactions with the instalments
// every split source of that year contributes to the month. Raw source
// rows in txs are dropped in favor of their expanded form.
func ExpandMonth(txs, sources []core.Transaction, year int, month time.Month, now time.Time) []core.Transaction {
	out := make([]core.Transaction, 0, len(txs)+len(sources))
	for _, tx := range txs {
		if tx.SplitAcrossYear {
			continue
		}
		out = append(out, tx)
	}
	for _, src := range sources {
		if inst, ok := ForMonth(src, year, month, now); ok {
			out = append(out, inst)
		}
	}
	core.SortByDateDesc(out)
	return out
}

// ExpandYear merges a year's plain transactions with the full instalment
// expansion of every split source.
func ExpandYear(txs, sources []core.Transaction, year int, now time.Time) []core.Transaction {
	out := make([]core.Transaction, 0, len(txs)+len(sources)*monthsPerYear)
	for _, tx := range txs {
		if tx.SplitAcrossYear {
			continue
		}
		out = append(out, tx)
	}
	for _, src := range sources {
		if src.Date.Year() != year {
			continue
		}
		out = append(out, ForYear(src, now)...)
	}
	core.SortByDateDesc(out)
	return out
}
